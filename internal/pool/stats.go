package pool

import (
	"sync"
	"time"

	"github.com/restyle-ai/llmpool/internal/types"
)

// Stats is a consistent point-in-time copy of the pool's running
// aggregates.
type Stats struct {
	TotalRequests   int64
	CacheHits       int64
	Failures        int64
	TotalTokens     int64
	TotalCostUSD    float64
	AvgResponseTime time.Duration
}

// statsCollector accumulates terminal call outcomes. AvgResponseTime is
// an online mean over non-cached successful attempts only; cache hits
// count toward TotalRequests and CacheHits but consume no tokens, cost
// or latency.
type statsCollector struct {
	mu            sync.Mutex
	stats         Stats
	liveSuccesses int64
}

func (c *statsCollector) RecordSuccess(resp types.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++
	if resp.FromCache {
		c.stats.CacheHits++
		return
	}

	c.stats.TotalTokens += int64(resp.TokensUsed)
	c.stats.TotalCostUSD += resp.CostUSD
	c.liveSuccesses++
	c.stats.AvgResponseTime += (resp.ResponseTime - c.stats.AvgResponseTime) / time.Duration(c.liveSuccesses)
}

func (c *statsCollector) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	c.stats.Failures++
}

func (c *statsCollector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset zeroes all aggregates. Operator action only.
func (c *statsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
	c.liveSuccesses = 0
}
