package pool

import (
	"testing"
	"time"

	"github.com/restyle-ai/llmpool/internal/types"
)

func TestStats_OnlineMean(t *testing.T) {
	var c statsCollector
	times := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 200 * time.Millisecond}
	for _, d := range times {
		c.RecordSuccess(types.Response{TokensUsed: 100, CostUSD: 0.001, ResponseTime: d})
	}

	got := c.Snapshot()
	if got.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", got.TotalRequests)
	}
	if got.TotalTokens != 300 {
		t.Errorf("TotalTokens = %d, want 300", got.TotalTokens)
	}
	if want := 200 * time.Millisecond; got.AvgResponseTime != want {
		t.Errorf("AvgResponseTime = %v, want %v", got.AvgResponseTime, want)
	}
}

func TestStats_CacheHitsExcludedFromAggregates(t *testing.T) {
	var c statsCollector
	c.RecordSuccess(types.Response{TokensUsed: 100, CostUSD: 0.01, ResponseTime: 400 * time.Millisecond})
	c.RecordSuccess(types.Response{TokensUsed: 100, CostUSD: 0.01, ResponseTime: 999 * time.Hour, FromCache: true})

	got := c.Snapshot()
	if got.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", got.TotalRequests)
	}
	if got.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", got.CacheHits)
	}
	if got.TotalTokens != 100 {
		t.Errorf("cache hits must not add tokens, TotalTokens = %d", got.TotalTokens)
	}
	if got.TotalCostUSD != 0.01 {
		t.Errorf("cache hits must not add cost, TotalCostUSD = %v", got.TotalCostUSD)
	}
	if got.AvgResponseTime != 400*time.Millisecond {
		t.Errorf("cache hits must not move the latency mean, AvgResponseTime = %v", got.AvgResponseTime)
	}
}

func TestStats_Failures(t *testing.T) {
	var c statsCollector
	c.RecordFailure()
	c.RecordFailure()
	c.RecordSuccess(types.Response{TokensUsed: 10, ResponseTime: time.Second})

	got := c.Snapshot()
	if got.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", got.TotalRequests)
	}
	if got.Failures != 2 {
		t.Errorf("Failures = %d, want 2", got.Failures)
	}
	if got.AvgResponseTime != time.Second {
		t.Errorf("failures must not move the latency mean, AvgResponseTime = %v", got.AvgResponseTime)
	}
}

func TestStats_Reset(t *testing.T) {
	var c statsCollector
	c.RecordSuccess(types.Response{TokensUsed: 10, ResponseTime: time.Second})
	c.Reset()

	if got := c.Snapshot(); got != (Stats{}) {
		t.Errorf("expected zeroed stats after reset, got %+v", got)
	}

	// The mean restarts cleanly after a reset.
	c.RecordSuccess(types.Response{TokensUsed: 10, ResponseTime: 2 * time.Second})
	if got := c.Snapshot(); got.AvgResponseTime != 2*time.Second {
		t.Errorf("AvgResponseTime after reset = %v, want 2s", got.AvgResponseTime)
	}
}

func TestStats_SnapshotIsCopy(t *testing.T) {
	var c statsCollector
	c.RecordSuccess(types.Response{TokensUsed: 10, ResponseTime: time.Second})

	snap := c.Snapshot()
	snap.TotalRequests = 999
	if got := c.Snapshot(); got.TotalRequests != 1 {
		t.Errorf("mutating a snapshot must not affect the collector, TotalRequests = %d", got.TotalRequests)
	}
}
