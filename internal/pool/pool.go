// Package pool turns unbounded, bursty, possibly-duplicate inference
// calls into a bounded, cached, rate-limited, retried stream of network
// operations, tracking cost and latency along the way.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/restyle-ai/llmpool/internal/ratelimit"
	"github.com/restyle-ai/llmpool/internal/telemetry"
	"github.com/restyle-ai/llmpool/internal/transport"
	"github.com/restyle-ai/llmpool/internal/types"
	"github.com/restyle-ai/llmpool/internal/usage"
)

// Admitter gates dispatch throughput. Admit suspends the caller until it
// may proceed or ctx is done.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Budget caps external spend. Allow reports whether more spend is
// permitted; RecordSpend adds the cost of a completed call.
type Budget interface {
	Allow(ctx context.Context) (bool, error)
	RecordSpend(ctx context.Context, costUSD float64) error
}

// UsageRecorder persists per-call accounting rows.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config bounds the pool's resource usage.
type Config struct {
	MaxConnections    int           // simultaneous in-flight provider calls
	CacheSize         int           // response cache capacity
	CacheTTL          time.Duration // response cache entry lifetime
	RequestsPerMinute int           // sliding-window throughput cap
	MaxRetries        int           // total attempts per call
	BatchConcurrency  int           // CallMany cap when the caller passes 0
}

// DefaultConfig mirrors the bounds the document pipeline runs with.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    20,
		CacheSize:         1000,
		CacheTTL:          time.Hour,
		RequestsPerMinute: 60,
		MaxRetries:        3,
		BatchConcurrency:  5,
	}
}

func (c Config) validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("pool: max connections must be positive, got %d", c.MaxConnections)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("pool: cache size must be positive, got %d", c.CacheSize)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("pool: cache ttl must be positive, got %s", c.CacheTTL)
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("pool: requests per minute must be positive, got %d", c.RequestsPerMinute)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("pool: max retries must be positive, got %d", c.MaxRetries)
	}
	return nil
}

// Pool dispatches inference calls through cache, rate limiter, bounded
// concurrency and retry. It owns all process-wide mutable dispatch state
// and must be constructed explicitly; there is no package-level instance.
type Pool struct {
	cfg     Config
	client  transport.Client
	cache   *Cache
	limiter Admitter
	retry   *retryer
	stats   statsCollector
	sem     *semaphore.Weighted

	pricesMu sync.RWMutex
	prices   PriceTable

	// Optional collaborators; nil disables each.
	budget  Budget
	ledger  UsageRecorder
	metrics *telemetry.Metrics

	// Bounded queue feeding the single accounting writer; nil when
	// neither ledger nor budget is configured.
	acct      chan func(context.Context)
	acctStop  chan struct{}
	acctDone  chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

// Option customizes pool construction.
type Option func(*Pool)

// WithLimiter replaces the default in-process sliding window, e.g. with
// the Redis-backed limiter shared across replicas.
func WithLimiter(a Admitter) Option { return func(p *Pool) { p.limiter = a } }

// WithBudget enables a spend cap checked before every live dispatch.
func WithBudget(b Budget) Option { return func(p *Pool) { p.budget = b } }

// WithUsageRecorder enables the durable usage ledger.
func WithUsageRecorder(r UsageRecorder) Option { return func(p *Pool) { p.ledger = r } }

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) Option { return func(p *Pool) { p.metrics = m } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.logger = l } }

// New validates cfg and builds a pool around the given transport.
func New(cfg Config, client transport.Client, prices PriceTable, opts ...Option) (*Pool, error) {
	if client == nil {
		return nil, fmt.Errorf("pool: transport client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:    cfg,
		client: client,
		cache:  NewCache(cfg.CacheSize, cfg.CacheTTL),
		retry:  newRetryer(cfg.MaxRetries),
		prices: prices,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.limiter == nil {
		limiter, err := ratelimit.NewSlidingWindow(cfg.RequestsPerMinute, time.Minute)
		if err != nil {
			return nil, err
		}
		p.limiter = limiter
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	if p.ledger != nil || p.budget != nil {
		p.acct = make(chan func(context.Context), acctQueueSize)
		p.acctStop = make(chan struct{})
		p.acctDone = make(chan struct{})
		go p.accountingLoop()
	}
	return p, nil
}

// Call dispatches one request: fingerprint → cache → rate limiter →
// connection slot → retried attempt → annotate, cache, record. Cache
// hits bypass the limiter and the connection pool entirely. Failures are
// recorded and propagated, never cached. Cancellation before a terminal
// outcome records no stats.
func (p *Pool) Call(ctx context.Context, req types.Request) (*types.Response, error) {
	key := Fingerprint(req)

	if resp, ok := p.cache.Lookup(key); ok {
		p.stats.RecordSuccess(resp)
		p.logger.Debug("cache hit", "model", req.Model, "fingerprint", shortKey(key))
		if p.metrics != nil {
			p.metrics.RecordCall(telemetry.CallLabels{Model: req.Model, Outcome: telemetry.OutcomeCacheHit})
		}
		p.recordUsage(usage.Record{
			Fingerprint: key,
			Model:       req.Model,
			FromCache:   true,
			Status:      "success",
		})
		return &resp, nil
	}

	if p.budget != nil {
		ok, err := p.budget.Allow(ctx)
		if err == nil && !ok {
			p.logger.Warn("call rejected, daily budget exhausted", "model", req.Model)
			return nil, ErrBudgetExceeded
		}
	}

	waitStart := time.Now()
	if err := p.limiter.Admit(ctx); err != nil {
		return nil, fmt.Errorf("rate limit admission: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ObserveRateLimitWait(float64(time.Since(waitStart).Milliseconds()))
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire connection slot: %w", err)
	}
	defer p.sem.Release(1)

	var attemptTime time.Duration
	var attempts int64
	result, err := p.retry.do(ctx, func(ctx context.Context) (*transport.ChatResult, error) {
		n := atomic.AddInt64(&attempts, 1)
		start := time.Now()
		res, ferr := p.client.SendChatRequest(ctx, transport.ChatRequest{
			Model:       req.Model,
			Messages:    req.Messages(),
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Extra:       req.Extra,
		})
		if ferr != nil {
			p.logger.Warn("llm attempt failed",
				"model", req.Model,
				"attempt", n,
				"max_attempts", p.cfg.MaxRetries,
				"error", ferr,
			)
			return nil, ferr
		}
		attemptTime = time.Since(start)
		return res, nil
	})
	if p.metrics != nil && attempts > 1 {
		for i := int64(1); i < attempts; i++ {
			p.metrics.RecordRetry(req.Model)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Abandoned call: release the slot, record nothing.
			return nil, err
		}
		p.stats.RecordFailure()
		p.logger.Error("llm call failed", "model", req.Model, "error", err)
		if p.metrics != nil {
			p.metrics.RecordCall(telemetry.CallLabels{Model: req.Model, Outcome: telemetry.OutcomeFailure})
		}
		p.recordUsage(usage.Record{Fingerprint: key, Model: req.Model, Status: "failure"})
		return nil, err
	}

	resp := types.Response{
		Content:      result.Content,
		Model:        req.Model,
		TokensUsed:   result.TokensUsed,
		ResponseTime: attemptTime,
		CostUSD:      p.cost(req.Model, result.TokensUsed),
	}

	p.cache.Insert(key, resp)
	p.stats.RecordSuccess(resp)
	p.logger.Debug("llm call completed",
		"model", req.Model,
		"tokens", resp.TokensUsed,
		"cost_usd", resp.CostUSD,
		"duration_ms", attemptTime.Milliseconds(),
	)

	if p.metrics != nil {
		p.metrics.RecordCall(telemetry.CallLabels{
			Model:      req.Model,
			Outcome:    telemetry.OutcomeSuccess,
			DurationMs: float64(attemptTime.Milliseconds()),
			Tokens:     resp.TokensUsed,
			CostUSD:    resp.CostUSD,
		})
		p.metrics.SetCachedItems(p.cache.Size())
	}
	if p.budget != nil && resp.CostUSD > 0 {
		p.recordSpend(resp.CostUSD)
	}
	p.recordUsage(usage.Record{
		Fingerprint: key,
		Model:       req.Model,
		Tokens:      resp.TokensUsed,
		CostUSD:     resp.CostUSD,
		Duration:    attemptTime,
		Status:      "success",
	})

	return &resp, nil
}

// CallMany fans requests through the single-call path under an
// additional, independent concurrency cap. Results preserve input order;
// a failed element becomes a degraded placeholder so index alignment
// survives partial failure.
func (p *Pool) CallMany(ctx context.Context, reqs []types.Request, maxConcurrent int) []types.Response {
	if len(reqs) == 0 {
		return nil
	}
	if maxConcurrent <= 0 {
		maxConcurrent = p.cfg.BatchConcurrency
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	p.logger.Info("batch dispatch starting", "requests", len(reqs), "max_concurrent", maxConcurrent)
	start := time.Now()

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	out := make([]types.Response, len(reqs))
	var failed int64
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req types.Request) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				out[i] = degradedPlaceholder(req.Model, err)
				atomic.AddInt64(&failed, 1)
				return
			}
			defer sem.Release(1)

			resp, err := p.Call(ctx, req)
			if err != nil {
				out[i] = degradedPlaceholder(req.Model, err)
				atomic.AddInt64(&failed, 1)
				return
			}
			out[i] = *resp
		}(i, req)
	}
	wg.Wait()

	p.logger.Info("batch dispatch complete",
		"requests", len(reqs),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// degradedPlaceholder substitutes for a failed batch element, keeping
// the output shape consistent for downstream consumers.
func degradedPlaceholder(model string, err error) types.Response {
	return types.Response{
		Content: fmt.Sprintf("request failed: %v", err),
		Model:   model,
	}
}

// StatsReport is the operator-facing view of pool activity.
type StatsReport struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	Failures      int64   `json:"failures"`
	FailureRate   float64 `json:"failure_rate"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	AvgResponseMs int64   `json:"avg_response_ms"`
	CachedItems   int     `json:"cached_items"`
}

// Stats returns a consistent snapshot of the running aggregates.
func (p *Pool) Stats() StatsReport {
	s := p.stats.Snapshot()
	report := StatsReport{
		TotalRequests: s.TotalRequests,
		CacheHits:     s.CacheHits,
		Failures:      s.Failures,
		TotalTokens:   s.TotalTokens,
		TotalCostUSD:  s.TotalCostUSD,
		AvgResponseMs: s.AvgResponseTime.Milliseconds(),
		CachedItems:   p.cache.Size(),
	}
	if s.TotalRequests > 0 {
		report.CacheHitRate = float64(s.CacheHits) / float64(s.TotalRequests)
		report.FailureRate = float64(s.Failures) / float64(s.TotalRequests)
	}
	return report
}

// ClearCache drops all cached responses.
func (p *Pool) ClearCache() {
	p.cache.Clear()
	if p.metrics != nil {
		p.metrics.SetCachedItems(0)
	}
	p.logger.Info("response cache cleared")
}

// ResetStats zeroes the running aggregates. Operator action only.
func (p *Pool) ResetStats() {
	p.stats.Reset()
}

// UpdatePrices swaps the pricing table, e.g. after a config reload.
func (p *Pool) UpdatePrices(prices PriceTable) {
	p.pricesMu.Lock()
	p.prices = prices
	p.pricesMu.Unlock()
}

func (p *Pool) cost(model string, tokens int) float64 {
	p.pricesMu.RLock()
	defer p.pricesMu.RUnlock()
	return p.prices.Cost(model, tokens)
}

// Close stops the accounting writer (draining queued work) and releases
// the underlying transport's connections.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		if p.acctStop != nil {
			close(p.acctStop)
			<-p.acctDone
		}
	})
	if c, ok := p.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// acctQueueSize bounds pending ledger/budget writes. A full queue drops
// the write instead of blocking the call path or growing goroutines.
const acctQueueSize = 256

// accountingLoop is the sole writer of ledger rows and budget spend. One
// goroutine and a fixed queue bound the background work no matter how
// fast calls complete or how slow the stores respond.
func (p *Pool) accountingLoop() {
	defer close(p.acctDone)
	for {
		select {
		case fn := <-p.acct:
			p.runAccounting(fn)
		case <-p.acctStop:
			for {
				select {
				case fn := <-p.acct:
					p.runAccounting(fn)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) runAccounting(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fn(ctx)
}

// enqueueAccounting hands a write to the accounting loop, dropping it
// when the queue is full.
func (p *Pool) enqueueAccounting(kind string, fn func(context.Context)) {
	select {
	case p.acct <- fn:
	default:
		p.logger.Warn("accounting queue full, dropping write", "kind", kind)
	}
}

// recordUsage queues a ledger row without blocking the call path.
func (p *Pool) recordUsage(rec usage.Record) {
	if p.ledger == nil {
		return
	}
	p.enqueueAccounting("usage", func(ctx context.Context) {
		if err := p.ledger.Record(ctx, rec); err != nil {
			p.logger.Warn("usage record failed", "error", err)
		}
	})
}

// recordSpend queues budget spend without blocking the call path.
func (p *Pool) recordSpend(costUSD float64) {
	p.enqueueAccounting("budget", func(ctx context.Context) {
		if err := p.budget.RecordSpend(ctx, costUSD); err != nil {
			p.logger.Warn("budget spend record failed", "error", err)
		}
	})
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
