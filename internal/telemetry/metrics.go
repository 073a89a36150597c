package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes used as metric label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCacheHit = "cache_hit"
)

// Metrics holds all Prometheus metrics for the dispatch pool.
type Metrics struct {
	CallTotal       *prometheus.CounterVec
	CallDurationMs  *prometheus.HistogramVec
	RetryTotal      *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	CostUSDTotal    *prometheus.CounterVec
	RateLimitWaitMs prometheus.Histogram
	CachedItems     prometheus.Gauge
}

// NewMetrics creates and registers all pool metrics on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		CallTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_call_total",
			Help: "Total dispatched calls by terminal outcome.",
		}, []string{"model", "outcome"}),

		CallDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmpool_call_duration_ms",
			Help:    "Wall-clock duration of the successful provider attempt in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model"}),

		RetryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_retry_total",
			Help: "Total failed provider attempts that triggered a retry.",
		}, []string{"model"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_tokens_total",
			Help: "Total tokens consumed by live (non-cached) calls.",
		}, []string{"model"}),

		CostUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"model"}),

		RateLimitWaitMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "llmpool_rate_limit_wait_ms",
			Help:    "Time spent waiting for sliding-window admission in milliseconds.",
			Buckets: []float64{1, 10, 100, 1000, 5000, 15000, 30000, 60000},
		}),

		CachedItems: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "llmpool_cached_items",
			Help: "Current number of cached responses.",
		}),
	}
}

// CallLabels holds the values recorded for one terminal call outcome.
type CallLabels struct {
	Model      string
	Outcome    string
	DurationMs float64
	Tokens     int
	CostUSD    float64
}

// RecordCall records metrics for a call that reached a terminal state.
func (m *Metrics) RecordCall(labels CallLabels) {
	m.CallTotal.WithLabelValues(labels.Model, labels.Outcome).Inc()

	if labels.Outcome == OutcomeSuccess {
		m.CallDurationMs.WithLabelValues(labels.Model).Observe(labels.DurationMs)
	}
	if labels.Tokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model).Add(float64(labels.Tokens))
	}
	if labels.CostUSD > 0 {
		m.CostUSDTotal.WithLabelValues(labels.Model).Add(labels.CostUSD)
	}
}

// RecordRetry records one failed attempt that will be retried.
func (m *Metrics) RecordRetry(model string) {
	m.RetryTotal.WithLabelValues(model).Inc()
}

// ObserveRateLimitWait records time spent suspended on admission.
func (m *Metrics) ObserveRateLimitWait(ms float64) {
	m.RateLimitWaitMs.Observe(ms)
}

// SetCachedItems updates the cache-size gauge.
func (m *Metrics) SetCachedItems(n int) {
	m.CachedItems.Set(float64(n))
}
