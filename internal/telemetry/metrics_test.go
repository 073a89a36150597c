package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newUnregisteredMetrics builds the metric set without touching the
// default registry so tests stay isolated.
func newUnregisteredMetrics() *Metrics {
	return &Metrics{
		CallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_call_total",
		}, []string{"model", "outcome"}),
		CallDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmpool_call_duration_ms",
			Buckets: []float64{100, 1000},
		}, []string{"model"}),
		RetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_retry_total",
		}, []string{"model"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_tokens_total",
		}, []string{"model"}),
		CostUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmpool_cost_usd_total",
		}, []string{"model"}),
		RateLimitWaitMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "llmpool_rate_limit_wait_ms",
		}),
		CachedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llmpool_cached_items",
		}),
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordCall_Success(t *testing.T) {
	m := newUnregisteredMetrics()
	m.RecordCall(CallLabels{Model: "gpt-4o", Outcome: OutcomeSuccess, DurationMs: 420, Tokens: 100, CostUSD: 0.0005})

	if got := counterValue(t, m.CallTotal.WithLabelValues("gpt-4o", OutcomeSuccess)); got != 1 {
		t.Errorf("call_total = %v, want 1", got)
	}
	if got := counterValue(t, m.TokensTotal.WithLabelValues("gpt-4o")); got != 100 {
		t.Errorf("tokens_total = %v, want 100", got)
	}
	if got := counterValue(t, m.CostUSDTotal.WithLabelValues("gpt-4o")); got != 0.0005 {
		t.Errorf("cost_usd_total = %v, want 0.0005", got)
	}
	if got := histogramCount(t, m.CallDurationMs.WithLabelValues("gpt-4o").(prometheus.Histogram)); got != 1 {
		t.Errorf("call_duration_ms samples = %d, want 1", got)
	}
}

func TestRecordCall_CacheHitSkipsUsageCounters(t *testing.T) {
	m := newUnregisteredMetrics()
	m.RecordCall(CallLabels{Model: "gpt-4o", Outcome: OutcomeCacheHit})

	if got := counterValue(t, m.CallTotal.WithLabelValues("gpt-4o", OutcomeCacheHit)); got != 1 {
		t.Errorf("call_total = %v, want 1", got)
	}
	if got := counterValue(t, m.TokensTotal.WithLabelValues("gpt-4o")); got != 0 {
		t.Errorf("cache hit must not add tokens, got %v", got)
	}
	if got := histogramCount(t, m.CallDurationMs.WithLabelValues("gpt-4o").(prometheus.Histogram)); got != 0 {
		t.Errorf("cache hit must not record a duration sample, got %d", got)
	}
}

func TestRecordRetry(t *testing.T) {
	m := newUnregisteredMetrics()
	m.RecordRetry("gpt-4o")
	m.RecordRetry("gpt-4o")

	if got := counterValue(t, m.RetryTotal.WithLabelValues("gpt-4o")); got != 2 {
		t.Errorf("retry_total = %v, want 2", got)
	}
}

func TestCachedItemsGauge(t *testing.T) {
	m := newUnregisteredMetrics()
	m.SetCachedItems(42)

	var d dto.Metric
	if err := m.CachedItems.Write(&d); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := d.GetGauge().GetValue(); got != 42 {
		t.Errorf("cached_items = %v, want 42", got)
	}
}
