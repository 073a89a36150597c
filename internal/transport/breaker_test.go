package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if got := b.State(); got != BreakerClosed {
			t.Fatalf("after %d failures: state = %s, want closed", i+1, got)
		}
	}
	b.RecordFailure()
	if got := b.State(); got != BreakerOpen {
		t.Errorf("after threshold failures: state = %s, want open", got)
	}
	if b.Allow() {
		t.Error("open breaker must not allow attempts")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != BreakerClosed {
		t.Errorf("non-consecutive failures must not trip, state = %s", got)
	}
}

func TestBreaker_HalfOpenAfterProbeInterval(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	b.RecordFailure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %s, want open", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open after probe interval", got)
	}
	if !b.Allow() {
		t.Error("half-open breaker must allow a probe attempt")
	}
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b := NewBreaker(1, 10*time.Millisecond)
		b.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		if got := b.State(); got != BreakerHalfOpen {
			t.Fatalf("state = %s, want half_open", got)
		}
		b.RecordSuccess()
		if got := b.State(); got != BreakerClosed {
			t.Errorf("state = %s, want closed after successful probe", got)
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		b := NewBreaker(1, 10*time.Millisecond)
		b.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		if got := b.State(); got != BreakerHalfOpen {
			t.Fatalf("state = %s, want half_open", got)
		}
		b.RecordFailure()
		if got := b.State(); got != BreakerOpen {
			t.Errorf("state = %s, want open after failed probe", got)
		}
	})
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	b.RecordFailure()
	b.Reset()
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %s, want closed after reset", got)
	}
	if !b.Allow() {
		t.Error("reset breaker must allow attempts")
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half_open"},
		{BreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// scriptedClient returns queued errors and then successes.
type scriptedClient struct {
	calls int
	errs  []error
}

func (s *scriptedClient) SendChatRequest(context.Context, ChatRequest) (*ChatResult, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		if err := s.errs[s.calls-1]; err != nil {
			return nil, err
		}
	}
	return &ChatResult{Content: "ok", TokensUsed: 1}, nil
}

func TestBreakerClient_FailsFastWhenOpen(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		&ProviderError{Kind: KindServer, StatusCode: 503, Message: "down"},
	}}
	c := NewBreakerClient(inner, NewBreaker(1, time.Minute))

	if _, err := c.SendChatRequest(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected first call to fail")
	}

	_, err := c.SendChatRequest(context.Background(), ChatRequest{})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Kind != KindCircuitOpen {
		t.Fatalf("expected circuit_open error, got %v", err)
	}
	if !perr.Transient() {
		t.Error("circuit_open must be transient so retries govern recovery")
	}
	if inner.calls != 1 {
		t.Errorf("open circuit must not reach the inner client, calls = %d", inner.calls)
	}
}

func TestBreakerClient_NonTransientBypassesBreaker(t *testing.T) {
	authErr := &ProviderError{Kind: KindAuth, StatusCode: 401, Message: "bad key"}
	inner := &scriptedClient{errs: []error{authErr, authErr}}
	b := NewBreaker(1, time.Minute)
	c := NewBreakerClient(inner, b)

	for i := 0; i < 2; i++ {
		if _, err := c.SendChatRequest(context.Background(), ChatRequest{}); !errors.Is(err, authErr) {
			t.Fatalf("call %d: expected auth error, got %v", i, err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("rejected requests must not trip the breaker, state = %s", got)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestBreakerClient_CancellationDoesNotTrip(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		context.Canceled, context.Canceled, context.Canceled,
		context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded,
	}}
	b := NewBreaker(3, time.Minute)
	c := NewBreakerClient(inner, b)

	for i := 0; i < 6; i++ {
		_, err := c.SendChatRequest(context.Background(), ChatRequest{})
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("call %d: expected context error, got %v", i, err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("abandoned calls must not trip the breaker, state = %s", got)
	}
	if !b.Allow() {
		t.Error("breaker must keep allowing attempts after caller cancellations")
	}
	if inner.calls != 6 {
		t.Errorf("calls = %d, want 6", inner.calls)
	}
}

func TestBreakerClient_SuccessClosesAfterProbe(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		&ProviderError{Kind: KindServer, StatusCode: 500, Message: "down"},
	}}
	b := NewBreaker(1, 10*time.Millisecond)
	c := NewBreakerClient(inner, b)

	if _, err := c.SendChatRequest(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected first call to fail")
	}
	time.Sleep(20 * time.Millisecond)

	res, err := c.SendChatRequest(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if res.Content != "ok" {
		t.Errorf("Content = %q", res.Content)
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %s, want closed after successful probe", got)
	}
}
