package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/restyle-ai/llmpool/internal/transport"
)

// newTestRetryer records sleeps instead of performing them and zeroes
// the jitter so backoff durations are exact.
func newTestRetryer(maxAttempts int) (*retryer, *[]time.Duration) {
	var slept []time.Duration
	r := newRetryer(maxAttempts)
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	r.jitter = func() time.Duration { return 0 }
	return r, &slept
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	r, slept := newTestRetryer(3)
	calls := 0
	res, err := r.do(context.Background(), func(context.Context) (*transport.ChatResult, error) {
		calls++
		return &transport.ChatResult{Content: "ok"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "ok" {
		t.Errorf("unexpected result %+v", res)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("no backoff expected before the first attempt, slept %v", *slept)
	}
}

func TestRetry_RecoversAfterTransientFailures(t *testing.T) {
	r, slept := newTestRetryer(3)
	calls := 0
	res, err := r.do(context.Background(), func(context.Context) (*transport.ChatResult, error) {
		calls++
		if calls < 3 {
			return nil, &transport.ProviderError{Kind: transport.KindServer, StatusCode: 500, Message: "upstream"}
		}
		return &transport.ChatResult{Content: "ok"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Content != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected backoffs %v, got %v", want, *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("backoff %d: expected %v, got %v", i, want[i], (*slept)[i])
		}
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	r, _ := newTestRetryer(3)
	calls := 0
	last := &transport.ProviderError{Kind: transport.KindServer, StatusCode: 503, Message: "busy"}
	_, err := r.do(context.Background(), func(context.Context) (*transport.ChatResult, error) {
		calls++
		return nil, last
	})
	if calls != 3 {
		t.Errorf("expected exactly maxAttempts=3 attempts, got %d", calls)
	}
	var exhausted *ExhaustedRetriesError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedRetriesError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected Attempts=3, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, last) {
		t.Error("exhausted error must wrap the last attempt error")
	}
}

func TestRetry_NonTransientShortCircuits(t *testing.T) {
	r, slept := newTestRetryer(5)
	calls := 0
	authErr := &transport.ProviderError{Kind: transport.KindAuth, StatusCode: 401, Message: "bad key"}
	_, err := r.do(context.Background(), func(context.Context) (*transport.ChatResult, error) {
		calls++
		return nil, authErr
	})
	if calls != 1 {
		t.Errorf("non-transient errors must not be retried, got %d attempts", calls)
	}
	if !errors.Is(err, authErr) {
		t.Errorf("expected the provider error back unchanged, got %v", err)
	}
	if len(*slept) != 0 {
		t.Errorf("no backoff expected, slept %v", *slept)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	r := newRetryer(3)
	r.jitter = func() time.Duration { return 0 }
	r.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}
	calls := 0
	_, err := r.do(context.Background(), func(context.Context) (*transport.ChatResult, error) {
		calls++
		return nil, &transport.ProviderError{Kind: transport.KindNetwork, Message: "conn reset"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no further attempts after cancellation, got %d", calls)
	}
}

func TestRetry_ContextErrorFromAttempt(t *testing.T) {
	r, _ := newTestRetryer(3)
	calls := 0
	_, err := r.do(context.Background(), func(context.Context) (*transport.ChatResult, error) {
		calls++
		return nil, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if calls != 1 {
		t.Errorf("context errors must not be retried, got %d attempts", calls)
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
