package pool

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/restyle-ai/llmpool/internal/transport"
)

// attemptFunc performs exactly one network attempt.
type attemptFunc func(ctx context.Context) (*transport.ChatResult, error)

// retryer re-runs a single-attempt function with exponential backoff and
// jitter. maxAttempts bounds total invocations. Provider errors that can
// never succeed on retry short-circuit the loop.
type retryer struct {
	maxAttempts int

	// Injected in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func newRetryer(maxAttempts int) *retryer {
	return &retryer{
		maxAttempts: maxAttempts,
		sleep:       sleepCtx,
		jitter:      func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *retryer) do(ctx context.Context, fn attemptFunc) (*transport.ChatResult, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			// 2^(n-1) seconds before attempt n, plus jitter to avoid
			// synchronized retry storms.
			backoff := time.Duration(1<<(attempt-1))*time.Second + r.jitter()
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var perr *transport.ProviderError
		if errors.As(err, &perr) && !perr.Transient() {
			return nil, err
		}
	}
	return nil, &ExhaustedRetriesError{Attempts: r.maxAttempts, Last: lastErr}
}
