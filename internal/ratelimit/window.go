package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SlidingWindow admits at most limit callers per trailing window,
// suspending the rest. All admission state lives in one mutex-guarded
// timestamp slice; waiters re-evaluate the window every time they wake,
// and a cancelled waiter leaves no timestamp behind.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time

	now func() time.Time // injected in tests
}

// NewSlidingWindow creates an in-process limiter. A non-positive limit
// is a configuration error.
func NewSlidingWindow(limit int, window time.Duration) (*SlidingWindow, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
	}, nil
}

// Admit blocks until the caller may proceed or ctx is done. The wait is
// the time until the oldest admission leaves the window.
func (l *SlidingWindow) Admit(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.stamps[0])
		l.mu.Unlock()

		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps older than the window. Runs before every
// length check so capacity is never under-counted. Called with mu held.
func (l *SlidingWindow) prune(now time.Time) {
	cut := 0
	for cut < len(l.stamps) && now.Sub(l.stamps[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[cut:]...)
	}
}

// Pending returns the number of admissions inside the current window.
func (l *SlidingWindow) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}
