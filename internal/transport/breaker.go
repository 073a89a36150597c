package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState represents the state of the provider circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // healthy — attempts flow
	BreakerOpen                         // unhealthy — attempts fail fast
	BreakerHalfOpen                     // probing — one attempt allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker trips after consecutive provider failures and recovers through
// a probe after the configured interval.
type Breaker struct {
	mu sync.Mutex

	state    BreakerState
	failures int
	openedAt time.Time

	failureThreshold int
	probeInterval    time.Duration
}

func NewBreaker(failureThreshold int, probeInterval time.Duration) *Breaker {
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		probeInterval:    probeInterval,
	}
}

// State returns the current state, transitioning open→half-open once the
// probe interval has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Must be called with mu held.
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.probeInterval {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether an attempt should be let through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		// Probe succeeded — close the circuit.
		b.state = BreakerClosed
	}
	b.failures = 0
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	case BreakerHalfOpen:
		// Probe failed — reopen.
		b.state = BreakerOpen
		b.openedAt = time.Now()
	}
}

// Reset closes the circuit and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// BreakerClient wraps a Client with a circuit breaker. While the circuit
// is open, attempts fail fast with a transient error so the caller's
// retry backoff still governs recovery.
type BreakerClient struct {
	inner   Client
	breaker *Breaker
}

func NewBreakerClient(inner Client, b *Breaker) *BreakerClient {
	return &BreakerClient{inner: inner, breaker: b}
}

func (c *BreakerClient) SendChatRequest(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if !c.breaker.Allow() {
		return nil, &ProviderError{Kind: KindCircuitOpen, Message: "provider circuit open"}
	}

	res, err := c.inner.SendChatRequest(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller abandoned the call; provider health was never
			// implicated.
			return nil, err
		}
		var perr *ProviderError
		if errors.As(err, &perr) && !perr.Transient() {
			// Rejected requests say nothing about provider health.
			return nil, err
		}
		c.breaker.RecordFailure()
		return nil, err
	}

	c.breaker.RecordSuccess()
	return res, nil
}

// Close forwards to the wrapped client when it owns connections.
func (c *BreakerClient) Close() {
	if cl, ok := c.inner.(interface{ Close() }); ok {
		cl.Close()
	}
}
