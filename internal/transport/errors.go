package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindTimeout           ErrorKind = "timeout"
	KindServer            ErrorKind = "server"
	KindRateLimited       ErrorKind = "rate_limited"
	KindAuth              ErrorKind = "auth"
	KindBadRequest        ErrorKind = "bad_request"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindCircuitOpen       ErrorKind = "circuit_open"
)

// ProviderError is a failed provider attempt, classified so the retry
// loop can decide whether another attempt can ever succeed.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether a later attempt could plausibly succeed.
// Auth rejections and malformed requests never will; everything else
// (network failures, timeouts, 5xx, provider-side rate limiting) may.
func (e *ProviderError) Transient() bool {
	switch e.Kind {
	case KindAuth, KindBadRequest:
		return false
	default:
		return true
	}
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServer
	default:
		return KindBadRequest
	}
}

func classifyNetErr(err error) ErrorKind {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
