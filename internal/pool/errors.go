package pool

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is returned when the configured daily spend cap has
// been reached. Not retried and never cached.
var ErrBudgetExceeded = errors.New("daily spend budget exceeded")

// ExhaustedRetriesError is the terminal failure surfaced after every
// attempt against the provider failed.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("llm call failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }
