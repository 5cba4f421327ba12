package exec

import "errors"

var (
	// ErrPolicy marks a preflight policy rejection (multi-statement or
	// disallowed verb). Never retried.
	ErrPolicy = errors.New("execution policy violation")
	// ErrBreakerOpen marks a rejection made without contacting the
	// warehouse because the circuit breaker is open.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrExecution wraps a classified or opaque driver failure.
	ErrExecution = errors.New("execution error")
	// ErrLimitReached marks the repair cap (two attempts) being exceeded.
	ErrLimitReached = errors.New("repair limit reached")
)
