// Package sql renders a FinalizedPlan into SQL text and validates
// generated (or user-adjacent) SQL before it reaches the warehouse.
package sql

import "errors"

var (
	// ErrValidation marks a syntax or semantic validation failure.
	ErrValidation = errors.New("sql validation error")
	// ErrPolicy marks a disallowed-verb, multi-statement, or off-list
	// schema violation. Never retried.
	ErrPolicy = errors.New("sql policy violation")
)
