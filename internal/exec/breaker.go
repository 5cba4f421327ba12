package exec

import (
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker configures a process-wide circuit breaker: it opens after
// failureThreshold consecutive failures and stays open for cooldown.
// Any success while closed resets the counter, which is
// gobreaker's default ConsecutiveFailures behavior.
func NewBreaker(failureThreshold uint32, cooldown time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "warehouse",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	})
}
