package services

import "errors"

// Sentinel errors for plan creation and execution. A stale opportunity
// removes a decision from further processing; a tripped breaker fails the
// leg and surfaces in the execution result.
var (
	ErrOpportunityStale      = errors.New("opportunity no longer exists")
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")
)
