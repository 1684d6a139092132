package breaker

import (
	"fmt"
	"time"
)

// CircuitOpenError is returned when a call is rejected because the circuit is
// open, or half-open with all probe slots taken.
//
// It is always recoverable by the caller: retry after TimeRemaining, or fall
// back to another provider.
type CircuitOpenError struct {
	// Service is the name of the breaker that rejected the call.
	Service string

	// TimeRemaining is the estimated time until the circuit admits a probe.
	TimeRemaining time.Duration

	// LastFailureReason is the reason recorded for the most recent counted
	// failure, if any.
	LastFailureReason string
}

func (e *CircuitOpenError) Error() string {
	if e.LastFailureReason != "" {
		return fmt.Sprintf("circuit breaker %q is open (retry in %s): last failure: %s",
			e.Service, e.TimeRemaining.Round(time.Millisecond), e.LastFailureReason)
	}
	return fmt.Sprintf("circuit breaker %q is open (retry in %s)",
		e.Service, e.TimeRemaining.Round(time.Millisecond))
}
