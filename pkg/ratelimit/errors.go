package ratelimit

import "fmt"

// LimitType identifies which limit an acquisition ran into.
type LimitType string

const (
	// LimitPerMinute is the sliding-window per-minute limit.
	LimitPerMinute LimitType = "per_minute"

	// LimitDaily is the hard daily cap.
	LimitDaily LimitType = "daily"
)

// LimitExceededError is returned by Acquire when a limit is hit and waiting
// is disabled (AllowWait=false), or when the daily cap is exhausted.
//
// Recoverable by backing off; for LimitDaily, not before the next UTC day.
type LimitExceededError struct {
	// Provider is the name of the limiter that denied the request.
	Provider string

	// Limit identifies which limit was hit.
	Limit LimitType

	// Current is the observed count at denial time.
	Current int

	// Max is the configured limit.
	Max int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: %s limit reached (%d/%d)",
		e.Provider, e.Limit, e.Current, e.Max)
}
