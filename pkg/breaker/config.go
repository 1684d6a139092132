package breaker

import (
	"time"

	"apigovernor/pkg/clock"
)

// Config holds the configuration for a circuit breaker.
// Configuration is immutable after construction.
type Config struct {
	// Name is the service name this breaker protects, used for logging,
	// metrics, and alerts.
	Name string

	// FailureThreshold is the number of consecutive failures required to
	// open the circuit from closed state.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes required in
	// half-open state to close the circuit.
	// Default: 2
	SuccessThreshold int

	// RecoveryTimeout is how long to wait in open state before admitting
	// half-open probe calls.
	// Default: 60 seconds
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests is the maximum number of concurrent probe calls
	// allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int

	// FailureRateThreshold is the failure ratio (0.0 to 1.0) that opens the
	// circuit once MinRequestsForRate calls have been observed. It is an
	// independent trigger alongside FailureThreshold.
	// Default: 0.6
	FailureRateThreshold float64

	// MinRequestsForRate is the minimum number of recorded calls before the
	// failure-rate trigger applies. Prevents a small sample from tripping
	// the circuit.
	// Default: 10
	MinRequestsForRate int

	// ExcludedKinds lists failure kinds that never count against the
	// circuit (e.g. KindValidation for caller input errors).
	ExcludedKinds []FailureKind

	// OnStateChange is called after every state transition. It runs outside
	// the breaker's lock.
	// Default: nil (no callback)
	OnStateChange func(name string, from, to State)

	// Clock provides time abstraction for testing.
	// Default: SystemClock
	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.6
	}
	if c.MinRequestsForRate <= 0 {
		c.MinRequestsForRate = 10
	}
	if c.Clock == nil {
		c.Clock = &clock.SystemClock{}
	}
}

// DefaultConfig returns a default configuration for the named service.
func DefaultConfig(name string) Config {
	return Config{
		Name:                 name,
		FailureThreshold:     5,
		SuccessThreshold:     2,
		RecoveryTimeout:      60 * time.Second,
		HalfOpenMaxRequests:  1,
		FailureRateThreshold: 0.6,
		MinRequestsForRate:   10,
		ExcludedKinds:        []FailureKind{KindValidation},
	}
}

// OpenAIConfig returns configuration tuned for OpenAI API calls.
func OpenAIConfig() Config {
	return Config{
		Name:                 "openai",
		FailureThreshold:     5,
		SuccessThreshold:     2,
		RecoveryTimeout:      60 * time.Second,
		HalfOpenMaxRequests:  1,
		FailureRateThreshold: 0.6,
		MinRequestsForRate:   10,
		ExcludedKinds:        []FailureKind{KindValidation},
	}
}

// AnthropicConfig returns configuration tuned for Anthropic API calls.
func AnthropicConfig() Config {
	return Config{
		Name:                 "anthropic",
		FailureThreshold:     5,
		SuccessThreshold:     2,
		RecoveryTimeout:      60 * time.Second,
		HalfOpenMaxRequests:  1,
		FailureRateThreshold: 0.6,
		MinRequestsForRate:   10,
		ExcludedKinds:        []FailureKind{KindValidation},
	}
}

// ScraperConfig returns configuration tuned for web scraping APIs.
// More conservative recovery because site structure changes and provider-side
// blocks tend to persist longer than transient network faults.
func ScraperConfig(name string) Config {
	return Config{
		Name:                 name,
		FailureThreshold:     3,
		SuccessThreshold:     3,
		RecoveryTimeout:      5 * time.Minute,
		HalfOpenMaxRequests:  1,
		FailureRateThreshold: 0.8,
		MinRequestsForRate:   5,
		ExcludedKinds:        []FailureKind{KindValidation},
	}
}
