package ratelimit

import (
	"time"

	"apigovernor/pkg/clock"
)

// Config holds the configuration for a provider rate limiter.
// Configuration is immutable after construction.
type Config struct {
	// Provider is the provider name this limiter governs, used for logging,
	// metrics, and alerts.
	Provider string

	// RequestsPerMinute is the maximum number of requests admitted within
	// the trailing 60-second window.
	// Default: 60
	RequestsPerMinute int

	// DailyLimit is a hard cap on requests per UTC calendar day.
	// 0 means no daily limit.
	DailyLimit int

	// AllowWait controls behavior when the per-minute window is full: when
	// true, Acquire blocks (up to MaxWait) for the window to clear; when
	// false, Acquire returns a *LimitExceededError immediately. Daily-cap
	// exhaustion always returns a *LimitExceededError regardless.
	AllowWait bool

	// MaxWait is the hard ceiling on how long Acquire may block waiting for
	// window capacity. It never applies to the daily cap, which cannot
	// clear within the same day.
	// Default: 30 seconds
	MaxWait time.Duration

	// OnDailyExhausted is called at most once per UTC day, the first time
	// an acquisition is denied because the daily cap is exhausted. It runs
	// outside the limiter's lock.
	// Default: nil (no callback)
	OnDailyExhausted func(provider string, limit int)

	// Clock provides time abstraction for testing.
	// Default: SystemClock
	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = &clock.SystemClock{}
	}
}

// DefaultConfig returns a default configuration for the named provider.
func DefaultConfig(provider string) Config {
	return Config{
		Provider:          provider,
		RequestsPerMinute: 60,
		AllowWait:         true,
		MaxWait:           30 * time.Second,
	}
}

// OpenAIConfig returns a limiter configuration tuned for OpenAI API calls.
func OpenAIConfig() Config {
	return Config{
		Provider:          "openai",
		RequestsPerMinute: 60,
		AllowWait:         true,
		MaxWait:           60 * time.Second,
	}
}

// FirecrawlConfig returns a limiter configuration tuned for the Firecrawl
// scraping API, which meters aggressively and enforces a daily quota.
func FirecrawlConfig() Config {
	return Config{
		Provider:          "firecrawl",
		RequestsPerMinute: 10,
		DailyLimit:        500,
		AllowWait:         true,
		MaxWait:           120 * time.Second,
	}
}

// SerperConfig returns a limiter configuration tuned for the Serper search
// API free tier.
func SerperConfig() Config {
	return Config{
		Provider:          "serper",
		RequestsPerMinute: 50,
		DailyLimit:        2500,
		AllowWait:         true,
		MaxWait:           30 * time.Second,
	}
}
