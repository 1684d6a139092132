// Package config loads and validates the governor daemon's configuration
// from environment variables.
//
// Configuration is read once at startup and never hot-reloaded. Invalid
// individual values fall back to defaults with a logged warning (see
// pkg/config); Validate catches combinations that cannot work at all.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"apigovernor/pkg/alert"
	"apigovernor/pkg/breaker"
	pkgconfig "apigovernor/pkg/config"
	"apigovernor/pkg/costtrack"
	"apigovernor/pkg/ratelimit"
)

// BreakerSettings holds the default circuit breaker thresholds applied to
// services without a named preset.
type BreakerSettings struct {
	FailureThreshold     int
	SuccessThreshold     int
	RecoveryTimeout      time.Duration
	HalfOpenMaxRequests  int
	FailureRateThreshold float64
	MinRequestsForRate   int
	ExcludedKinds        []string
}

// LimiterSettings holds the default rate limiter settings applied to
// providers without a named preset.
type LimiterSettings struct {
	RequestsPerMinute int
	DailyLimit        int
	AllowWait         bool
	MaxWait           time.Duration
}

// BudgetSettings holds the cost tracking configuration.
type BudgetSettings struct {
	// CeilingUSD is the budget ceiling applied to every tracker scope.
	// 0 disables the ceiling.
	CeilingUSD float64

	// Enforce makes exceeding the ceiling a hard stop.
	Enforce bool

	// PricingFile optionally overrides the built-in price table (YAML).
	PricingFile string
}

// Config is the governor daemon's full configuration.
type Config struct {
	// Port is the HTTP port serving /metrics and /health.
	Port int

	// HealthSchedule is the cron expression driving periodic health scans.
	HealthSchedule string

	Breaker BreakerSettings
	Limiter LimiterSettings
	Budget  BudgetSettings

	// SlackWebhookURL enables Slack alert delivery when non-empty.
	SlackWebhookURL string

	// SlackTimeout is the webhook request timeout.
	SlackTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults for
// anything unset.
//
// Environment variables:
//   - GOVERNOR_PORT: HTTP port for /metrics and /health (default: 9090)
//   - GOVERNOR_HEALTH_SCHEDULE: cron expression for health scans (default: "*/1 * * * *")
//   - GOVERNOR_FAILURE_THRESHOLD: consecutive failures before opening (default: 5)
//   - GOVERNOR_SUCCESS_THRESHOLD: half-open successes before closing (default: 2)
//   - GOVERNOR_RECOVERY_TIMEOUT: open-state duration before probing (default: 60s)
//   - GOVERNOR_HALF_OPEN_MAX_REQUESTS: concurrent half-open probes (default: 1)
//   - GOVERNOR_FAILURE_RATE_THRESHOLD: failure-rate trip fraction (default: 0.6)
//   - GOVERNOR_MIN_REQUESTS_FOR_RATE: sample size before rate logic (default: 10)
//   - GOVERNOR_EXCLUDED_FAILURE_KINDS: comma-separated kinds that never count (default: validation)
//   - GOVERNOR_REQUESTS_PER_MINUTE: sliding-window admissions (default: 60)
//   - GOVERNOR_DAILY_LIMIT: daily cap, 0 for none (default: 0)
//   - GOVERNOR_ALLOW_WAIT: block for window capacity (default: true)
//   - GOVERNOR_MAX_WAIT: ceiling on admission blocking (default: 30s)
//   - GOVERNOR_BUDGET_CEILING_USD: budget ceiling per scope, 0 for none (default: 0)
//   - GOVERNOR_ENFORCE_BUDGET: budget breaches hard-stop the scope (default: false)
//   - GOVERNOR_PRICING_FILE: YAML price table override (default: built-in)
//   - GOVERNOR_SLACK_WEBHOOK_URL: Slack Incoming Webhook for alerts (default: disabled)
//   - GOVERNOR_SLACK_TIMEOUT: webhook request timeout (default: 10s)
func Load() *Config {
	return &Config{
		Port:           pkgconfig.GetEnvInt("GOVERNOR_PORT", 9090),
		HealthSchedule: pkgconfig.GetEnvString("GOVERNOR_HEALTH_SCHEDULE", "*/1 * * * *"),
		Breaker: BreakerSettings{
			FailureThreshold:     pkgconfig.GetEnvInt("GOVERNOR_FAILURE_THRESHOLD", 5),
			SuccessThreshold:     pkgconfig.GetEnvInt("GOVERNOR_SUCCESS_THRESHOLD", 2),
			RecoveryTimeout:      pkgconfig.GetEnvDuration("GOVERNOR_RECOVERY_TIMEOUT", 60*time.Second),
			HalfOpenMaxRequests:  pkgconfig.GetEnvInt("GOVERNOR_HALF_OPEN_MAX_REQUESTS", 1),
			FailureRateThreshold: pkgconfig.GetEnvFloat("GOVERNOR_FAILURE_RATE_THRESHOLD", 0.6),
			MinRequestsForRate:   pkgconfig.GetEnvInt("GOVERNOR_MIN_REQUESTS_FOR_RATE", 10),
			ExcludedKinds:        pkgconfig.GetEnvStringList("GOVERNOR_EXCLUDED_FAILURE_KINDS", []string{"validation"}),
		},
		Limiter: LimiterSettings{
			RequestsPerMinute: pkgconfig.GetEnvInt("GOVERNOR_REQUESTS_PER_MINUTE", 60),
			DailyLimit:        pkgconfig.GetEnvInt("GOVERNOR_DAILY_LIMIT", 0),
			AllowWait:         pkgconfig.GetEnvBool("GOVERNOR_ALLOW_WAIT", true),
			MaxWait:           pkgconfig.GetEnvDuration("GOVERNOR_MAX_WAIT", 30*time.Second),
		},
		Budget: BudgetSettings{
			CeilingUSD:  pkgconfig.GetEnvFloat("GOVERNOR_BUDGET_CEILING_USD", 0),
			Enforce:     pkgconfig.GetEnvBool("GOVERNOR_ENFORCE_BUDGET", false),
			PricingFile: pkgconfig.GetEnvString("GOVERNOR_PRICING_FILE", ""),
		},
		SlackWebhookURL: pkgconfig.GetEnvString("GOVERNOR_SLACK_WEBHOOK_URL", ""),
		SlackTimeout:    pkgconfig.GetEnvDuration("GOVERNOR_SLACK_TIMEOUT", 10*time.Second),
	}
}

// Validate checks the configuration for combinations that cannot work.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if _, err := cron.ParseStandard(c.HealthSchedule); err != nil {
		return fmt.Errorf("invalid health schedule %q: %w", c.HealthSchedule, err)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be >= 1, got %d", c.Breaker.SuccessThreshold)
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Breaker.RecoveryTimeout); err != nil {
		return fmt.Errorf("invalid recovery timeout: %w", err)
	}
	if err := pkgconfig.ValidateRatio(c.Breaker.FailureRateThreshold); err != nil {
		return fmt.Errorf("invalid failure rate threshold: %w", err)
	}
	if c.Limiter.RequestsPerMinute < 1 {
		return fmt.Errorf("requests per minute must be >= 1, got %d", c.Limiter.RequestsPerMinute)
	}
	if c.Limiter.DailyLimit < 0 {
		return fmt.Errorf("daily limit must be >= 0, got %d", c.Limiter.DailyLimit)
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Limiter.MaxWait); err != nil {
		return fmt.Errorf("invalid max wait: %w", err)
	}
	if c.Budget.CeilingUSD < 0 {
		return fmt.Errorf("budget ceiling must be >= 0, got %v", c.Budget.CeilingUSD)
	}
	if c.SlackWebhookURL != "" {
		if err := validateSlackWebhookURL(c.SlackWebhookURL); err != nil {
			return err
		}
	}
	return nil
}

// validateSlackWebhookURL rejects webhook URLs that cannot be genuine Slack
// Incoming Webhooks, so a typo disables alerting loudly at startup instead of
// silently posting nowhere.
func validateSlackWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid Slack webhook URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("slack webhook URL must use HTTPS")
	}
	if u.Host != "hooks.slack.com" {
		return fmt.Errorf("invalid Slack webhook host: %s", u.Host)
	}
	if !strings.HasPrefix(u.Path, "/services/") {
		return fmt.Errorf("invalid Slack webhook path")
	}
	return nil
}

// BreakerConfigFor returns the per-service breaker configuration function
// used to seed the breaker registry.
func (c *Config) BreakerConfigFor() func(name string) breaker.Config {
	kinds := make([]breaker.FailureKind, 0, len(c.Breaker.ExcludedKinds))
	for _, k := range c.Breaker.ExcludedKinds {
		kinds = append(kinds, breaker.FailureKind(k))
	}
	settings := c.Breaker
	return func(name string) breaker.Config {
		return breaker.Config{
			Name:                 name,
			FailureThreshold:     settings.FailureThreshold,
			SuccessThreshold:     settings.SuccessThreshold,
			RecoveryTimeout:      settings.RecoveryTimeout,
			HalfOpenMaxRequests:  settings.HalfOpenMaxRequests,
			FailureRateThreshold: settings.FailureRateThreshold,
			MinRequestsForRate:   settings.MinRequestsForRate,
			ExcludedKinds:        kinds,
		}
	}
}

// LimiterConfigFor returns the per-provider limiter configuration function
// used to seed the limiter registry.
func (c *Config) LimiterConfigFor() func(provider string) ratelimit.Config {
	settings := c.Limiter
	return func(provider string) ratelimit.Config {
		return ratelimit.Config{
			Provider:          provider,
			RequestsPerMinute: settings.RequestsPerMinute,
			DailyLimit:        settings.DailyLimit,
			AllowWait:         settings.AllowWait,
			MaxWait:           settings.MaxWait,
		}
	}
}

// TrackerConfigFor returns the per-scope tracker configuration function used
// to seed the tracker registry. Loading the pricing file happens once, not
// per scope.
func (c *Config) TrackerConfigFor() (func(scope string) costtrack.Config, error) {
	pricing := costtrack.DefaultPriceTable()
	if c.Budget.PricingFile != "" {
		loaded, err := costtrack.LoadPriceTable(c.Budget.PricingFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load pricing file: %w", err)
		}
		pricing = loaded
	}

	settings := c.Budget
	return func(scope string) costtrack.Config {
		return costtrack.Config{
			Scope:         scope,
			BudgetCeiling: settings.CeilingUSD,
			EnforceBudget: settings.Enforce,
			Pricing:       pricing,
		}
	}, nil
}

// AlertSink builds the alert sink from the configuration: a structured-log
// sink always, fanned out to Slack when a webhook is configured.
func (c *Config) AlertSink() alert.Sink {
	slogSink := alert.NewSlogSink(nil)
	if c.SlackWebhookURL == "" {
		return slogSink
	}
	return alert.NewMultiSink(slogSink, alert.NewSlackSink(alert.SlackConfig{
		Enabled:    true,
		WebhookURL: c.SlackWebhookURL,
		Timeout:    c.SlackTimeout,
	}))
}
