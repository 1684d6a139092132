package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apigovernor/pkg/alert"
	"apigovernor/pkg/breaker"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "*/1 * * * *", cfg.HealthSchedule)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 0.6, cfg.Breaker.FailureRateThreshold)
	assert.Equal(t, []string{"validation"}, cfg.Breaker.ExcludedKinds)
	assert.Equal(t, 60, cfg.Limiter.RequestsPerMinute)
	assert.Equal(t, 0, cfg.Limiter.DailyLimit)
	assert.True(t, cfg.Limiter.AllowWait)
	assert.Equal(t, float64(0), cfg.Budget.CeilingUSD)
	assert.False(t, cfg.Budget.Enforce)
	assert.Empty(t, cfg.SlackWebhookURL)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GOVERNOR_PORT", "8088")
	t.Setenv("GOVERNOR_FAILURE_THRESHOLD", "3")
	t.Setenv("GOVERNOR_RECOVERY_TIMEOUT", "90s")
	t.Setenv("GOVERNOR_DAILY_LIMIT", "500")
	t.Setenv("GOVERNOR_BUDGET_CEILING_USD", "25.50")
	t.Setenv("GOVERNOR_ENFORCE_BUDGET", "true")
	t.Setenv("GOVERNOR_EXCLUDED_FAILURE_KINDS", "validation,timeout")

	cfg := Load()
	assert.Equal(t, 8088, cfg.Port)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 90*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 500, cfg.Limiter.DailyLimit)
	assert.Equal(t, 25.50, cfg.Budget.CeilingUSD)
	assert.True(t, cfg.Budget.Enforce)
	assert.Equal(t, []string{"validation", "timeout"}, cfg.Breaker.ExcludedKinds)

	require.NoError(t, cfg.Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.Port = 0 }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"invalid schedule", func(c *Config) { c.HealthSchedule = "whenever" }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"zero success threshold", func(c *Config) { c.Breaker.SuccessThreshold = 0 }},
		{"negative recovery timeout", func(c *Config) { c.Breaker.RecoveryTimeout = -time.Second }},
		{"rate threshold above one", func(c *Config) { c.Breaker.FailureRateThreshold = 1.5 }},
		{"zero rpm", func(c *Config) { c.Limiter.RequestsPerMinute = 0 }},
		{"negative daily limit", func(c *Config) { c.Limiter.DailyLimit = -1 }},
		{"negative budget", func(c *Config) { c.Budget.CeilingUSD = -1 }},
		{"http webhook", func(c *Config) { c.SlackWebhookURL = "http://hooks.slack.com/services/x" }},
		{"wrong webhook host", func(c *Config) { c.SlackWebhookURL = "https://example.com/services/x" }},
		{"wrong webhook path", func(c *Config) { c.SlackWebhookURL = "https://hooks.slack.com/hook" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AcceptsGenuineWebhook(t *testing.T) {
	cfg := Load()
	cfg.SlackWebhookURL = "https://hooks.slack.com/services/T000/B000/xyz"
	assert.NoError(t, cfg.Validate())
}

func TestBreakerConfigFor(t *testing.T) {
	t.Setenv("GOVERNOR_FAILURE_THRESHOLD", "4")
	t.Setenv("GOVERNOR_EXCLUDED_FAILURE_KINDS", "validation,fatal")

	cfg := Load()
	configFor := cfg.BreakerConfigFor()
	bc := configFor("openai")

	assert.Equal(t, "openai", bc.Name)
	assert.Equal(t, 4, bc.FailureThreshold)
	assert.Equal(t, []breaker.FailureKind{breaker.KindValidation, breaker.KindFatal}, bc.ExcludedKinds)
}

func TestLimiterConfigFor(t *testing.T) {
	t.Setenv("GOVERNOR_REQUESTS_PER_MINUTE", "10")
	t.Setenv("GOVERNOR_DAILY_LIMIT", "200")

	cfg := Load()
	lc := cfg.LimiterConfigFor()("firecrawl")
	assert.Equal(t, "firecrawl", lc.Provider)
	assert.Equal(t, 10, lc.RequestsPerMinute)
	assert.Equal(t, 200, lc.DailyLimit)
}

func TestTrackerConfigFor(t *testing.T) {
	t.Run("built-in pricing", func(t *testing.T) {
		t.Setenv("GOVERNOR_BUDGET_CEILING_USD", "5")
		cfg := Load()
		configFor, err := cfg.TrackerConfigFor()
		require.NoError(t, err)

		tc := configFor("global")
		assert.Equal(t, "global", tc.Scope)
		assert.Equal(t, 5.0, tc.BudgetCeiling)
		require.NotNil(t, tc.Pricing)
	})

	t.Run("pricing file override", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pricing.yaml")
		require.NoError(t, os.WriteFile(path, []byte("models:\n  m:\n    input_per_million: 1\n    output_per_million: 2\n"), 0o644))
		t.Setenv("GOVERNOR_PRICING_FILE", path)

		cfg := Load()
		configFor, err := cfg.TrackerConfigFor()
		require.NoError(t, err)
		assert.Equal(t, 1.0, configFor("global").Pricing.Estimate("m", 1_000_000, 0))
	})

	t.Run("missing pricing file fails", func(t *testing.T) {
		t.Setenv("GOVERNOR_PRICING_FILE", "/nonexistent.yaml")
		cfg := Load()
		_, err := cfg.TrackerConfigFor()
		assert.Error(t, err)
	})
}

func TestAlertSink(t *testing.T) {
	t.Run("slog only by default", func(t *testing.T) {
		cfg := Load()
		_, ok := cfg.AlertSink().(*alert.SlogSink)
		assert.True(t, ok)
	})

	t.Run("multi sink with webhook", func(t *testing.T) {
		cfg := Load()
		cfg.SlackWebhookURL = "https://hooks.slack.com/services/T000/B000/xyz"
		_, ok := cfg.AlertSink().(*alert.MultiSink)
		assert.True(t, ok)
	})
}
