package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
	}{
		{"default level", ""},
		{"debug level", "debug"},
		{"warn level", "warn"},
		{"error level", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.logLevel)
			logger := NewLogger()
			assert.NotNil(t, logger)
		})
	}
}

func TestNewTextLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	logger := NewTextLogger()
	assert.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "parseLevel(%q)", tt.input)
	}
}

func TestWithFields(t *testing.T) {
	logger := slog.Default()
	withFields := WithFields(logger, map[string]interface{}{
		"service":  "openai",
		"provider": "openai",
	})
	assert.NotNil(t, withFields)
	assert.NotEqual(t, logger, withFields)
}

func TestLoggerContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		logger := slog.Default().With("component", "governor")
		ctx := WithLogger(context.Background(), logger)
		assert.Equal(t, logger, FromContext(ctx))
	})

	t.Run("missing logger falls back to default", func(t *testing.T) {
		assert.Equal(t, slog.Default(), FromContext(context.Background()))
	})
}
