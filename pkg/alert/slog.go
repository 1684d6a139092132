package alert

import (
	"context"
	"log/slog"
)

// SlogSink writes events to a structured logger. It is the default delivery
// path: every deployment gets alert visibility in its logs even with no chat
// webhook configured.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger.
// Pass nil to use slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Name returns "slog".
func (s *SlogSink) Name() string { return "slog" }

// Deliver logs the event at the slog level matching its severity.
func (s *SlogSink) Deliver(ctx context.Context, ev Event) error {
	attrs := []any{
		slog.String("alert_id", ev.ID),
		slog.String("source", ev.Source),
		slog.Time("occurred_at", ev.OccurredAt),
	}
	for k, v := range ev.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	switch ev.Level {
	case LevelCritical:
		s.logger.ErrorContext(ctx, ev.Message, attrs...)
	case LevelWarning:
		s.logger.WarnContext(ctx, ev.Message, attrs...)
	default:
		s.logger.InfoContext(ctx, ev.Message, attrs...)
	}
	return nil
}
