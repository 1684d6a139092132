package alert

import "context"

// NoopSink discards all events. It is used when alerting is disabled, so
// callers never need nil checks on their sink.
type NoopSink struct{}

// NewNoopSink creates a sink that drops every event.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

// Name returns "noop".
func (s *NoopSink) Name() string { return "noop" }

// Deliver discards the event and always succeeds.
func (s *NoopSink) Deliver(_ context.Context, _ Event) error { return nil }
