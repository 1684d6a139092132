// Package alert defines the outbound alert surface of the governance layer.
//
// Components emit structured events on notable conditions (breaker state
// changes, budget thresholds crossed, daily quota exhaustion); a pluggable
// Sink delivers them. Delivery is best-effort: sink failures are reported to
// the caller but must never interrupt the governed call path.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Level indicates the severity of an alert event.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Event is one structured alert.
type Event struct {
	// ID uniquely identifies the event for deduplication downstream.
	ID string `json:"id"`

	// Level is the event severity.
	Level Level `json:"level"`

	// Source names the component that raised the event (e.g.
	// "breaker:openai", "budget:global").
	Source string `json:"source"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Metadata carries structured key-value context.
	Metadata map[string]string `json:"metadata,omitempty"`

	// OccurredAt is when the condition was observed, in UTC.
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event with a fresh ID and the current UTC time.
func NewEvent(level Level, source, message string, metadata map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Level:      level,
		Source:     source,
		Message:    message,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink delivers one alert event. Implementations own their retry,
// deduplication, and rate limiting.
//
// Thread safety: Deliver must be safe for concurrent use.
type Sink interface {
	// Name returns the sink identifier (lowercase, alphanumeric), used for
	// logging and metrics labels.
	Name() string

	// Deliver sends one event, respecting context cancellation.
	Deliver(ctx context.Context, ev Event) error
}
