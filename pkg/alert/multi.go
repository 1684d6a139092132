package alert

import (
	"context"
	"errors"
)

// MultiSink fans one event out to several sinks. Every sink is attempted;
// failures are joined so one broken sink never starves the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines the given sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Name returns "multi".
func (s *MultiSink) Name() string { return "multi" }

// Deliver sends the event to every sink and returns the joined errors, if
// any.
func (s *MultiSink) Deliver(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
