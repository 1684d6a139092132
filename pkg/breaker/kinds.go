package breaker

import (
	"context"
	"errors"
)

// FailureKind classifies a failed call for circuit breaker accounting.
//
// Kinds are a small closed set so that exclusion logic is a plain membership
// check rather than error-type reflection at the call site.
type FailureKind string

const (
	// KindValidation marks caller input errors (bad request payloads,
	// invalid parameters). These indicate a caller bug, not service health,
	// and are typically excluded from failure counting.
	KindValidation FailureKind = "validation"

	// KindTransient marks retryable faults: network errors, 5xx responses,
	// provider overload. This is the default classification.
	KindTransient FailureKind = "transient"

	// KindTimeout marks deadline and timeout failures.
	KindTimeout FailureKind = "timeout"

	// KindFatal marks non-retryable faults such as authentication failures
	// or panics inside the wrapped call.
	KindFatal FailureKind = "fatal"
)

// kindError attaches a FailureKind to an underlying error.
type kindError struct {
	kind FailureKind
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

// Mark wraps err with the given failure kind so that KindOf (and therefore
// Breaker.Execute) classifies it accordingly. A nil err returns nil.
func Mark(err error, kind FailureKind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf returns the failure kind of err.
//
// Errors marked with Mark keep their explicit kind. Context deadline errors
// classify as KindTimeout. Everything else defaults to KindTransient, the
// safe assumption for an unclassified external-service fault.
func KindOf(err error) FailureKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}
