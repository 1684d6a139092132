package breaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"marked validation", Mark(errors.New("bad input"), KindValidation), KindValidation},
		{"marked fatal", Mark(errors.New("bad key"), KindFatal), KindFatal},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("call failed: %w", context.DeadlineExceeded), KindTimeout},
		{"plain error defaults to transient", errors.New("connection reset"), KindTransient},
		{"wrapped marked error", fmt.Errorf("outer: %w", Mark(errors.New("inner"), KindValidation)), KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMark_NilError(t *testing.T) {
	if Mark(nil, KindValidation) != nil {
		t.Error("Mark(nil, ...) should return nil")
	}
}

func TestMark_PreservesMessageAndUnwrap(t *testing.T) {
	inner := errors.New("missing field")
	marked := Mark(inner, KindValidation)

	if marked.Error() != "missing field" {
		t.Errorf("expected message preserved, got %q", marked.Error())
	}
	if !errors.Is(marked, inner) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
}
