package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"apigovernor/pkg/breaker"
	"apigovernor/pkg/costtrack"
	"apigovernor/pkg/ratelimit"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       100 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

func TestWithBackoff_Success(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithBackoff_SuccessAfterRetry(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return &HTTPError{StatusCode: 500, Message: "Server Error"}
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithBackoff_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return &HTTPError{StatusCode: 503, Message: "Service Unavailable"}
	})

	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithBackoff_NonRetryableAbortsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"circuit open", &breaker.CircuitOpenError{Service: "openai", TimeRemaining: 30 * time.Second}},
		{"budget exceeded", &costtrack.BudgetExceededError{Scope: "global", Ceiling: 1.00}},
		{"daily limit", &ratelimit.LimitExceededError{Provider: "firecrawl", Limit: ratelimit.LimitDaily, Current: 500, Max: 500}},
		{"client error", &HTTPError{StatusCode: 400, Message: "Bad Request"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := WithBackoff(context.Background(), fastConfig(), func() error {
				attempts++
				return tt.err
			})

			if !errors.Is(err, tt.err) {
				t.Errorf("expected the original error, got %v", err)
			}
			if attempts != 1 {
				t.Errorf("expected exactly 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := WithBackoff(ctx, fastConfig(), func() error {
		attempts++
		cancel()
		return &HTTPError{StatusCode: 500, Message: "Server Error"}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"circuit open", &breaker.CircuitOpenError{Service: "openai"}, false},
		{"budget exceeded", &costtrack.BudgetExceededError{Scope: "global"}, false},
		{"daily rate limit", &ratelimit.LimitExceededError{Limit: ratelimit.LimitDaily}, false},
		{"per-minute rate limit", &ratelimit.LimitExceededError{Limit: ratelimit.LimitPerMinute}, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 429", &HTTPError{StatusCode: 429}, true},
		{"http 408", &HTTPError{StatusCode: 408}, true},
		{"http 400", &HTTPError{StatusCode: 400}, false},
		{"http 404", &HTTPError{StatusCode: 404}, false},
		{"generic error", errors.New("something"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable_WrappedGovernanceErrors(t *testing.T) {
	wrapped := func(err error) error {
		return &wrapError{msg: "call failed", err: err}
	}

	if IsRetryable(wrapped(&breaker.CircuitOpenError{Service: "openai"})) {
		t.Error("wrapped CircuitOpenError must not be retryable")
	}
	if !IsRetryable(wrapped(&HTTPError{StatusCode: 502})) {
		t.Error("wrapped 5xx must stay retryable")
	}
}

type wrapError struct {
	msg string
	err error
}

func (e *wrapError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *wrapError) Unwrap() error { return e.err }

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond

	for i := 0; i < 50; i++ {
		got := addJitter(base, 0.1)
		if got < base || got > base+base/10 {
			t.Fatalf("jitter out of bounds: %v", got)
		}
	}

	if got := addJitter(base, 0); got != base {
		t.Errorf("zero jitter fraction must be a no-op, got %v", got)
	}
}
