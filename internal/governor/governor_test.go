package governor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apigovernor/internal/resilience/retry"
	"apigovernor/pkg/alert"
	"apigovernor/pkg/breaker"
	"apigovernor/pkg/costtrack"
	"apigovernor/pkg/ratelimit"
)

type recordingSink struct {
	mu     sync.Mutex
	events []alert.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, ev alert.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []alert.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Event(nil), s.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okCall(in, out int64) func(context.Context) (Result, error) {
	return func(context.Context) (Result, error) {
		return Result{InputUnits: in, OutputUnits: out}, nil
	}
}

func testGovernor(t *testing.T, opts Options) (*Governor, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	if opts.Sink == nil {
		opts.Sink = sink
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return New(opts), sink
}

func TestExecute_Success(t *testing.T) {
	g, sink := testGovernor(t, Options{})

	rec, err := g.Execute(context.Background(), Call{
		Service:  "openai-chat",
		Provider: "openai",
		Scope:    "run-1",
		Model:    "gpt-4o",
		Layer:    "summarize",
		Run:      "run-1",
	}, okCall(1_000_000, 100_000))

	require.NoError(t, err)
	assert.Equal(t, "openai", rec.Provider)
	assert.Equal(t, "gpt-4o", rec.Model)
	assert.InDelta(t, 3.50, rec.EstimatedCost, 1e-9)
	assert.Empty(t, sink.all())

	summary := g.Trackers().Get("run-1").Summary(costtrack.Filter{})
	assert.Equal(t, 1, summary.RecordCount)
}

func TestExecute_DefaultsScopeToGlobal(t *testing.T) {
	g, _ := testGovernor(t, Options{})

	_, err := g.Execute(context.Background(), Call{
		Service:  "svc",
		Provider: "prov",
		Model:    "gpt-4o-mini",
	}, okCall(1000, 100))
	require.NoError(t, err)

	assert.Contains(t, g.Trackers().Names(), "global")
}

func TestExecute_FailurePropagatesAndCounts(t *testing.T) {
	g, _ := testGovernor(t, Options{})

	callErr := errors.New("upstream 503")
	_, err := g.Execute(context.Background(), Call{Service: "svc", Provider: "prov"},
		func(context.Context) (Result, error) { return Result{}, callErr })

	require.ErrorIs(t, err, callErr)
	stats := g.Breakers().Get("svc").Stats()
	assert.Equal(t, 1, stats.ConsecutiveFailures)
	assert.Equal(t, "upstream 503", stats.LastFailureReason)
}

func TestExecute_OpenCircuitRejects(t *testing.T) {
	g, sink := testGovernor(t, Options{
		BreakerConfig: func(name string) breaker.Config {
			cfg := breaker.DefaultConfig(name)
			cfg.FailureThreshold = 2
			return cfg
		},
	})

	ctx := context.Background()
	call := Call{Service: "flaky", Provider: "prov"}
	fail := func(context.Context) (Result, error) {
		return Result{}, errors.New("connection refused")
	}

	for i := 0; i < 2; i++ {
		_, err := g.Execute(ctx, call, fail)
		require.Error(t, err)
	}

	_, err := g.Execute(ctx, call, okCall(1, 1))
	var openErr *breaker.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "flaky", openErr.Service)
	assert.Equal(t, "connection refused", openErr.LastFailureReason)
	assert.Greater(t, openErr.TimeRemaining, time.Duration(0))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, alert.LevelCritical, events[0].Level)
	assert.Equal(t, "breaker:flaky", events[0].Source)
}

func TestExecute_ExcludedKindDoesNotTrip(t *testing.T) {
	g, sink := testGovernor(t, Options{
		BreakerConfig: func(name string) breaker.Config {
			cfg := breaker.DefaultConfig(name)
			cfg.FailureThreshold = 2
			cfg.ExcludedKinds = []breaker.FailureKind{breaker.KindValidation}
			return cfg
		},
	})

	ctx := context.Background()
	call := Call{Service: "svc", Provider: "prov"}
	badInput := func(context.Context) (Result, error) {
		return Result{}, breaker.Mark(errors.New("invalid prompt"), breaker.KindValidation)
	}

	for i := 0; i < 5; i++ {
		_, err := g.Execute(ctx, call, badInput)
		require.Error(t, err)
	}

	assert.Equal(t, breaker.StateClosed, g.Breakers().Get("svc").State())
	assert.Empty(t, sink.all())
}

func TestExecute_RateLimitDenied(t *testing.T) {
	g, _ := testGovernor(t, Options{
		LimiterConfig: func(provider string) ratelimit.Config {
			return ratelimit.Config{
				Provider:          provider,
				RequestsPerMinute: 1,
				AllowWait:         false,
			}
		},
	})

	ctx := context.Background()
	call := Call{Service: "svc", Provider: "metered"}

	_, err := g.Execute(ctx, call, okCall(1, 1))
	require.NoError(t, err)

	_, err = g.Execute(ctx, call, okCall(1, 1))
	var limitErr *ratelimit.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "metered", limitErr.Provider)
	assert.Equal(t, ratelimit.LimitPerMinute, limitErr.Limit)
}

func TestExecute_DailyExhaustionAlerts(t *testing.T) {
	g, sink := testGovernor(t, Options{
		LimiterConfig: func(provider string) ratelimit.Config {
			return ratelimit.Config{
				Provider:          provider,
				RequestsPerMinute: 100,
				DailyLimit:        1,
				AllowWait:         false,
			}
		},
	})

	ctx := context.Background()
	call := Call{Service: "svc", Provider: "quota"}

	_, err := g.Execute(ctx, call, okCall(1, 1))
	require.NoError(t, err)

	_, err = g.Execute(ctx, call, okCall(1, 1))
	var limitErr *ratelimit.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ratelimit.LimitDaily, limitErr.Limit)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, alert.LevelWarning, events[0].Level)
	assert.Equal(t, "ratelimit:quota", events[0].Source)
}

func TestExecute_DailyExhaustionWithWaitEnabled(t *testing.T) {
	g, sink := testGovernor(t, Options{
		LimiterConfig: func(provider string) ratelimit.Config {
			return ratelimit.Config{
				Provider:          provider,
				RequestsPerMinute: 100,
				DailyLimit:        1,
				AllowWait:         true,
				MaxWait:           time.Hour,
			}
		},
	})

	ctx := context.Background()
	call := Call{Service: "svc", Provider: "quota"}

	_, err := g.Execute(ctx, call, okCall(1, 1))
	require.NoError(t, err)

	// With waiting enabled the denial must still identify the daily limit
	// with real counts, not masquerade as a per-minute rejection.
	_, err = g.Execute(ctx, call, okCall(1, 1))
	var limitErr *ratelimit.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ratelimit.LimitDaily, limitErr.Limit)
	assert.Equal(t, 1, limitErr.Current)
	assert.Equal(t, 1, limitErr.Max)

	// A dead-for-the-day provider must not be retried.
	assert.False(t, retry.IsRetryable(err))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "ratelimit:quota", events[0].Source)
}

func TestExecute_RateLimitWaitDeadlineReportsWindow(t *testing.T) {
	g, _ := testGovernor(t, Options{
		LimiterConfig: func(provider string) ratelimit.Config {
			return ratelimit.Config{
				Provider:          provider,
				RequestsPerMinute: 1,
				AllowWait:         true,
				MaxWait:           time.Millisecond,
			}
		},
	})

	ctx := context.Background()
	call := Call{Service: "svc", Provider: "metered"}

	_, err := g.Execute(ctx, call, okCall(1, 1))
	require.NoError(t, err)

	_, err = g.Execute(ctx, call, okCall(1, 1))
	var limitErr *ratelimit.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ratelimit.LimitPerMinute, limitErr.Limit)
	assert.Equal(t, 1, limitErr.Current)
	assert.Equal(t, 1, limitErr.Max)

	// The window clears within a minute, so this denial stays retryable.
	assert.True(t, retry.IsRetryable(err))
}

func TestExecute_PanicReleasesProbeSlot(t *testing.T) {
	g, _ := testGovernor(t, Options{
		BreakerConfig: func(name string) breaker.Config {
			cfg := breaker.DefaultConfig(name)
			cfg.FailureThreshold = 1
			cfg.SuccessThreshold = 1
			cfg.HalfOpenMaxRequests = 1
			cfg.RecoveryTimeout = time.Nanosecond
			return cfg
		},
	})

	ctx := context.Background()
	call := Call{Service: "svc", Provider: "prov"}

	_, err := g.Execute(ctx, call, func(context.Context) (Result, error) {
		return Result{}, errors.New("boom")
	})
	require.Error(t, err)
	time.Sleep(time.Millisecond)

	// The panicking probe must be recorded as a failure so its half-open
	// slot is released and the circuit reopens instead of wedging.
	require.Panics(t, func() {
		_, _ = g.Execute(ctx, call, func(context.Context) (Result, error) {
			panic("probe exploded")
		})
	})

	stats := g.Breakers().Get("svc").Stats()
	assert.Equal(t, 0, stats.HalfOpenInFlight)
	assert.Contains(t, stats.LastFailureReason, "panic")

	// After another recovery interval the next probe is admitted again.
	time.Sleep(time.Millisecond)
	_, err = g.Execute(ctx, call, okCall(1, 1))
	require.NoError(t, err)
}

func TestExecute_BudgetExceededKeepsRecord(t *testing.T) {
	g, sink := testGovernor(t, Options{
		TrackerConfig: func(scope string) costtrack.Config {
			return costtrack.Config{
				Scope:         scope,
				BudgetCeiling: 1.00,
				EnforceBudget: true,
			}
		},
	})

	// 600k input units on default pricing ($2.00/M) costs $1.20.
	rec, err := g.Execute(context.Background(), Call{
		Service:  "svc",
		Provider: "prov",
		Scope:    "run-7",
		Model:    "unpriced-model",
	}, okCall(600_000, 0))

	var budgetErr *costtrack.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "run-7", budgetErr.Scope)
	assert.InDelta(t, 1.20, rec.EstimatedCost, 1e-9)

	summary := g.Trackers().Get("run-7").Summary(costtrack.Filter{})
	assert.Equal(t, 1, summary.RecordCount)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, alert.LevelCritical, events[0].Level)
	assert.Equal(t, "budget:run-7", events[0].Source)
}

func TestExecute_BreakerRecoveryAlertsOnTransitions(t *testing.T) {
	g, sink := testGovernor(t, Options{
		BreakerConfig: func(name string) breaker.Config {
			cfg := breaker.DefaultConfig(name)
			cfg.FailureThreshold = 1
			cfg.SuccessThreshold = 1
			cfg.RecoveryTimeout = time.Nanosecond
			return cfg
		},
	})

	ctx := context.Background()
	call := Call{Service: "svc", Provider: "prov"}

	_, err := g.Execute(ctx, call, func(context.Context) (Result, error) {
		return Result{}, errors.New("boom")
	})
	require.Error(t, err)
	time.Sleep(time.Millisecond)

	_, err = g.Execute(ctx, call, okCall(1, 1))
	require.NoError(t, err)

	events := sink.all()
	require.Len(t, events, 3)
	assert.Equal(t, "breaker:svc", events[0].Source)
	assert.Equal(t, alert.LevelCritical, events[0].Level)  // closed -> open
	assert.Equal(t, alert.LevelWarning, events[1].Level)   // open -> half-open
	assert.Equal(t, alert.LevelInfo, events[2].Level)      // half-open -> closed
}

func TestExecute_InnerCallbacksStillFire(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	g, _ := testGovernor(t, Options{
		BreakerConfig: func(name string) breaker.Config {
			cfg := breaker.DefaultConfig(name)
			cfg.FailureThreshold = 1
			cfg.OnStateChange = func(name string, from, to breaker.State) {
				mu.Lock()
				defer mu.Unlock()
				transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
			}
			return cfg
		},
	})

	_, err := g.Execute(context.Background(), Call{Service: "svc", Provider: "prov"},
		func(context.Context) (Result, error) { return Result{}, errors.New("boom") })
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"svc:closed->open"}, transitions)
}

func TestExecute_ContextCancellation(t *testing.T) {
	g, _ := testGovernor(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Execute(ctx, Call{Service: "svc", Provider: "prov"},
		func(ctx context.Context) (Result, error) { return Result{}, ctx.Err() })
	require.Error(t, err)
}

func TestNew_ZeroOptions(t *testing.T) {
	g := New(Options{})

	_, err := g.Execute(context.Background(), Call{Service: "svc", Provider: "prov"},
		okCall(10, 10))
	require.NoError(t, err)

	assert.NotNil(t, g.Breakers())
	assert.NotNil(t, g.Limiters())
	assert.NotNil(t, g.Trackers())
}

func TestExecute_Concurrent(t *testing.T) {
	g, _ := testGovernor(t, Options{
		LimiterConfig: func(provider string) ratelimit.Config {
			return ratelimit.Config{Provider: provider, RequestsPerMinute: 10_000}
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := g.Execute(context.Background(), Call{
					Service:  "svc",
					Provider: "prov",
					Model:    "gpt-4o-mini",
				}, okCall(100, 10))
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	summary := g.Trackers().Get("global").Summary(costtrack.Filter{})
	assert.Equal(t, 400, summary.RecordCount)
}
