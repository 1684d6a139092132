// Package governor is the facade tying the governance primitives together.
//
// A Governor owns the three registries (circuit breakers, rate limiters, cost
// trackers) and runs every external call through the full admission sequence:
// rate-limit acquisition, breaker admission, execution, result recording, and
// cost tracking. It also wires the registries' notable events (breaker state
// changes, daily quota exhaustion, budget breaches) into Prometheus metrics
// and the alert sink.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"apigovernor/internal/observability/metrics"
	"apigovernor/internal/observability/tracing"
	"apigovernor/pkg/alert"
	"apigovernor/pkg/breaker"
	"apigovernor/pkg/costtrack"
	"apigovernor/pkg/ratelimit"
)

// alertTimeout bounds alert delivery triggered from component callbacks,
// which carry no caller context.
const alertTimeout = 5 * time.Second

// Options configures a Governor.
type Options struct {
	// BreakerConfig supplies per-service breaker configuration.
	// nil uses breaker.DefaultConfig.
	BreakerConfig func(service string) breaker.Config

	// LimiterConfig supplies per-provider limiter configuration.
	// nil uses ratelimit.DefaultConfig.
	LimiterConfig func(provider string) ratelimit.Config

	// TrackerConfig supplies per-scope tracker configuration.
	// nil uses unenforced trackers with default pricing.
	TrackerConfig func(scope string) costtrack.Config

	// Sink receives alert events. nil disables alerting.
	Sink alert.Sink

	// Logger receives structured logs. nil uses slog.Default().
	Logger *slog.Logger
}

// Governor runs external calls through the governance layer.
type Governor struct {
	breakers *breaker.Registry
	limiters *ratelimit.Registry
	trackers *costtrack.Registry
	sink     alert.Sink
	logger   *slog.Logger
}

// New creates a Governor, decorating the supplied configuration functions so
// every lazily created component reports its notable events to metrics and
// the alert sink.
func New(opts Options) *Governor {
	if opts.Sink == nil {
		opts.Sink = alert.NewNoopSink()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	g := &Governor{
		sink:   opts.Sink,
		logger: opts.Logger,
	}

	breakerConfig := opts.BreakerConfig
	if breakerConfig == nil {
		breakerConfig = breaker.DefaultConfig
	}
	g.breakers = breaker.NewRegistry(func(service string) breaker.Config {
		cfg := breakerConfig(service)
		inner := cfg.OnStateChange
		cfg.OnStateChange = func(name string, from, to breaker.State) {
			g.onBreakerStateChange(name, from, to)
			if inner != nil {
				inner(name, from, to)
			}
		}
		return cfg
	})

	limiterConfig := opts.LimiterConfig
	if limiterConfig == nil {
		limiterConfig = ratelimit.DefaultConfig
	}
	g.limiters = ratelimit.NewRegistry(func(provider string) ratelimit.Config {
		cfg := limiterConfig(provider)
		inner := cfg.OnDailyExhausted
		cfg.OnDailyExhausted = func(provider string, limit int) {
			g.onDailyExhausted(provider, limit)
			if inner != nil {
				inner(provider, limit)
			}
		}
		return cfg
	})

	trackerConfig := opts.TrackerConfig
	if trackerConfig == nil {
		trackerConfig = func(scope string) costtrack.Config {
			return costtrack.Config{Scope: scope}
		}
	}
	g.trackers = costtrack.NewRegistry(func(scope string) costtrack.Config {
		cfg := trackerConfig(scope)
		inner := cfg.OnBudgetExceeded
		cfg.OnBudgetExceeded = func(scope string, ceiling, total float64) {
			g.onBudgetExceeded(scope, ceiling, total)
			if inner != nil {
				inner(scope, ceiling, total)
			}
		}
		return cfg
	})

	return g
}

// Breakers returns the circuit breaker registry.
func (g *Governor) Breakers() *breaker.Registry { return g.breakers }

// Limiters returns the rate limiter registry.
func (g *Governor) Limiters() *ratelimit.Registry { return g.limiters }

// Trackers returns the cost tracker registry.
func (g *Governor) Trackers() *costtrack.Registry { return g.trackers }

// Call identifies one governed external call.
type Call struct {
	// Service keys the circuit breaker (e.g. "openai-chat").
	Service string

	// Provider keys the rate limiter (e.g. "openai").
	Provider string

	// Scope keys the cost tracker; empty means "global".
	Scope string

	// Model selects the price-table row for cost tracking.
	Model string

	// Layer and Run tag the resulting usage record (optional).
	Layer string
	Run   string
}

// Result carries the metered consumption of a successful call.
type Result struct {
	InputUnits  int64
	OutputUnits int64
}

// Execute runs fn through the full governance sequence: rate-limit
// acquisition (may block), breaker admission, execution, result recording,
// and cost tracking.
//
// The returned usage record is the zero value unless the call executed and
// was tracked. Errors surface unchanged: *breaker.CircuitOpenError,
// *ratelimit.LimitExceededError, and *costtrack.BudgetExceededError for
// governance rejections, or fn's own error. A budget breach is reported
// after the record is appended, so spend from the breaching call is never
// lost.
//
// The sequence is not atomic across components: a metrics snapshot taken
// concurrently may observe an intermediate point (admitted by the limiter,
// not yet recorded by the breaker). That is an accepted property of the
// observability surface.
func (g *Governor) Execute(ctx context.Context, call Call, fn func(context.Context) (Result, error)) (costtrack.UsageRecord, error) {
	if call.Scope == "" {
		call.Scope = "global"
	}

	ctx, span := tracing.GetTracer().Start(ctx, "governor.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("governor.service", call.Service),
		attribute.String("governor.provider", call.Provider),
		attribute.String("governor.scope", call.Scope),
	)

	start := time.Now()

	admitted, err := g.acquire(ctx, call)
	if err != nil || !admitted {
		metrics.RecordGovernedCall(call.Service, call.Provider, "rejected_rate", time.Since(start))
		span.SetStatus(codes.Error, "rate limit rejection")
		if err != nil {
			return costtrack.UsageRecord{}, err
		}
		// (false, nil) from Acquire means the per-minute wait budget ran
		// out; daily exhaustion always arrives as a typed error above.
		snap := g.limiters.Get(call.Provider).Snapshot()
		return costtrack.UsageRecord{}, &ratelimit.LimitExceededError{
			Provider: call.Provider,
			Limit:    ratelimit.LimitPerMinute,
			Current:  snap.Stats.WindowCount,
			Max:      snap.Config.RequestsPerMinute,
		}
	}
	metrics.RecordRateLimitWait(call.Provider, time.Since(start))

	b := g.breakers.Get(call.Service)
	if !b.CanExecute() {
		b.RecordRejection()
		metrics.RecordGovernedCall(call.Service, call.Provider, "rejected_circuit", time.Since(start))
		span.SetStatus(codes.Error, "circuit open")
		stats := b.Stats()
		return costtrack.UsageRecord{}, &breaker.CircuitOpenError{
			Service:           call.Service,
			TimeRemaining:     b.TimeRemaining(),
			LastFailureReason: stats.LastFailureReason,
		}
	}

	res, err := func() (Result, error) {
		// A panic inside fn must still be recorded, or the half-open
		// probe slot reserved by CanExecute leaks and the breaker wedges.
		defer func() {
			if r := recover(); r != nil {
				b.RecordFailure(breaker.KindFatal, fmt.Sprintf("panic: %v", r))
				metrics.RecordGovernedCall(call.Service, call.Provider, "failure", time.Since(start))
				span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
				panic(r)
			}
		}()
		return fn(ctx)
	}()
	if err != nil {
		kind := breaker.KindOf(err)
		b.RecordFailure(kind, err.Error())
		metrics.RecordGovernedCall(call.Service, call.Provider, "failure", time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("governed call failed",
			slog.String("service", call.Service),
			slog.String("provider", call.Provider),
			slog.String("failure_kind", string(kind)),
			slog.Any("error", err))
		return costtrack.UsageRecord{}, err
	}
	b.RecordSuccess()

	rec, trackErr := g.trackers.Get(call.Scope).TrackUsage(costtrack.Usage{
		Provider:    call.Provider,
		Model:       call.Model,
		InputUnits:  res.InputUnits,
		OutputUnits: res.OutputUnits,
		Layer:       call.Layer,
		Run:         call.Run,
		Scope:       call.Scope,
	})
	metrics.RecordCost(call.Provider, call.Model, rec.EstimatedCost)
	metrics.RecordGovernedCall(call.Service, call.Provider, "success", time.Since(start))

	if trackErr != nil {
		// Hard stop for the scope: the record is kept, the caller must
		// abort further paid calls.
		span.SetStatus(codes.Error, "budget exceeded")
		return rec, trackErr
	}

	span.SetStatus(codes.Ok, "")
	return rec, nil
}

// acquire admits the call through the provider's rate limiter, distinguishing
// "denied with an error" from "wait budget exhausted".
func (g *Governor) acquire(ctx context.Context, call Call) (bool, error) {
	limiter := g.limiters.Get(call.Provider)
	ok, err := limiter.Acquire(ctx)
	if err != nil {
		var limitErr *ratelimit.LimitExceededError
		if errors.As(err, &limitErr) {
			metrics.RecordRateLimitDenied(call.Provider, string(limitErr.Limit))
		}
		return false, err
	}
	if !ok {
		metrics.RecordRateLimitDenied(call.Provider, string(ratelimit.LimitPerMinute))
		g.logger.Warn("rate limit admission denied",
			slog.String("provider", call.Provider))
	}
	return ok, nil
}

func (g *Governor) onBreakerStateChange(name string, from, to breaker.State) {
	metrics.RecordBreakerTransition(name, from.String(), to.String())
	g.logger.Info("circuit breaker state changed",
		slog.String("service", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	level := alert.LevelInfo
	switch to {
	case breaker.StateOpen:
		level = alert.LevelCritical
	case breaker.StateHalfOpen:
		level = alert.LevelWarning
	}
	g.deliver(alert.NewEvent(level, "breaker:"+name,
		fmt.Sprintf("circuit breaker %s: %s -> %s", name, from, to),
		map[string]string{"service": name, "from": from.String(), "to": to.String()}))
}

func (g *Governor) onDailyExhausted(provider string, limit int) {
	g.logger.Warn("daily quota exhausted",
		slog.String("provider", provider),
		slog.Int("limit", limit))
	g.deliver(alert.NewEvent(alert.LevelWarning, "ratelimit:"+provider,
		fmt.Sprintf("daily quota for %s exhausted (%d requests)", provider, limit),
		map[string]string{"provider": provider, "limit": strconv.Itoa(limit)}))
}

func (g *Governor) onBudgetExceeded(scope string, ceiling, total float64) {
	metrics.RecordBudgetExceeded(scope)
	g.logger.Error("budget ceiling exceeded",
		slog.String("scope", scope),
		slog.Float64("ceiling_usd", ceiling),
		slog.Float64("total_usd", total))
	g.deliver(alert.NewEvent(alert.LevelCritical, "budget:"+scope,
		fmt.Sprintf("budget for scope %s exceeded: $%.4f of $%.2f", scope, total, ceiling),
		map[string]string{
			"scope":       scope,
			"ceiling_usd": fmt.Sprintf("%.2f", ceiling),
			"total_usd":   fmt.Sprintf("%.4f", total),
		}))
}

// deliver sends an alert with a bounded timeout, recording the outcome.
// Delivery failures are logged, never propagated: alerting must not break
// the governed call path.
func (g *Governor) deliver(ev alert.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	err := g.sink.Deliver(ctx, ev)
	metrics.RecordAlertDelivery(g.sink.Name(), err == nil)
	if err != nil {
		g.logger.Error("alert delivery failed",
			slog.String("sink", g.sink.Name()),
			slog.String("source", ev.Source),
			slog.Any("error", err))
	}
}
