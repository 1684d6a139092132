// Package health folds the state of every breaker, limiter, and tracker
// registry into one pull-based snapshot with a derived system-health verdict.
//
// The aggregator holds no state of its own: every snapshot is recomputed from
// the registries at read time. It sits off the hot path: dashboards, the
// /health endpoint, and the periodic monitor pull it; governed calls never
// do. A fault while reading any one registry is converted into a health issue
// instead of propagating, so observability can never become a new outage.
package health

import (
	"fmt"
	"sort"
	"time"

	"apigovernor/pkg/breaker"
	"apigovernor/pkg/clock"
	"apigovernor/pkg/costtrack"
	"apigovernor/pkg/ratelimit"
)

// Status is the overall system-health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// dailyWarnRatio is the daily-quota usage fraction at which a provider is
// reported as degraded.
const dailyWarnRatio = 0.9

// budgetWarnRatio is the budget usage fraction at which a scope is reported
// as degraded.
const budgetWarnRatio = 0.9

// SystemHealth is the derived verdict plus its supporting detail.
type SystemHealth struct {
	Status   Status   `json:"status"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// CircuitBreakerMetrics rolls up all breaker snapshots.
type CircuitBreakerMetrics struct {
	Breakers      map[string]breaker.Snapshot `json:"breakers"`
	OpenCount     int                         `json:"open_count"`
	HalfOpenCount int                         `json:"half_open_count"`
	TotalRejected int64                       `json:"total_rejected"`
}

// RateLimitMetrics rolls up all limiter snapshots.
type RateLimitMetrics struct {
	Limiters    map[string]ratelimit.Snapshot `json:"limiters"`
	TotalDenied int64                         `json:"total_denied"`
	TotalWaits  int64                         `json:"total_waits"`
}

// TokenMetrics rolls up metered units across all tracker scopes.
type TokenMetrics struct {
	TotalInputUnits  int64 `json:"total_input_units"`
	TotalOutputUnits int64 `json:"total_output_units"`
	TotalRecords     int   `json:"total_records"`
}

// BudgetMetrics rolls up spend across all tracker scopes.
type BudgetMetrics struct {
	Trackers     map[string]costtrack.Snapshot `json:"trackers"`
	TotalCostUSD float64                       `json:"total_cost_usd"`
}

// MetricsSnapshot is the full pull-based report. It is recomputed on every
// request and never cached; reads across registries are best-effort, not
// atomic, so an in-flight call may be reflected partially.
type MetricsSnapshot struct {
	GeneratedAt     time.Time             `json:"generated_at"`
	CircuitBreakers CircuitBreakerMetrics `json:"circuit_breakers"`
	RateLimits      RateLimitMetrics      `json:"rate_limits"`
	Tokens          TokenMetrics          `json:"tokens"`
	Budgets         BudgetMetrics         `json:"budgets"`
	SystemHealth    SystemHealth          `json:"system_health"`
}

// BreakerSource supplies breaker snapshots; satisfied by *breaker.Registry.
type BreakerSource interface {
	Snapshots() map[string]breaker.Snapshot
}

// LimiterSource supplies limiter snapshots; satisfied by *ratelimit.Registry.
type LimiterSource interface {
	Snapshots() map[string]ratelimit.Snapshot
}

// TrackerSource supplies tracker snapshots; satisfied by *costtrack.Registry.
type TrackerSource interface {
	Snapshots() map[string]costtrack.Snapshot
}

// Aggregator computes MetricsSnapshots from the three registries.
type Aggregator struct {
	breakers BreakerSource
	limiters LimiterSource
	trackers TrackerSource
	clock    clock.Clock
}

// NewAggregator creates an aggregator over the given registries. Any registry
// may be nil; it then contributes nothing to the snapshot.
func NewAggregator(breakers BreakerSource, limiters LimiterSource, trackers TrackerSource) *Aggregator {
	return &Aggregator{
		breakers: breakers,
		limiters: limiters,
		trackers: trackers,
		clock:    &clock.SystemClock{},
	}
}

// WithClock replaces the aggregator's clock. Test use.
func (a *Aggregator) WithClock(clk clock.Clock) *Aggregator {
	a.clock = clk
	return a
}

// Snapshot pulls current state from every registry and folds it into one
// report with a derived health verdict.
//
// A panic while reading any one registry is recovered and reported as a
// "health check error" issue forcing unhealthy, rather than failing the whole
// snapshot.
func (a *Aggregator) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		GeneratedAt: a.clock.Now().UTC(),
		CircuitBreakers: CircuitBreakerMetrics{
			Breakers: make(map[string]breaker.Snapshot),
		},
		RateLimits: RateLimitMetrics{
			Limiters: make(map[string]ratelimit.Snapshot),
		},
		Budgets: BudgetMetrics{
			Trackers: make(map[string]costtrack.Snapshot),
		},
	}

	var issues, warnings []string

	if err := guard(func() {
		if a.breakers == nil {
			return
		}
		for name, b := range a.breakers.Snapshots() {
			snap.CircuitBreakers.Breakers[name] = b
			snap.CircuitBreakers.TotalRejected += b.Stats.RejectedCalls
			switch b.State {
			case breaker.StateOpen.String():
				snap.CircuitBreakers.OpenCount++
				issues = append(issues, fmt.Sprintf(
					"circuit breaker %q is open (last failure: %s)",
					name, orUnknown(b.Stats.LastFailureReason)))
			case breaker.StateHalfOpen.String():
				snap.CircuitBreakers.HalfOpenCount++
				warnings = append(warnings, fmt.Sprintf(
					"circuit breaker %q is recovering (half-open)", name))
			}
		}
	}); err != nil {
		issues = append(issues, fmt.Sprintf("health check error: %v", err))
	}

	if err := guard(func() {
		if a.limiters == nil {
			return
		}
		for name, l := range a.limiters.Snapshots() {
			snap.RateLimits.Limiters[name] = l
			snap.RateLimits.TotalDenied += l.Stats.DeniedCount
			snap.RateLimits.TotalWaits += l.Stats.WaitsCount

			if l.Config.DailyLimit <= 0 {
				continue
			}
			used := float64(l.Stats.DailyCount) / float64(l.Config.DailyLimit)
			switch {
			case l.RemainingDaily != nil && *l.RemainingDaily == 0:
				issues = append(issues, fmt.Sprintf(
					"provider %q daily limit exhausted (%d/%d)",
					name, l.Stats.DailyCount, l.Config.DailyLimit))
			case used >= dailyWarnRatio:
				warnings = append(warnings, fmt.Sprintf(
					"provider %q daily limit at %.0f%% (%d/%d)",
					name, used*100, l.Stats.DailyCount, l.Config.DailyLimit))
			}
		}
	}); err != nil {
		issues = append(issues, fmt.Sprintf("health check error: %v", err))
	}

	if err := guard(func() {
		if a.trackers == nil {
			return
		}
		for scope, t := range a.trackers.Snapshots() {
			snap.Budgets.Trackers[scope] = t
			snap.Budgets.TotalCostUSD += t.Summary.TotalCostUSD
			snap.Tokens.TotalInputUnits += t.Summary.TotalInputUnits
			snap.Tokens.TotalOutputUnits += t.Summary.TotalOutputUnits
			snap.Tokens.TotalRecords += t.Summary.RecordCount

			if t.Config.BudgetCeilingUSD <= 0 {
				continue
			}
			used := t.Summary.TotalCostUSD / t.Config.BudgetCeilingUSD
			switch {
			case used >= 1:
				issues = append(issues, fmt.Sprintf(
					"budget scope %q exhausted ($%.4f of $%.2f)",
					scope, t.Summary.TotalCostUSD, t.Config.BudgetCeilingUSD))
			case used >= budgetWarnRatio:
				warnings = append(warnings, fmt.Sprintf(
					"budget scope %q at %.0f%% ($%.4f of $%.2f)",
					scope, used*100, t.Summary.TotalCostUSD, t.Config.BudgetCeilingUSD))
			}
		}
	}); err != nil {
		issues = append(issues, fmt.Sprintf("health check error: %v", err))
	}

	sort.Strings(issues)
	sort.Strings(warnings)

	status := StatusHealthy
	if len(warnings) > 0 {
		status = StatusDegraded
	}
	if len(issues) > 0 {
		status = StatusUnhealthy
	}

	snap.SystemHealth = SystemHealth{
		Status:   status,
		Issues:   issues,
		Warnings: warnings,
	}
	return snap
}

// guard runs fn, converting a panic into an error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
