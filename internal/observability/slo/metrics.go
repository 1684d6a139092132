// Package slo tracks service level objectives for the governance layer.
//
// The gauges are derived from health scan snapshots rather than raw call
// counters: they answer "how close is the system to exhausting a protection"
// instead of re-counting traffic the other metrics already cover.
package slo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"apigovernor/pkg/health"
)

// SLO targets for the governance layer.
const (
	// BreakerAvailabilitySLO is the target fraction of governed services with
	// a non-open circuit.
	BreakerAvailabilitySLO = 0.99

	// QuotaHeadroomSLO is the minimum acceptable fraction of the daily quota
	// still unspent on any provider.
	QuotaHeadroomSLO = 0.10

	// BudgetHeadroomSLO is the minimum acceptable fraction of the budget
	// ceiling still unspent in any scope.
	BudgetHeadroomSLO = 0.10
)

var (
	// BreakerAvailability tracks the fraction of services whose circuit is
	// not open (0-1). 1 when no breakers exist.
	BreakerAvailability = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_breaker_availability_ratio",
			Help: "Fraction of governed services with a non-open circuit (0-1), target: 0.99",
		},
	)

	// QuotaHeadroom tracks the smallest remaining daily-quota fraction across
	// providers with a daily cap (0-1). 1 when no provider is capped.
	QuotaHeadroom = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_daily_quota_headroom_ratio",
			Help: "Smallest remaining daily quota fraction across providers (0-1), target: >= 0.10",
		},
	)

	// BudgetHeadroom tracks the smallest remaining budget fraction across
	// scopes with a ceiling (0-1). 1 when no scope has a ceiling.
	BudgetHeadroom = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_budget_headroom_ratio",
			Help: "Smallest remaining budget fraction across scopes (0-1), target: >= 0.10",
		},
	)

	// SystemHealthStatus tracks the scan verdict: 0 healthy, 1 degraded,
	// 2 unhealthy.
	SystemHealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_system_health_status",
			Help: "Current system health verdict (0=healthy, 1=degraded, 2=unhealthy)",
		},
	)
)

// UpdateFromSnapshot recomputes every SLO gauge from one health scan
// snapshot. Wire it as the health monitor's scan hook.
func UpdateFromSnapshot(snap health.MetricsSnapshot) {
	BreakerAvailability.Set(breakerAvailability(snap))
	QuotaHeadroom.Set(quotaHeadroom(snap))
	BudgetHeadroom.Set(budgetHeadroom(snap))
	SystemHealthStatus.Set(statusValue(snap.SystemHealth.Status))
}

func breakerAvailability(snap health.MetricsSnapshot) float64 {
	total := len(snap.CircuitBreakers.Breakers)
	if total == 0 {
		return 1
	}
	return float64(total-snap.CircuitBreakers.OpenCount) / float64(total)
}

func quotaHeadroom(snap health.MetricsSnapshot) float64 {
	headroom := 1.0
	for _, limiter := range snap.RateLimits.Limiters {
		if limiter.RemainingDaily == nil || limiter.Config.DailyLimit <= 0 {
			continue
		}
		frac := float64(*limiter.RemainingDaily) / float64(limiter.Config.DailyLimit)
		if frac < headroom {
			headroom = frac
		}
	}
	return headroom
}

func budgetHeadroom(snap health.MetricsSnapshot) float64 {
	headroom := 1.0
	for _, tracker := range snap.Budgets.Trackers {
		if tracker.RemainingBudget == nil || tracker.Config.BudgetCeilingUSD <= 0 {
			continue
		}
		frac := *tracker.RemainingBudget / tracker.Config.BudgetCeilingUSD
		if frac < headroom {
			headroom = frac
		}
	}
	return headroom
}

func statusValue(status health.Status) float64 {
	switch status {
	case health.StatusUnhealthy:
		return 2
	case health.StatusDegraded:
		return 1
	default:
		return 0
	}
}
