package metrics

import (
	"time"
)

// RecordGovernedCall records one governed call with its outcome and duration.
// Outcome should be one of "success", "failure", "rejected_circuit",
// "rejected_rate", or "rejected_budget".
func RecordGovernedCall(service, provider, outcome string, duration time.Duration) {
	GovernedCallsTotal.WithLabelValues(service, provider, outcome).Inc()
	GovernedCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change and updates
// the state gauge.
func RecordBreakerTransition(service, from, to string) {
	BreakerTransitionsTotal.WithLabelValues(service, from, to).Inc()
	BreakerState.WithLabelValues(service).Set(stateValue(to))
}

// stateValue maps a breaker state name to its gauge value.
func stateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// RecordRateLimitWait records time spent blocked on rate limit admission.
func RecordRateLimitWait(provider string, wait time.Duration) {
	RateLimitWaitDuration.WithLabelValues(provider).Observe(wait.Seconds())
}

// RecordRateLimitDenied records a denied admission.
// limitType should be "per_minute" or "daily".
func RecordRateLimitDenied(provider, limitType string) {
	RateLimitDeniedTotal.WithLabelValues(provider, limitType).Inc()
}

// RecordCost records estimated spend for one tracked usage.
func RecordCost(provider, model string, costUSD float64) {
	// Counters reject negative increments; cost is never negative, but a
	// zero-cost record is valid (e.g. free-tier models).
	if costUSD < 0 {
		return
	}
	CostTrackedUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordBudgetExceeded records a budget ceiling breach for a scope.
func RecordBudgetExceeded(scope string) {
	BudgetExceededTotal.WithLabelValues(scope).Inc()
}

// RecordAlertDelivery records the result of an alert delivery attempt.
func RecordAlertDelivery(sink string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	AlertsDeliveredTotal.WithLabelValues(sink, status).Inc()
}
