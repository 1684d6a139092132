package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Governed call metrics track the outcome and latency of calls passing
// through the governance layer.
var (
	// GovernedCallsTotal counts governed calls by service, provider, and
	// outcome (success, failure, rejected_circuit, rejected_rate,
	// rejected_budget).
	GovernedCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_calls_total",
			Help: "Total number of governed external calls",
		},
		[]string{"service", "provider", "outcome"},
	)

	// GovernedCallDuration measures end-to-end governed call duration,
	// including any rate-limit wait.
	GovernedCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_call_duration_seconds",
			Help:    "Governed call duration in seconds, including admission wait",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

// Circuit breaker metrics track breaker state machines.
var (
	// BreakerState reflects the current state per service:
	// 0 = closed, 1 = half-open, 2 = open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "governor_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	// BreakerTransitionsTotal counts state transitions per service.
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)
)

// Rate limiter metrics track admission control per provider.
var (
	// RateLimitWaitDuration measures time spent blocked waiting for window
	// capacity.
	RateLimitWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_ratelimit_wait_seconds",
			Help:    "Time spent waiting for rate limit admission in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// RateLimitDeniedTotal counts denied admissions by provider and limit
	// type (per_minute, daily).
	RateLimitDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_ratelimit_denied_total",
			Help: "Total number of denied rate limit admissions",
		},
		[]string{"provider", "limit_type"},
	)
)

// Cost metrics track spend recorded by the cost trackers.
var (
	// CostTrackedUSD accumulates estimated spend by provider and model.
	CostTrackedUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_cost_tracked_usd_total",
			Help: "Cumulative estimated cost in USD",
		},
		[]string{"provider", "model"},
	)

	// BudgetExceededTotal counts budget ceiling breaches per scope.
	BudgetExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_budget_exceeded_total",
			Help: "Total number of budget ceiling breaches",
		},
		[]string{"scope"},
	)
)

// Alert metrics track outbound alert delivery.
var (
	// AlertsDeliveredTotal counts alert deliveries by sink and status
	// (success, failure).
	AlertsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_alerts_delivered_total",
			Help: "Total number of alert delivery attempts",
		},
		[]string{"sink", "status"},
	)
)
