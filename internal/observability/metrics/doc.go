// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - Governed call metrics (outcome, duration)
//   - Circuit breaker state and transitions
//   - Rate limiter waits and denials
//   - Cost and budget metrics
//   - Alert delivery metrics
//
// Metrics are registered with the default Prometheus registry via promauto
// and exposed by the /metrics endpoint of the governor daemon.
package metrics
