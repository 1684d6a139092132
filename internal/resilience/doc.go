// Package resilience provides reliability and fault tolerance patterns for the application.
//
// The package currently contains retry logic with exponential backoff and
// jitter, layered on top of the governance primitives in pkg/breaker,
// pkg/ratelimit, and pkg/costtrack. The retry layer refuses to retry
// governance errors that retrying cannot fix (open circuit, exhausted daily
// quota, breached budget).
//
// Usage Example:
//
//	retryConfig := retry.DefaultConfig()
//	err := retry.WithBackoff(ctx, retryConfig, func() error {
//	    return performOperation()
//	})
package resilience
