// Package tracing provides OpenTelemetry tracing integration.
//
// The governor facade starts a span around every governed call; the HTTP
// middleware traces the daemon's metrics and health endpoints. Trace context
// is propagated in W3C Trace Context format and the trace ID is echoed in the
// X-Trace-Id response header for client-side correlation.
package tracing
