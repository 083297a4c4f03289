// Package telemetry groups Relay's observability packages:
//
//   - logging: slog setup with credential redaction and request fields
//   - metrics: Prometheus collector on a private registry
//   - tracing: OpenTelemetry tracer provider and W3C propagation
//   - health: liveness and readiness probes
package telemetry
