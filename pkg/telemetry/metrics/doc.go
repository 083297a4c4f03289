// Package metrics provides Prometheus metrics collection for Relay.
//
// # Metrics Categories
//
//   - Request Metrics: request count and duration by outcome, admission
//     denials by stage, failovers
//   - Backend Metrics: health state, in-flight requests, upstream attempts
//     and latency, pool saturation
//   - Limit Metrics: rate limiter fallbacks, quota commit errors
//   - Usage Metrics: tokens and cost by model, usage records written and dropped
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRequest("success", 200, time.Second)
//	collector.RecordUpstreamAttempt("primary", "success", 800*time.Millisecond)
//
// Every Record method is a no-op on a nil *Collector or when metrics are
// disabled in configuration.
//
// # Cardinality Management
//
// Model names come from client request bodies. At most 1000 distinct model
// values are tracked; further values are aggregated into "other".
package metrics
