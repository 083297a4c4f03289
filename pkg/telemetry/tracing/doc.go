// Package tracing wires OpenTelemetry tracing for Relay.
//
// New installs a global tracer provider that exports over OTLP gRPC, or a
// noop provider when tracing is disabled, plus the W3C trace context
// propagator. The proxy pipeline opens one span per inbound request and one
// child span per upstream attempt, and Inject propagates the attempt span to
// the upstream so backend traces join the client's trace.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
