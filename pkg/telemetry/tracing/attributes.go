package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on Relay spans.
const (
	AttrRequestID = "relay.request_id"
	AttrKeyID     = "relay.key_id"
	AttrBackend   = "relay.backend"
	AttrAttempt   = "relay.attempt"
	AttrOutcome   = "relay.outcome"
	AttrModel     = "relay.model"

	AttrInputTokens  = "relay.tokens.input"
	AttrOutputTokens = "relay.tokens.output"
	AttrCost         = "relay.cost_usd"

	AttrHTTPStatus = "http.response.status_code"
	AttrHTTPMethod = "http.request.method"
	AttrURLPath    = "url.path"
)

// SetRequestAttributes annotates the pipeline span.
func SetRequestAttributes(span trace.Span, requestID, method, path string) {
	span.SetAttributes(
		attribute.String(AttrRequestID, requestID),
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrURLPath, path),
	)
}

// SetAttemptAttributes annotates an upstream attempt span.
func SetAttemptAttributes(span trace.Span, backend string, attempt int) {
	span.SetAttributes(
		attribute.String(AttrBackend, backend),
		attribute.Int(AttrAttempt, attempt),
	)
}

// SetUsageAttributes records metered usage on a span.
func SetUsageAttributes(span trace.Span, model string, input, output int64, cost float64) {
	span.SetAttributes(
		attribute.String(AttrModel, model),
		attribute.Int64(AttrInputTokens, input),
		attribute.Int64(AttrOutputTokens, output),
		attribute.Float64(AttrCost, cost),
	)
}
