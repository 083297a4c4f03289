// Package middleware provides the HTTP middleware shared by the proxy and
// admin listeners.
//
// # Middleware Chain
//
//	handler = RecoveryMiddleware(RequestIDMiddleware(LoggingMiddleware(handler)))
//
// Chain builds exactly this stack. Order (outermost first):
//  1. Recovery: turn panics into a 500 JSON error
//  2. RequestID: assign or accept X-Request-ID and open the request's log fields
//  3. Logging: one access log line per request
//
// # Request ID
//
// A client supplied X-Request-ID of printable ASCII up to 128 bytes is kept;
// otherwise a UUID v4 is generated:
//
//	X-Request-ID: 550e8400-e29b-41d4-a716-446655440000
//
// The id is stored with logging.WithFields, so every log record written with
// the request context carries request_id, and key_id once the key is known.
//
// # Streaming
//
// The logging wrapper implements http.Flusher and Unwrap, so streamed
// responses are flushed through it and http.ResponseController works.
package middleware
