// Package proxy implements the relay's request path.
//
// Every inbound request runs through Pipeline:
//
//  1. Authenticate the proxy key from the configured credential headers.
//  2. Admit against the key's short-window rate limit.
//  3. Reserve an estimate against the key's period quota.
//  4. Choose a backend and forward with Forwarder, failing over once to
//     another backend when the first attempt failed before any response
//     byte reached the client and the body is replayable.
//  5. Commit metered usage, or release the reservation when no response was
//     produced, and hand one usage record to the recorder.
//
// Forwarder keeps one connection pool per backend bounded by the backend's
// max_concurrent. It applies the header timeout and the stream idle timeout,
// reports exactly one health outcome per attempt, and flushes the response
// to the client after every upstream read so server-sent events are not
// buffered. A Meter watches the body as it streams past and extracts token
// usage from JSON responses and SSE events.
//
// Denials are written as JSON errors (see package types) with Retry-After
// and X-RateLimit-* / X-Quota-* headers where they apply.
package proxy
