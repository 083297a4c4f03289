// Package ratelimit implements the short-window request limiter that runs
// right after authentication.
//
// Two Limiter implementations are provided:
//
//   - LocalLimiter keeps one entry per key in process memory. The default
//     sliding_window algorithm admits at most Limit.Requests in any rolling
//     Limit.Window; the token_bucket algorithm uses golang.org/x/time/rate with
//     rate Requests/Window and burst Requests.
//   - RedisLimiter counts fixed windows in Redis so several relay instances
//     share one budget per key. It falls back to a LocalLimiter while Redis is
//     unreachable or its circuit breaker is open.
//
// Limits are passed on every call rather than stored, so edits to a key take
// effect on its next request.
package ratelimit
