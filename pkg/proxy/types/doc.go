// Package types defines the JSON error body the relay returns for requests
// it rejects or cannot complete:
//
//	{"error":{"type":"rate_limit_exceeded","message":"rate limit of 60 requests exceeded","code":"rate_limit_exceeded"}}
//
// Error types map to fixed HTTP status codes through ErrorDetail.HTTPStatusCode.
// Upstream responses, including upstream error bodies, are passed through
// unchanged and never wrapped in this format.
package types
