package types

import "net/http"

// ErrorResponse is the JSON body of every error the relay produces itself.
// Errors returned by an upstream are passed through unchanged.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Type categorizes the error. See the ErrorType constants.
	Type string `json:"type"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Error type constants.
const (
	// ErrorTypeInvalidRequest indicates a client-side error (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeAuthentication indicates a missing, unknown or disabled key (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypeQuotaExceeded indicates the key's accounting period is spent (402).
	ErrorTypeQuotaExceeded = "quota_exceeded"

	// ErrorTypeNotFound indicates a resource was not found (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeRequestTooLarge indicates a body over the configured limit (413).
	ErrorTypeRequestTooLarge = "request_too_large"

	// ErrorTypeRateLimitExceeded indicates too many requests (429).
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeServerError indicates an internal server error (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeUpstream indicates a failed upstream attempt (502).
	ErrorTypeUpstream = "upstream_error"

	// ErrorTypeNoBackend indicates every backend is down or excluded (503).
	ErrorTypeNoBackend = "no_backend_available"

	// ErrorTypePoolSaturated indicates the backend connection pool is full (503).
	ErrorTypePoolSaturated = "pool_saturated"

	// ErrorTypeUpstreamTimeout indicates an upstream attempt timed out (504).
	ErrorTypeUpstreamTimeout = "upstream_timeout"
)

// Error code constants for common error scenarios.
const (
	CodeMissingCredential = "missing_credential"
	CodeInvalidCredential = "invalid_credential"
	CodeInvalidValue      = "invalid_value"
	CodeInvalidJSON       = "invalid_json"
	CodeRequestTooLarge   = "request_too_large"
	CodeInternalError     = "internal_error"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(message, errorType, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Type:    errorType,
			Message: message,
			Code:    code,
		},
	}
}

// NewInvalidRequestError creates an error response for invalid requests (400).
func NewInvalidRequestError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeInvalidRequest, code)
}

// NewNotFoundError creates an error response for a missing resource (404).
func NewNotFoundError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeNotFound, "")
}

// NewServerError creates an error response for internal server errors (500).
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServerError, CodeInternalError)
}

// HTTPStatusCode returns the HTTP status code for the error type.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeQuotaExceeded:
		return http.StatusPaymentRequired
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeNoBackend, ErrorTypePoolSaturated:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
