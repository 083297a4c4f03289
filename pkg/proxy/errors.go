package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/limits/quota"
	"mercator-hq/relay/pkg/limits/ratelimit"
	"mercator-hq/relay/pkg/proxy/types"
)

var (
	// ErrRateLimited matches every *RateLimitedError.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrPoolSaturated is returned when no connection slot to a backend
	// frees up within the queue timeout. It is retryable.
	ErrPoolSaturated = errors.New("backend connection pool saturated")

	// ErrBodyConsumed is returned when a streamed request body is needed
	// for a second attempt.
	ErrBodyConsumed = errors.New("request body already consumed")
)

// RateLimitedError is a short-window rate limit denial.
type RateLimitedError struct {
	KeyID  string
	Result *ratelimit.CheckResult
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for key %s: limit %d, retry after %s",
		e.KeyID, e.Result.Limit, e.Result.RetryAfter)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// UpstreamError is a failed upstream attempt: a timeout, a connection or
// read failure, or a 5xx response.
type UpstreamError struct {
	Backend    string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("upstream %s: timeout: %v", e.Backend, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream %s: status %d", e.Backend, e.StatusCode)
	default:
		return fmt.Sprintf("upstream %s: %v", e.Backend, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// HandleError maps an error to the response body and status code returned
// to the client.
func HandleError(err error) (*types.ErrorResponse, int) {
	resp := classify(err)
	return resp, resp.Error.HTTPStatusCode()
}

func classify(err error) *types.ErrorResponse {
	var (
		rateErr     *RateLimitedError
		quotaErr    *quota.ExceededError
		upstreamErr *UpstreamError
	)

	switch {
	case errors.Is(err, errMissingCredential):
		return types.NewErrorResponse("missing API key", types.ErrorTypeAuthentication, types.CodeMissingCredential)

	case errors.Is(err, keys.ErrUnauthenticated):
		return types.NewErrorResponse("invalid API key", types.ErrorTypeAuthentication, types.CodeInvalidCredential)

	case errors.As(err, &rateErr):
		return types.NewErrorResponse(
			fmt.Sprintf("rate limit of %d requests exceeded", rateErr.Result.Limit),
			types.ErrorTypeRateLimitExceeded, "rate_limit_exceeded")

	case errors.As(err, &quotaErr):
		return types.NewErrorResponse(
			fmt.Sprintf("quota of %d exceeded for the current period", quotaErr.Limit),
			types.ErrorTypeQuotaExceeded, "quota_exceeded")

	case errors.Is(err, quota.ErrQuotaExceeded):
		return types.NewErrorResponse("quota exceeded for the current period",
			types.ErrorTypeQuotaExceeded, "quota_exceeded")

	case errors.Is(err, backends.ErrNoBackendAvailable):
		return types.NewErrorResponse("no backend available", types.ErrorTypeNoBackend, "no_backend_available")

	case errors.Is(err, ErrPoolSaturated):
		return types.NewErrorResponse("backend connection pool saturated, retry shortly",
			types.ErrorTypePoolSaturated, "pool_saturated")

	case errors.As(err, &upstreamErr) && upstreamErr.Timeout:
		return types.NewErrorResponse("upstream request timed out", types.ErrorTypeUpstreamTimeout, "upstream_timeout")

	case errors.As(err, &upstreamErr):
		msg := "upstream request failed"
		if upstreamErr.StatusCode != 0 {
			msg = fmt.Sprintf("upstream returned status %d", upstreamErr.StatusCode)
		}
		return types.NewErrorResponse(msg, types.ErrorTypeUpstream, "upstream_error")

	case errors.Is(err, errBodyRead):
		return types.NewInvalidRequestError("failed to read request body", types.CodeInvalidValue)

	default:
		return types.NewServerError("An internal error occurred. Please try again later.")
	}
}

// WriteError writes err as a JSON error response with its retry headers.
func WriteError(w http.ResponseWriter, err error) {
	resp, status := HandleError(err)
	setRetryHeaders(w.Header(), err)
	writeJSON(w, status, resp)
}

// setRetryHeaders adds Retry-After and limit headers for retryable denials.
func setRetryHeaders(h http.Header, err error) {
	var (
		rateErr  *RateLimitedError
		quotaErr *quota.ExceededError
	)
	switch {
	case errors.As(err, &rateErr):
		setRateLimitHeaders(h, rateErr.Result)
		h.Set("Retry-After", strconv.FormatInt(retrySeconds(rateErr.Result.RetryAfter), 10))

	case errors.As(err, &quotaErr):
		h.Set("X-Quota-Limit", strconv.FormatInt(quotaErr.Limit, 10))
		h.Set("X-Quota-Remaining", "0")
		if !quotaErr.Reset.IsZero() {
			h.Set("X-Quota-Reset", strconv.FormatInt(quotaErr.Reset.Unix(), 10))
		}

	case errors.Is(err, ErrPoolSaturated):
		h.Set("Retry-After", "1")
	}
}

// setRateLimitHeaders publishes the key's short-window state. Unlimited keys
// get no headers.
func setRateLimitHeaders(h http.Header, res *ratelimit.CheckResult) {
	if res == nil || res.Limit < 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(res.Remaining, 0), 10))
	if !res.Reset.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	}
}

// setQuotaHeaders publishes the key's remaining quota after admission.
func setQuotaHeaders(h http.Header, res *quota.Reservation) {
	if res == nil || res.Remaining < 0 {
		return
	}
	h.Set("X-Quota-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-Quota-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-Quota-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

// retrySeconds rounds d up to whole seconds, at least one.
func retrySeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// errorType returns the error.type reported for err, used as the usage
// record reason and the denial metric stage.
func errorType(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, errClientGone) || errors.Is(err, context.Canceled) {
		return "client_canceled"
	}
	return classify(err).Error.Type
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to encode error response", "error", err)
	}
}
