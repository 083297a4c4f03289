package ratelimit

import (
	"context"
	"time"
)

// Algorithm names an in-memory limiting algorithm.
type Algorithm string

const (
	// AlgorithmSlidingWindow admits at most Requests in any rolling Window.
	AlgorithmSlidingWindow Algorithm = "sliding_window"

	// AlgorithmTokenBucket refills Requests tokens per Window continuously
	// with a burst of Requests.
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// Limit is the short-window request limit of one key. It is read from the
// key on every call so edits take effect without a restart.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Unlimited reports whether the limit admits everything.
func (l Limit) Unlimited() bool {
	return l.Requests <= 0 || l.Window <= 0
}

// CheckResult contains the result of a rate limit check.
type CheckResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Limit is the configured limit value.
	Limit int64

	// Remaining is how many requests remain in the window after this one.
	Remaining int64

	// Reset is when the next request slot becomes available.
	Reset time.Time

	// RetryAfter suggests how long to wait before retrying. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter admits or denies requests per key. Check-and-decrement is atomic
// per key: of N concurrent calls competing for the last slot exactly one is
// allowed.
type Limiter interface {
	Admit(ctx context.Context, keyID string, limit Limit) (*CheckResult, error)
	Close() error
}

func unlimitedResult() *CheckResult {
	return &CheckResult{Allowed: true, Limit: -1, Remaining: -1}
}
