package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket admits requests from a bucket of Requests tokens refilled at
// Requests per Window, backed by golang.org/x/time/rate.
type TokenBucket struct {
	lim    *rate.Limiter
	limit  Limit
	perSec rate.Limit
}

// NewTokenBucket creates a full bucket for limit.
func NewTokenBucket(limit Limit) *TokenBucket {
	r := refillRate(limit)
	return &TokenBucket{lim: rate.NewLimiter(r, limit.Requests), limit: limit, perSec: r}
}

func refillRate(limit Limit) rate.Limit {
	return rate.Limit(float64(limit.Requests) / limit.Window.Seconds())
}

// Take tries to admit one request at now. A changed limit is applied with
// SetLimitAt and SetBurstAt so tokens already spent stay spent.
func (tb *TokenBucket) Take(now time.Time, limit Limit) *CheckResult {
	if limit != tb.limit {
		tb.perSec = refillRate(limit)
		tb.lim.SetLimitAt(now, tb.perSec)
		tb.lim.SetBurstAt(now, limit.Requests)
		tb.limit = limit
	}

	res := &CheckResult{Limit: int64(limit.Requests)}

	r := tb.lim.ReserveN(now, 1)
	if !r.OK() {
		res.RetryAfter = limit.Window
		res.Reset = now.Add(limit.Window)
		return res
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
	} else {
		res.Allowed = true
	}

	tokens := tb.lim.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	res.Remaining = int64(math.Floor(tokens))

	// Reset is when the bucket is full again.
	missing := float64(limit.Requests) - tokens
	res.Reset = now.Add(time.Duration(missing / float64(tb.perSec) * float64(time.Second)))
	return res
}
