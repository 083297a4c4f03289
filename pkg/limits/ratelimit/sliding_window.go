package ratelimit

import (
	"time"
)

// SlidingWindow counts admissions over an exact rolling window.
//
// It keeps the timestamps of the most recent admissions in a ring buffer
// sized to the limit. A request is admitted when fewer than limit admissions
// happened in (now-window, now]. When full, the oldest timestamp tells the
// caller exactly when a slot frees up.
//
// SlidingWindow is not safe for concurrent use; LocalLimiter serializes
// access per key.
type SlidingWindow struct {
	window time.Duration
	ring   []int64 // unix nanos, oldest at start
	start  int
	n      int
}

// NewSlidingWindow creates a window admitting limit requests per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		ring:   make([]int64, limit),
	}
}

// Take tries to admit one request at now using the given limit. A changed
// limit or window is applied before the check.
func (sw *SlidingWindow) Take(now time.Time, limit Limit) *CheckResult {
	if limit.Requests != len(sw.ring) {
		sw.resize(limit.Requests)
	}
	sw.window = limit.Window

	ts := now.UnixNano()
	sw.prune(ts)

	res := &CheckResult{Limit: int64(limit.Requests)}
	if sw.n < len(sw.ring) {
		sw.ring[(sw.start+sw.n)%len(sw.ring)] = ts
		sw.n++
		res.Allowed = true
	} else {
		res.RetryAfter = time.Duration(sw.ring[sw.start] + int64(sw.window) - ts)
	}

	res.Remaining = int64(len(sw.ring) - sw.n)
	res.Reset = time.Unix(0, sw.ring[sw.start]+int64(sw.window))
	return res
}

// Count returns the number of admissions inside the window ending at now.
func (sw *SlidingWindow) Count(now time.Time) int {
	sw.prune(now.UnixNano())
	return sw.n
}

func (sw *SlidingWindow) prune(ts int64) {
	cutoff := ts - int64(sw.window)
	for sw.n > 0 && sw.ring[sw.start] <= cutoff {
		sw.start = (sw.start + 1) % len(sw.ring)
		sw.n--
	}
}

// resize keeps the newest admissions that still fit the new limit.
func (sw *SlidingWindow) resize(limit int) {
	next := make([]int64, limit)
	keep := sw.n
	if keep > limit {
		keep = limit
	}
	skip := sw.n - keep
	for i := 0; i < keep; i++ {
		next[i] = sw.ring[(sw.start+skip+i)%len(sw.ring)]
	}
	sw.ring = next
	sw.start = 0
	sw.n = keep
}
