package metrics

import (
	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// LimitMetrics tracks the rate limiter and quota tracker.
//
// Metrics:
//   - relay_ratelimit_fallback_total: shared limiter calls served by the local limiter
//   - relay_quota_commit_errors_total: failed durable quota writes
type LimitMetrics struct {
	fallbacks    *prometheus.CounterVec
	commitErrors prometheus.Counter
}

// NewLimitMetrics creates and registers limit metrics with the provided registry.
func NewLimitMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LimitMetrics {
	lm := &LimitMetrics{
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "ratelimit_fallback_total",
				Help:      "Rate limit checks served by the local limiter because Redis was unavailable",
			},
			[]string{"reason"},
		),

		commitErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "quota_commit_errors_total",
				Help:      "Quota usage writes that failed to reach durable storage",
			},
		),
	}

	registry.MustRegister(lm.fallbacks, lm.commitErrors)
	return lm
}

// RecordFallback counts a local fallback.
func (lm *LimitMetrics) RecordFallback(reason string) {
	lm.fallbacks.WithLabelValues(reason).Inc()
}

// RecordCommitError counts a failed quota write.
func (lm *LimitMetrics) RecordCommitError() {
	lm.commitErrors.Inc()
}
