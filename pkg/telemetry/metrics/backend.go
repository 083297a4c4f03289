package metrics

import (
	"time"

	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics tracks upstream backends.
//
// Metrics:
//   - relay_backend_state: health state (0=healthy, 1=suspect, 2=down)
//   - relay_backend_in_flight: requests currently forwarded to the backend
//   - relay_upstream_attempts_total: forwarding attempts by result
//   - relay_upstream_latency_seconds: time to response headers
//   - relay_backend_pool_saturated_total: requests that found no free slot
type BackendMetrics struct {
	state     *prometheus.GaugeVec
	inFlight  *prometheus.GaugeVec
	attempts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	saturated *prometheus.CounterVec
}

// NewBackendMetrics creates and registers backend metrics with the provided registry.
func NewBackendMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BackendMetrics {
	bm := &BackendMetrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "backend_state",
				Help:      "Backend health state (0=healthy, 1=suspect, 2=down)",
			},
			[]string{"backend"},
		),

		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "backend_in_flight",
				Help:      "Requests currently being forwarded to the backend",
			},
			[]string{"backend"},
		),

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_attempts_total",
				Help:      "Upstream forwarding attempts by result",
			},
			[]string{"backend", "result"},
		),

		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Time from sending the upstream request to its response headers",
				Buckets:   cfg.LatencyBuckets,
			},
			[]string{"backend"},
		),

		saturated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "backend_pool_saturated_total",
				Help:      "Requests rejected because the backend connection pool was full",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(
		bm.state,
		bm.inFlight,
		bm.attempts,
		bm.latency,
		bm.saturated,
	)

	return bm
}

// RecordAttempt records one upstream attempt.
func (bm *BackendMetrics) RecordAttempt(backend, result string, latency time.Duration) {
	bm.attempts.WithLabelValues(backend, result).Inc()
	bm.latency.WithLabelValues(backend).Observe(latency.Seconds())
}

// SetState sets the health gauge.
func (bm *BackendMetrics) SetState(backend string, value float64) {
	bm.state.WithLabelValues(backend).Set(value)
}

// AddInFlight adjusts the in-flight gauge.
func (bm *BackendMetrics) AddInFlight(backend string, delta float64) {
	bm.inFlight.WithLabelValues(backend).Add(delta)
}

// RecordSaturated counts a pool saturation.
func (bm *BackendMetrics) RecordSaturated(backend string) {
	bm.saturated.WithLabelValues(backend).Inc()
}
