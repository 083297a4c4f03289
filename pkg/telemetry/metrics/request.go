package metrics

import (
	"strconv"
	"time"

	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks inbound proxy requests.
//
// Metrics:
//   - relay_requests_total: requests by outcome and status code
//   - relay_request_duration_seconds: pipeline duration by outcome
//   - relay_admission_denied_total: requests rejected before forwarding, by stage
//   - relay_failovers_total: retries against a second backend, by failed backend
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	deniedTotal     *prometheus.CounterVec
	failoversTotal  *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Total number of proxy requests by outcome and status code",
			},
			[]string{"outcome", "code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of proxy requests in seconds",
				Buckets:   cfg.LatencyBuckets,
			},
			[]string{"outcome"},
		),

		deniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "admission_denied_total",
				Help:      "Requests rejected before forwarding, by pipeline stage",
			},
			[]string{"stage"},
		),

		failoversTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "failovers_total",
				Help:      "Retries against a second backend, by the backend that failed",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.deniedTotal,
		rm.failoversTotal,
	)

	return rm
}

// RecordRequest records a finished request.
func (rm *RequestMetrics) RecordRequest(outcome string, status int, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
	rm.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDenial records an admission rejection.
func (rm *RequestMetrics) RecordDenial(stage string) {
	rm.deniedTotal.WithLabelValues(stage).Inc()
}

// RecordFailover records a retry away from backend.
func (rm *RequestMetrics) RecordFailover(backend string) {
	rm.failoversTotal.WithLabelValues(backend).Inc()
}
