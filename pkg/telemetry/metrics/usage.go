package metrics

import (
	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// UsageMetrics tracks metered usage and the usage recorder.
//
// Metrics:
//   - relay_tokens_total: tokens by model and type
//   - relay_cost_usd_total: estimated spend by model
//   - relay_usage_records_written_total: usage records persisted
//   - relay_usage_dropped_total: usage records dropped on a full queue
//   - relay_usage_write_errors_total: failed usage writes
type UsageMetrics struct {
	tokensTotal *prometheus.CounterVec
	costTotal   *prometheus.CounterVec
	written     prometheus.Counter
	dropped     prometheus.Counter
	writeErrors prometheus.Counter
}

// NewUsageMetrics creates and registers usage metrics with the provided registry.
func NewUsageMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *UsageMetrics {
	um := &UsageMetrics{
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "tokens_total",
				Help:      "Tokens metered from upstream responses",
			},
			[]string{"model", "type"},
		),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "cost_usd_total",
				Help:      "Estimated spend in USD",
			},
			[]string{"model"},
		),

		written: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "usage_records_written_total",
				Help:      "Usage records persisted to storage",
			},
		),

		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "usage_dropped_total",
				Help:      "Usage records dropped because the recorder queue was full",
			},
		),

		writeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "usage_write_errors_total",
				Help:      "Usage records that failed to persist",
			},
		),
	}

	registry.MustRegister(
		um.tokensTotal,
		um.costTotal,
		um.written,
		um.dropped,
		um.writeErrors,
	)

	return um
}

// RecordTokens adds token counts by type.
func (um *UsageMetrics) RecordTokens(model string, input, output, cacheWrite, cacheRead int64) {
	add := func(kind string, n int64) {
		if n > 0 {
			um.tokensTotal.WithLabelValues(model, kind).Add(float64(n))
		}
	}
	add("input", input)
	add("output", output)
	add("cache_write", cacheWrite)
	add("cache_read", cacheRead)
}

// RecordCost adds spend.
func (um *UsageMetrics) RecordCost(model string, usd float64) {
	if usd > 0 {
		um.costTotal.WithLabelValues(model).Add(usd)
	}
}

// RecordWritten counts persisted records.
func (um *UsageMetrics) RecordWritten(n int) {
	um.written.Add(float64(n))
}

// RecordDropped counts a dropped record.
func (um *UsageMetrics) RecordDropped() {
	um.dropped.Inc()
}

// RecordWriteError counts a failed write.
func (um *UsageMetrics) RecordWriteError() {
	um.writeErrors.Inc()
}
