package metrics

import (
	"sync"
	"time"

	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// otherLabel replaces label values once the cardinality limit is reached.
const otherLabel = "other"

// Collector owns every Prometheus metric Relay exports. All Record methods
// are safe on a nil *Collector so components can run without metrics.
//
// The collector registers on its own registry rather than the global one,
// so several collectors can coexist in tests.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics *RequestMetrics
	backendMetrics *BackendMetrics
	limitMetrics   *LimitMetrics
	usageMetrics   *UsageMetrics

	// Model names come from request bodies and are client controlled.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a metrics collector. If registry is nil a new
// private registry is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = config.DefaultLatencyBuckets
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.requestMetrics = NewRequestMetrics(cfg, registry)
	c.backendMetrics = NewBackendMetrics(cfg, registry)
	c.limitMetrics = NewLimitMetrics(cfg, registry)
	c.usageMetrics = NewUsageMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.IsEnabled()
}

// RecordRequest records a finished proxy request.
//
// Parameters:
//   - outcome: "success", "rejected" or "upstream_error"
//   - status: HTTP status returned to the client
//   - duration: total time spent in the pipeline
func (c *Collector) RecordRequest(outcome string, status int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordRequest(outcome, status, duration)
}

// RecordDenial records a request rejected before any upstream I/O.
// Stage is one of "auth", "rate_limit", "quota" or "backend".
func (c *Collector) RecordDenial(stage string) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordDenial(stage)
}

// RecordFailover records a retry against a second backend.
func (c *Collector) RecordFailover(from string) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordFailover(from)
}

// RecordUpstreamAttempt records one forwarding attempt.
//
// Parameters:
//   - backend: backend id
//   - result: "success", "error" or "timeout"
//   - latency: time until response headers or failure
func (c *Collector) RecordUpstreamAttempt(backend, result string, latency time.Duration) {
	if !c.enabled() {
		return
	}
	c.backendMetrics.RecordAttempt(backend, result, latency)
}

// SetBackendState updates the health gauge of a backend
// (0 healthy, 1 suspect, 2 down).
func (c *Collector) SetBackendState(backend string, value float64) {
	if !c.enabled() {
		return
	}
	c.backendMetrics.SetState(backend, value)
}

// AddBackendInFlight adjusts the in-flight gauge of a backend by delta.
func (c *Collector) AddBackendInFlight(backend string, delta float64) {
	if !c.enabled() {
		return
	}
	c.backendMetrics.AddInFlight(backend, delta)
}

// RecordPoolSaturated records a request that found no free backend slot.
func (c *Collector) RecordPoolSaturated(backend string) {
	if !c.enabled() {
		return
	}
	c.backendMetrics.RecordSaturated(backend)
}

// RecordRateLimitFallback records a shared limiter call served locally.
func (c *Collector) RecordRateLimitFallback(reason string) {
	if !c.enabled() {
		return
	}
	c.limitMetrics.RecordFallback(reason)
}

// RecordQuotaCommitError records a failed durable quota write.
func (c *Collector) RecordQuotaCommitError() {
	if !c.enabled() {
		return
	}
	c.limitMetrics.RecordCommitError()
}

// RecordTokens records measured token counts for a model.
func (c *Collector) RecordTokens(model string, input, output, cacheWrite, cacheRead int64) {
	if !c.enabled() {
		return
	}
	model = c.modelLabel(model)
	c.usageMetrics.RecordTokens(model, input, output, cacheWrite, cacheRead)
}

// RecordCost records the estimated spend of a request in USD.
func (c *Collector) RecordCost(model string, usd float64) {
	if !c.enabled() {
		return
	}
	c.usageMetrics.RecordCost(c.modelLabel(model), usd)
}

// RecordUsageWritten records records persisted by the usage recorder.
func (c *Collector) RecordUsageWritten(n int) {
	if !c.enabled() {
		return
	}
	c.usageMetrics.RecordWritten(n)
}

// RecordUsageDropped records a usage record dropped on a full queue.
func (c *Collector) RecordUsageDropped() {
	if !c.enabled() {
		return
	}
	c.usageMetrics.RecordDropped()
}

// RecordUsageWriteError records a failed usage write.
func (c *Collector) RecordUsageWriteError() {
	if !c.enabled() {
		return
	}
	c.usageMetrics.RecordWriteError()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) modelLabel(model string) string {
	if model == "" {
		return "unknown"
	}
	if !c.cardinalityLimiter.Allow(model) {
		return otherLabel
	}
	return model
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or can still be added.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
