package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Helper function to create test config
func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Namespace:      "test",
		LatencyBuckets: []float64{0.1, 0.5, 1.0, 5.0},
	}
}

// ============ Collector Tests ============

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector == nil {
		t.Fatal("Expected non-nil collector")
	}
	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}
}

func TestCollector_Defaults(t *testing.T) {
	cfg := &config.MetricsConfig{}
	NewCollector(cfg, nil)

	if cfg.Namespace != config.DefaultMetricsNamespace {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, config.DefaultMetricsNamespace)
	}
	if len(cfg.LatencyBuckets) == 0 {
		t.Error("LatencyBuckets not defaulted")
	}
}

func TestCollector_RecordRequest(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	tests := []struct {
		name    string
		outcome string
		status  int
	}{
		{"success", "success", 200},
		{"rate limited", "rejected", 429},
		{"upstream failure", "upstream_error", 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector.RecordRequest(tt.outcome, tt.status, 100*time.Millisecond)

			count := testutil.ToFloat64(collector.requestMetrics.requestsTotal.WithLabelValues(tt.outcome, strconv.Itoa(tt.status)))
			if count != 1 {
				t.Errorf("requests_total = %f, want 1", count)
			}
		})
	}
}

func TestCollector_Denials(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordDenial("rate_limit")
	collector.RecordDenial("rate_limit")
	collector.RecordDenial("quota")

	if got := testutil.ToFloat64(collector.requestMetrics.deniedTotal.WithLabelValues("rate_limit")); got != 2 {
		t.Errorf("rate_limit denials = %f, want 2", got)
	}
	if got := testutil.ToFloat64(collector.requestMetrics.deniedTotal.WithLabelValues("quota")); got != 1 {
		t.Errorf("quota denials = %f, want 1", got)
	}
}

func TestCollector_BackendMetrics(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	t.Run("state gauge", func(t *testing.T) {
		collector.SetBackendState("primary", 2)
		if got := testutil.ToFloat64(collector.backendMetrics.state.WithLabelValues("primary")); got != 2 {
			t.Errorf("backend_state = %f, want 2", got)
		}
		collector.SetBackendState("primary", 0)
		if got := testutil.ToFloat64(collector.backendMetrics.state.WithLabelValues("primary")); got != 0 {
			t.Errorf("backend_state = %f, want 0", got)
		}
	})

	t.Run("in flight", func(t *testing.T) {
		collector.AddBackendInFlight("primary", 1)
		collector.AddBackendInFlight("primary", 1)
		collector.AddBackendInFlight("primary", -1)
		if got := testutil.ToFloat64(collector.backendMetrics.inFlight.WithLabelValues("primary")); got != 1 {
			t.Errorf("backend_in_flight = %f, want 1", got)
		}
	})

	t.Run("attempts", func(t *testing.T) {
		collector.RecordUpstreamAttempt("primary", "timeout", 2*time.Second)
		if got := testutil.ToFloat64(collector.backendMetrics.attempts.WithLabelValues("primary", "timeout")); got != 1 {
			t.Errorf("upstream_attempts_total = %f, want 1", got)
		}
	})

	t.Run("saturation", func(t *testing.T) {
		collector.RecordPoolSaturated("primary")
		if got := testutil.ToFloat64(collector.backendMetrics.saturated.WithLabelValues("primary")); got != 1 {
			t.Errorf("pool_saturated_total = %f, want 1", got)
		}
	})
}

func TestCollector_UsageMetrics(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordTokens("claude-sonnet-4", 100, 50, 0, 10)
	collector.RecordCost("claude-sonnet-4", 0.0012)
	collector.RecordUsageDropped()
	collector.RecordUsageWritten(3)

	if got := testutil.ToFloat64(collector.usageMetrics.tokensTotal.WithLabelValues("claude-sonnet-4", "input")); got != 100 {
		t.Errorf("input tokens = %f, want 100", got)
	}
	if got := testutil.ToFloat64(collector.usageMetrics.tokensTotal.WithLabelValues("claude-sonnet-4", "cache_read")); got != 10 {
		t.Errorf("cache_read tokens = %f, want 10", got)
	}
	if got := testutil.ToFloat64(collector.usageMetrics.dropped); got != 1 {
		t.Errorf("usage_dropped_total = %f, want 1", got)
	}
	if got := testutil.ToFloat64(collector.usageMetrics.written); got != 3 {
		t.Errorf("usage_records_written_total = %f, want 3", got)
	}
}

func TestCollector_NilAndDisabled(t *testing.T) {
	var nilCollector *Collector
	nilCollector.RecordRequest("success", 200, time.Second)
	nilCollector.RecordUsageDropped()
	nilCollector.SetBackendState("a", 1)

	disabled := false
	cfg := testConfig()
	cfg.Enabled = &disabled
	collector := NewCollector(cfg, nil)
	collector.RecordDenial("auth")
	if got := testutil.ToFloat64(collector.requestMetrics.deniedTotal.WithLabelValues("auth")); got != 0 {
		t.Errorf("disabled collector recorded %f denials", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.RecordQuotaCommitError()

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_quota_commit_errors_total 1") {
		t.Errorf("metrics output missing quota counter:\n%s", rec.Body.String())
	}
}

// ============ Cardinality Tests ============

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("first two values should be allowed")
	}
	if cl.Allow("c") {
		t.Error("third value should be rejected")
	}
	if !cl.Allow("a") {
		t.Error("known value should still be allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}

func TestCollector_ModelLabelOverflow(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.cardinalityLimiter = NewCardinalityLimiter(1)

	collector.RecordCost("model-a", 1)
	collector.RecordCost("model-b", 1)

	if got := testutil.ToFloat64(collector.usageMetrics.costTotal.WithLabelValues(otherLabel)); got != 1 {
		t.Errorf("other cost = %f, want 1", got)
	}
}
