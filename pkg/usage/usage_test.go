package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/metrics"
)

// fakeStorage records stored records; writes block while gate is non-nil
// and open.
type fakeStorage struct {
	mu      sync.Mutex
	records []*Record
	gate    chan struct{}
	err     error
}

func (f *fakeStorage) Store(ctx context.Context, rec *Record) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStorage) Query(ctx context.Context, keyID string, r Range) ([]Summary, error) {
	return nil, nil
}

func (f *fakeStorage) List(ctx context.Context, keyID string, r Range, limit int) ([]*Record, error) {
	return nil, nil
}

func (f *fakeStorage) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStorage) Close() error { return nil }

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func newTestCollector() *metrics.Collector {
	enabled := true
	return metrics.NewCollector(&config.MetricsConfig{Enabled: &enabled}, nil)
}

// counterValue reads a counter from the collector's registry.
func counterValue(t *testing.T, m *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

// ============ Pricing Tests ============

func TestPricing_Cost(t *testing.T) {
	p := NewPricing(map[string]config.ModelPricing{
		"claude-3-5-sonnet": {Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3},
		"claude-3-5":        {Input: 100, Output: 100},
		"default":           {Input: 1, Output: 1},
	})

	tests := []struct {
		name            string
		model           string
		in, out, cw, cr int64
		want            float64
	}{
		{name: "exact", model: "claude-3-5-sonnet", in: 1_000_000, want: 3},
		{name: "longest prefix wins", model: "claude-3-5-sonnet-20241022", in: 1000, out: 500, want: 0.0105},
		{name: "cache tokens", model: "claude-3-5-sonnet", cw: 1_000_000, cr: 1_000_000, want: 4.05},
		{name: "case insensitive", model: "Claude-3-5-Sonnet", out: 1_000_000, want: 15},
		{name: "unknown model uses default", model: "gpt-4", in: 500_000, out: 500_000, want: 1},
		{name: "empty model uses default", model: "", in: 1, want: 0.000001},
		{name: "rounded to 8 decimals", model: "default", in: 1, out: 2, want: 0.000003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Cost(tt.model, tt.in, tt.out, tt.cw, tt.cr)
			if got != tt.want {
				t.Errorf("Cost(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestPricing_DefaultsAndUpdate(t *testing.T) {
	p := NewPricing(nil)

	if _, ok := p.Lookup("claude-3-haiku-20240307"); !ok {
		t.Fatal("built-in table is missing claude-3-haiku-20240307")
	}

	p.Update(map[string]config.ModelPricing{"only": {Input: 2}})
	if got := p.Cost("only", 1_000_000, 0, 0, 0); got != 2 {
		t.Errorf("Cost after Update = %v, want 2", got)
	}
	if got := p.Cost("claude-3-haiku-20240307", 1_000_000, 0, 0, 0); got != 0 {
		t.Errorf("Cost for model missing from table without default = %v, want 0", got)
	}
}

func TestRoundCost(t *testing.T) {
	if got := RoundCost(0.1 + 0.2); got != 0.3 {
		t.Errorf("RoundCost(0.1+0.2) = %v, want 0.3", got)
	}
	if got := RoundCost(0.123456789); got != 0.12345679 {
		t.Errorf("RoundCost(0.123456789) = %v, want 0.12345679", got)
	}
}

// ============ Range And Summary Tests ============

func TestRange_Validate(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		r       Range
		wantErr bool
	}{
		{name: "valid", r: Range{From: t0, To: t0.Add(time.Hour)}},
		{name: "empty", r: Range{From: t0, To: t0}, wantErr: true},
		{name: "inverted", r: Range{From: t0.Add(time.Hour), To: t0}, wantErr: true},
		{name: "missing from", r: Range{To: t0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRange) {
				t.Errorf("Validate() error = %v, want ErrInvalidRange", err)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		from, to string
		want     Range
		wantErr  bool
	}{
		{name: "defaults", want: Range{From: day(4), To: now}},
		{name: "dates include the end day", from: "2026-03-01", to: "2026-03-02", want: Range{From: day(1), To: day(3)}},
		{name: "rfc3339", from: "2026-03-01T12:00:00Z", to: "2026-03-01T13:00:00Z",
			want: Range{From: day(1).Add(12 * time.Hour), To: day(1).Add(13 * time.Hour)}},
		{name: "only end date", to: "2026-03-05", want: Range{From: day(6).AddDate(0, 0, -7), To: day(6)}},
		{name: "bad date", from: "yesterday", wantErr: true},
		{name: "inverted", from: "2026-03-09", to: "2026-03-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.from, tt.to, now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Errorf("error = %v, want ErrInvalidRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange() error = %v", err)
			}
			if !got.From.Equal(tt.want.From) || !got.To.Equal(tt.want.To) {
				t.Errorf("ParseRange() = %v..%v, want %v..%v", got.From, got.To, tt.want.From, tt.want.To)
			}
		})
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	in := time.Date(2026, 3, 10, 2, 0, 0, 0, loc) // 2026-03-09 17:00 UTC
	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if got := Day(in); !got.Equal(want) {
		t.Errorf("Day() = %v, want %v", got, want)
	}
}

func TestSummary_AddAndTotal(t *testing.T) {
	var a, b Summary
	a.Add(&Record{Outcome: OutcomeSuccess, RequestUnits: 10, ResponseUnits: 5, CostEstimate: 0.1})
	a.Add(&Record{Outcome: OutcomeRejected})
	b.Add(&Record{Outcome: OutcomeUpstreamError, RequestUnits: 3, CacheReadTokens: 7, CostEstimate: 0.2})

	total := Total([]Summary{a, b})
	if total.Requests != 3 || total.Successes != 1 || total.Rejected != 1 || total.UpstreamErrors != 1 {
		t.Errorf("Total() counts = %+v", total)
	}
	if total.InputTokens != 13 || total.OutputTokens != 5 || total.CacheReadTokens != 7 {
		t.Errorf("Total() tokens = %+v", total)
	}
	if total.Cost != 0.3 {
		t.Errorf("Total().Cost = %v, want 0.3", total.Cost)
	}
}

// ============ Recorder Tests ============

func TestRecorder_WritesRecords(t *testing.T) {
	store := &fakeStorage{}
	m := newTestCollector()
	r := NewRecorder(store, config.RecorderConfig{BufferSize: 16, WriteTimeout: time.Second}, m)

	for i := 0; i < 10; i++ {
		if !r.Record(&Record{RequestID: "req", Outcome: OutcomeSuccess}) {
			t.Fatalf("Record() #%d rejected", i)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if store.count() != 10 {
		t.Fatalf("stored %d records, want 10", store.count())
	}
	for _, rec := range store.records {
		if rec.ID == "" || rec.Timestamp.IsZero() {
			t.Errorf("record missing id or timestamp: %+v", rec)
		}
	}
	if got := counterValue(t, m, "relay_usage_records_written_total"); got != 10 {
		t.Errorf("usage_records_written_total = %v, want 10", got)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStorage{gate: gate}
	m := newTestCollector()
	r := NewRecorder(store, config.RecorderConfig{BufferSize: 2, WriteTimeout: time.Second}, m)

	// The worker takes one record and blocks on the gate; two more fill the
	// buffer. Everything after that must be dropped without blocking.
	accepted := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if r.Record(&Record{Outcome: OutcomeSuccess}) {
				accepted++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record() blocked on a full queue")
	}

	if accepted < 2 || accepted > 3 {
		t.Errorf("accepted = %d, want 2 or 3", accepted)
	}
	dropped := counterValue(t, m, "relay_usage_dropped_total")
	if int(dropped) != 20-accepted {
		t.Errorf("usage_dropped_total = %v, want %d", dropped, 20-accepted)
	}

	close(gate)
	r.Close()
	if store.count() != accepted {
		t.Errorf("stored %d records, want %d", store.count(), accepted)
	}
}

func TestRecorder_StoreError(t *testing.T) {
	store := &fakeStorage{err: errors.New("disk full")}
	m := newTestCollector()
	r := NewRecorder(store, config.RecorderConfig{BufferSize: 4}, m)

	r.Record(&Record{Outcome: OutcomeSuccess})
	r.Close()

	if got := counterValue(t, m, "relay_usage_write_errors_total"); got != 1 {
		t.Errorf("usage_write_errors_total = %v, want 1", got)
	}
}

func TestRecorder_AfterClose(t *testing.T) {
	store := &fakeStorage{}
	r := NewRecorder(store, config.RecorderConfig{}, nil)
	r.Close()

	if r.Record(&Record{}) {
		t.Error("Record() after Close() should be rejected")
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	if r.Record(&Record{}) {
		t.Error("nil recorder accepted a record")
	}
	if r.Pending() != 0 || r.Close() != nil {
		t.Error("nil recorder should be inert")
	}
}
