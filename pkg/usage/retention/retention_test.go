package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/usage"
	"mercator-hq/relay/pkg/usage/storage"
)

type fakeQuota struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakeQuota) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	f.cutoff = t
	return f.n, f.err
}

var now = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

func newTestPruner(t *testing.T, days int, q QuotaPruner) (*Pruner, *storage.MemoryStorage) {
	t.Helper()
	mem := storage.NewMemoryStorage()
	p := NewPruner(mem, q, &Config{RetentionDays: days, PruneSchedule: "0 3 * * *"})
	p.now = func() time.Time { return now }
	return p, mem
}

func store(t *testing.T, s usage.Storage, id string, ts time.Time) {
	t.Helper()
	err := s.Store(context.Background(), &usage.Record{
		ID:        id,
		KeyID:     "k1",
		Timestamp: ts,
		Outcome:   usage.OutcomeSuccess,
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
}

// ============ Pruner Tests ============

func TestPruner_Prune(t *testing.T) {
	q := &fakeQuota{n: 3}
	p, mem := newTestPruner(t, 30, q)

	store(t, mem, "old", now.AddDate(0, 0, -31))
	store(t, mem, "edge", now.AddDate(0, 0, -30))
	store(t, mem, "new", now.AddDate(0, 0, -1))

	res, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if res.UsageRecords != 1 {
		t.Errorf("UsageRecords = %d, want 1", res.UsageRecords)
	}
	if res.QuotaCounters != 3 {
		t.Errorf("QuotaCounters = %d, want 3", res.QuotaCounters)
	}
	wantCutoff := now.AddDate(0, 0, -30)
	if !res.Cutoff.Equal(wantCutoff) || !q.cutoff.Equal(wantCutoff) {
		t.Errorf("cutoff = %v (quota %v), want %v", res.Cutoff, q.cutoff, wantCutoff)
	}
	if mem.Len() != 2 {
		t.Errorf("records left = %d, want 2", mem.Len())
	}
}

func TestPruner_Disabled(t *testing.T) {
	q := &fakeQuota{n: 5}
	p, mem := newTestPruner(t, 0, q)
	store(t, mem, "ancient", now.AddDate(-5, 0, 0))

	res, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if res.UsageRecords != 0 || res.QuotaCounters != 0 || mem.Len() != 1 {
		t.Errorf("Prune() with retention disabled removed data: %+v", res)
	}
	if !q.cutoff.IsZero() {
		t.Error("quota pruner should not be called when retention is disabled")
	}
}

func TestPruner_QuotaErrorStillPrunesUsage(t *testing.T) {
	boom := errors.New("database is locked")
	p, mem := newTestPruner(t, 7, &fakeQuota{err: boom})
	store(t, mem, "old", now.AddDate(0, 0, -8))

	res, err := p.Prune(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Prune() error = %v, want %v", err, boom)
	}
	if res.UsageRecords != 1 || mem.Len() != 0 {
		t.Errorf("usage records should be pruned despite quota error: %+v", res)
	}
}

func TestPruner_NilQuota(t *testing.T) {
	p, mem := newTestPruner(t, 7, nil)
	store(t, mem, "old", now.AddDate(0, 0, -8))

	if _, err := p.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if mem.Len() != 0 {
		t.Errorf("records left = %d, want 0", mem.Len())
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.RetentionConfig{Days: 14, Schedule: "0 */6 * * *"})
	if cfg.RetentionDays != 14 || cfg.PruneSchedule != "0 */6 * * *" {
		t.Errorf("ConfigFrom() = %+v", cfg)
	}
}

// ============ Scheduler Tests ============

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		days        int
		wantRunning bool
		wantError   bool
	}{
		{name: "valid daily schedule", schedule: "0 3 * * *", days: 90, wantRunning: true},
		{name: "valid hourly schedule", schedule: "0 * * * *", days: 90, wantRunning: true},
		{name: "empty schedule", schedule: "", days: 90},
		{name: "retention disabled", schedule: "0 3 * * *", days: 0},
		{name: "invalid schedule", schedule: "invalid cron", days: 90, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPruner(storage.NewMemoryStorage(), nil, &Config{
				RetentionDays: tt.days,
				PruneSchedule: tt.schedule,
			})
			s := NewScheduler(p)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning && s.NextRun() == nil {
				t.Error("NextRun() = nil for a running scheduler")
			}
			s.Stop()
			if s.IsRunning() {
				t.Error("scheduler still running after Stop()")
			}
		})
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), nil, &Config{RetentionDays: 1, PruneSchedule: "@every 1h"})
	s := NewScheduler(p)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not stop after context cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
