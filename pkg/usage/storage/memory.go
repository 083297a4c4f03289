package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/relay/pkg/usage"
)

// MemoryStorage implements usage.Storage in memory. It is used in tests and
// when usage.sqlite.path is ":memory:".
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*usage.Record
	ids     map[string]struct{}
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{ids: make(map[string]struct{})}
}

// Store appends a copy of rec. A duplicate id is an error.
func (s *MemoryStorage) Store(ctx context.Context, rec *usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[rec.ID]; dup {
		return usage.NewStorageError("memory", "store", fmt.Errorf("duplicate record id %s", rec.ID))
	}
	cp := *rec
	s.records = append(s.records, &cp)
	s.ids[rec.ID] = struct{}{}
	return nil
}

// Query returns per-day summaries ordered by day.
func (s *MemoryStorage) Query(ctx context.Context, keyID string, r usage.Range) ([]usage.Summary, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	days := make(map[time.Time]*usage.Summary)
	for _, rec := range s.records {
		if !matches(rec, keyID, r) {
			continue
		}
		day := usage.Day(rec.Timestamp)
		sum, ok := days[day]
		if !ok {
			sum = &usage.Summary{Day: day}
			days[day] = sum
		}
		sum.Add(rec)
	}

	out := make([]usage.Summary, 0, len(days))
	for _, sum := range days {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// List returns copies of matching records, newest first.
func (s *MemoryStorage) List(ctx context.Context, keyID string, r usage.Range, limit int) ([]*usage.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := []*usage.Record{}
	for _, rec := range s.records {
		if matches(rec, keyID, r) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune deletes records older than t.
func (s *MemoryStorage) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var n int64
	for _, rec := range s.records {
		if rec.Timestamp.Before(olderThan) {
			delete(s.ids, rec.ID)
			n++
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = nil
	}
	s.records = kept
	return n, nil
}

// Len returns the number of stored records.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func matches(rec *usage.Record, keyID string, r usage.Range) bool {
	if keyID != "" && rec.KeyID != keyID {
		return false
	}
	return r.Contains(rec.Timestamp)
}
