package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/relay/pkg/keys"
)

// Config configures a Tracker.
type Config struct {
	// Unit is what the quota counts.
	Unit Unit

	// Calendar defines the accounting periods.
	Calendar *Calendar

	// EstimateFloor is the minimum number of units reserved at admission.
	EstimateFloor int64

	// OnCommitError is called when a commit cannot be persisted.
	OnCommitError func(keyID string, err error)
}

// entry is the in-memory view of one key in the active period.
type entry struct {
	mu       sync.Mutex
	period   time.Time
	loaded   bool
	used     int64
	reserved int64
	writes   int
	evicted  bool
}

// Tracker enforces per-key quotas over accounting periods.
//
// Admission reserves an estimate so concurrent long-running requests count
// against the quota while in flight; Commit swaps the reservation for the
// measured usage. Committed usage is persisted with an atomic increment that
// runs outside the per-key lock.
//
// # Period Rollover
//
// The active period only changes when Advance is called, normally by a
// Sweeper firing at each boundary. Requests are attributed to the period that
// was active when they were admitted, even if they commit after rollover.
type Tracker struct {
	store   Store
	cal     *Calendar
	unit    Unit
	floor   int64
	entries sync.Map // keyID -> *entry
	period  atomic.Pointer[time.Time]
	now     func() time.Time
	logger  *slog.Logger

	onCommitError func(keyID string, err error)
}

// NewTracker creates a Tracker whose active period contains the current time.
func NewTracker(store Store, cfg Config) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("quota store cannot be nil")
	}
	if cfg.Calendar == nil {
		return nil, fmt.Errorf("quota calendar cannot be nil")
	}
	switch cfg.Unit {
	case UnitTokens, UnitRequests, UnitCost:
	case "":
		cfg.Unit = UnitTokens
	default:
		return nil, fmt.Errorf("unknown quota unit %q", cfg.Unit)
	}

	t := &Tracker{
		store:         store,
		cal:           cfg.Calendar,
		unit:          cfg.Unit,
		floor:         cfg.EstimateFloor,
		now:           time.Now,
		logger:        slog.Default().With("component", "quota.tracker"),
		onCommitError: cfg.OnCommitError,
	}
	start := t.cal.Start(t.now())
	t.period.Store(&start)
	return t, nil
}

// Unit returns the unit the tracker counts.
func (t *Tracker) Unit() Unit {
	return t.unit
}

// CurrentPeriod returns the start of the active period.
func (t *Tracker) CurrentPeriod() time.Time {
	return *t.period.Load()
}

// Estimate returns the units to reserve for a request body of the given size.
func (t *Tracker) Estimate(requestBytes int64) int64 {
	est := t.floor
	if t.unit == UnitTokens {
		if byBody := requestBytes / 4; byBody > est {
			est = byBody
		}
	}
	if est < 0 {
		est = 0
	}
	return est
}

// Units converts measured usage into quota units.
func (t *Tracker) Units(u Usage) int64 {
	switch t.unit {
	case UnitRequests:
		return 1
	case UnitCost:
		return int64(math.Round(u.Cost * 1e6))
	default:
		return u.Tokens()
	}
}

// Admit reserves estimate units for key in the active period. It fails with
// an *ExceededError (matching ErrQuotaExceeded) when used + reserved +
// estimate would exceed the key's limit. A limit of zero is unlimited.
func (t *Tracker) Admit(ctx context.Context, key *keys.Key, estimate int64) (*Reservation, error) {
	if estimate < 0 {
		estimate = 0
	}
	period := t.CurrentPeriod()

	e := t.lock(key.ID)
	defer e.mu.Unlock()

	if err := t.sync(ctx, key.ID, e, period); err != nil {
		return nil, err
	}

	limit := key.QuotaLimit
	if limit > 0 && e.used+e.reserved+estimate > limit {
		return nil, &ExceededError{
			KeyID:    key.ID,
			Limit:    limit,
			Used:     e.used,
			Reserved: e.reserved,
			Estimate: estimate,
			Reset:    t.cal.Next(period),
		}
	}

	e.reserved += estimate
	remaining := int64(-1)
	if limit > 0 {
		remaining = limit - e.used - e.reserved
	}
	return &Reservation{
		KeyID:     key.ID,
		Period:    period,
		Estimate:  estimate,
		Limit:     limit,
		Remaining: remaining,
		Reset:     t.cal.Next(period),
	}, nil
}

// Commit replaces the reservation with actual units. A negative actual means
// usage is unknown and the estimate is charged instead. Committing twice is a
// no-op.
func (t *Tracker) Commit(ctx context.Context, res *Reservation, actual int64) error {
	if res == nil {
		return nil
	}
	if actual < 0 {
		actual = res.Estimate
	}

	e := t.lock(res.KeyID)
	if res.done {
		e.mu.Unlock()
		return nil
	}
	res.done = true

	// A reservation from a previous period only touches its own durable row.
	if e.loaded && e.period.Equal(res.Period) {
		e.reserved -= res.Estimate
		if e.reserved < 0 {
			e.reserved = 0
		}
		e.used += actual
	}
	if actual == 0 {
		e.mu.Unlock()
		return nil
	}
	e.writes++
	e.mu.Unlock()

	err := t.store.Add(ctx, res.KeyID, res.Period, actual)

	e.mu.Lock()
	e.writes--
	e.mu.Unlock()

	if err != nil {
		t.logger.Error("failed to persist quota usage",
			"key_id", res.KeyID,
			"period", res.Period,
			"units", actual,
			"error", err,
		)
		if t.onCommitError != nil {
			t.onCommitError(res.KeyID, err)
		}
		return fmt.Errorf("commit quota for key %s: %w", res.KeyID, err)
	}
	return nil
}

// CommitUsage commits measured usage, falling back to the estimate when the
// upstream reported none.
func (t *Tracker) CommitUsage(ctx context.Context, res *Reservation, u Usage) error {
	if !u.Known && t.unit != UnitRequests {
		return t.Commit(ctx, res, -1)
	}
	return t.Commit(ctx, res, t.Units(u))
}

// Release drops a reservation for a request that never reached a backend.
func (t *Tracker) Release(ctx context.Context, res *Reservation) error {
	return t.Commit(ctx, res, 0)
}

// Status returns the quota view of key in the active period.
func (t *Tracker) Status(ctx context.Context, key *keys.Key) (*Status, error) {
	period := t.CurrentPeriod()

	e := t.lock(key.ID)
	defer e.mu.Unlock()

	if err := t.sync(ctx, key.ID, e, period); err != nil {
		return nil, err
	}

	st := &Status{
		KeyID:       key.ID,
		Unit:        t.unit,
		Limit:       key.QuotaLimit,
		Used:        e.used,
		Reserved:    e.reserved,
		PeriodStart: period,
		Reset:       t.cal.Next(period),
		Unlimited:   key.QuotaLimit <= 0,
	}
	if !st.Unlimited {
		st.Remaining = key.QuotaLimit - e.used - e.reserved
		if st.Remaining < 0 {
			st.Remaining = 0
		}
	}
	return st, nil
}

// History returns the stored counters of keyID, newest first.
func (t *Tracker) History(ctx context.Context, keyID string, limit int) ([]Counter, error) {
	return t.store.History(ctx, keyID, limit)
}

// Advance moves the active period to the one containing now. It returns true
// when the period changed. Idle entries of the old period are dropped.
func (t *Tracker) Advance(now time.Time) bool {
	next := t.cal.Start(now)
	prev := t.CurrentPeriod()
	if !next.After(prev) {
		return false
	}
	t.period.Store(&next)

	dropped := 0
	t.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.reserved == 0 && e.writes == 0 {
			e.evicted = true
			t.entries.Delete(k)
			dropped++
		}
		e.mu.Unlock()
		return true
	})

	t.logger.Info("quota period rolled over",
		"previous", prev,
		"current", next,
		"dropped_entries", dropped,
	)
	return true
}

// lock returns the live entry for keyID with its mutex held.
func (t *Tracker) lock(keyID string) *entry {
	for {
		v, _ := t.entries.LoadOrStore(keyID, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

// sync makes e reflect period, loading durable usage on first touch.
// Called with e.mu held.
func (t *Tracker) sync(ctx context.Context, keyID string, e *entry, period time.Time) error {
	if e.loaded && e.period.Equal(period) {
		return nil
	}
	used, err := t.store.Load(ctx, keyID, period)
	if err != nil {
		return fmt.Errorf("load quota for key %s: %w", keyID, err)
	}
	e.period = period
	e.used = used
	e.reserved = 0
	e.loaded = true
	return nil
}
