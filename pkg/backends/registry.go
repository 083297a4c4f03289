package backends

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/relay/pkg/config"
)

// ErrUnknownBackend is returned for an id that is not configured.
var ErrUnknownBackend = errors.New("unknown backend")

// HealthReporter receives forwarding outcomes. The proxy forwarder is the
// only writer of backend health.
type HealthReporter interface {
	ReportSuccess(id string)
	ReportFailure(id string, err error)
}

// Status is the health view of one backend.
type Status struct {
	ID                  string    `json:"id"`
	BaseURL             string    `json:"base_url"`
	Priority            int       `json:"priority"`
	Active              bool      `json:"active"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	InFlight            int64     `json:"in_flight"`

	// Probing is set while the single probe request of a cooled-down backend
	// is in flight.
	Probing bool `json:"probing,omitempty"`

	probeStarted time.Time
}

// Snapshot is an immutable view of every backend. Backends are in selection
// order: active first, then ascending priority, then id.
type Snapshot struct {
	Backends []Status  `json:"backends"`
	Active   string    `json:"active"`
	TakenAt  time.Time `json:"taken_at"`
}

// Options configures a Registry.
type Options struct {
	// FailureThreshold is the number of consecutive failures that marks a
	// backend down.
	FailureThreshold int

	// Cooldown is how long a backend stays down before one probe is allowed.
	Cooldown time.Duration

	// OnStateChange is called after every state transition.
	OnStateChange func(id string, from, to State)
}

// Registry holds the configured backends and their live health.
//
// Writers serialize on a mutex, build a new snapshot and publish it
// atomically. Readers load the published snapshot and never block.
// Down-to-suspect after cooldown is evaluated on read.
type Registry struct {
	backends  []*Backend
	byID      map[string]int
	inFlight  []atomic.Int64
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	onStateChange func(id string, from, to State)

	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry with every backend healthy. The backend
// marked Default starts active; otherwise the first in priority order does.
func NewRegistry(list []*Backend, opts Options) (*Registry, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = config.DefaultFailureThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = config.DefaultCooldown
	}

	r := &Registry{
		backends:      list,
		byID:          make(map[string]int, len(list)),
		inFlight:      make([]atomic.Int64, len(list)),
		threshold:     opts.FailureThreshold,
		cooldown:      opts.Cooldown,
		now:           time.Now,
		logger:        slog.Default().With("component", "backends.registry"),
		onStateChange: opts.OnStateChange,
	}

	active := ""
	statuses := make([]Status, len(list))
	for i, b := range list {
		if _, dup := r.byID[b.ID]; dup {
			return nil, fmt.Errorf("duplicate backend id %q", b.ID)
		}
		r.byID[b.ID] = i
		statuses[i] = Status{
			ID:       b.ID,
			BaseURL:  b.BaseURL.String(),
			Priority: b.Priority,
			State:    StateHealthy,
		}
		if b.Default && active == "" {
			active = b.ID
		}
	}

	snap := &Snapshot{Backends: statuses, Active: active}
	if active == "" {
		sortSelection(snap)
		snap.Active = snap.Backends[0].ID
	}
	r.publish(snap)
	return r, nil
}

// NewRegistryFromConfig builds backends and a registry from configuration.
func NewRegistryFromConfig(cfg *config.Config, onStateChange func(id string, from, to State)) (*Registry, error) {
	list := make([]*Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b, err := FromConfig(bc)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return NewRegistry(list, Options{
		FailureThreshold: cfg.Routing.FailureThreshold,
		Cooldown:         cfg.Routing.Cooldown,
		OnStateChange:    onStateChange,
	})
}

// Backends returns the configured backends in configuration order.
func (r *Registry) Backends() []*Backend {
	return r.backends
}

// Get returns the backend with id.
func (r *Registry) Get(id string) (*Backend, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.backends[i], true
}

// Snapshot returns the current view with cooldown applied and in-flight
// counts filled in.
func (r *Registry) Snapshot() *Snapshot {
	raw := r.snap.Load()
	now := r.now()

	view := &Snapshot{
		Backends: make([]Status, len(raw.Backends)),
		Active:   raw.Active,
		TakenAt:  now,
	}
	for i, st := range raw.Backends {
		st = r.effective(st, now)
		st.InFlight = r.inFlight[r.byID[st.ID]].Load()
		view.Backends[i] = st
	}
	return view
}

// ReportSuccess records a successful response from backend id.
func (r *Registry) ReportSuccess(id string) {
	r.update(id, func(st *Status, now time.Time) {
		st.State = next(st.State, eventSuccess)
		st.LastSuccess = now
		if st.State == StateHealthy {
			st.ConsecutiveFailures = 0
			st.LastError = ""
			st.probeStarted = time.Time{}
		}
	})
}

// ReportFailure records a failed attempt against backend id.
func (r *Registry) ReportFailure(id string, err error) {
	r.update(id, func(st *Status, now time.Time) {
		st.ConsecutiveFailures++
		ev := eventFailure
		if st.ConsecutiveFailures >= r.threshold {
			ev = eventThreshold
		}
		st.State = next(st.State, ev)
		st.LastFailure = now
		st.probeStarted = time.Time{}
		if err != nil {
			st.LastError = err.Error()
		}
	})
}

// SetActive makes id the primary backend.
func (r *Registry) SetActive(id string) error {
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if cur.Active == id {
		return nil
	}
	snap := cur.clone()
	snap.Active = id
	r.publish(snap)

	r.logger.Info("active backend changed", "previous", cur.Active, "active", id)
	return nil
}

// Acquire counts an in-flight request against id. The returned function
// must be called once the request finishes.
func (r *Registry) Acquire(id string) func() {
	i, ok := r.byID[id]
	if !ok {
		return func() {}
	}
	r.inFlight[i].Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { r.inFlight[i].Add(-1) })
	}
}

// claimProbe reserves the single probe of a cooled-down backend. It returns
// false if another probe is already in flight.
func (r *Registry) claimProbe(id string) bool {
	claimed := false
	r.update(id, func(st *Status, now time.Time) {
		if st.State != StateSuspect || st.ConsecutiveFailures < r.threshold {
			return
		}
		if !st.probeStarted.IsZero() && now.Sub(st.probeStarted) < r.cooldown {
			return
		}
		st.probeStarted = now
		claimed = true
	})
	return claimed
}

// update applies fn to the effective status of id and publishes the result.
func (r *Registry) update(id string, fn func(st *Status, now time.Time)) {
	if _, ok := r.byID[id]; !ok {
		return
	}

	r.mu.Lock()
	now := r.now()
	cur := r.snap.Load()
	snap := cur.clone()

	var from, to State
	for i := range snap.Backends {
		st := &snap.Backends[i]
		if st.ID != id {
			continue
		}
		from = st.State
		*st = r.effective(*st, now)
		fn(st, now)
		to = st.State
		break
	}
	r.publish(snap)
	r.mu.Unlock()

	if from != to {
		r.logger.Warn("backend state changed",
			"backend", id,
			"from", from,
			"to", to,
		)
		if r.onStateChange != nil {
			r.onStateChange(id, from, to)
		}
	}
}

// effective applies the cooldown transition. A cooled-down backend whose
// probe is in flight is still reported down to the selector via Probing.
func (r *Registry) effective(st Status, now time.Time) Status {
	if st.State == StateDown && now.Sub(st.LastFailure) >= r.cooldown {
		st.State = next(st.State, eventCooldown)
	}
	st.Probing = st.State == StateSuspect &&
		!st.probeStarted.IsZero() &&
		now.Sub(st.probeStarted) < r.cooldown
	return st
}

func (r *Registry) publish(snap *Snapshot) {
	for i := range snap.Backends {
		snap.Backends[i].Active = snap.Backends[i].ID == snap.Active
	}
	sortSelection(snap)
	r.snap.Store(snap)
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		Backends: make([]Status, len(s.Backends)),
		Active:   s.Active,
		TakenAt:  s.TakenAt,
	}
	copy(c.Backends, s.Backends)
	return c
}

// sortSelection orders backends active first, then priority, then id.
func sortSelection(s *Snapshot) {
	sort.SliceStable(s.Backends, func(i, j int) bool {
		a, b := s.Backends[i], s.Backends[j]
		aActive, bActive := a.ID == s.Active, b.ID == s.Active
		if aActive != bActive {
			return aActive
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
}
