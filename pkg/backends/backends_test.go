package backends

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustBackend(t *testing.T, id string, priority int, isDefault bool) *Backend {
	t.Helper()
	b, err := FromConfig(config.BackendConfig{
		ID:       id,
		BaseURL:  "https://" + id + ".example.com",
		APIKey:   "upstream-" + id,
		Priority: priority,
		Default:  isDefault,
	})
	if err != nil {
		t.Fatalf("FromConfig(%s) error = %v", id, err)
	}
	return b
}

func newTestRegistry(t *testing.T, threshold int, cooldown time.Duration, list ...*Backend) (*Registry, *manualClock) {
	t.Helper()
	r, err := NewRegistry(list, Options{FailureThreshold: threshold, Cooldown: cooldown})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.now = clock.Now
	return r, clock
}

func stateOf(r *Registry, id string) Status {
	for _, st := range r.Snapshot().Backends {
		if st.ID == id {
			return st
		}
	}
	return Status{}
}

var errUpstream = errors.New("upstream timeout")

// ============ Backend Tests ============

func TestFromConfig_Defaults(t *testing.T) {
	b, err := FromConfig(config.BackendConfig{ID: "a", BaseURL: "https://api.example.com/"})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if b.AuthScheme != config.AuthSchemeAPIKey {
		t.Errorf("AuthScheme = %q", b.AuthScheme)
	}
	if b.MaxConcurrent != config.DefaultBackendMaxConcurrent || b.Timeout != config.DefaultBackendTimeout {
		t.Errorf("defaults not applied: %+v", b)
	}

	if _, err := FromConfig(config.BackendConfig{ID: "b", BaseURL: "ftp://x"}); err == nil {
		t.Error("expected error for non-http scheme")
	}
}

func TestBackend_Target(t *testing.T) {
	tests := []struct {
		base  string
		path  string
		query string
		want  string
	}{
		{"https://api.example.com", "/v1/messages", "", "https://api.example.com/v1/messages"},
		{"https://api.example.com/", "/v1/messages", "beta=true", "https://api.example.com/v1/messages?beta=true"},
		{"https://gw.example.com/anthropic", "/v1/messages", "", "https://gw.example.com/anthropic/v1/messages"},
	}
	for _, tt := range tests {
		b, err := FromConfig(config.BackendConfig{ID: "x", BaseURL: tt.base})
		if err != nil {
			t.Fatalf("FromConfig() error = %v", err)
		}
		if got := b.Target(tt.path, tt.query).String(); got != tt.want {
			t.Errorf("Target(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// ============ State Machine Tests ============

func TestRegistry_FailureTransitions(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute, mustBackend(t, "a", 0, true))

	want := []State{StateSuspect, StateSuspect, StateDown, StateDown}
	for i, w := range want {
		r.ReportFailure("a", errUpstream)
		st := stateOf(r, "a")
		if st.State != w {
			t.Errorf("after %d failures state = %s, want %s", i+1, st.State, w)
		}
		if st.ConsecutiveFailures != i+1 {
			t.Errorf("ConsecutiveFailures = %d, want %d", st.ConsecutiveFailures, i+1)
		}
	}
	if st := stateOf(r, "a"); st.LastError != errUpstream.Error() {
		t.Errorf("LastError = %q", st.LastError)
	}
}

func TestRegistry_SuccessResets(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute, mustBackend(t, "a", 0, true))

	r.ReportFailure("a", errUpstream)
	r.ReportFailure("a", errUpstream)
	r.ReportSuccess("a")

	st := stateOf(r, "a")
	if st.State != StateHealthy || st.ConsecutiveFailures != 0 {
		t.Errorf("after success = %+v, want healthy with 0 failures", st)
	}

	// Failures must be consecutive to reach down.
	r.ReportFailure("a", errUpstream)
	r.ReportFailure("a", errUpstream)
	if st := stateOf(r, "a"); st.State != StateSuspect {
		t.Errorf("state = %s, want suspect", st.State)
	}
}

func TestRegistry_ThresholdOne(t *testing.T) {
	r, _ := newTestRegistry(t, 1, time.Minute, mustBackend(t, "a", 0, true))
	r.ReportFailure("a", errUpstream)
	if st := stateOf(r, "a"); st.State != StateDown {
		t.Errorf("state = %s, want down", st.State)
	}
}

func TestRegistry_CooldownAndProbe(t *testing.T) {
	r, clock := newTestRegistry(t, 2, 30*time.Second, mustBackend(t, "a", 0, true))
	s := NewSelector(r, true)

	r.ReportFailure("a", errUpstream)
	r.ReportFailure("a", errUpstream)
	if st := stateOf(r, "a"); st.State != StateDown {
		t.Fatalf("state = %s, want down", st.State)
	}

	clock.Advance(29 * time.Second)
	if _, err := s.Choose(Hints{}); !errors.Is(err, ErrNoBackendAvailable) {
		t.Fatalf("Choose() during cooldown error = %v", err)
	}

	clock.Advance(time.Second)
	if st := stateOf(r, "a"); st.State != StateSuspect {
		t.Fatalf("state after cooldown = %s, want suspect", st.State)
	}

	// Exactly one probe is let through.
	b, err := s.Choose(Hints{})
	if err != nil || b.ID != "a" {
		t.Fatalf("probe Choose() = %v, %v", b, err)
	}
	if _, err := s.Choose(Hints{}); !errors.Is(err, ErrNoBackendAvailable) {
		t.Errorf("second Choose() while probing error = %v, want ErrNoBackendAvailable", err)
	}
	if s.HasAlternative(Hints{}) {
		t.Error("HasAlternative() while probing = true, want the probed backend treated as down")
	}

	// A failed probe goes straight back to down and restarts the cooldown.
	r.ReportFailure("a", errUpstream)
	if st := stateOf(r, "a"); st.State != StateDown {
		t.Fatalf("state after failed probe = %s, want down", st.State)
	}
	clock.Advance(10 * time.Second)
	if st := stateOf(r, "a"); st.State != StateDown {
		t.Errorf("state 10s after failed probe = %s, want down", st.State)
	}

	// A successful probe restores it.
	clock.Advance(20 * time.Second)
	if _, err := s.Choose(Hints{}); err != nil {
		t.Fatalf("probe Choose() error = %v", err)
	}
	r.ReportSuccess("a")
	if st := stateOf(r, "a"); st.State != StateHealthy || st.ConsecutiveFailures != 0 {
		t.Errorf("after probe success = %+v", st)
	}
}

func TestRegistry_LateSuccessDoesNotReviveDown(t *testing.T) {
	r, _ := newTestRegistry(t, 1, time.Minute, mustBackend(t, "a", 0, true))
	r.ReportFailure("a", errUpstream)
	r.ReportSuccess("a")
	if st := stateOf(r, "a"); st.State != StateDown {
		t.Errorf("state = %s, want down", st.State)
	}
}

func TestRegistry_StateChangeHook(t *testing.T) {
	var changes []string
	r, err := NewRegistry([]*Backend{mustBackend(t, "a", 0, true)}, Options{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		OnStateChange: func(id string, from, to State) {
			changes = append(changes, string(from)+"->"+string(to))
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	r.ReportFailure("a", errUpstream)
	r.ReportFailure("a", errUpstream)
	r.ReportFailure("a", errUpstream)

	want := []string{"healthy->suspect", "suspect->down"}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %s, want %s", i, changes[i], want[i])
		}
	}
}

func TestRegistry_UnknownIDIgnored(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute, mustBackend(t, "a", 0, true))
	r.ReportFailure("missing", errUpstream)
	r.ReportSuccess("missing")
	if err := r.SetActive("missing"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("SetActive() error = %v, want ErrUnknownBackend", err)
	}
}

func TestRegistry_ConcurrentReports(t *testing.T) {
	r, _ := newTestRegistry(t, 1000, time.Minute, mustBackend(t, "a", 0, true))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.ReportFailure("a", errUpstream)
		}()
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	if st := stateOf(r, "a"); st.ConsecutiveFailures != 100 {
		t.Errorf("ConsecutiveFailures = %d, want 100", st.ConsecutiveFailures)
	}
}

func TestRegistry_InFlight(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute, mustBackend(t, "a", 0, true))
	release := r.Acquire("a")
	r.Acquire("a")
	if st := stateOf(r, "a"); st.InFlight != 2 {
		t.Errorf("InFlight = %d, want 2", st.InFlight)
	}
	release()
	release()
	if st := stateOf(r, "a"); st.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1 (release is idempotent)", st.InFlight)
	}
}

// ============ Selector Tests ============

func TestSelector_Order(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute,
		mustBackend(t, "c", 2, false),
		mustBackend(t, "b", 1, false),
		mustBackend(t, "a", 1, false),
		mustBackend(t, "primary", 5, true),
	)

	snap := r.Snapshot()
	want := []string{"primary", "a", "b", "c"}
	for i, id := range want {
		if snap.Backends[i].ID != id {
			t.Errorf("order[%d] = %s, want %s", i, snap.Backends[i].ID, id)
		}
	}
	if !snap.Backends[0].Active || snap.Active != "primary" {
		t.Error("primary should be active")
	}
}

func TestSelector_DefaultActiveIsFirstByPriority(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute,
		mustBackend(t, "z", 3, false),
		mustBackend(t, "y", 1, false),
	)
	if r.Snapshot().Active != "y" {
		t.Errorf("Active = %s, want y", r.Snapshot().Active)
	}
}

func TestSelector_PrefersPrimaryWhileSuspect(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute,
		mustBackend(t, "primary", 0, true),
		mustBackend(t, "secondary", 1, false),
	)
	s := NewSelector(r, false)

	r.ReportFailure("primary", errUpstream)
	b, err := s.Choose(Hints{})
	if err != nil || b.ID != "primary" {
		t.Errorf("Choose() = %v, %v; want suspect primary", b, err)
	}

	r.ReportFailure("primary", errUpstream)
	r.ReportFailure("primary", errUpstream)
	b, err = s.Choose(Hints{})
	if err != nil || b.ID != "secondary" {
		t.Errorf("Choose() = %v, %v; want secondary", b, err)
	}
}

func TestSelector_NeverDownWhileOtherAvailable(t *testing.T) {
	r, _ := newTestRegistry(t, 1, time.Hour,
		mustBackend(t, "a", 0, true),
		mustBackend(t, "b", 1, false),
		mustBackend(t, "c", 2, false),
	)
	s := NewSelector(r, false)
	r.ReportFailure("a", errUpstream)
	r.ReportFailure("b", errUpstream)

	for i := 0; i < 10; i++ {
		b, err := s.Choose(Hints{})
		if err != nil || b.ID != "c" {
			t.Fatalf("Choose() = %v, %v; want c", b, err)
		}
	}
}

func TestSelector_AllDown(t *testing.T) {
	r, clock := newTestRegistry(t, 1, time.Hour,
		mustBackend(t, "a", 0, true),
		mustBackend(t, "b", 1, false),
	)
	r.ReportFailure("b", errUpstream)
	clock.Advance(time.Minute)
	r.ReportFailure("a", errUpstream)

	lenient := NewSelector(r, false)
	b, err := lenient.Choose(Hints{})
	if err != nil {
		t.Fatalf("lenient Choose() error = %v", err)
	}
	if b.ID != "b" {
		t.Errorf("lenient Choose() = %s, want least recently failed b", b.ID)
	}

	strict := NewSelector(r, true)
	if _, err := strict.Choose(Hints{}); !errors.Is(err, ErrNoBackendAvailable) {
		t.Errorf("strict Choose() error = %v, want ErrNoBackendAvailable", err)
	}

	lenient.SetStrict(true)
	if _, err := lenient.Choose(Hints{}); !errors.Is(err, ErrNoBackendAvailable) {
		t.Errorf("after SetStrict Choose() error = %v", err)
	}
}

func TestSelector_Exclude(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute,
		mustBackend(t, "a", 0, true),
		mustBackend(t, "b", 1, false),
	)
	s := NewSelector(r, false)

	b, err := s.Choose(Hints{Exclude: []string{"a"}})
	if err != nil || b.ID != "b" {
		t.Errorf("Choose(exclude a) = %v, %v; want b", b, err)
	}
	if _, err := s.Choose(Hints{Exclude: []string{"a", "b"}}); !errors.Is(err, ErrNoBackendAvailable) {
		t.Errorf("Choose(exclude all) error = %v, want ErrNoBackendAvailable", err)
	}

	// Lenient mode degrades to a down backend that was not excluded.
	r.ReportFailure("b", errUpstream)
	r.ReportFailure("b", errUpstream)
	r.ReportFailure("b", errUpstream)
	b, err = s.Choose(Hints{Exclude: []string{"a"}})
	if err != nil || b.ID != "b" {
		t.Errorf("lenient Choose() = %v, %v; want degraded b", b, err)
	}
}

func TestSelector_HasAlternative(t *testing.T) {
	r, _ := newTestRegistry(t, 1, time.Hour,
		mustBackend(t, "a", 0, true),
		mustBackend(t, "b", 1, false),
	)
	lenient := NewSelector(r, false)
	strict := NewSelector(r, true)

	tests := []struct {
		name    string
		sel     *Selector
		exclude []string
		want    bool
	}{
		{"other healthy", strict, []string{"a"}, true},
		{"all excluded", lenient, []string{"a", "b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.HasAlternative(Hints{Exclude: tt.exclude}); got != tt.want {
				t.Errorf("HasAlternative() = %v, want %v", got, tt.want)
			}
		})
	}

	r.ReportFailure("b", errUpstream)
	if strict.HasAlternative(Hints{Exclude: []string{"a"}}) {
		t.Error("strict HasAlternative() = true with only a down backend left")
	}
	if !lenient.HasAlternative(Hints{Exclude: []string{"a"}}) {
		t.Error("lenient HasAlternative() = false, want degraded b")
	}
	if st := stateOf(r, "b"); st.Probing {
		t.Error("HasAlternative() must not claim a probe")
	}
}

func TestSelector_SetActive(t *testing.T) {
	r, _ := newTestRegistry(t, 3, time.Minute,
		mustBackend(t, "a", 0, true),
		mustBackend(t, "b", 1, false),
	)
	s := NewSelector(r, false)

	if err := r.SetActive("b"); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	b, _ := s.Choose(Hints{})
	if b.ID != "b" {
		t.Errorf("Choose() = %s, want newly active b", b.ID)
	}
}

func TestSelector_ConcurrentChooseOneProbe(t *testing.T) {
	r, clock := newTestRegistry(t, 1, time.Second, mustBackend(t, "a", 0, true))
	s := NewSelector(r, true)
	r.ReportFailure("a", errUpstream)
	clock.Advance(2 * time.Second)

	var chosen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Choose(Hints{}); err == nil {
				chosen.Add(1)
			}
		}()
	}
	wg.Wait()

	if chosen.Load() != 1 {
		t.Errorf("probes granted = %d, want 1", chosen.Load())
	}
}
