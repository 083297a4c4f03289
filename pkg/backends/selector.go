package backends

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNoBackendAvailable is returned when no backend can take the request.
var ErrNoBackendAvailable = errors.New("no backend available")

// Hints narrows a selection.
type Hints struct {
	// Exclude lists backends already tried for this request.
	Exclude []string
}

func (h Hints) excluded(id string) bool {
	for _, x := range h.Exclude {
		if x == id {
			return true
		}
	}
	return false
}

// Selector chooses a backend from a registry snapshot. It performs no I/O.
//
// The first backend in selection order that is not down wins, so the active
// backend is preferred while healthy or suspect. When every candidate is
// down, lenient mode degrades to the least recently failed candidate and
// strict mode fails with ErrNoBackendAvailable.
type Selector struct {
	registry *Registry
	strict   atomic.Bool
}

// NewSelector creates a selector over registry.
func NewSelector(registry *Registry, strict bool) *Selector {
	s := &Selector{registry: registry}
	s.strict.Store(strict)
	return s
}

// SetStrict switches between strict and lenient mode.
func (s *Selector) SetStrict(strict bool) {
	s.strict.Store(strict)
}

// Choose returns the backend for the next attempt.
//
// A down backend whose cooldown elapsed is handed to one caller as a probe.
// While that probe is in flight the backend counts as down for every other
// caller, so strict mode may fail even though the backend reads as suspect.
func (s *Selector) Choose(h Hints) (*Backend, error) {
	snap := s.registry.Snapshot()

	var fallback *Status
	candidates := 0
	for i := range snap.Backends {
		st := &snap.Backends[i]
		if h.excluded(st.ID) {
			continue
		}
		candidates++

		switch {
		case st.State == StateDown, st.Probing:
		case st.State == StateSuspect && st.ConsecutiveFailures >= s.registry.threshold:
			// Cooled down: only the caller that claims the probe may use it.
			if s.registry.claimProbe(st.ID) {
				return s.backend(st.ID)
			}
		default:
			return s.backend(st.ID)
		}

		if fallback == nil || st.LastFailure.Before(fallback.LastFailure) {
			fallback = st
		}
	}

	if candidates == 0 {
		return nil, fmt.Errorf("%w: all backends excluded", ErrNoBackendAvailable)
	}
	if s.strict.Load() || fallback == nil {
		return nil, fmt.Errorf("%w: all %d candidates are down", ErrNoBackendAvailable, candidates)
	}
	return s.backend(fallback.ID)
}

// HasAlternative reports whether Choose could return a backend outside
// h.Exclude. It claims no probe and may race with concurrent health reports.
func (s *Selector) HasAlternative(h Hints) bool {
	snap := s.registry.Snapshot()
	strict := s.strict.Load()
	for i := range snap.Backends {
		st := &snap.Backends[i]
		if h.excluded(st.ID) {
			continue
		}
		if !strict {
			return true
		}
		if st.State != StateDown && !st.Probing {
			return true
		}
	}
	return false
}

func (s *Selector) backend(id string) (*Backend, error) {
	b, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	return b, nil
}
