package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"mercator-hq/relay/pkg/backends"
)

// Probe paths on the proxy listener. They sit under a prefix no upstream API
// uses so that every other path is forwarded unchanged.
const (
	HealthPath = "/_relay/healthz"
	ReadyPath  = "/_relay/readyz"
)

// SnapshotSource provides the current backend health view.
// *backends.Registry implements it.
type SnapshotSource interface {
	Snapshot() *backends.Snapshot
}

// HealthHandler handles health check requests for liveness probes.
type HealthHandler struct{}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler for liveness checks.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// ReadyHandler handles readiness check requests. The relay is ready while at
// least one backend is not down.
type ReadyHandler struct {
	Backends SnapshotSource
}

// NewReadyHandler creates a new readiness check handler.
func NewReadyHandler(src SnapshotSource) *ReadyHandler {
	return &ReadyHandler{Backends: src}
}

// ServeHTTP implements http.Handler for readiness checks.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.Backends.Snapshot()
	counts := map[backends.State]int{}
	for _, st := range snap.Backends {
		counts[st.State]++
	}
	usable := len(snap.Backends) - counts[backends.StateDown]

	status := "ready"
	statusCode := http.StatusOK
	if usable == 0 {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, map[string]any{
		"status": status,
		"active": snap.Active,
		"backends": map[string]int{
			"healthy": counts[backends.StateHealthy],
			"suspect": counts[backends.StateSuspect],
			"down":    counts[backends.StateDown],
		},
		"timestamp": time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
