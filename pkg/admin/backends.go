package admin

import (
	"errors"
	"net/http"
)

// SetActiveRequest is the body of PUT /v1/backends/active.
type SetActiveRequest struct {
	ID string `json:"id"`
}

func (a *API) listBackends(w http.ResponseWriter, r *http.Request) {
	snap := a.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   snap.Active,
		"backends": snap.Backends,
	})
}

func (a *API) setActiveBackend(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.ID == "" {
		badRequest(w, errors.New("id is required"))
		return
	}

	if err := a.registry.SetActive(req.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.InfoContext(r.Context(), "active backend set through management API", "backend", req.ID)
	writeJSON(w, http.StatusOK, a.registry.Snapshot())
}

// healthSnapshot reports the live health of every backend.
func (a *API) healthSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Snapshot())
}
