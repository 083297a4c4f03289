package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/limits/quota"
)

// CreateKeyRequest is the body of POST /v1/keys. Omitted limits take the
// configured defaults; a quota_limit of 0 means unlimited.
type CreateKeyRequest struct {
	Name              string `json:"name"`
	RateLimit         int    `json:"rate_limit,omitempty"`
	RateWindowSeconds int64  `json:"rate_window_seconds,omitempty"`
	QuotaLimit        *int64 `json:"quota_limit,omitempty"`
}

// CreateKeyResponse carries the only copy of the secret.
type CreateKeyResponse struct {
	Key    *keys.Key `json:"key"`
	Secret string    `json:"secret"`
}

// UpdateKeyRequest is the body of PATCH /v1/keys/{id}. Absent fields are
// left unchanged.
type UpdateKeyRequest struct {
	Name              *string      `json:"name,omitempty"`
	RateLimit         *int         `json:"rate_limit,omitempty"`
	RateWindowSeconds *int64       `json:"rate_window_seconds,omitempty"`
	QuotaLimit        *int64       `json:"quota_limit,omitempty"`
	Status            *keys.Status `json:"status,omitempty"`
}

func (u UpdateKeyRequest) toUpdate() keys.Update {
	out := keys.Update{
		Name:       u.Name,
		RateLimit:  u.RateLimit,
		QuotaLimit: u.QuotaLimit,
		Status:     u.Status,
	}
	if u.RateWindowSeconds != nil {
		w := time.Duration(*u.RateWindowSeconds) * time.Second
		out.RateWindow = &w
	}
	return out
}

// QuotaHistoryResponse lists stored period counters, newest first.
type QuotaHistoryResponse struct {
	KeyID    string          `json:"key_id"`
	Unit     quota.Unit      `json:"unit"`
	Counters []quota.Counter `json:"counters"`
}

const defaultHistoryLimit = 30

func (a *API) listKeys(w http.ResponseWriter, r *http.Request) {
	list, err := a.keys.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*keys.Key{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": list})
}

func (a *API) createKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.RateWindowSeconds < 0 {
		badRequest(w, errors.New("rate_window_seconds must not be negative"))
		return
	}

	k, secret, err := a.keys.Create(r.Context(), keys.CreateParams{
		Name:       req.Name,
		RateLimit:  req.RateLimit,
		RateWindow: time.Duration(req.RateWindowSeconds) * time.Second,
		QuotaLimit: req.QuotaLimit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/keys/"+k.ID)
	writeJSON(w, http.StatusCreated, CreateKeyResponse{Key: k, Secret: secret})
}

func (a *API) getKey(w http.ResponseWriter, r *http.Request) {
	k, err := a.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (a *API) updateKey(w http.ResponseWriter, r *http.Request) {
	var req UpdateKeyRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}

	k, err := a.keys.Update(r.Context(), chi.URLParam(r, "id"), req.toUpdate())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (a *API) disableKey(w http.ResponseWriter, r *http.Request) {
	k, err := a.keys.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (a *API) keyQuota(w http.ResponseWriter, r *http.Request) {
	k, err := a.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	st, err := a.quota.Status(r.Context(), k)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) keyQuotaHistory(w http.ResponseWriter, r *http.Request) {
	k, err := a.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r, defaultHistoryLimit)
	if err != nil {
		badRequest(w, err)
		return
	}

	counters, err := a.quota.History(r.Context(), k.ID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if counters == nil {
		counters = []quota.Counter{}
	}
	writeJSON(w, http.StatusOK, QuotaHistoryResponse{KeyID: k.ID, Unit: a.quota.Unit(), Counters: counters})
}

// queryLimit reads the "limit" query parameter.
func queryLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}
