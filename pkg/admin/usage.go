package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/usage"
)

const defaultRecordLimit = 100

// UsageResponse reports daily usage over a range.
type UsageResponse struct {
	KeyID string          `json:"key_id,omitempty"`
	Range usage.Range     `json:"range"`
	Days  []usage.Summary `json:"days"`
	Total usage.Summary   `json:"total"`
}

// RecordsResponse lists individual usage records, newest first.
type RecordsResponse struct {
	KeyID   string          `json:"key_id"`
	Range   usage.Range     `json:"range"`
	Records []*usage.Record `json:"records"`
}

func (a *API) keyUsage(w http.ResponseWriter, r *http.Request) {
	k, err := a.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.summarize(w, r, k.ID)
}

func (a *API) totalUsage(w http.ResponseWriter, r *http.Request) {
	a.summarize(w, r, "")
}

// summarize answers a usage query for keyID, or for every key when empty.
func (a *API) summarize(w http.ResponseWriter, r *http.Request, keyID string) {
	if !a.usageEnabled(w) {
		return
	}
	rng, err := a.parseRange(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	days, err := a.usage.Query(r.Context(), keyID, rng)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if days == nil {
		days = []usage.Summary{}
	}
	writeJSON(w, http.StatusOK, UsageResponse{
		KeyID: keyID,
		Range: rng,
		Days:  days,
		Total: usage.Total(days),
	})
}

func (a *API) keyUsageRecords(w http.ResponseWriter, r *http.Request) {
	if !a.usageEnabled(w) {
		return
	}
	k, err := a.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rng, err := a.parseRange(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r, defaultRecordLimit)
	if err != nil {
		badRequest(w, err)
		return
	}

	records, err := a.usage.List(r.Context(), k.ID, rng, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*usage.Record{}
	}
	writeJSON(w, http.StatusOK, RecordsResponse{KeyID: k.ID, Range: rng, Records: records})
}

func (a *API) parseRange(r *http.Request) (usage.Range, error) {
	q := r.URL.Query()
	return usage.ParseRange(q.Get("from"), q.Get("to"), a.now())
}

func (a *API) usageEnabled(w http.ResponseWriter) bool {
	if a.usage != nil {
		return true
	}
	writeError(w, http.StatusNotFound, types.ErrorTypeNotFound, "usage recording is disabled")
	return false
}
