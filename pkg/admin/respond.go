package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/usage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	code := ""
	if errType == types.ErrorTypeServerError {
		code = types.CodeInternalError
	}
	writeJSON(w, status, types.NewErrorResponse(message, errType, code))
}

// fail maps a domain error to a response. Unexpected errors are logged and
// answered with a generic 500.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, keys.ErrNotFound):
		writeError(w, http.StatusNotFound, types.ErrorTypeNotFound, "key not found")
	case errors.Is(err, backends.ErrUnknownBackend):
		writeError(w, http.StatusNotFound, types.ErrorTypeNotFound, err.Error())
	case errors.Is(err, keys.ErrInvalid), errors.Is(err, usage.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, types.ErrorTypeInvalidRequest, err.Error())
	default:
		a.logger.ErrorContext(r.Context(), "management request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, types.ErrorTypeServerError, "internal error")
	}
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, types.ErrorTypeInvalidRequest, err.Error())
}
