package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/relay/pkg/proxy/types"
)

// TokenSource names the header a token is read from. Scheme, when set, is a
// required prefix such as "Bearer".
type TokenSource struct {
	Header string
	Scheme string
}

// DefaultTokenSources reads "Authorization: Bearer <token>".
var DefaultTokenSources = []TokenSource{{Header: "Authorization", Scheme: "Bearer"}}

// Middleware rejects requests that do not carry the admin token.
type Middleware struct {
	validator *TokenValidator
	sources   []TokenSource
	logger    *slog.Logger
}

// NewMiddleware creates the middleware. Nil sources use DefaultTokenSources.
func NewMiddleware(validator *TokenValidator, sources []TokenSource) *Middleware {
	if len(sources) == 0 {
		sources = DefaultTokenSources
	}
	return &Middleware{
		validator: validator,
		sources:   sources,
		logger:    slog.Default().With("component", "security.auth"),
	}
}

// Handle wraps next with token authentication.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := m.validator.Validate(m.extractToken(r))
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		m.logger.WarnContext(r.Context(), "admin request rejected",
			"error", err,
			"remote_addr", r.RemoteAddr,
			"path", r.URL.Path,
		)

		code := types.CodeInvalidCredential
		if errors.Is(err, ErrMissingToken) {
			code = types.CodeMissingCredential
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="relay-admin"`)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(types.NewErrorResponse(
			"a valid admin token is required", types.ErrorTypeAuthentication, code))
	})
}

func (m *Middleware) extractToken(r *http.Request) string {
	for _, src := range m.sources {
		value := r.Header.Get(src.Header)
		if value == "" {
			continue
		}
		if src.Scheme == "" {
			return value
		}
		scheme, token, ok := strings.Cut(value, " ")
		if ok && strings.EqualFold(scheme, src.Scheme) {
			return strings.TrimSpace(token)
		}
	}
	return ""
}
