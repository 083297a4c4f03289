package keys

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/relay/pkg/config"
)

// Authenticator resolves a presented credential to an active key.
type Authenticator struct {
	store  Store
	logger *slog.Logger
}

// NewAuthenticator creates an authenticator over store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{
		store:  store,
		logger: slog.Default().With("component", "keys.auth"),
	}
}

// Authenticate hashes credential, looks it up and checks the key is active.
// Missing, unknown and disabled credentials all fail with ErrUnauthenticated.
// Other errors indicate the store itself failed.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Key, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	hash := HashSecret(credential)
	k, err := a.store.GetByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("key lookup failed: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(k.SecretHash), []byte(hash)) != 1 {
		return nil, ErrUnauthenticated
	}
	if !k.Active() {
		a.logger.Debug("disabled key presented", "key_id", k.ID)
		return nil, ErrUnauthenticated
	}

	return k, nil
}

// ExtractCredential returns the first credential found in the request
// headers, checked in the order of sources. A source with a Scheme only
// matches values of the form "<Scheme> <credential>".
func ExtractCredential(r *http.Request, sources []config.CredentialSource) string {
	for _, src := range sources {
		value := strings.TrimSpace(r.Header.Get(src.Header))
		if value == "" {
			continue
		}
		if src.Scheme == "" {
			return value
		}
		if len(value) > len(src.Scheme) && strings.EqualFold(value[:len(src.Scheme)], src.Scheme) && value[len(src.Scheme)] == ' ' {
			return strings.TrimSpace(value[len(src.Scheme)+1:])
		}
	}
	return ""
}

// CredentialHeaders returns the header names credentials are read from.
func CredentialHeaders(sources []config.CredentialSource) []string {
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.Header)
	}
	return out
}

type contextKey struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, k *Key) context.Context {
	return context.WithValue(ctx, contextKey{}, k)
}

// FromContext returns the authenticated key stored by WithKey.
func FromContext(ctx context.Context) (*Key, bool) {
	k, ok := ctx.Value(contextKey{}).(*Key)
	return k, ok
}
