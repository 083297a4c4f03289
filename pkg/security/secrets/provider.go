package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a provider that does not hold the secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets by name.
type Provider interface {
	// GetSecret returns the value of name, or an error wrapping ErrNotFound.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name identifies the provider in logs ("env", "file").
	Name() string
}
