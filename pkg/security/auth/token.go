package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync/atomic"
)

var (
	// ErrMissingToken is returned when the request carries no token.
	ErrMissingToken = errors.New("missing admin token")

	// ErrInvalidToken is returned when the token does not match.
	ErrInvalidToken = errors.New("invalid admin token")

	// ErrNoTokenConfigured is returned by every check while no token is set.
	ErrNoTokenConfigured = errors.New("admin token not configured")
)

// TokenValidator checks a static bearer token. The token can be replaced at
// runtime, so a configuration reload rotates it without a restart.
type TokenValidator struct {
	// digest of the current token; nil when none is configured
	digest atomic.Pointer[[sha256.Size]byte]
}

// NewTokenValidator creates a validator for token.
func NewTokenValidator(token string) *TokenValidator {
	v := &TokenValidator{}
	v.SetToken(token)
	return v
}

// SetToken replaces the accepted token. An empty token rejects everything.
func (v *TokenValidator) SetToken(token string) {
	if token == "" {
		v.digest.Store(nil)
		return
	}
	d := sha256.Sum256([]byte(token))
	v.digest.Store(&d)
}

// Validate compares token with the configured one in constant time.
func (v *TokenValidator) Validate(token string) error {
	want := v.digest.Load()
	if want == nil {
		return ErrNoTokenConfigured
	}
	if token == "" {
		return ErrMissingToken
	}
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}
