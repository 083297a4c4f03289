package keys

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a proxy key.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDisabled
}

var (
	// ErrNotFound is returned when no key matches an id or hash.
	ErrNotFound = errors.New("key not found")

	// ErrUnauthenticated is returned for a missing, unknown or disabled
	// credential. Callers must not distinguish the three to clients.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrDuplicate is returned when a secret hash collides with an existing key.
	ErrDuplicate = errors.New("duplicate key")

	// ErrInvalid is wrapped by every validation failure of key parameters.
	ErrInvalid = errors.New("invalid key parameters")
)

// Key is a proxy API key issued to a downstream client. The raw secret is
// never stored; only its SHA-256 hash and a short display prefix are.
type Key struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	SecretHash string        `json:"-"`
	Prefix     string        `json:"prefix"`
	RateLimit  int           `json:"rate_limit"`
	RateWindow time.Duration `json:"-"`
	QuotaLimit int64         `json:"quota_limit"`
	Status     Status        `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`

	// RateWindowSeconds mirrors RateWindow for JSON clients.
	RateWindowSeconds int64 `json:"rate_window_seconds"`
}

// Active reports whether the key may be used.
func (k *Key) Active() bool {
	return k.Status == StatusActive
}

// Clone returns a copy safe to hand to another goroutine.
func (k *Key) Clone() *Key {
	c := *k
	return &c
}

func (k *Key) syncJSON() {
	k.RateWindowSeconds = int64(k.RateWindow / time.Second)
}

// Update is a partial modification of a key. Nil fields are left unchanged.
type Update struct {
	Name       *string
	RateLimit  *int
	RateWindow *time.Duration
	QuotaLimit *int64
	Status     *Status
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Name == nil && u.RateLimit == nil && u.RateWindow == nil && u.QuotaLimit == nil && u.Status == nil
}

// Validate checks the fields that are set.
func (u Update) Validate() error {
	if u.RateLimit != nil && *u.RateLimit < 1 {
		return fmt.Errorf("%w: rate limit must be positive, got %d", ErrInvalid, *u.RateLimit)
	}
	if u.RateWindow != nil && *u.RateWindow < time.Second {
		return fmt.Errorf("%w: rate window must be at least 1s, got %v", ErrInvalid, *u.RateWindow)
	}
	if u.QuotaLimit != nil && *u.QuotaLimit < 0 {
		return fmt.Errorf("%w: quota limit must be non-negative, got %d", ErrInvalid, *u.QuotaLimit)
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, *u.Status)
	}
	return nil
}

// Apply copies the set fields onto k and bumps UpdatedAt.
func (u Update) Apply(k *Key, now time.Time) {
	if u.Name != nil {
		k.Name = *u.Name
	}
	if u.RateLimit != nil {
		k.RateLimit = *u.RateLimit
	}
	if u.RateWindow != nil {
		k.RateWindow = *u.RateWindow
	}
	if u.QuotaLimit != nil {
		k.QuotaLimit = *u.QuotaLimit
	}
	if u.Status != nil {
		k.Status = *u.Status
	}
	k.UpdatedAt = now
	k.syncJSON()
}
