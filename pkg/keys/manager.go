package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults are the limits given to keys created without explicit values.
type Defaults struct {
	RateLimit  int
	RateWindow time.Duration
	QuotaLimit int64
}

// CreateParams describes a key to issue. Zero limits take the defaults.
type CreateParams struct {
	Name       string
	RateLimit  int
	RateWindow time.Duration
	QuotaLimit *int64
}

// Manager is the administrative entry point into the key store, used by the
// management API and the CLI.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	defaults Defaults
}

// NewManager creates a manager that issues keys into store.
func NewManager(store Store, defaults Defaults) *Manager {
	return &Manager{
		store:    store,
		logger:   slog.Default().With("component", "keys.manager"),
		defaults: defaults,
		now:      time.Now,
	}
}

// Create issues a new key and returns it with the raw secret. The secret is
// not retrievable afterwards.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Key, string, error) {
	if p.Name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalid)
	}

	m.mu.RLock()
	defaults := m.defaults
	m.mu.RUnlock()

	rateLimit := p.RateLimit
	if rateLimit == 0 {
		rateLimit = defaults.RateLimit
	}
	window := p.RateWindow
	if window == 0 {
		window = defaults.RateWindow
	}
	quotaLimit := defaults.QuotaLimit
	if p.QuotaLimit != nil {
		quotaLimit = *p.QuotaLimit
	}

	if err := (Update{RateLimit: &rateLimit, RateWindow: &window, QuotaLimit: &quotaLimit}).Validate(); err != nil {
		return nil, "", err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	now := m.now().UTC()
	k := &Key{
		ID:         uuid.New().String(),
		Name:       p.Name,
		SecretHash: HashSecret(secret),
		Prefix:     DisplayPrefix(secret),
		RateLimit:  rateLimit,
		RateWindow: window,
		QuotaLimit: quotaLimit,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	k.syncJSON()

	if err := m.store.Create(ctx, k); err != nil {
		return nil, "", err
	}

	m.logger.Info("key created", "key_id", k.ID, "name", k.Name, "rate_limit", k.RateLimit, "quota_limit", k.QuotaLimit)
	return k, secret, nil
}

// Update applies a partial update.
func (m *Manager) Update(ctx context.Context, id string, u Update) (*Key, error) {
	if u.Empty() {
		return m.store.Get(ctx, id)
	}
	k, err := m.store.Update(ctx, id, u)
	if err != nil {
		return nil, err
	}
	m.logger.Info("key updated", "key_id", k.ID, "status", k.Status, "rate_limit", k.RateLimit, "quota_limit", k.QuotaLimit)
	return k, nil
}

// Disable marks a key disabled.
func (m *Manager) Disable(ctx context.Context, id string) (*Key, error) {
	status := StatusDisabled
	return m.Update(ctx, id, Update{Status: &status})
}

// Get returns a key by id.
func (m *Manager) Get(ctx context.Context, id string) (*Key, error) {
	return m.store.Get(ctx, id)
}

// List returns all keys.
func (m *Manager) List(ctx context.Context) ([]*Key, error) {
	return m.store.List(ctx)
}

// SetDefaults replaces the defaults for keys created from now on.
func (m *Manager) SetDefaults(d Defaults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = d
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
