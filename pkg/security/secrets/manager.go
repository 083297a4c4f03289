package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"mercator-hq/relay/pkg/config"
)

// secretRef matches ${secret:name}.
var secretRef = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver replaces secret references using an ordered list of providers.
// The first provider holding a secret wins.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver creates a resolver over providers.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		logger:    slog.Default().With("component", "security.secrets"),
	}
}

// NewResolverFromConfig builds the file provider (when a directory is set)
// followed by the environment provider.
func NewResolverFromConfig(cfg config.SecretsConfig) (*Resolver, error) {
	var providers []Provider
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	providers = append(providers, NewEnvProvider(cfg.EnvPrefix))
	return NewResolver(providers...), nil
}

// GetSecret returns the value of name from the first provider that has it.
func (r *Resolver) GetSecret(ctx context.Context, name string) (string, error) {
	for _, p := range r.providers {
		value, err := p.GetSecret(ctx, name)
		if err == nil {
			r.logger.Debug("secret resolved", "name", redactName(name), "provider", p.Name())
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%s provider: %w", p.Name(), err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} in input. Strings without references
// are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	var errs []error
	out := secretRef.ReplaceAllStringFunc(input, func(match string) string {
		name := secretRef.FindStringSubmatch(match)[1]
		value, err := r.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return value
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// ResolveConfig resolves the references in every secret-bearing field of
// cfg in place: backend API keys, the admin token and the Redis password.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	var errs []error
	resolve := func(field string, dst *string) {
		if *dst == "" {
			return
		}
		v, err := r.Resolve(ctx, *dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = v
	}

	for i := range cfg.Backends {
		resolve(fmt.Sprintf("backends[%s].api_key", cfg.Backends[i].ID), &cfg.Backends[i].APIKey)
	}
	resolve("management.admin_token", &cfg.Management.AdminToken)
	resolve("limits.rate_limit.redis.password", &cfg.Limits.RateLimit.Redis.Password)

	return errors.Join(errs...)
}

func redactName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
