package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables. The secret name is
// upper-cased, hyphens become underscores and Prefix is prepended:
// "anthropic-key" is read from RELAY_SECRET_ANTHROPIC_KEY.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// GetSecret reads the variable for name. Empty variables count as unset.
func (p *EnvProvider) GetSecret(ctx context.Context, name string) (string, error) {
	envVar := p.envVar(name)
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("%w: %s (env var %s)", ErrNotFound, name, envVar)
	}
	return value, nil
}

// Name implements Provider.
func (p *EnvProvider) Name() string {
	return "env"
}

func (p *EnvProvider) envVar(name string) string {
	return p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
