package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets from one file per secret in a directory, the
// layout of a Kubernetes secret volume. Files are re-read on every call so
// a rotated secret is seen by the next configuration reload.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider over dir, which must exist.
func NewFileProvider(dir string) (*FileProvider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secrets dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets dir is not a directory: %s", dir)
	}
	return &FileProvider{dir: abs}, nil
}

// GetSecret reads <dir>/<name>. The file must be a regular file with mode
// 0600 or 0400; surrounding whitespace is trimmed.
func (p *FileProvider) GetSecret(ctx context.Context, name string) (string, error) {
	path := filepath.Join(p.dir, name)
	if !strings.HasPrefix(path, p.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid secret name %q", name)
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret %s is not a regular file", name)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return "", fmt.Errorf("insecure permissions on secret %s: %o (expected 0600 or 0400)", name, mode)
	}

	// #nosec G304 - path is confined to dir above
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Name implements Provider.
func (p *FileProvider) Name() string {
	return "file"
}
