package tls

import (
	"crypto/tls"
	"errors"
	"fmt"

	"mercator-hq/relay/pkg/config"
)

// ServerConfig builds the listener TLS configuration from cfg. The returned
// reloader serves the certificate and must be started by the caller to pick
// up renewed files. Both are nil when TLS is disabled.
func ServerConfig(cfg config.TLSConfig) (*tls.Config, *CertificateReloader, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, nil, errors.New("cert_file and key_file are required when TLS is enabled")
	}

	minVersion, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, nil, err
	}

	reloader := NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval)
	if err := reloader.reload(); err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	// #nosec G402 - MinVersion is 1.2 or 1.3
	return &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: reloader.GetCertificateFunc(),
		NextProtos:     []string{"h2", "http/1.1"},
	}, reloader, nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}
