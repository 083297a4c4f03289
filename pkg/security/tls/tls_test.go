package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"
)

// writeCert writes a self-signed certificate valid in [notBefore, notAfter)
// and returns the cert and key paths.
func writeCert(t *testing.T, dir, cn string, notBefore, notAfter time.Time) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}

	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func commonName(t *testing.T, cert *tls.Certificate) string {
	t.Helper()
	leaf, err := Leaf(cert)
	if err != nil {
		t.Fatalf("Leaf() error = %v", err)
	}
	return leaf.Subject.CommonName
}

// ============ ServerConfig Tests ============

func TestServerConfig_Disabled(t *testing.T) {
	tlsConfig, reloader, err := ServerConfig(config.TLSConfig{})
	if err != nil || tlsConfig != nil || reloader != nil {
		t.Errorf("ServerConfig() = %v, %v, %v, want all nil", tlsConfig, reloader, err)
	}
}

func TestServerConfig(t *testing.T) {
	now := time.Now()
	certFile, keyFile := writeCert(t, t.TempDir(), "relay.local", now.Add(-time.Hour), now.Add(90*24*time.Hour))

	tests := []struct {
		name        string
		cfg         config.TLSConfig
		wantVersion uint16
		wantErr     bool
	}{
		{
			name:        "default version",
			cfg:         config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile},
			wantVersion: tls.VersionTLS13,
		},
		{
			name:        "tls 1.2",
			cfg:         config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.2"},
			wantVersion: tls.VersionTLS12,
		},
		{
			name:    "unsupported version",
			cfg:     config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.1"},
			wantErr: true,
		},
		{
			name:    "missing key file",
			cfg:     config.TLSConfig{Enabled: true, CertFile: certFile},
			wantErr: true,
		},
		{
			name:    "nonexistent files",
			cfg:     config.TLSConfig{Enabled: true, CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tlsConfig, reloader, err := ServerConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ServerConfig() error = %v", err)
			}
			if tlsConfig.MinVersion != tt.wantVersion {
				t.Errorf("MinVersion = %x, want %x", tlsConfig.MinVersion, tt.wantVersion)
			}
			cert, err := tlsConfig.GetCertificate(&tls.ClientHelloInfo{})
			if err != nil || cert == nil {
				t.Fatalf("GetCertificate() = %v, %v", cert, err)
			}
			if reloader == nil {
				t.Error("reloader should be returned")
			}
		})
	}
}

func TestServerConfig_ExpiredCertificate(t *testing.T) {
	now := time.Now()
	certFile, keyFile := writeCert(t, t.TempDir(), "old.local", now.Add(-48*time.Hour), now.Add(-24*time.Hour))

	if _, _, err := ServerConfig(config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}); err == nil {
		t.Error("expected error for an expired certificate")
	}
}

// ============ Reloader Tests ============

func TestCertificateReloader_PicksUpRenewal(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	certFile, keyFile := writeCert(t, dir, "first.local", now.Add(-time.Hour), now.Add(90*24*time.Hour))

	r := NewCertificateReloader(certFile, keyFile, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if cn := commonName(t, r.GetCertificate()); cn != "first.local" {
		t.Fatalf("CommonName = %q, want first.local", cn)
	}

	writeCert(t, dir, "second.local", now.Add(-time.Hour), now.Add(90*24*time.Hour))
	// Make sure the modification time moves forward on coarse filesystems.
	future := time.Now().Add(time.Second)
	os.Chtimes(certFile, future, future)
	os.Chtimes(keyFile, future, future)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if commonName(t, r.GetCertificate()) == "second.local" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("renewed certificate was not loaded")
}

func TestCertificateReloader_KeepsCertificateOnBadFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	certFile, keyFile := writeCert(t, dir, "good.local", now.Add(-time.Hour), now.Add(90*24*time.Hour))

	r := NewCertificateReloader(certFile, keyFile, 0)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(certFile, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.reload(); err == nil {
		t.Fatal("reload() of a corrupt file should fail")
	}
	if cn := commonName(t, r.GetCertificate()); cn != "good.local" {
		t.Errorf("CommonName = %q, want the previous certificate", cn)
	}
}

// ============ Certificate Tests ============

func TestDescribe(t *testing.T) {
	now := time.Now()
	cert := &x509.Certificate{
		Subject:   pkix.Name{CommonName: "relay.local"},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(10 * 24 * time.Hour),
	}

	info := Describe(cert, now)
	if !info.ExpiringSoon {
		t.Error("a certificate with 10 days left should be expiring soon")
	}
	if info.DaysRemaining != 10 {
		t.Errorf("DaysRemaining = %d, want 10", info.DaysRemaining)
	}

	cert.NotAfter = now.Add(365 * 24 * time.Hour)
	if Describe(cert, now).ExpiringSoon {
		t.Error("a certificate with a year left is not expiring soon")
	}
}

func TestLeaf_Empty(t *testing.T) {
	if _, err := Leaf(nil); err == nil {
		t.Error("Leaf(nil) should fail")
	}
	if _, err := Leaf(&tls.Certificate{}); err == nil {
		t.Error("Leaf() of an empty chain should fail")
	}
}
