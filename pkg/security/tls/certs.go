package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// expiryWarning is how close to NotAfter a certificate starts being logged
// as expiring.
const expiryWarning = 30 * 24 * time.Hour

// ValidateCertificate checks that the leaf of cert is currently valid.
func ValidateCertificate(cert *tls.Certificate) error {
	leaf, err := Leaf(cert)
	if err != nil {
		return err
	}
	return validateAt(leaf, time.Now())
}

// Leaf parses the first certificate of the chain.
func Leaf(cert *tls.Certificate) (*x509.Certificate, error) {
	if cert == nil {
		return nil, errors.New("certificate is nil")
	}
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return leaf, nil
}

func validateAt(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// CertificateInfo is a printable summary of a certificate.
type CertificateInfo struct {
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	DNSNames      []string  `json:"dns_names,omitempty"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	DaysRemaining int       `json:"days_remaining"`
	ExpiringSoon  bool      `json:"expiring_soon"`
}

// Describe summarizes cert as of now.
func Describe(cert *x509.Certificate, now time.Time) *CertificateInfo {
	left := cert.NotAfter.Sub(now)
	return &CertificateInfo{
		Subject:       cert.Subject.CommonName,
		Issuer:        cert.Issuer.CommonName,
		DNSNames:      cert.DNSNames,
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
		DaysRemaining: int(left.Hours() / 24),
		ExpiringSoon:  left < expiryWarning,
	}
}
