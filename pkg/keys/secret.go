package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SecretPrefix marks every secret issued by the proxy.
	SecretPrefix = "sk-rly-"

	secretRandomLen = 32
	displayLen      = 12
	base62          = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// GenerateSecret returns a new random secret of the form sk-rly-<32 base62>.
func GenerateSecret() (string, error) {
	out := make([]byte, 0, secretRandomLen)
	buf := make([]byte, 64)
	for len(out) < secretRandomLen {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			// 248 = 62*4
			if b >= 248 {
				continue
			}
			out = append(out, base62[b%62])
			if len(out) == secretRandomLen {
				break
			}
		}
	}
	return SecretPrefix + string(out), nil
}

// HashSecret returns the hex SHA-256 of a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the leading characters of a secret shown in listings.
func DisplayPrefix(secret string) string {
	if len(secret) <= displayLen {
		return secret
	}
	return secret[:displayLen]
}

// LooksLikeSecret reports whether s has the shape of a proxy secret.
func LooksLikeSecret(s string) bool {
	return strings.HasPrefix(s, SecretPrefix) && len(s) == len(SecretPrefix)+secretRandomLen
}
