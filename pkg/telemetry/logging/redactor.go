package logging

import (
	"regexp"
	"strings"
)

// Redactor masks credentials in log values.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// sensitiveKeys are attribute names whose values are always masked.
var sensitiveKeys = []string{
	"secret", "token", "api_key", "apikey",
	"authorization", "password", "credential",
}

// NewRedactor creates a redactor for proxy secrets, upstream API keys and
// bearer tokens.
func NewRedactor() *Redactor {
	defs := []struct {
		regex       string
		replacement string
	}{
		// Proxy-issued secrets.
		{`sk-rly-[A-Za-z0-9]+`, "sk-rly-***"},
		// Upstream provider keys such as sk-ant-api03-...
		{`sk-[A-Za-z0-9][A-Za-z0-9_\-]{7,}`, "sk-***"},
		{`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`, "Bearer ***"},
	}

	r := &Redactor{}
	for _, d := range defs {
		r.patterns = append(r.patterns, &redactPattern{
			regex:       regexp.MustCompile(d.regex),
			replacement: d.replacement,
		})
	}
	return r
}

// RedactString masks every credential found in value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// IsSensitiveKey reports whether an attribute name holds a credential.
func (r *Redactor) IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lowerKey, s) {
			return true
		}
	}
	return false
}

// RedactAPIKey masks a credential, keeping only a short prefix.
func RedactAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "***"
}
