package backends

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"mercator-hq/relay/pkg/config"
)

// Backend is one configured upstream. It is immutable after construction;
// live health lives in the Registry.
type Backend struct {
	ID                string
	BaseURL           *url.URL
	APIKey            string
	AuthScheme        string
	Priority          int
	Default           bool
	MaxConcurrent     int
	Timeout           time.Duration
	StreamIdleTimeout time.Duration
	Headers           map[string]string
}

// FromConfig builds a Backend from its configuration entry.
func FromConfig(c config.BackendConfig) (*Backend, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("backend id cannot be empty")
	}
	u, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend %s: invalid base_url: %w", c.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend %s: base_url must be http or https", c.ID)
	}

	b := &Backend{
		ID:                c.ID,
		BaseURL:           u,
		APIKey:            c.APIKey,
		AuthScheme:        strings.ToLower(c.AuthScheme),
		Priority:          c.Priority,
		Default:           c.Default,
		MaxConcurrent:     c.MaxConcurrent,
		Timeout:           c.Timeout,
		StreamIdleTimeout: c.StreamIdleTimeout,
		Headers:           make(map[string]string, len(c.Headers)),
	}
	if b.AuthScheme == "" {
		b.AuthScheme = config.DefaultBackendAuthScheme
	}
	if b.MaxConcurrent <= 0 {
		b.MaxConcurrent = config.DefaultBackendMaxConcurrent
	}
	if b.Timeout <= 0 {
		b.Timeout = config.DefaultBackendTimeout
	}
	if b.StreamIdleTimeout <= 0 {
		b.StreamIdleTimeout = config.DefaultBackendStreamIdleTimeout
	}
	for k, v := range c.Headers {
		b.Headers[k] = v
	}
	return b, nil
}

// Target returns the upstream URL for an inbound path and raw query.
func (b *Backend) Target(path, rawQuery string) *url.URL {
	u := *b.BaseURL
	u.Path = singleJoiningSlash(b.BaseURL.Path, path)
	u.RawPath = ""
	u.RawQuery = rawQuery
	return &u
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}
