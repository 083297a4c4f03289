package proxy

import (
	"net"
	"net/http"
	"strings"

	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/config"
)

// RequestIDHeader carries the request id to the client and upstream.
const RequestIDHeader = "X-Request-ID"

// hopHeaders are connection-scoped and never forwarded (RFC 9110 7.6.1).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// credentialHeaders are always stripped from upstream requests in addition
// to the configured credential sources.
var credentialHeaders = []string{"Authorization", "X-Api-Key"}

// responseHeaders are copied from the upstream response verbatim.
var responseHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Cache-Control",
	"Request-Id",
	"X-Request-Id",
	"Retry-After",
}

// responseHeaderPrefixes select upstream rate-limit and vendor headers.
var responseHeaderPrefixes = []string{
	"anthropic-",
	"x-ratelimit-",
	"openai-",
}

// outboundHeaders builds the upstream request headers from the inbound ones.
// The proxy credential is replaced by the backend credential.
func outboundHeaders(in *http.Request, b *backends.Backend, stripped []string, requestID string) http.Header {
	h := in.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}

	for _, field := range h.Values("Connection") {
		for _, name := range strings.Split(field, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
	for _, name := range credentialHeaders {
		h.Del(name)
	}
	for _, name := range stripped {
		h.Del(name)
	}

	// The transport negotiates and decodes compression itself so the usage
	// meter sees plain bodies.
	h.Del("Accept-Encoding")

	switch b.AuthScheme {
	case config.AuthSchemeBearer:
		h.Set("Authorization", "Bearer "+b.APIKey)
	default:
		h.Set("X-Api-Key", b.APIKey)
	}

	for name, value := range b.Headers {
		if h.Get(name) == "" {
			h.Set(name, value)
		}
	}

	if requestID != "" {
		h.Set(RequestIDHeader, requestID)
	}

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := h.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}

	return h
}

// copyResponseHeaders copies allow-listed upstream headers into dst.
// Headers the relay already set are kept.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if !allowedResponseHeader(name) {
			continue
		}
		if _, exists := dst[name]; exists {
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
}

func allowedResponseHeader(name string) bool {
	for _, h := range responseHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	lower := strings.ToLower(name)
	for _, p := range responseHeaderPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
