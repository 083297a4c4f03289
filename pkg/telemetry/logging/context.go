package logging

import (
	"context"
	"sync"
)

// Fields are request-scoped log fields. They are stored by pointer so that
// a value set deep in the pipeline, such as the key id after
// authentication, is visible to the request log line written by outer
// middleware.
type Fields struct {
	mu        sync.RWMutex
	requestID string
	keyID     string
	backend   string
}

type fieldsKey struct{}

// WithFields returns a context carrying a new Fields holder for requestID.
func WithFields(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, fieldsKey{}, &Fields{requestID: requestID})
}

func fieldsFrom(ctx context.Context) *Fields {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey{}).(*Fields)
	return f
}

// GetRequestID returns the request id stored by WithFields.
func GetRequestID(ctx context.Context) string {
	f := fieldsFrom(ctx)
	if f == nil {
		return ""
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.requestID
}

// SetKeyID records the authenticated key on the request.
func SetKeyID(ctx context.Context, keyID string) {
	if f := fieldsFrom(ctx); f != nil {
		f.mu.Lock()
		f.keyID = keyID
		f.mu.Unlock()
	}
}

// GetKeyID returns the key recorded by SetKeyID.
func GetKeyID(ctx context.Context) string {
	f := fieldsFrom(ctx)
	if f == nil {
		return ""
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.keyID
}

// SetBackend records the backend that served the request.
func SetBackend(ctx context.Context, backend string) {
	if f := fieldsFrom(ctx); f != nil {
		f.mu.Lock()
		f.backend = backend
		f.mu.Unlock()
	}
}

// GetBackend returns the backend recorded by SetBackend.
func GetBackend(ctx context.Context) string {
	f := fieldsFrom(ctx)
	if f == nil {
		return ""
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.backend
}
