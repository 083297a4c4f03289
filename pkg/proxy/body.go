package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

var errBodyRead = errors.New("failed to read request body")

// requestBody is an inbound request body prepared for forwarding. Bodies up
// to the replay limit are held in memory and can be sent more than once;
// larger bodies stream from the client connection exactly once.
type requestBody struct {
	buf        []byte
	stream     io.Reader
	size       int64
	replayable bool

	mu       sync.Mutex
	consumed bool
}

// readBody reads up to limit bytes of r's body. A body of at most limit
// bytes is buffered; anything longer becomes a one-shot stream whose first
// bytes are the ones already read.
func readBody(r *http.Request, limit int64) (*requestBody, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return &requestBody{replayable: true}, nil
	}
	if limit < 0 {
		limit = 0
	}

	prefix, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBodyRead, err)
	}

	if int64(len(prefix)) <= limit {
		return &requestBody{
			buf:        prefix,
			size:       int64(len(prefix)),
			replayable: true,
		}, nil
	}

	size := r.ContentLength
	if size < int64(len(prefix)) {
		size = -1
	}
	return &requestBody{
		buf:    prefix,
		stream: io.MultiReader(bytes.NewReader(prefix), r.Body),
		size:   size,
	}, nil
}

// Replayable reports whether the body can be sent again.
func (b *requestBody) Replayable() bool {
	return b.replayable
}

// Size returns the body length, or -1 when it is streamed with an unknown
// length.
func (b *requestBody) Size() int64 {
	return b.size
}

// EstimateBytes returns a best-effort length for quota estimation.
func (b *requestBody) EstimateBytes() int64 {
	if b.size >= 0 {
		return b.size
	}
	return int64(len(b.buf))
}

// open returns a reader for one upstream attempt.
func (b *requestBody) open() (io.ReadCloser, error) {
	if b.replayable {
		if len(b.buf) == 0 {
			return http.NoBody, nil
		}
		return io.NopCloser(bytes.NewReader(b.buf)), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil, ErrBodyConsumed
	}
	b.consumed = true
	return io.NopCloser(b.stream), nil
}

// Model returns the "model" field of a JSON body, read from the buffered
// bytes. Streamed bodies are not parsed.
func (b *requestBody) Model() string {
	if !b.replayable || len(b.buf) == 0 {
		return ""
	}
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(b.buf, &probe); err != nil {
		return ""
	}
	return probe.Model
}
