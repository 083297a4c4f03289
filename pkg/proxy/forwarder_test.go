package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/pkg/backends"
)

func backendsOf(list ...*backends.Backend) []*backends.Backend {
	return list
}

// recordingHealth counts health reports.
type recordingHealth struct {
	mu        sync.Mutex
	successes map[string]int
	failures  map[string]int
	inFlight  map[string]int
}

func newRecordingHealth() *recordingHealth {
	return &recordingHealth{
		successes: map[string]int{},
		failures:  map[string]int{},
		inFlight:  map[string]int{},
	}
}

func (h *recordingHealth) ReportSuccess(id string) {
	h.mu.Lock()
	h.successes[id]++
	h.mu.Unlock()
}

func (h *recordingHealth) ReportFailure(id string, err error) {
	h.mu.Lock()
	h.failures[id]++
	h.mu.Unlock()
}

func (h *recordingHealth) Acquire(id string) func() {
	h.mu.Lock()
	h.inFlight[id]++
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.inFlight[id]--
		h.mu.Unlock()
	}
}

func (h *recordingHealth) counts(id string) (success, failure, inFlight int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.successes[id], h.failures[id], h.inFlight[id]
}

func newTestRequest(t *testing.T, ctx context.Context, body string, limit int64) *Request {
	t.Helper()
	in := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)).WithContext(ctx)
	rb, err := readBody(in, limit)
	if err != nil {
		t.Fatalf("readBody() error = %v", err)
	}
	return &Request{Inbound: in, Body: rb, RequestID: "req-1", Attempt: 1}
}

// ============ Forwarder Tests ============

func TestForwarder_Success(t *testing.T) {
	upstream := jsonUpstream(t, 4, 6, nil)
	b := testBackend(t, upstream.URL, nil)
	health := newRecordingHealth()
	f := NewForwarder(backendsOf(b), health, ForwarderOptions{})
	defer f.Close()

	w := httptest.NewRecorder()
	out, err := f.Forward(context.Background(), w, newTestRequest(t, context.Background(), testBody, 1024), b)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if !out.Sent || !out.Committed || out.StatusCode != http.StatusOK {
		t.Errorf("outcome = %+v", out)
	}
	if !out.Usage.Known || out.Usage.InputTokens != 4 || out.Usage.OutputTokens != 6 {
		t.Errorf("usage = %+v", out.Usage)
	}
	if out.BytesOut != int64(w.Body.Len()) {
		t.Errorf("BytesOut = %d, body = %d", out.BytesOut, w.Body.Len())
	}

	s, fl, inflight := health.counts(b.ID)
	if s != 1 || fl != 0 || inflight != 0 {
		t.Errorf("health = %d successes, %d failures, %d in flight", s, fl, inflight)
	}
}

func TestForwarder_ClientDisconnectMidStream(t *testing.T) {
	started := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseEvents[0])
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer upstream.Close()

	b := testBackend(t, upstream.URL, nil)
	health := newRecordingHealth()
	f := NewForwarder(backendsOf(b), health, ForwarderOptions{})
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out, err := f.Forward(ctx, httptest.NewRecorder(), newTestRequest(t, ctx, testBody, 1024), b)
	if !errors.Is(err, errClientGone) {
		t.Fatalf("Forward() error = %v, want client gone", err)
	}
	if !out.Committed {
		t.Error("outcome should be committed")
	}
	if !out.Usage.Known || out.Usage.InputTokens != 25 {
		t.Errorf("partial usage = %+v", out.Usage)
	}

	if s, fl, _ := health.counts(b.ID); s != 0 || fl != 0 {
		t.Errorf("client disconnect must not be reported, got %d successes and %d failures", s, fl)
	}
}

func TestForwarder_StreamedBodyIsOneShot(t *testing.T) {
	upstream := jsonUpstream(t, 1, 1, nil)
	b := testBackend(t, upstream.URL, nil)
	f := NewForwarder(backendsOf(b), newRecordingHealth(), ForwarderOptions{})
	defer f.Close()

	req := newTestRequest(t, context.Background(), testBody, 4)
	if req.Body.Replayable() {
		t.Fatal("body should be streamed")
	}

	if _, err := f.Forward(context.Background(), httptest.NewRecorder(), req, b); err != nil {
		t.Fatalf("first Forward() error = %v", err)
	}
	if _, err := f.Forward(context.Background(), httptest.NewRecorder(), req, b); !errors.Is(err, ErrBodyConsumed) {
		t.Errorf("second Forward() error = %v, want ErrBodyConsumed", err)
	}
}

func TestForwarder_Non5xxErrorIsSuccess(t *testing.T) {
	upstream := statusUpstream(t, http.StatusBadRequest, nil)
	b := testBackend(t, upstream.URL, nil)
	health := newRecordingHealth()
	f := NewForwarder(backendsOf(b), health, ForwarderOptions{})
	defer f.Close()

	w := httptest.NewRecorder()
	out, err := f.Forward(context.Background(), w, newTestRequest(t, context.Background(), testBody, 1024), b)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if out.StatusCode != http.StatusBadRequest || w.Code != http.StatusBadRequest {
		t.Errorf("status = %d / %d, want 400 passed through", out.StatusCode, w.Code)
	}
	if s, fl, _ := health.counts(b.ID); s != 1 || fl != 0 {
		t.Errorf("a 4xx is a healthy backend, got %d successes and %d failures", s, fl)
	}
}
