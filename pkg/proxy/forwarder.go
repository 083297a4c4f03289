package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/limits/quota"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// errClientGone marks an attempt abandoned because the client disconnected.
var errClientGone = errors.New("client disconnected")

// Attempt results used for metrics.
const (
	resultSuccess   = "success"
	resultError     = "error"
	resultTimeout   = "timeout"
	resultStatus5xx = "status_5xx"
	resultCanceled  = "canceled"
)

// HealthTracker receives attempt outcomes and counts in-flight requests.
// *backends.Registry implements it.
type HealthTracker interface {
	backends.HealthReporter
	Acquire(id string) func()
}

// Request is one upstream attempt.
type Request struct {
	// Inbound is the client request. Its method, path, query and headers are
	// forwarded; its context bounds the attempt.
	Inbound *http.Request

	Body      *requestBody
	RequestID string
	Attempt   int

	// Retryable means the caller may retry elsewhere, so a 5xx response is
	// discarded instead of being streamed to the client.
	Retryable bool
}

// Outcome describes an upstream attempt.
type Outcome struct {
	Backend    string
	StatusCode int

	// Sent is set once the request was handed to the upstream transport.
	Sent bool

	// Committed is set once response headers were written to the client.
	// A committed attempt can never be retried.
	Committed bool

	BytesOut int64
	Usage    quota.Usage
	Model    string

	// Latency is the time to response headers.
	Latency time.Duration
}

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	// QueueTimeout is how long to wait for a connection slot.
	QueueTimeout time.Duration

	// StrippedHeaders are inbound credential headers never sent upstream.
	StrippedHeaders []string

	Metrics *metrics.Collector
}

// Forwarder sends requests to backends over pooled connections and streams
// responses back. It never retries; the pipeline decides on failover.
type Forwarder struct {
	pools        map[string]*pool
	health       HealthTracker
	queueTimeout time.Duration
	stripped     []string
	metrics      *metrics.Collector
	buffers      sync.Pool
	logger       *slog.Logger
}

// pool is the connection pool and concurrency cap of one backend.
type pool struct {
	transport *http.Transport
	slots     chan struct{}
}

// NewForwarder creates a forwarder with one pool per backend.
func NewForwarder(list []*backends.Backend, health HealthTracker, opts ForwarderOptions) *Forwarder {
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = config.DefaultQueueTimeout
	}

	f := &Forwarder{
		pools:        make(map[string]*pool, len(list)),
		health:       health,
		queueTimeout: opts.QueueTimeout,
		stripped:     opts.StrippedHeaders,
		metrics:      opts.Metrics,
		logger:       slog.Default().With("component", "proxy.forwarder"),
	}
	f.buffers.New = func() any {
		b := make([]byte, 32<<10)
		return &b
	}

	for _, b := range list {
		f.pools[b.ID] = &pool{
			transport: newTransport(b),
			slots:     make(chan struct{}, b.MaxConcurrent),
		}
	}
	return f
}

func newTransport(b *backends.Backend) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          b.MaxConcurrent,
		MaxIdleConnsPerHost:   b.MaxConcurrent,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// acquire takes a connection slot, waiting at most timeout.
func (p *pool) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrPoolSaturated
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errClientGone, ctx.Err())
	}
}

func (p *pool) release() {
	<-p.slots
}

// Close closes idle upstream connections.
func (f *Forwarder) Close() {
	for _, p := range f.pools {
		p.transport.CloseIdleConnections()
	}
}

// Forward performs one attempt against b and, unless the attempt fails
// before a response is committed, streams the response to w.
//
// Timeouts, connection failures and 5xx responses are reported to the
// health tracker as failures and returned as *UpstreamError. Client
// disconnects are not reported.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, req *Request, b *backends.Backend) (*Outcome, error) {
	out := &Outcome{Backend: b.ID}

	p, ok := f.pools[b.ID]
	if !ok {
		return out, fmt.Errorf("%w: %s", backends.ErrUnknownBackend, b.ID)
	}

	if err := p.acquire(ctx, f.queueTimeout); err != nil {
		if errors.Is(err, ErrPoolSaturated) {
			f.metrics.RecordPoolSaturated(b.ID)
			err = fmt.Errorf("%w: backend %s", ErrPoolSaturated, b.ID)
		}
		return out, err
	}
	defer p.release()

	done := f.health.Acquire(b.ID)
	defer done()
	f.metrics.AddBackendInFlight(b.ID, 1)
	defer f.metrics.AddBackendInFlight(b.ID, -1)

	ctx, span := tracing.Global().Start(ctx, "relay.upstream", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	tracing.SetAttemptAttributes(span, b.ID, req.Attempt)

	err := f.forward(ctx, w, req, b, p, out)
	if out.StatusCode != 0 {
		span.SetAttributes(attribute.Int(tracing.AttrHTTPStatus, out.StatusCode))
	}
	tracing.SetError(span, err)
	return out, err
}

func (f *Forwarder) forward(ctx context.Context, w http.ResponseWriter, req *Request, b *backends.Backend, p *pool, out *Outcome) error {
	start := time.Now()

	body, err := req.Body.open()
	if err != nil {
		return err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := req.Inbound
	target := b.Target(in.URL.Path, in.URL.RawQuery)
	outReq, err := http.NewRequestWithContext(attemptCtx, in.Method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	outReq.ContentLength = req.Body.Size()
	outReq.Header = outboundHeaders(in, b, f.stripped, req.RequestID)
	tracing.Inject(attemptCtx, outReq.Header)

	var headerTimedOut atomic.Bool
	headerTimer := time.AfterFunc(b.Timeout, func() {
		headerTimedOut.Store(true)
		cancel()
	})
	out.Sent = true
	resp, err := p.transport.RoundTrip(outReq)
	if !headerTimer.Stop() && headerTimedOut.Load() && err == nil {
		// Headers raced the deadline; the attempt context is already gone.
		resp.Body.Close()
		err = context.DeadlineExceeded
	}
	out.Latency = time.Since(start)

	if err != nil {
		switch {
		case headerTimedOut.Load():
			return f.fail(ctx, b, out, &UpstreamError{
				Backend: b.ID,
				Timeout: true,
				Err:     fmt.Errorf("no response headers within %s", b.Timeout),
			}, resultTimeout)
		case ctx.Err() != nil:
			f.metrics.RecordUpstreamAttempt(b.ID, resultCanceled, out.Latency)
			return fmt.Errorf("%w: %w", errClientGone, ctx.Err())
		default:
			timeout := isTimeout(err)
			result := resultError
			if timeout {
				result = resultTimeout
			}
			return f.fail(ctx, b, out, &UpstreamError{Backend: b.ID, Timeout: timeout, Err: err}, result)
		}
	}

	out.StatusCode = resp.StatusCode

	if resp.StatusCode >= http.StatusInternalServerError {
		ue := &UpstreamError{Backend: b.ID, StatusCode: resp.StatusCode}
		f.fail(ctx, b, out, ue, resultStatus5xx)
		if req.Retryable {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
			return ue
		}
		f.stream(w, resp, b, cancel, out)
		return ue
	}

	readErr, idle, writeErr := f.stream(w, resp, b, cancel, out)
	switch {
	case idle:
		return f.fail(ctx, b, out, &UpstreamError{
			Backend:    b.ID,
			StatusCode: resp.StatusCode,
			Timeout:    true,
			Err:        fmt.Errorf("no response data within %s", b.StreamIdleTimeout),
		}, resultTimeout)

	case writeErr != nil, readErr != nil && ctx.Err() != nil:
		f.metrics.RecordUpstreamAttempt(b.ID, resultCanceled, out.Latency)
		cause := writeErr
		if cause == nil {
			cause = ctx.Err()
		}
		return fmt.Errorf("%w: %w", errClientGone, cause)

	case readErr != nil:
		return f.fail(ctx, b, out, &UpstreamError{
			Backend:    b.ID,
			StatusCode: resp.StatusCode,
			Err:        readErr,
		}, resultError)
	}

	f.health.ReportSuccess(b.ID)
	f.metrics.RecordUpstreamAttempt(b.ID, resultSuccess, out.Latency)
	return nil
}

// stream commits the response to w and copies the body with a flush after
// every read. The stream idle timeout bounds each read from upstream.
func (f *Forwarder) stream(w http.ResponseWriter, resp *http.Response, b *backends.Backend, cancel context.CancelFunc, out *Outcome) (readErr error, idle bool, writeErr error) {
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	out.Committed = true

	meter := NewMeter(resp.Header.Get("Content-Type"))
	rc := http.NewResponseController(w)

	var idleFired atomic.Bool
	timer := time.AfterFunc(b.StreamIdleTimeout, func() {
		idleFired.Store(true)
		cancel()
	})
	defer timer.Stop()

	bufp := f.buffers.Get().(*[]byte)
	defer f.buffers.Put(bufp)
	buf := *bufp

	for {
		timer.Reset(b.StreamIdleTimeout)
		n, err := resp.Body.Read(buf)
		timer.Stop()

		if n > 0 {
			meter.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				writeErr = werr
				break
			}
			out.BytesOut += int64(n)
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				writeErr = ferr
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}

	out.Usage, out.Model = meter.Result()
	return readErr, readErr != nil && idleFired.Load(), writeErr
}

// fail reports an upstream failure and returns it.
func (f *Forwarder) fail(ctx context.Context, b *backends.Backend, out *Outcome, ue *UpstreamError, result string) error {
	f.health.ReportFailure(b.ID, ue)
	f.metrics.RecordUpstreamAttempt(b.ID, result, out.Latency)
	f.logger.WarnContext(ctx, "upstream attempt failed",
		"backend", b.ID,
		"status", ue.StatusCode,
		"timeout", ue.Timeout,
		"committed", out.Committed,
		"error", ue,
	)
	return ue
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
