package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/limits/quota"
	"mercator-hq/relay/pkg/limits/ratelimit"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/usage"
)

var errMissingCredential = errors.New("missing credential")

// statusClientClosed is recorded when the client went away before a
// response was written.
const statusClientClosed = 499

// PipelineConfig holds the stages of a Pipeline. Recorder, Pricing and
// Metrics are optional.
type PipelineConfig struct {
	Authenticator     *keys.Authenticator
	CredentialSources []config.CredentialSource
	Limiter           ratelimit.Limiter
	Quota             *quota.Tracker
	Selector          *backends.Selector
	Forwarder         *Forwarder
	Recorder          *usage.Recorder
	Pricing           *usage.Pricing
	Metrics           *metrics.Collector

	// MaxReplayBytes is the largest body kept in memory for failover.
	MaxReplayBytes int64

	// Failover allows one retry on another backend.
	Failover bool
}

// Pipeline is the proxy request handler: authenticate, rate limit, reserve
// quota, select a backend, forward, then settle quota and record usage.
type Pipeline struct {
	auth      *keys.Authenticator
	sources   []config.CredentialSource
	limiter   ratelimit.Limiter
	quota     *quota.Tracker
	selector  *backends.Selector
	forwarder *Forwarder
	recorder  *usage.Recorder
	pricing   *usage.Pricing
	metrics   *metrics.Collector
	maxReplay int64
	failover  bool
	logger    *slog.Logger
}

// NewPipeline validates cfg and returns the handler.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	switch {
	case cfg.Authenticator == nil:
		return nil, errors.New("pipeline: authenticator is required")
	case cfg.Limiter == nil:
		return nil, errors.New("pipeline: rate limiter is required")
	case cfg.Quota == nil:
		return nil, errors.New("pipeline: quota tracker is required")
	case cfg.Selector == nil:
		return nil, errors.New("pipeline: backend selector is required")
	case cfg.Forwarder == nil:
		return nil, errors.New("pipeline: forwarder is required")
	}
	if cfg.Pricing == nil {
		cfg.Pricing = usage.NewPricing(nil)
	}
	if cfg.MaxReplayBytes <= 0 {
		cfg.MaxReplayBytes = config.DefaultMaxReplayBytes
	}

	return &Pipeline{
		auth:      cfg.Authenticator,
		sources:   cfg.CredentialSources,
		limiter:   cfg.Limiter,
		quota:     cfg.Quota,
		selector:  cfg.Selector,
		forwarder: cfg.Forwarder,
		recorder:  cfg.Recorder,
		pricing:   cfg.Pricing,
		metrics:   cfg.Metrics,
		maxReplay: cfg.MaxReplayBytes,
		failover:  cfg.Failover,
		logger:    slog.Default().With("component", "proxy.pipeline"),
	}, nil
}

// exchange is the state of one inbound request as it moves through the
// pipeline.
type exchange struct {
	rec     *usage.Record
	outcome *Outcome
	usage   quota.Usage
	forward bool // a backend attempt was made
}

// ServeHTTP runs the pipeline. Exactly one usage record is produced per
// request, whatever the outcome.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := middleware.GetStartTime(r.Context())
	if start.IsZero() {
		start = time.Now()
	}

	ctx := tracing.Extract(r.Context(), r.Header)
	ctx, span := tracing.Global().Start(ctx, "relay.request", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	r = r.WithContext(ctx)

	requestID := logging.GetRequestID(ctx)
	tracing.SetRequestAttributes(span, requestID, r.Method, r.URL.Path)

	x := &exchange{
		rec: &usage.Record{
			RequestID: requestID,
			Timestamp: start,
			Method:    r.Method,
			Path:      r.URL.Path,
		},
	}

	err := p.handle(ctx, w, r, x)
	committed := x.outcome != nil && x.outcome.Committed

	rec := x.rec
	rec.Duration = time.Since(start)
	rec.Reason = errorType(err)
	switch {
	case committed:
		rec.StatusCode = x.outcome.StatusCode
	case errors.Is(err, errClientGone):
		rec.StatusCode = statusClientClosed
	case err != nil:
		WriteError(w, err)
		_, rec.StatusCode = HandleError(err)
	default:
		rec.StatusCode = http.StatusOK
	}
	rec.Outcome = outcomeOf(err, x)

	if x.usage.Known {
		rec.RequestUnits = x.usage.InputTokens
		rec.ResponseUnits = x.usage.OutputTokens
		rec.CacheCreationTokens = x.usage.CacheCreationTokens
		rec.CacheReadTokens = x.usage.CacheReadTokens
		rec.CostEstimate = x.usage.Cost
		p.metrics.RecordTokens(rec.Model, rec.RequestUnits, rec.ResponseUnits, rec.CacheCreationTokens, rec.CacheReadTokens)
		p.metrics.RecordCost(rec.Model, rec.CostEstimate)
		tracing.SetUsageAttributes(span, rec.Model, rec.RequestUnits, rec.ResponseUnits, rec.CostEstimate)
	}
	if x.outcome != nil {
		rec.ResponseBytes = x.outcome.BytesOut
	}

	p.metrics.RecordRequest(string(rec.Outcome), rec.StatusCode, rec.Duration)
	if rec.Outcome == usage.OutcomeRejected {
		p.metrics.RecordDenial(rec.Reason)
	}

	span.SetAttributes(
		attribute.String(tracing.AttrOutcome, string(rec.Outcome)),
		attribute.Int(tracing.AttrHTTPStatus, rec.StatusCode),
	)
	if rec.KeyID != "" {
		span.SetAttributes(attribute.String(tracing.AttrKeyID, rec.KeyID))
	}
	tracing.SetError(span, err)

	p.recorder.Record(rec)
}

// handle runs the stages and returns the error that ended the request, if
// any. Once a reservation exists it is settled exactly once before return.
func (p *Pipeline) handle(ctx context.Context, w http.ResponseWriter, r *http.Request, x *exchange) error {
	key, err := p.authenticate(ctx, r)
	if err != nil {
		return err
	}
	logging.SetKeyID(ctx, key.ID)
	x.rec.KeyID = key.ID

	rl, err := p.limiter.Admit(ctx, key.ID, ratelimit.Limit{Requests: key.RateLimit, Window: key.RateWindow})
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !rl.Allowed {
		return &RateLimitedError{KeyID: key.ID, Result: rl}
	}
	setRateLimitHeaders(w.Header(), rl)

	body, err := readBody(r, p.maxReplay)
	if err != nil {
		return err
	}
	x.rec.RequestBytes = body.EstimateBytes()
	x.rec.Model = body.Model()

	res, err := p.quota.Admit(ctx, key, p.quota.Estimate(body.EstimateBytes()))
	if err != nil {
		return err
	}
	setQuotaHeaders(w.Header(), res)

	err = p.dispatch(ctx, w, r, body, x)
	p.settle(ctx, res, err, x)
	return err
}

func (p *Pipeline) authenticate(ctx context.Context, r *http.Request) (*keys.Key, error) {
	credential := keys.ExtractCredential(r, p.sources)
	if credential == "" {
		return nil, errMissingCredential
	}
	return p.auth.Authenticate(ctx, credential)
}

// dispatch selects a backend and forwards, failing over once when the first
// attempt failed before anything was written to the client.
func (p *Pipeline) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, body *requestBody, x *exchange) error {
	maxAttempts := 1
	if p.failover {
		maxAttempts = 2
	}

	var (
		exclude []string
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		b, err := p.selector.Choose(backends.Hints{Exclude: exclude})
		if err != nil {
			// Report the failed attempt rather than the empty pool behind it.
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		logging.SetBackend(ctx, b.ID)
		x.rec.BackendID = b.ID
		x.rec.Attempts = attempt
		x.forward = true

		next := append(exclude[:len(exclude):len(exclude)], b.ID)
		canRetry := attempt < maxAttempts && body.Replayable() &&
			p.selector.HasAlternative(backends.Hints{Exclude: next})

		out, err := p.forwarder.Forward(ctx, w, &Request{
			Inbound:   r,
			Body:      body,
			RequestID: x.rec.RequestID,
			Attempt:   attempt,
			Retryable: canRetry,
		}, b)
		x.outcome = out
		if out != nil && out.Model != "" {
			x.rec.Model = out.Model
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !canRetry || !retryable(err, out, body) {
			return err
		}
		p.metrics.RecordFailover(b.ID)
		p.logger.InfoContext(ctx, "failing over to another backend",
			"from", b.ID,
			"error", err,
		)
		exclude = next
	}
	return lastErr
}

// retryable reports whether a failed attempt may be repeated elsewhere.
func retryable(err error, out *Outcome, body *requestBody) bool {
	if out != nil && out.Committed {
		return false
	}
	if !body.Replayable() {
		return false
	}
	var ue *UpstreamError
	return errors.As(err, &ue) || errors.Is(err, ErrPoolSaturated)
}

// settle commits or releases the quota reservation. Usage is charged once
// the client received a response, and also when the client left after the
// request was sent upstream. Failures with no response, and 5xx responses
// without a usage block, release the reservation.
func (p *Pipeline) settle(ctx context.Context, res *quota.Reservation, err error, x *exchange) {
	ctx = context.WithoutCancel(ctx)

	out := x.outcome
	if out != nil {
		x.usage = out.Usage
	}

	var charge bool
	switch {
	case out == nil:
	case out.Committed && out.StatusCode >= http.StatusInternalServerError:
		// An upstream error page is only charged for what it reported.
		charge = x.usage.Known
	case out.Committed:
		charge = true
	case errors.Is(err, errClientGone) && out.Sent:
		charge = true
	}
	if !charge {
		if rerr := p.quota.Release(ctx, res); rerr != nil {
			p.logger.WarnContext(ctx, "failed to release quota reservation", "error", rerr)
		}
		return
	}

	if x.usage.Known {
		x.usage.Cost = p.pricing.Cost(x.rec.Model,
			x.usage.InputTokens, x.usage.OutputTokens,
			x.usage.CacheCreationTokens, x.usage.CacheReadTokens)
	}
	if cerr := p.quota.CommitUsage(ctx, res, x.usage); cerr != nil {
		p.metrics.RecordQuotaCommitError()
	}
}

// outcomeOf classifies a finished request for the usage record.
func outcomeOf(err error, x *exchange) usage.Outcome {
	var ue *UpstreamError
	switch {
	case err == nil:
		return usage.OutcomeSuccess
	case errors.As(err, &ue):
		return usage.OutcomeUpstreamError
	case errors.Is(err, errClientGone):
		if x.outcome != nil && x.outcome.Committed {
			return usage.OutcomeSuccess
		}
		if x.forward {
			return usage.OutcomeUpstreamError
		}
		return usage.OutcomeRejected
	case x.forward && !errors.Is(err, ErrPoolSaturated) && !errors.Is(err, backends.ErrNoBackendAvailable):
		return usage.OutcomeUpstreamError
	default:
		return usage.OutcomeRejected
	}
}
