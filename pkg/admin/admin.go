package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/limits/quota"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/security/auth"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/usage"
)

// maxBodyBytes bounds management request bodies.
const maxBodyBytes = 1 << 20

// Config holds what the management API serves. Usage, Health and Metrics
// are optional; their routes answer 404 when absent.
type Config struct {
	Keys     *keys.Manager
	Quota    *quota.Tracker
	Usage    usage.Storage
	Registry *backends.Registry
	Health   *health.Checker
	Metrics  *metrics.Collector
	Auth     *auth.TokenValidator

	// MetricsPath is where Prometheus metrics are served.
	// Default: "/metrics"
	MetricsPath string

	Version health.VersionInfo
}

// API is the management HTTP surface.
type API struct {
	keys     *keys.Manager
	quota    *quota.Tracker
	usage    usage.Storage
	registry *backends.Registry
	now      func() time.Time
	logger   *slog.Logger

	router *chi.Mux
}

// New builds the management API router.
func New(cfg Config) (*API, error) {
	switch {
	case cfg.Keys == nil:
		return nil, errors.New("admin: key manager is required")
	case cfg.Quota == nil:
		return nil, errors.New("admin: quota tracker is required")
	case cfg.Registry == nil:
		return nil, errors.New("admin: backend registry is required")
	case cfg.Auth == nil:
		return nil, errors.New("admin: token validator is required")
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	a := &API{
		keys:     cfg.Keys,
		quota:    cfg.Quota,
		usage:    cfg.Usage,
		registry: cfg.Registry,
		now:      time.Now,
		logger:   slog.Default().With("component", "admin"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, types.ErrorTypeNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, types.ErrorTypeInvalidRequest, "method not allowed")
	})

	// Probes and scrapes stay unauthenticated.
	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.LivenessHandler())
		r.Get("/readyz", cfg.Health.ReadinessHandler())
	}
	if cfg.Metrics != nil {
		r.Handle(cfg.MetricsPath, cfg.Metrics.Handler())
	}
	r.Get("/version", health.VersionHandler(cfg.Version))

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.NewMiddleware(cfg.Auth, nil).Handle)

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", a.listKeys)
			r.Post("/", a.createKey)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getKey)
				r.Patch("/", a.updateKey)
				r.Post("/disable", a.disableKey)
				r.Get("/usage", a.keyUsage)
				r.Get("/usage/records", a.keyUsageRecords)
				r.Get("/quota", a.keyQuota)
				r.Get("/quota/history", a.keyQuotaHistory)
			})
		})

		r.Get("/usage", a.totalUsage)

		r.Get("/backends", a.listBackends)
		r.Put("/backends/active", a.setActiveBackend)
		r.Get("/health", a.healthSnapshot)
	})

	a.router = r
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}
