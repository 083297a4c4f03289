package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/relay/pkg/admin"
	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/limits/quota"
	"mercator-hq/relay/pkg/limits/ratelimit"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/handlers"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/security/auth"
	"mercator-hq/relay/pkg/security/secrets"
	reltls "mercator-hq/relay/pkg/security/tls"
	"mercator-hq/relay/pkg/storage"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/usage"
	"mercator-hq/relay/pkg/usage/retention"
	usagestorage "mercator-hq/relay/pkg/usage/storage"
)

const healthCheckTimeout = 2 * time.Second

// Options carries process-level settings that are not part of the
// configuration file.
type Options struct {
	// ConfigPath is watched for changes. Empty disables hot reload.
	ConfigPath string

	// Logger receives level changes on reload. Optional.
	Logger *logging.Logger

	Version health.VersionInfo

	// HandleSignals makes Start return on SIGINT and SIGTERM.
	HandleSignals bool
}

// Server runs the proxy and management listeners and owns every component
// between them.
type Server struct {
	config *config.Config
	opts   Options
	logger *slog.Logger

	db         *storage.DB
	keyStore   *keys.SQLiteStore
	keyCache   *keys.CachedStore
	keys       *keys.Manager
	quotaStore *quota.SQLiteStore
	tracker    *quota.Tracker
	sweeper    *quota.Sweeper
	limiter    ratelimit.Limiter
	registry   *backends.Registry
	selector   *backends.Selector
	forwarder  *proxy.Forwarder
	pricing    *usage.Pricing
	usageStore usage.Storage
	recorder   *usage.Recorder
	scheduler  *retention.Scheduler
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	health     *health.Checker
	adminAuth  *auth.TokenValidator
	certs      *reltls.CertificateReloader

	proxyHandler http.Handler
	adminHandler http.Handler

	proxyServer *http.Server
	adminServer *http.Server
	proxyLn     net.Listener
	adminLn     net.Listener
	watcher     *config.Watcher
	cancel      context.CancelFunc

	ready        chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	closeOnce    sync.Once
	closeErr     error
	mu           sync.RWMutex
	isRunning    bool
}

// New builds every component from cfg. Secret references in cfg are
// resolved in place. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{
		config:       cfg,
		opts:         opts,
		logger:       slog.Default().With("component", "server"),
		ready:        make(chan struct{}),
		shutdownChan: make(chan struct{}),
	}
	built := false
	defer func() {
		if !built {
			_ = s.closeComponents(context.Background())
		}
	}()

	ctx := context.Background()

	resolver, err := secrets.NewResolverFromConfig(cfg.Security.Secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret resolver: %w", err)
	}
	if err := resolver.ResolveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	s.tracer, err = tracing.New(&cfg.Telemetry.Tracing, opts.Version.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	s.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	if cfg.Telemetry.Metrics.IsEnabled() {
		s.metrics.RegisterRuntimeCollectors()
	}

	s.db, err = storage.Open(storage.Config{
		Path:               cfg.Storage.Path,
		BusyTimeout:        cfg.Storage.BusyTimeout,
		CheckpointInterval: cfg.Storage.CheckpointInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if err := s.buildKeys(cfg); err != nil {
		return nil, err
	}
	if err := s.buildLimits(cfg); err != nil {
		return nil, err
	}
	if err := s.buildBackends(cfg); err != nil {
		return nil, err
	}
	if err := s.buildUsage(cfg); err != nil {
		return nil, err
	}
	s.buildHealth()

	if s.proxyHandler, err = s.buildProxyHandler(cfg); err != nil {
		return nil, err
	}

	if cfg.Management.IsEnabled() {
		s.adminAuth = auth.NewTokenValidator(cfg.Management.AdminToken)
		adminCfg := admin.Config{
			Keys:     s.keys,
			Quota:    s.tracker,
			Usage:    s.usageStore,
			Registry: s.registry,
			Health:   s.health,
			Auth:     s.adminAuth,
			Version:  opts.Version,
		}
		if cfg.Telemetry.Metrics.IsEnabled() {
			adminCfg.Metrics = s.metrics
			adminCfg.MetricsPath = cfg.Telemetry.Metrics.Path
		}
		api, err := admin.New(adminCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create management API: %w", err)
		}
		s.adminHandler = api
	}

	built = true
	return s, nil
}

func (s *Server) buildKeys(cfg *config.Config) error {
	var err error
	s.keyStore, err = keys.NewSQLiteStore(s.db)
	if err != nil {
		return fmt.Errorf("failed to create key store: %w", err)
	}
	s.keyCache = keys.NewCachedStore(s.keyStore, cfg.Keys.CacheTTL)
	s.keys = keys.NewManager(s.keyCache, keyDefaults(cfg.Keys))
	return nil
}

func (s *Server) buildLimits(cfg *config.Config) error {
	var err error
	s.quotaStore, err = quota.NewSQLiteStore(s.db)
	if err != nil {
		return fmt.Errorf("failed to create quota store: %w", err)
	}

	qcfg, err := quota.ConfigFrom(cfg.Limits.Quota)
	if err != nil {
		return fmt.Errorf("invalid quota configuration: %w", err)
	}
	qcfg.OnCommitError = func(keyID string, err error) {
		s.metrics.RecordQuotaCommitError()
		s.logger.Error("quota commit failed", "key_id", keyID, "error", err)
	}
	s.tracker, err = quota.NewTracker(s.quotaStore, qcfg)
	if err != nil {
		return fmt.Errorf("failed to create quota tracker: %w", err)
	}
	s.sweeper, err = quota.NewSweeper(s.tracker)
	if err != nil {
		return fmt.Errorf("failed to create quota sweeper: %w", err)
	}

	s.limiter, err = ratelimit.New(cfg.Limits.RateLimit, ratelimit.WithFallbackHook(s.metrics.RecordRateLimitFallback))
	if err != nil {
		return err
	}
	return nil
}

func (s *Server) buildBackends(cfg *config.Config) error {
	var err error
	s.registry, err = backends.NewRegistryFromConfig(cfg, func(id string, from, to backends.State) {
		s.metrics.SetBackendState(id, to.Value())
	})
	if err != nil {
		return fmt.Errorf("failed to create backend registry: %w", err)
	}
	for _, b := range s.registry.Backends() {
		s.metrics.SetBackendState(b.ID, backends.StateHealthy.Value())
	}
	s.selector = backends.NewSelector(s.registry, cfg.Routing.Strict)
	s.forwarder = proxy.NewForwarder(s.registry.Backends(), s.registry, proxy.ForwarderOptions{
		QueueTimeout:    cfg.Routing.QueueTimeout,
		StrippedHeaders: keys.CredentialHeaders(cfg.Keys.Headers),
		Metrics:         s.metrics,
	})
	return nil
}

func (s *Server) buildUsage(cfg *config.Config) error {
	s.pricing = usage.NewPricing(cfg.Pricing)

	if cfg.Usage.IsEnabled() {
		store, err := usagestorage.Open(cfg.Usage.SQLite)
		if err != nil {
			return fmt.Errorf("failed to open usage storage: %w", err)
		}
		s.usageStore = store
		s.recorder = usage.NewRecorder(store, cfg.Usage.Recorder, s.metrics)
	}

	// Quota rows are pruned even when usage recording is off.
	pruner := retention.NewPruner(s.usageStore, s.quotaStore, retention.ConfigFrom(cfg.Usage.Retention))
	s.scheduler = retention.NewScheduler(pruner)
	return nil
}

func (s *Server) buildHealth() {
	s.health = health.New(healthCheckTimeout)
	s.health.RegisterCheck("storage", true, health.PingCheck(s.db))
	s.health.RegisterCheck("backends", true, health.BackendsCheck(func() (int, int) {
		snap := s.registry.Snapshot()
		available := 0
		for _, st := range snap.Backends {
			if st.State != backends.StateDown {
				available++
			}
		}
		return len(snap.Backends), available
	}))
	if p, ok := s.usageStore.(health.Pinger); ok {
		s.health.RegisterCheck("usage_storage", false, health.PingCheck(p))
	}
	if p, ok := s.limiter.(*ratelimit.RedisLimiter); ok {
		s.health.RegisterCheck("redis", false, health.PingCheck(p))
	}
}

func (s *Server) buildProxyHandler(cfg *config.Config) (http.Handler, error) {
	pipeline, err := proxy.NewPipeline(proxy.PipelineConfig{
		Authenticator:     keys.NewAuthenticator(s.keyCache),
		CredentialSources: cfg.Keys.Headers,
		Limiter:           s.limiter,
		Quota:             s.tracker,
		Selector:          s.selector,
		Forwarder:         s.forwarder,
		Recorder:          s.recorder,
		Pricing:           s.pricing,
		Metrics:           s.metrics,
		MaxReplayBytes:    cfg.Proxy.MaxReplayBytes,
		Failover:          cfg.Routing.FailoverEnabled(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	r := chi.NewRouter()
	health, ready := handlers.NewHealthHandler(), handlers.NewReadyHandler(s.registry)
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r.Method(method, handlers.HealthPath, health)
		r.Method(method, handlers.ReadyPath, ready)
	}
	r.Handle("/*", pipeline)

	return middleware.Chain(r), nil
}

func keyDefaults(c config.KeysConfig) keys.Defaults {
	return keys.Defaults{
		RateLimit:  c.DefaultRateLimit,
		RateWindow: c.DefaultRateWindow,
		QuotaLimit: c.DefaultQuotaLimit,
	}
}

// Start binds both listeners, starts background jobs and blocks until ctx
// is cancelled, Stop is called, a signal arrives (with HandleSignals) or a
// listener fails. It always shuts down before returning.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.listen(); err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}

	if s.certs != nil {
		if err := s.certs.Start(runCtx); err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("failed to start certificate reloader: %w", err)
		}
	}

	s.sweeper.Start()
	if err := s.scheduler.Start(runCtx); err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}
	s.startWatcher(runCtx)

	errChan := make(chan error, 2)
	s.serve(s.proxyServer, s.proxyLn, s.certs != nil, errChan)
	if s.adminServer != nil {
		s.serve(s.adminServer, s.adminLn, false, errChan)
	}
	close(s.ready)

	var sigChan chan os.Signal
	if s.opts.HandleSignals {
		sigChan = make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

func (s *Server) listen() error {
	cfg := s.config

	tlsConfig, certs, err := reltls.ServerConfig(cfg.Security.TLS)
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}
	s.certs = certs

	s.proxyLn, err = net.Listen("tcp", cfg.Proxy.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Proxy.ListenAddress, err)
	}
	s.proxyServer = &http.Server{
		Handler:           s.proxyHandler,
		ReadHeaderTimeout: cfg.Proxy.ReadHeaderTimeout,
		IdleTimeout:       cfg.Proxy.IdleTimeout,
		MaxHeaderBytes:    cfg.Proxy.MaxHeaderBytes,
		TLSConfig:         tlsConfig,
	}
	s.logger.Info("starting proxy server",
		"address", s.proxyLn.Addr().String(),
		"tls_enabled", cfg.Security.TLS.Enabled,
		"backends", len(s.registry.Backends()),
	)

	if s.adminHandler == nil {
		return nil
	}
	s.adminLn, err = net.Listen("tcp", cfg.Management.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Management.ListenAddress, err)
	}
	s.adminServer = &http.Server{
		Handler:           s.adminHandler,
		ReadHeaderTimeout: cfg.Proxy.ReadHeaderTimeout,
		IdleTimeout:       cfg.Proxy.IdleTimeout,
	}
	s.logger.Info("starting management server", "address", s.adminLn.Addr().String())
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, useTLS bool, errChan chan<- error) {
	go func() {
		var err error
		if useTLS {
			// Certificates come from TLSConfig.GetCertificate.
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error on %s: %w", ln.Addr(), err)
		}
	}()
}

func (s *Server) startWatcher(ctx context.Context) {
	if s.opts.ConfigPath == "" {
		return
	}
	w, err := config.NewWatcher(s.opts.ConfigPath, 0, s.logger)
	if err != nil {
		s.logger.Warn("config hot reload disabled", "error", err)
		return
	}
	s.watcher = w
	go func() {
		if err := w.Watch(ctx, s.Reload); err != nil {
			s.logger.Error("config watcher stopped", "error", err)
		}
	}()
}

// Reload applies the settings of cfg that can change without a restart:
// log level, pricing, default key limits, strict selection and the admin
// token. Listener addresses, backends and storage paths need a restart.
func (s *Server) Reload(cfg *config.Config) error {
	resolver, err := secrets.NewResolverFromConfig(cfg.Security.Secrets)
	if err != nil {
		return err
	}
	if err := resolver.ResolveConfig(context.Background(), cfg); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if s.opts.Logger != nil {
		if err := s.opts.Logger.SetLevel(cfg.Telemetry.Logging.Level); err != nil {
			return err
		}
	}
	s.pricing.Update(cfg.Pricing)
	s.keys.SetDefaults(keyDefaults(cfg.Keys))
	s.selector.SetStrict(cfg.Routing.Strict)
	if s.adminAuth != nil {
		s.adminAuth.SetToken(cfg.Management.AdminToken)
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.logger.Info("configuration applied",
		"log_level", cfg.Telemetry.Logging.Level,
		"strict_routing", cfg.Routing.Strict,
		"priced_models", len(cfg.Pricing),
	)
	return nil
}

// Stop asks a running Start to shut down and return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.shutdownChan) })
}

// Shutdown gracefully stops the listeners, waiting up to the configured
// shutdown timeout for in-flight requests, then flushes usage and closes
// every component.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		timeout := s.config.Proxy.ShutdownTimeout
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var errs []error
		for _, srv := range []*http.Server{s.proxyServer, s.adminServer} {
			if srv == nil {
				continue
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}
		if s.watcher != nil {
			_ = s.watcher.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}

		errs = append(errs, s.closeComponents(shutdownCtx))
		shutdownErr = errors.Join(errs...)
		if shutdownErr != nil {
			s.logger.Error("error during shutdown", "error", shutdownErr)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("relay stopped")
	})

	return shutdownErr
}

// Close releases the components of a server that is not running.
func (s *Server) Close() error {
	if s.IsRunning() {
		return errors.New("server is running; use Shutdown")
	}
	return s.closeComponents(context.Background())
}

// closeComponents releases everything New built, in dependency order, once.
// It tolerates a partially built server.
func (s *Server) closeComponents(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.releaseComponents(ctx)
	})
	return s.closeErr
}

func (s *Server) releaseComponents(ctx context.Context) error {
	var errs []error
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.sweeper != nil {
		errs = append(errs, s.sweeper.Stop(ctx))
	}
	if s.limiter != nil {
		errs = append(errs, s.limiter.Close())
	}
	if s.forwarder != nil {
		s.forwarder.Close()
	}
	if s.usageStore != nil {
		errs = append(errs, s.usageStore.Close())
	}
	if s.keyCache != nil {
		s.keyCache.Close()
	}
	if s.keyStore != nil {
		errs = append(errs, s.keyStore.Close())
	}
	if s.quotaStore != nil {
		errs = append(errs, s.quotaStore.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.tracer != nil {
		errs = append(errs, s.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Ready is closed once both listeners are accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ProxyAddr returns the bound proxy address, or "" before Start.
func (s *Server) ProxyAddr() string {
	if s.proxyLn == nil {
		return ""
	}
	return s.proxyLn.Addr().String()
}

// AdminAddr returns the bound management address, or "" when management is
// disabled or before Start.
func (s *Server) AdminAddr() string {
	if s.adminLn == nil {
		return ""
	}
	return s.adminLn.Addr().String()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the proxy surface handler.
func (s *Server) Handler() http.Handler {
	return s.proxyHandler
}

// AdminHandler returns the management API handler, or nil when disabled.
func (s *Server) AdminHandler() http.Handler {
	return s.adminHandler
}

// Keys returns the key manager.
func (s *Server) Keys() *keys.Manager {
	return s.keys
}
