// Package server wires Relay together and runs its two listeners.
//
// New builds every component from a validated configuration: the SQLite
// store shared by keys and quota counters, the key cache and authenticator,
// the rate limiter, the quota tracker and its rollover sweeper, the backend
// registry, selector and forwarder, the usage recorder and retention
// scheduler, metrics and tracing. Start binds the listeners and blocks.
//
// # Basic Usage
//
//	cfg := config.GetConfig()
//
//	srv, err := server.New(cfg, server.Options{
//	    ConfigPath:    "config.yaml",
//	    Logger:        logger,
//	    HandleSignals: true,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
//
// # Listeners
//
// The proxy listener serves /_relay/healthz and /_relay/readyz and forwards
// every other path, /healthz included, through the admission pipeline. It terminates TLS when
// security.tls.enabled is set; renewed certificate files are picked up
// without a restart.
//
// The management listener serves the admin API (package admin). It is
// plain HTTP and should stay on a private interface.
//
// # Graceful Shutdown
//
// Start returns after SIGTERM or SIGINT (with HandleSignals), context
// cancellation, Stop, or a listener failure. Shutdown then:
//  1. Stops accepting connections on both listeners
//  2. Waits for in-flight requests, up to proxy.shutdown_timeout
//  3. Drains the usage recorder queue
//  4. Stops the sweeper and scheduler and closes the limiter, pools and stores
//  5. Flushes pending spans
//
// # Hot Reload
//
// With a ConfigPath the file is watched. The log level, the pricing table,
// default key limits, strict routing and the admin token apply immediately.
// Listener addresses, backends, storage and limiter settings need a restart.
package server
