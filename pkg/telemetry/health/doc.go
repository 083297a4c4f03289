// Package health implements the liveness and readiness probes served on
// the management listener.
//
// Liveness (/healthz) only reports that the process is running. Readiness
// (/readyz) runs the registered component checks concurrently, each bounded
// by a timeout. The key store is registered as critical; Redis and the
// backend pool are non-critical because the proxy keeps serving with the
// local rate limiter and the lenient selector.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("storage", true, health.PingCheck(db))
//	checker.RegisterCheck("backends", false, health.BackendsCheck(counter))
//	router.Get("/readyz", checker.ReadinessHandler())
package health
