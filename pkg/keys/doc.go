// Package keys issues, stores and authenticates the proxy's own API keys.
//
// A key's secret (sk-rly-...) is shown once at creation. Only its SHA-256
// hash is persisted, in the api_keys table of the shared SQLite database.
// Authentication hashes the presented credential, looks the hash up through
// a short-TTL cache and compares in constant time; disabled keys are treated
// exactly like unknown ones.
//
// Usage:
//
//	store, _ := keys.NewSQLiteStore(db)
//	cached := keys.NewCachedStore(store, 30*time.Second)
//	auth := keys.NewAuthenticator(cached)
//	mgr := keys.NewManager(cached, keys.Defaults{RateLimit: 1000, RateWindow: time.Hour, QuotaLimit: 100000})
//
//	key, secret, err := mgr.Create(ctx, keys.CreateParams{Name: "team-a"})
//	k, err := auth.Authenticate(ctx, secret)
package keys
