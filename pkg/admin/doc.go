/*
Package admin serves the management API on its own listener.

Every route under /v1 requires the admin token ("Authorization: Bearer").
Liveness, readiness, version and Prometheus metrics are served without it
so probes and scrapers need no credentials.

	GET    /v1/keys                         list keys
	POST   /v1/keys                         create a key; the secret is returned once
	GET    /v1/keys/{id}                    get a key
	PATCH  /v1/keys/{id}                    update name, limits or status
	POST   /v1/keys/{id}/disable            disable a key
	GET    /v1/keys/{id}/usage              daily usage of a key (?from=&to=)
	GET    /v1/keys/{id}/usage/records      recent usage records (?from=&to=&limit=)
	GET    /v1/keys/{id}/quota              quota status in the active period
	GET    /v1/keys/{id}/quota/history      stored period counters (?limit=)
	GET    /v1/usage                        daily usage of all keys
	GET    /v1/backends                     backends and their health
	PUT    /v1/backends/active              switch the active backend ({"id": ...})
	GET    /v1/health                       backend health snapshot
	GET    /healthz, /readyz                probes
	GET    /metrics                         Prometheus metrics
	GET    /version                         build information

Range bounds accept RFC 3339 times or dates; a date as "to" includes that
whole day. Errors use the same JSON body as the proxy surface.
*/
package admin
