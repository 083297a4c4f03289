// Package handlers provides the probe endpoints served next to the proxy,
// mounted at HealthPath and ReadyPath.
//
//   - HealthHandler: liveness, always 200 while the process serves HTTP
//   - ReadyHandler: readiness, 503 once every backend is down
//
// Both accept GET and HEAD and reply with a small JSON document:
//
//	{"status":"ready","active":"primary","backends":{"healthy":2,"suspect":0,"down":0},"timestamp":1731753000}
package handlers
