// Relay is a reverse proxy in front of LLM provider APIs.
//
// It authenticates clients with relay-issued keys, enforces per-key rate
// limits and token quotas, forwards requests to the configured upstream
// backends with failover, and records usage for reporting.
//
// Usage:
//
//	# Start the proxy and management listeners
//	relay run --config /etc/relay/config.yaml
//
//	# Issue a key for a client
//	relay keys create --name billing-service --rate-limit 120
//
//	# Report usage for the last week
//	relay usage --key 3f0c... --from 2026-10-01
//
//	# Check a configuration file
//	relay config check
package main

func main() {
	Execute()
}
