// Package security groups the transport and credential helpers of the relay:
// tls for the proxy listener, auth for the management API admin token and
// secrets for ${secret:name} references in configuration.
package security
