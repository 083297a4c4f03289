/*
Package secrets resolves ${secret:name} references in configuration values.

Backend API keys, the management admin token and the Redis password may be
written as references instead of literals:

	backends:
	  - id: primary
	    api_key: ${secret:anthropic-key}

A Resolver tries its providers in order. NewResolverFromConfig uses the
security.secrets section: a FileProvider over security.secrets.dir when
set, then an EnvProvider with security.secrets.env_prefix, so the secret
above is read from <dir>/anthropic-key or RELAY_SECRET_ANTHROPIC_KEY.

References are resolved when the configuration is loaded and again on
every reload. An unresolvable reference fails the load; on reload the
previous configuration stays in effect.
*/
package secrets
