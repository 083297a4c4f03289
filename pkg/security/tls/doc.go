/*
Package tls configures TLS for the proxy listener.

ServerConfig turns the security.tls section into a crypto/tls.Config whose
certificate comes from a CertificateReloader:

	tlsConfig, reloader, err := tls.ServerConfig(cfg.Security.TLS)
	if err != nil {
		return err
	}
	if reloader != nil {
		reloader.Start(ctx)
	}

The reloader watches the directories holding the certificate and key with
fsnotify, re-checks the files every reload_interval as a fallback, and swaps
in the new pair when either changes. A pair that fails to load or is
outside its validity window is logged and the previous certificate stays in
use.
*/
package tls
