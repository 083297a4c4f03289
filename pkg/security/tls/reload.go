package tls

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mercator-hq/relay/pkg/config"
)

// settleDelay coalesces the writes of a renewal, which usually replaces the
// certificate and the key one after the other.
const settleDelay = 100 * time.Millisecond

// CertificateReloader serves the certificate pair on disk and swaps in a
// renewed pair when the files change. A failed reload keeps the previous
// certificate.
//
// Changes are noticed through fsnotify on the containing directories, which
// also covers the symlink swap of Kubernetes secret mounts. The files are
// additionally re-checked every interval in case an event is missed.
type CertificateReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	cert   *tls.Certificate
	loaded map[string]time.Time // file -> mod time of the loaded pair
}

// NewCertificateReloader creates a reloader for the given pair. A
// non-positive interval disables reloading.
func NewCertificateReloader(certFile, keyFile string, interval time.Duration) *CertificateReloader {
	return &CertificateReloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		logger:   slog.Default().With("component", "security.tls"),
	}
}

// Start loads the pair if it is not loaded yet and, unless reloading is
// disabled, watches it until ctx is cancelled.
func (r *CertificateReloader) Start(ctx context.Context) error {
	if r.GetCertificate() == nil {
		if err := r.reload(); err != nil {
			return err
		}
	}
	r.logCertificate("certificate loaded")

	if r.interval <= 0 {
		return nil
	}

	watcher, err := r.newWatcher()
	if err != nil {
		r.logger.Warn("certificate file watching unavailable, polling only",
			"error", err,
			"interval", r.interval,
		)
	}
	go r.run(ctx, watcher)
	return nil
}

func (r *CertificateReloader) newWatcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirs := map[string]bool{
		filepath.Dir(r.certFile): true,
		filepath.Dir(r.keyFile):  true,
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

// run drives reloads from file events and the poll ticker. watcher may be
// nil.
func (r *CertificateReloader) run(ctx context.Context, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	debouncer := config.NewDebouncer(settleDelay)
	defer debouncer.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				debouncer.Trigger(r.check)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("certificate watcher error", "error", err)
		}
	}
}

// check reloads the pair if either file changed since it was loaded.
func (r *CertificateReloader) check() {
	if !r.changed() {
		return
	}
	if err := r.reload(); err != nil {
		r.logger.Error("failed to reload certificate, keeping the previous one",
			"error", err,
			"cert_file", r.certFile,
		)
		return
	}
	r.logCertificate("certificate reloaded")
}

func (r *CertificateReloader) changed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, file := range []string{r.certFile, r.keyFile} {
		info, err := os.Stat(file)
		if err != nil {
			// Mid-replacement; the next event or tick retries.
			return false
		}
		if !info.ModTime().Equal(r.loaded[file]) {
			return true
		}
	}
	return false
}

func (r *CertificateReloader) reload() error {
	modTimes := make(map[string]time.Time, 2)
	for _, file := range []string{r.certFile, r.keyFile} {
		info, err := os.Stat(file)
		if err != nil {
			return err
		}
		modTimes[file] = info.ModTime()
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	if err := ValidateCertificate(&cert); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.loaded = modTimes
	r.mu.Unlock()
	return nil
}

// GetCertificate returns the certificate currently served.
func (r *CertificateReloader) GetCertificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificateFunc adapts the reloader to tls.Config.GetCertificate.
func (r *CertificateReloader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return r.GetCertificate(), nil
	}
}

func (r *CertificateReloader) logCertificate(msg string) {
	leaf, err := Leaf(r.GetCertificate())
	if err != nil {
		return
	}
	info := Describe(leaf, time.Now())

	attrs := []any{
		"subject", info.Subject,
		"issuer", info.Issuer,
		"expires_in_days", info.DaysRemaining,
		"expires_at", info.NotAfter.Format(time.RFC3339),
	}
	if info.ExpiringSoon {
		r.logger.Warn(msg+"; expiring soon", attrs...)
		return
	}
	r.logger.Info(msg, attrs...)
}
