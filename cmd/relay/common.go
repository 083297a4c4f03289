package main

import (
	"fmt"
	"io"

	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/limits/quota"
	"mercator-hq/relay/pkg/storage"
)

// loadConfig reads the file named by --config with environment overrides.
// Administrative commands do not touch the process-wide configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg, nil
}

// render prints v to w in the format named by the --output flag.
func render(w io.Writer, format string, v any) error {
	f, err := cli.ParseFormat(format)
	if err != nil {
		return err
	}
	return cli.NewFormatter(f).FormatTo(w, v)
}

// database bundles the stores an administrative command works on. The
// server may hold the same file open; SQLite WAL mode allows both.
type database struct {
	cfg    *config.Config
	db     *storage.DB
	keys   *keys.SQLiteStore
	quota  *quota.SQLiteStore
	manage *keys.Manager
}

func openDatabase(cfg *config.Config) (*database, error) {
	db, err := storage.Open(storage.Config{
		Path:               cfg.Storage.Path,
		BusyTimeout:        cfg.Storage.BusyTimeout,
		CheckpointInterval: cfg.Storage.CheckpointInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	keyStore, err := keys.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	quotaStore, err := quota.NewSQLiteStore(db)
	if err != nil {
		keyStore.Close()
		db.Close()
		return nil, err
	}

	return &database{
		cfg:   cfg,
		db:    db,
		keys:  keyStore,
		quota: quotaStore,
		manage: keys.NewManager(keyStore, keys.Defaults{
			RateLimit:  cfg.Keys.DefaultRateLimit,
			RateWindow: cfg.Keys.DefaultRateWindow,
			QuotaLimit: cfg.Keys.DefaultQuotaLimit,
		}),
	}, nil
}

func (d *database) Close() error {
	d.quota.Close()
	d.keys.Close()
	return d.db.Close()
}
