package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/usage"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days of history to keep.
	// 0 keeps everything.
	RetentionDays int

	// PruneSchedule is a standard cron expression, e.g. "0 3 * * *".
	// Empty disables scheduled pruning.
	PruneSchedule string
}

// ConfigFrom converts the usage retention section of the configuration.
func ConfigFrom(c config.RetentionConfig) *Config {
	return &Config{
		RetentionDays: c.Days,
		PruneSchedule: c.Schedule,
	}
}

// QuotaPruner deletes quota counter rows whose period started before t.
type QuotaPruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// Result reports one pruning pass.
type Result struct {
	Cutoff        time.Time `json:"cutoff"`
	UsageRecords  int64     `json:"usage_records"`
	QuotaCounters int64     `json:"quota_counters"`
}

// Pruner deletes usage records and quota rows older than the retention
// horizon.
type Pruner struct {
	storage usage.Storage
	quota   QuotaPruner
	config  *Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewPruner creates a pruner. Either store may be nil.
func NewPruner(storage usage.Storage, quota QuotaPruner, cfg *Config) *Pruner {
	if cfg == nil {
		cfg = &Config{
			RetentionDays: config.DefaultRetentionDays,
			PruneSchedule: config.DefaultRetentionSchedule,
		}
	}
	return &Pruner{
		storage: storage,
		quota:   quota,
		config:  cfg,
		now:     time.Now,
		logger:  slog.Default().With("component", "usage.retention"),
	}
}

// Cutoff returns the oldest instant that is kept.
func (p *Pruner) Cutoff() time.Time {
	return p.now().AddDate(0, 0, -p.config.RetentionDays)
}

// Prune runs one pass. Both stores are attempted even if one fails.
func (p *Pruner) Prune(ctx context.Context) (*Result, error) {
	res := &Result{}
	if p.config.RetentionDays <= 0 {
		p.logger.Debug("retention disabled, nothing pruned")
		return res, nil
	}
	res.Cutoff = p.Cutoff()

	var errs []error

	if p.storage != nil {
		n, err := p.storage.Prune(ctx, res.Cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune usage records: %w", err))
		}
		res.UsageRecords = n
	}

	if p.quota != nil {
		n, err := p.quota.PruneBefore(ctx, res.Cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune quota counters: %w", err))
		}
		res.QuotaCounters = n
	}

	if res.UsageRecords > 0 || res.QuotaCounters > 0 {
		p.logger.Info("retention pruning completed",
			"cutoff", res.Cutoff,
			"usage_records", res.UsageRecords,
			"quota_counters", res.QuotaCounters,
			"retention_days", p.config.RetentionDays,
		)
	}

	return res, errors.Join(errs...)
}
