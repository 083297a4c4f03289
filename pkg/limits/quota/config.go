package quota

import (
	"mercator-hq/relay/pkg/config"
)

// ConfigFrom builds a tracker Config from the quota section.
func ConfigFrom(cfg config.QuotaConfig) (Config, error) {
	period := Period(cfg.Period)
	if period == "" {
		period = PeriodDaily
	}
	cal, err := NewCalendar(period, cfg.Timezone)
	if err != nil {
		return Config{}, err
	}
	floor := cfg.EstimateFloor
	if floor == 0 {
		floor = config.DefaultEstimateFloor(cfg.Unit)
	}
	return Config{
		Unit:          Unit(cfg.Unit),
		Calendar:      cal,
		EstimateFloor: floor,
	}, nil
}
