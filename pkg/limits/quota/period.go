package quota

import (
	"fmt"
	"time"
)

// Period is the length of an accounting period.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Calendar computes period boundaries in a fixed time zone.
type Calendar struct {
	period Period
	loc    *time.Location
}

// NewCalendar returns a calendar for period in the IANA zone tz.
// An empty tz means UTC.
func NewCalendar(period Period, tz string) (*Calendar, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}

	switch period {
	case PeriodHourly, PeriodDaily, PeriodMonthly:
	default:
		return nil, fmt.Errorf("unknown quota period %q", period)
	}

	return &Calendar{period: period, loc: loc}, nil
}

// Period returns the period length.
func (c *Calendar) Period() Period {
	return c.period
}

// Location returns the zone boundaries are computed in.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Start returns the start of the period containing t.
func (c *Calendar) Start(t time.Time) time.Time {
	t = t.In(c.loc)
	switch c.period {
	case PeriodHourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, c.loc)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	}
}

// Next returns the start of the period after the one starting at start.
func (c *Calendar) Next(start time.Time) time.Time {
	start = start.In(c.loc)
	switch c.period {
	case PeriodHourly:
		return start.Add(time.Hour)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// CronSpec returns a standard cron expression firing at every boundary.
// The expression is meant to run in Location.
func (c *Calendar) CronSpec() string {
	switch c.period {
	case PeriodHourly:
		return "0 * * * *"
	case PeriodMonthly:
		return "0 0 1 * *"
	default:
		return "0 0 * * *"
	}
}
