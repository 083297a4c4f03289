package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper advances a Tracker's active period at every period boundary.
// Rollover happens in the background rather than on the request path, so a
// request straddling the boundary keeps the period it was admitted in.
type Sweeper struct {
	tracker *Tracker
	cron    *cron.Cron
	entryID cron.EntryID
	logger  *slog.Logger
}

// NewSweeper schedules rollover for tracker in its calendar's time zone.
func NewSweeper(tracker *Tracker) (*Sweeper, error) {
	s := &Sweeper{
		tracker: tracker,
		cron:    cron.New(cron.WithLocation(tracker.cal.Location())),
		logger:  slog.Default().With("component", "quota.sweeper"),
	}

	id, err := s.cron.AddFunc(tracker.cal.CronSpec(), s.sweep)
	if err != nil {
		return nil, fmt.Errorf("invalid rollover schedule: %w", err)
	}
	s.entryID = id
	return s, nil
}

// Start catches up on a boundary missed while stopped and starts the
// schedule.
func (s *Sweeper) Start() {
	s.sweep()
	s.cron.Start()
	s.logger.Info("quota sweeper started",
		"period", s.tracker.cal.Period(),
		"timezone", s.tracker.cal.Location().String(),
		"next_run", s.Next(),
	)
}

// Stop stops the schedule and waits for a running sweep to finish or ctx to
// expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("quota sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled rollover.
func (s *Sweeper) Next() time.Time {
	e := s.cron.Entry(s.entryID)
	if e.Schedule == nil {
		return time.Time{}
	}
	return e.Schedule.Next(time.Now().In(s.tracker.cal.Location()))
}

func (s *Sweeper) sweep() {
	s.tracker.Advance(s.tracker.now())
}
