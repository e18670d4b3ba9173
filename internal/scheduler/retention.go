package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// Retention purges finished jobs older than a fixed number of days.
type Retention struct {
	jobs     storage.JobStore
	days     int
	loc      *time.Location
	schedule string
	log      *slog.Logger
	now      func() time.Time
}

// NewRetention creates a sweeper that runs daily at midnight in timezone.
// days <= 0 disables purging.
func NewRetention(jobs storage.JobStore, days int, timezone string, log *slog.Logger) (*Retention, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Retention{
		jobs:     jobs,
		days:     days,
		loc:      loc,
		schedule: "@daily",
		log:      log,
		now:      time.Now,
	}, nil
}

// Sweep deletes finished jobs that completed before the retention window.
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	if r.days <= 0 {
		return 0, nil
	}
	cutoff := r.now().UTC().AddDate(0, 0, -r.days)
	n, err := r.jobs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	if n > 0 {
		r.log.Info("purged finished jobs", "count", n, "before", cutoff)
	}
	return n, nil
}

// Run schedules Sweep until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) error {
	if r.days <= 0 {
		<-ctx.Done()
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(r.loc))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.log.Error("retention sweep", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}

	c.Start()
	r.log.Info("retention sweeper started", "days", r.days, "timezone", r.loc.String())
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
