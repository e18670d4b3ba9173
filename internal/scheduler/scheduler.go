// Package scheduler decides when scrape jobs run and guarantees that at most
// one job is active at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/runner"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// JobRunner starts and executes scrape jobs.
type JobRunner interface {
	Begin(ctx context.Context, kind model.JobKind) (*model.ScrapeJob, error)
	Execute(ctx context.Context, job *model.ScrapeJob) error
}

// TriggerResult is the outcome of a scheduled or manual trigger. A trigger
// that finds a job already running is skipped, not queued.
type TriggerResult struct {
	Started bool   `json:"started"`
	JobID   string `json:"jobId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Status is the externally visible scheduler state.
type Status struct {
	IsActive  bool                     `json:"isActive"`
	IsRunning bool                     `json:"isRunning"`
	ActiveJob *model.ScrapeJob         `json:"activeJob"`
	Settings  *model.SchedulerSettings `json:"settings"`
}

// SettingsUpdate is a partial settings change requested by an administrator.
type SettingsUpdate struct {
	IntervalHours *float64 `json:"intervalHours"`
	Timezone      *string  `json:"timezone"`
}

// MaxIntervalHours is the longest accepted interval between automatic runs.
const MaxIntervalHours = 24 * 366

// settingsRetry is how long Run waits before re-reading settings it failed to load.
const settingsRetry = time.Minute

type activeJob struct {
	id     string
	cancel context.CancelCauseFunc
}

// dueState is what the control loop should do when its timer fires.
type dueState int

const (
	idle dueState = iota
	due
	retry
)

// Scheduler is the process-wide control loop. Construct one with New and
// drive its timer with Run.
type Scheduler struct {
	settings storage.SettingsStore
	jobs     storage.JobStore
	runner   JobRunner
	log      *slog.Logger

	now        func() time.Time
	unit       time.Duration
	retryDelay time.Duration

	wake chan struct{}

	// ctl serializes settings read-modify-write cycles.
	ctl sync.Mutex

	// mu guards the active slot.
	mu     sync.Mutex
	active *activeJob

	root   context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Nothing runs until Run is called.
func New(settings storage.SettingsStore, jobs storage.JobStore, runner JobRunner, log *slog.Logger) *Scheduler {
	root, cancel := context.WithCancelCause(context.Background())
	return &Scheduler{
		settings:   settings,
		jobs:       jobs,
		runner:     runner,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		unit:       time.Hour,
		retryDelay: settingsRetry,
		wake:       make(chan struct{}, 1),
		root:       root,
		cancel:     cancel,
	}
}

// SetIntervalUnit overrides the duration of one interval hour.
func (s *Scheduler) SetIntervalUnit(d time.Duration) {
	s.unit = d
}

func (s *Scheduler) interval(hours float64) time.Duration {
	return time.Duration(hours * float64(s.unit))
}

// Run arms the timer from the stored settings and fires scheduled jobs
// until ctx is cancelled. Start, Stop and UpdateSettings re-arm it.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait, state := s.untilDue(ctx)

		var timer *time.Timer
		var fire <-chan time.Time
		if state != idle {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			if state == due {
				s.tick(ctx)
			}
		}
	}
}

// untilDue returns the time left until the next scheduled run. A settings
// read failure yields retry so that the loop re-reads instead of firing.
func (s *Scheduler) untilDue(ctx context.Context) (time.Duration, dueState) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	st, err := s.settings.GetSettings(ctx)
	if err != nil {
		s.log.Error("load scheduler settings", "error", err, "retry_in", s.retryDelay)
		return s.retryDelay, retry
	}
	if !st.Enabled {
		return 0, idle
	}
	if st.NextRun == nil {
		next := s.now().Add(s.interval(st.IntervalHours))
		if _, err := s.settings.UpdateSettings(ctx, model.SettingsPatch{NextRun: &next}); err != nil {
			s.log.Error("record next run", "error", err)
		}
		st.NextRun = &next
	}
	return max(st.NextRun.Sub(s.now()), 0), due
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.enabled(ctx) {
		return
	}

	res, err := s.trigger(ctx, "schedule")
	if err != nil {
		s.log.Error("scheduled trigger", "error", err)
	} else if !res.Started {
		s.log.Warn("scheduled run skipped", "reason", res.Reason, "active_job_id", res.JobID)
	}

	s.ctl.Lock()
	defer s.ctl.Unlock()
	st, err := s.settings.GetSettings(ctx)
	if err != nil {
		s.log.Error("load scheduler settings", "error", err)
		return
	}
	if !st.Enabled {
		return
	}
	now := s.now()
	next := now.Add(s.interval(st.IntervalHours))
	patch := model.SettingsPatch{NextRun: &next}
	if res.Started {
		patch.LastRun = &now
	}
	if _, err := s.settings.UpdateSettings(ctx, patch); err != nil {
		s.log.Error("record run times", "error", err)
	}
}

func (s *Scheduler) enabled(ctx context.Context) bool {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	st, err := s.settings.GetSettings(ctx)
	if err != nil {
		s.log.Error("load scheduler settings", "error", err)
		return false
	}
	return st.Enabled
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start enables automatic runs. The first run is one interval from now.
// Calling Start while enabled changes nothing.
func (s *Scheduler) Start(ctx context.Context) (*model.SchedulerSettings, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	st, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if st.Enabled {
		return st, nil
	}

	enabled := true
	next := s.now().Add(s.interval(st.IntervalHours))
	st, err = s.settings.UpdateSettings(ctx, model.SettingsPatch{Enabled: &enabled, NextRun: &next})
	if err != nil {
		return nil, fmt.Errorf("enable scheduler: %w", err)
	}
	s.poke()
	s.log.Info("scheduler started", "interval_hours", st.IntervalHours, "next_run", next)
	return st, nil
}

// Stop disables automatic runs. A job already in flight keeps running.
func (s *Scheduler) Stop(ctx context.Context) (*model.SchedulerSettings, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	enabled := false
	st, err := s.settings.UpdateSettings(ctx, model.SettingsPatch{Enabled: &enabled})
	if err != nil {
		return nil, fmt.Errorf("disable scheduler: %w", err)
	}
	s.poke()
	s.log.Info("scheduler stopped")
	return st, nil
}

// UpdateSettings validates and applies u. When the scheduler is enabled the
// next run is recomputed from now with the new interval.
func (s *Scheduler) UpdateSettings(ctx context.Context, u SettingsUpdate) (*model.SchedulerSettings, error) {
	if err := validate(u); err != nil {
		return nil, err
	}

	s.ctl.Lock()
	defer s.ctl.Unlock()

	cur, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	patch := model.SettingsPatch{IntervalHours: u.IntervalHours, Timezone: u.Timezone}
	if cur.Enabled {
		hours := cur.IntervalHours
		if u.IntervalHours != nil {
			hours = *u.IntervalHours
		}
		next := s.now().Add(s.interval(hours))
		patch.NextRun = &next
	}

	st, err := s.settings.UpdateSettings(ctx, patch)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	if cur.Enabled {
		s.poke()
	}
	s.log.Info("scheduler settings updated", "interval_hours", st.IntervalHours, "timezone", st.Timezone)
	return st, nil
}

func validate(u SettingsUpdate) error {
	verr := &ValidationError{}
	if u.IntervalHours != nil {
		h := *u.IntervalHours
		switch {
		case math.IsNaN(h) || math.IsInf(h, 0) || h <= 0:
			verr.Add(fmt.Errorf("intervalHours must be greater than 0, got %v", h))
		case h > MaxIntervalHours:
			verr.Add(fmt.Errorf("intervalHours must be at most %d, got %v", MaxIntervalHours, h))
		}
	}
	if u.Timezone != nil {
		if _, err := time.LoadLocation(*u.Timezone); err != nil || *u.Timezone == "" {
			verr.Add(fmt.Errorf("unknown timezone %q", *u.Timezone))
		}
	}
	if verr.HasError() {
		return verr
	}
	return nil
}

// RunNow starts a job immediately and returns without waiting for it.
func (s *Scheduler) RunNow(ctx context.Context) (TriggerResult, error) {
	return s.trigger(ctx, "manual")
}

func (s *Scheduler) trigger(ctx context.Context, source string) (TriggerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return TriggerResult{JobID: s.active.id, Reason: ErrJobActive.Error()}, nil
	}
	running, err := s.jobs.GetActiveJob(ctx)
	switch {
	case err == nil:
		return TriggerResult{JobID: running.ID, Reason: ErrJobActive.Error()}, nil
	case !storage.IsNotFound(err):
		return TriggerResult{}, fmt.Errorf("check active job: %w", err)
	}

	job, err := s.runner.Begin(context.WithoutCancel(ctx), model.KindIncremental)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("begin job: %w", err)
	}

	jobCtx, cancel := context.WithCancelCause(s.root)
	s.active = &activeJob{id: job.ID, cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.ID)
		if err := s.runner.Execute(jobCtx, job); err != nil {
			s.log.Error("job failed", "job_id", job.ID, "error", err)
		}
	}()

	s.log.Info("job triggered", "job_id", job.ID, "source", source)
	return TriggerResult{Started: true, JobID: job.ID}, nil
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.id == jobID {
		s.active.cancel(nil)
		s.active = nil
	}
}

// Cancel asks the active job to stop between items.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.id != jobID {
		return ErrNotActive
	}
	s.active.cancel(nil)
	s.log.Info("job cancellation requested", "job_id", jobID)
	return nil
}

// ActiveJobID returns the id of the job started by this process, if any.
func (s *Scheduler) ActiveJobID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.id, true
}

// Status reports whether automatic runs are enabled and whether a job is
// running according to the job store.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	st, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	out := &Status{IsActive: st.Enabled, Settings: st}

	job, err := s.jobs.GetActiveJob(ctx)
	switch {
	case err == nil:
		out.IsRunning = true
		out.ActiveJob = job
	case !storage.IsNotFound(err):
		return nil, fmt.Errorf("check active job: %w", err)
	}
	return out, nil
}

// Wait blocks until every job started by the scheduler has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close interrupts the active job and waits for it to finalize. The job
// ends failed with runner.InterruptedMessage, as it would after a crash.
func (s *Scheduler) Close() {
	s.cancel(runner.ErrInterrupted)
	s.wg.Wait()
}
