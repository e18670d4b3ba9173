// Package runner drives scrape jobs from creation to a terminal status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magnetoid/nisam-video-sub001/internal/ingest"
	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// InterruptedMessage is the error message of jobs that were running when the process stopped.
const InterruptedMessage = "interrupted"

// ErrInterrupted is the cancellation cause for jobs stopped by process
// shutdown. Such jobs finalize as failed with InterruptedMessage instead of
// cancelled.
var ErrInterrupted = errors.New(InterruptedMessage)

// Publisher receives live progress for jobs owned by the runner.
type Publisher interface {
	Open(job *model.ScrapeJob)
	Live(jobID string) bool
	Publish(jobID string, ev model.StatusEvent)
}

// Options tunes a Runner.
type Options struct {
	// LogLimit caps the persisted log buffer of a job.
	LogLimit int
	// FlushEvery flushes progress after this many buffered log entries.
	FlushEvery int
	// FlushInterval flushes buffered progress at least this often.
	FlushInterval time.Duration
	// OnFinish is called with the final state of every job the runner finalizes.
	OnFinish func(job model.ScrapeJob)
}

// Default option values.
const (
	DefaultLogLimit      = 500
	DefaultFlushEvery    = 20
	DefaultFlushInterval = 2 * time.Second
)

// Runner owns the lifecycle of scrape jobs.
type Runner struct {
	store storage.JobStore
	op    ingest.Operation
	pub   Publisher
	opts  Options
	log   *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Runner executing op for every job.
func New(store storage.JobStore, op ingest.Operation, pub Publisher, opts Options, log *slog.Logger) *Runner {
	if opts.LogLimit <= 0 {
		opts.LogLimit = DefaultLogLimit
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Runner{
		store: store,
		op:    op,
		pub:   pub,
		opts:  opts,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Begin creates the job row and moves it to running. The returned job is
// owned by the caller until it is passed to Execute.
func (r *Runner) Begin(ctx context.Context, kind model.JobKind) (*model.ScrapeJob, error) {
	if kind == "" {
		kind = model.KindIncremental
	}
	job := &model.ScrapeJob{
		ID:        r.newID(),
		Kind:      kind,
		Status:    model.JobPending,
		StartedAt: r.now(),
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	job.Status = model.JobRunning
	job.StartedAt = r.now()
	job.AppendLogs(r.opts.LogLimit, r.entry(model.LevelInfo, fmt.Sprintf("%s job started", kind)))
	if err := r.store.UpdateJob(ctx, job); err != nil {
		job.Status = model.JobPending
		if ferr := r.Finalize(ctx, job, model.JobFailed, err.Error()); ferr != nil {
			r.log.Error("failed to finalize job", "job_id", job.ID, "error", ferr)
		}
		return nil, fmt.Errorf("start job: %w", err)
	}

	r.pub.Open(job)
	r.log.Info("job started", "job_id", job.ID, "kind", kind)
	return job, nil
}

// Execute runs the ingestion operation for a job returned by Begin and
// finalizes it. Cancelling ctx stops the job between items and finalizes it
// as cancelled, or as failed when the cause is ErrInterrupted. The returned
// error is the operation failure, if any.
func (r *Runner) Execute(ctx context.Context, job *model.ScrapeJob) error {
	ex := &execution{r: r, job: job}

	items, err := r.op.Plan(ctx)
	if err != nil {
		err = fmt.Errorf("plan: %w", err)
		r.conclude(ctx, job, err)
		return err
	}
	job.TotalItems = len(items)
	ex.add(r.entry(model.LevelInfo, fmt.Sprintf("planned %d item(s)", len(items))))
	ex.flush(ctx)

	out := make(chan ingest.Outcome)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		errc <- r.op.Run(ctx, items, out)
	}()

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case o, ok := <-out:
			if !ok {
				break loop
			}
			ex.apply(o)
			if len(ex.unsent) >= r.opts.FlushEvery {
				ex.flush(ctx)
			}
		case <-ticker.C:
			if ex.dirty {
				ex.flush(ctx)
			}
		}
	}
	ex.flush(ctx)

	runErr := <-errc
	r.conclude(ctx, job, runErr)
	if ctx.Err() != nil {
		return nil
	}
	return runErr
}

func (r *Runner) conclude(ctx context.Context, job *model.ScrapeJob, runErr error) {
	status, message := model.JobCompleted, ""
	switch {
	case errors.Is(context.Cause(ctx), ErrInterrupted):
		status, message = model.JobFailed, InterruptedMessage
	case ctx.Err() != nil:
		status = model.JobCancelled
	case runErr != nil:
		status, message = model.JobFailed, runErr.Error()
	}
	if err := r.Finalize(ctx, job, status, message); err != nil {
		r.log.Error("failed to finalize job", "job_id", job.ID, "error", err)
	}
}

// Finalize records a terminal status for job and publishes job_complete.
// message becomes the error message of failed jobs. Calling Finalize on a
// job that is already terminal or being finalized has no effect.
func (r *Runner) Finalize(ctx context.Context, job *model.ScrapeJob, status model.JobStatus, message string) error {
	if job.Status.IsTerminal() || job.Transitioning {
		return nil
	}
	if !model.IsValidTransition(job.Status, status) {
		return fmt.Errorf("invalid transition %s -> %s", job.Status, status)
	}
	ctx = context.WithoutCancel(ctx)

	job.Transitioning = true
	if err := r.store.UpdateJob(ctx, job); err != nil && !errors.Is(err, storage.ErrJobFinalized) {
		r.log.Warn("failed to mark job transitioning", "job_id", job.ID, "error", err)
	}

	now := r.now()
	job.Status = status
	job.CompletedAt = &now
	job.Transitioning = false
	if status == model.JobFailed {
		job.ErrorMessage = &message
	}

	var entry model.LogEntry
	switch status {
	case model.JobFailed:
		entry = r.entry(model.LevelError, "job failed: "+message)
	case model.JobCancelled:
		entry = r.entry(model.LevelWarn, "job cancelled")
	default:
		entry = r.entry(model.LevelInfo, fmt.Sprintf("job completed: %d processed, %d failed, %d video(s) added",
			job.ProcessedItems, job.FailedItems, job.VideosAdded))
	}
	job.AppendLogs(r.opts.LogLimit, entry)

	persistErr := r.store.UpdateJob(ctx, job)

	r.pub.Publish(job.ID, model.StatusEvent{Type: model.EventLog, Logs: []model.LogEntry{entry}})
	r.pub.Publish(job.ID, model.StatusEvent{Type: model.EventSnapshot, Job: job})
	r.pub.Publish(job.ID, model.StatusEvent{Type: model.EventJobComplete, Status: status})

	r.log.Info("job finished",
		"job_id", job.ID,
		"status", status,
		"processed", job.ProcessedItems,
		"failed", job.FailedItems,
		"videos_added", job.VideosAdded,
	)
	if r.opts.OnFinish != nil {
		r.opts.OnFinish(*job.Clone())
	}

	if persistErr != nil {
		return fmt.Errorf("persist final state: %w", persistErr)
	}
	return nil
}

// Reconcile fails every pending or running job that has no live runner.
// It returns the number of jobs reconciled.
func (r *Runner) Reconcile(ctx context.Context) (int, error) {
	var orphans []model.ScrapeJob
	for _, status := range []model.JobStatus{model.JobRunning, model.JobPending} {
		jobs, err := r.store.ListJobsByStatus(ctx, status)
		if err != nil {
			return 0, fmt.Errorf("list %s jobs: %w", status, err)
		}
		orphans = append(orphans, jobs...)
	}

	n := 0
	for i := range orphans {
		job := &orphans[i]
		if r.pub.Live(job.ID) {
			continue
		}
		now := r.now()
		msg := InterruptedMessage
		job.Status = model.JobFailed
		job.Transitioning = false
		job.CompletedAt = &now
		job.ErrorMessage = &msg
		job.AppendLogs(r.opts.LogLimit, r.entry(model.LevelError, "job interrupted by process restart"))
		if err := r.store.UpdateJob(ctx, job); err != nil {
			return n, fmt.Errorf("reconcile job %s: %w", job.ID, err)
		}
		r.log.Warn("reconciled interrupted job", "job_id", job.ID, "started_at", job.StartedAt)
		n++
	}
	return n, nil
}

func (r *Runner) entry(level model.LogLevel, msg string) model.LogEntry {
	return model.LogEntry{Time: r.now(), Level: level, Message: msg}
}

// execution is the mutable state of one Execute call. It is only touched by
// the consuming loop.
type execution struct {
	r      *Runner
	job    *model.ScrapeJob
	unsent []model.LogEntry
	dirty  bool
}

func (ex *execution) add(entry model.LogEntry) {
	ex.job.AppendLogs(ex.r.opts.LogLimit, entry)
	ex.unsent = append(ex.unsent, entry)
	ex.dirty = true
}

func (ex *execution) apply(o ingest.Outcome) {
	job := ex.job
	job.ProcessedItems++
	if job.ProcessedItems > job.TotalItems {
		job.TotalItems = job.ProcessedItems
	}
	name := o.Item.Name
	job.CurrentChannelName = &name

	entry := ex.r.entry(model.LevelInfo, o.Message)
	entry.ChannelID = o.Item.ID
	entry.ChannelName = o.Item.Name
	entry.Data = o.Data
	if o.Failed() {
		job.FailedItems++
		entry.Level = model.LevelWarn
		if entry.Message == "" {
			entry.Message = o.Err.Error()
		} else {
			entry.Message += ": " + o.Err.Error()
		}
	} else {
		job.VideosAdded += len(o.ContentIDs)
	}
	if entry.Message == "" {
		entry.Message = fmt.Sprintf("processed %s", o.Item.Name)
	}
	ex.add(entry)
}

// flush persists the job and then publishes buffered log entries and a snapshot.
func (ex *execution) flush(ctx context.Context) {
	job := ex.job
	if err := ex.r.store.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		ex.r.log.Warn("failed to persist job progress", "job_id", job.ID, "error", err)
	}
	if len(ex.unsent) > 0 {
		ex.r.pub.Publish(job.ID, model.StatusEvent{Type: model.EventLog, Logs: ex.unsent})
		ex.unsent = nil
	}
	ex.r.pub.Publish(job.ID, model.StatusEvent{Type: model.EventSnapshot, Job: job})
	ex.dirty = false
}
