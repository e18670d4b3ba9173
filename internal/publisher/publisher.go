// Package publisher fans out live job progress to any number of observers.
//
// The runner owning a job opens a topic, publishes snapshot and log events
// into it, and closes it with a job_complete event. Each subscriber has its
// own buffered queue; a subscriber that falls behind is disconnected rather
// than slowing down the runner or other subscribers. Because every new
// subscription starts with a snapshot and the full log buffer, a dropped
// observer can simply subscribe again.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// ErrUnknownJob is returned by Subscribe when the job is neither live nor stored.
var ErrUnknownJob = errors.New("unknown job")

// JobLoader reads persisted jobs for observers of jobs that are not live.
type JobLoader interface {
	GetJob(ctx context.Context, id string) (*model.ScrapeJob, error)
}

// Options tunes a Publisher.
type Options struct {
	// Buffer is the per-subscriber queue length.
	Buffer int
	// Heartbeat is the period of heartbeat events. Zero disables them.
	Heartbeat time.Duration
	// LogLimit caps the replayed log buffer per job.
	LogLimit int
}

// Default option values.
const (
	DefaultBuffer    = 256
	DefaultHeartbeat = 15 * time.Second
	DefaultLogLimit  = 500
)

type topic struct {
	job  *model.ScrapeJob
	logs []model.LogEntry
	subs map[uint64]*Subscription
}

// Publisher multiplexes job progress to subscribers.
type Publisher struct {
	loader JobLoader
	opts   Options
	log    *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic
	seq    uint64
}

// New creates a Publisher. loader may be nil, in which case only live jobs can be observed.
func New(loader JobLoader, opts Options, log *slog.Logger) *Publisher {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = DefaultLogLimit
	}
	return &Publisher{
		loader: loader,
		opts:   opts,
		log:    log,
		topics: map[string]*topic{},
	}
}

// Open registers a live job. Its logs seed the replay buffer.
func (p *Publisher) Open(job *model.ScrapeJob) {
	cp := job.Clone()
	logs := cp.Logs
	cp.Logs = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.topics[job.ID]; ok {
		return
	}
	p.topics[job.ID] = &topic{job: cp, logs: trimLogs(logs, p.opts.LogLimit), subs: map[uint64]*Subscription{}}
}

// Live reports whether the job currently has an open topic.
func (p *Publisher) Live(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.topics[jobID]
	return ok
}

// Publish delivers ev to every subscriber of jobID in publish order.
// Events for jobs without an open topic are dropped; job_complete closes the topic.
func (p *Publisher) Publish(jobID string, ev model.StatusEvent) {
	ev.JobID = jobID

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[jobID]
	if !ok {
		return
	}

	switch ev.Type {
	case model.EventSnapshot:
		if ev.Job != nil {
			cp := ev.Job.Clone()
			cp.Logs = nil
			t.job = cp
			ev.Job = cp
		}
	case model.EventLog:
		if len(ev.Logs) == 0 {
			return
		}
		ev.Logs = append([]model.LogEntry(nil), ev.Logs...)
		t.logs = trimLogs(append(t.logs, ev.Logs...), p.opts.LogLimit)
	case model.EventJobComplete:
		if t.job != nil {
			ev.Status = firstNonEmpty(ev.Status, t.job.Status)
		}
	case model.EventLogsInit:
		// Replays are produced by Subscribe only.
		return
	}

	for id, sub := range t.subs {
		if !sub.offer(ev) {
			p.log.Warn("dropping slow subscriber", "job_id", jobID, "subscriber", id)
			delete(t.subs, id)
			sub.lagged = true
			sub.closeLocked()
		}
	}

	if ev.Type == model.EventJobComplete {
		for id, sub := range t.subs {
			delete(t.subs, id)
			sub.closeLocked()
		}
		delete(p.topics, jobID)
	}
}

// Subscribe starts observing a job. The first two events are always a
// snapshot and a logs_init replay. For jobs that are no longer live the
// stored state is replayed, followed by job_complete when the job has
// finished, and the subscription is closed.
func (p *Publisher) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	p.mu.Lock()
	if t, ok := p.topics[jobID]; ok {
		sub := p.attachLocked(jobID, t)
		p.mu.Unlock()
		return sub, nil
	}
	p.mu.Unlock()

	if p.loader == nil {
		return nil, ErrUnknownJob
	}
	job, err := p.loader.GetJob(ctx, jobID)
	if storage.IsNotFound(err) {
		return nil, ErrUnknownJob
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// The job may have gone live while it was being loaded.
	if t, ok := p.topics[jobID]; ok {
		return p.attachLocked(jobID, t), nil
	}

	sub := p.newSubscriptionLocked(jobID)
	logs := job.Logs
	snap := job.Clone()
	snap.Logs = nil
	sub.offer(model.StatusEvent{Type: model.EventSnapshot, JobID: jobID, Job: snap})
	sub.offer(model.StatusEvent{Type: model.EventLogsInit, JobID: jobID, Logs: logs})
	if job.Status.IsTerminal() {
		sub.offer(model.StatusEvent{Type: model.EventJobComplete, JobID: jobID, Status: job.Status})
	}
	sub.closeLocked()
	return sub, nil
}

// Run emits heartbeats to all live subscribers until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	if p.opts.Heartbeat <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(p.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

func (p *Publisher) heartbeat() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for jobID, t := range p.topics {
		for _, sub := range t.subs {
			// Queued events keep the connection alive on their own.
			if sub.closed || len(sub.ch) > 0 {
				continue
			}
			sub.ch <- model.StatusEvent{Type: model.EventHeartbeat, JobID: jobID}
		}
	}
}

// SubscriberCount returns the number of live subscribers of a job.
func (p *Publisher) SubscriberCount(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[jobID]; ok {
		return len(t.subs)
	}
	return 0
}

func (p *Publisher) attachLocked(jobID string, t *topic) *Subscription {
	sub := p.newSubscriptionLocked(jobID)
	sub.offer(model.StatusEvent{Type: model.EventSnapshot, JobID: jobID, Job: t.job})
	sub.offer(model.StatusEvent{Type: model.EventLogsInit, JobID: jobID, Logs: append([]model.LogEntry(nil), t.logs...)})
	t.subs[sub.id] = sub
	return sub
}

func (p *Publisher) newSubscriptionLocked(jobID string) *Subscription {
	p.seq++
	return &Subscription{
		JobID: jobID,
		id:    p.seq,
		p:     p,
		ch:    make(chan model.StatusEvent, p.opts.Buffer+3),
	}
}

func (p *Publisher) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[sub.JobID]; ok {
		delete(t.subs, sub.id)
	}
	sub.closeLocked()
}

func trimLogs(logs []model.LogEntry, limit int) []model.LogEntry {
	if limit > 0 && len(logs) > limit {
		return append([]model.LogEntry(nil), logs[len(logs)-limit:]...)
	}
	return logs
}

func firstNonEmpty(a, b model.JobStatus) model.JobStatus {
	if a != "" {
		return a
	}
	return b
}
