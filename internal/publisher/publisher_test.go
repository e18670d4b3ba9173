package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

type mockLoader struct {
	jobs map[string]*model.ScrapeJob
}

func (m *mockLoader) GetJob(_ context.Context, id string) (*model.ScrapeJob, error) {
	if j, ok := m.jobs[id]; ok {
		return j.Clone(), nil
	}
	return nil, storage.ErrNotFound
}

func newTestPublisher(opts Options, loader JobLoader) *Publisher {
	return New(loader, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func entries(prefix string, n int) []model.LogEntry {
	out := make([]model.LogEntry, n)
	for i := range out {
		out[i] = model.LogEntry{
			Time:    time.Date(2026, 10, 17, 12, 0, i, 0, time.UTC),
			Level:   model.LevelInfo,
			Message: fmt.Sprintf("%s-%d", prefix, i),
		}
	}
	return out
}

func drain(t *testing.T, sub *Subscription) []model.StatusEvent {
	t.Helper()
	var got []model.StatusEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("subscription was not closed")
		}
	}
}

func types(evs []model.StatusEvent) []model.EventType {
	out := make([]model.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

// reconstruct applies the client-side rules: logs_init replaces, log appends.
func reconstruct(evs []model.StatusEvent) []model.LogEntry {
	var logs []model.LogEntry
	for _, ev := range evs {
		switch ev.Type {
		case model.EventLogsInit:
			logs = append([]model.LogEntry(nil), ev.Logs...)
		case model.EventLog:
			logs = append(logs, ev.Logs...)
		}
	}
	return logs
}

func TestSubscribeMidRunReconstructsLog(t *testing.T) {
	p := newTestPublisher(Options{}, nil)
	job := &model.ScrapeJob{ID: "job-1", Status: model.JobRunning, Logs: entries("init", 5)}
	p.Open(job)

	sub, err := p.Subscribe(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deltas := entries("delta", 3)
	for _, e := range deltas {
		p.Publish("job-1", model.StatusEvent{Type: model.EventLog, Logs: []model.LogEntry{e}})
	}
	p.Publish("job-1", model.StatusEvent{Type: model.EventJobComplete, Status: model.JobCompleted})
	p.Publish("job-1", model.StatusEvent{Type: model.EventLog, Logs: entries("late", 1)})

	got := drain(t, sub)

	wantTypes := []model.EventType{
		model.EventSnapshot, model.EventLogsInit,
		model.EventLog, model.EventLog, model.EventLog,
		model.EventJobComplete,
	}
	if diff := cmp.Diff(wantTypes, types(got)); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}

	want := append(entries("init", 5), deltas...)
	if diff := cmp.Diff(want, reconstruct(got)); diff != "" {
		t.Errorf("reconstructed log mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.JobCompleted, got[len(got)-1].Status); diff != "" {
		t.Errorf("completion status mismatch (-want +got):\n%s", diff)
	}
	if p.Live("job-1") {
		t.Error("topic should be closed after job_complete")
	}
}

func TestBroadcastToAllSubscribers(t *testing.T) {
	p := newTestPublisher(Options{}, nil)
	p.Open(&model.ScrapeJob{ID: "job-2", Status: model.JobRunning})

	a, err := p.Subscribe(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	b, err := p.Subscribe(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	if diff := cmp.Diff(2, p.SubscriberCount("job-2")); diff != "" {
		t.Errorf("subscriber count mismatch (-want +got):\n%s", diff)
	}

	p.Publish("job-2", model.StatusEvent{Type: model.EventLog, Logs: entries("x", 2)})
	p.Publish("job-2", model.StatusEvent{Type: model.EventSnapshot, Job: &model.ScrapeJob{ID: "job-2", Status: model.JobRunning, ProcessedItems: 2}})
	p.Publish("job-2", model.StatusEvent{Type: model.EventJobComplete, Status: model.JobCompleted})

	gotA, gotB := drain(t, a), drain(t, b)
	if diff := cmp.Diff(types(gotA), types(gotB)); diff != "" {
		t.Errorf("subscribers saw different events (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(entries("x", 2), reconstruct(gotB)); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
}

func TestSlowSubscriberIsDroppedWithoutAffectingOthers(t *testing.T) {
	p := newTestPublisher(Options{Buffer: 2}, nil)
	p.Open(&model.ScrapeJob{ID: "job-3", Status: model.JobRunning})

	slow, err := p.Subscribe(context.Background(), "job-3")
	if err != nil {
		t.Fatalf("subscribe slow: %v", err)
	}
	fast, err := p.Subscribe(context.Background(), "job-3")
	if err != nil {
		t.Fatalf("subscribe fast: %v", err)
	}

	var fastGot []model.StatusEvent
	// Drain the fast subscriber's replay so it keeps up.
	fastGot = append(fastGot, <-fast.Events(), <-fast.Events())

	for i := 0; i < 10; i++ {
		p.Publish("job-3", model.StatusEvent{Type: model.EventLog, Logs: entries(fmt.Sprintf("n%d", i), 1)})
		fastGot = append(fastGot, <-fast.Events())
	}

	if !slow.Lagged() {
		t.Error("slow subscriber should be marked lagged")
	}
	// The slow subscriber still gets what was queued before it was dropped, then EOF.
	_ = drain(t, slow)

	if diff := cmp.Diff(12, len(fastGot)); diff != "" {
		t.Errorf("fast subscriber event count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, p.SubscriberCount("job-3")); diff != "" {
		t.Errorf("subscriber count mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeFinishedJobReplaysStoredState(t *testing.T) {
	done := time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)
	loader := &mockLoader{jobs: map[string]*model.ScrapeJob{
		"old": {ID: "old", Status: model.JobFailed, CompletedAt: &done, Logs: entries("stored", 4)},
	}}
	p := newTestPublisher(Options{}, loader)

	sub, err := p.Subscribe(context.Background(), "old")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	got := drain(t, sub)

	wantTypes := []model.EventType{model.EventSnapshot, model.EventLogsInit, model.EventJobComplete}
	if diff := cmp.Diff(wantTypes, types(got)); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(entries("stored", 4), reconstruct(got)); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.JobFailed, got[2].Status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	_, err = p.Subscribe(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

func TestHeartbeatReachesSubscribers(t *testing.T) {
	p := newTestPublisher(Options{Heartbeat: 10 * time.Millisecond}, nil)
	p.Open(&model.ScrapeJob{ID: "job-4", Status: model.JobRunning})
	sub, err := p.Subscribe(context.Background(), "job-4")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == model.EventHeartbeat {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat received")
		}
	}
}

func TestHeartbeatsDoNotCrowdOutEvents(t *testing.T) {
	p := newTestPublisher(Options{Buffer: 2}, nil)
	p.Open(&model.ScrapeJob{ID: "job-6", Status: model.JobRunning})
	sub, err := p.Subscribe(context.Background(), "job-6")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	<-sub.Events()
	<-sub.Events()

	for i := 0; i < 10; i++ {
		p.heartbeat()
	}
	for i := 0; i < 4; i++ {
		p.Publish("job-6", model.StatusEvent{Type: model.EventLog, Logs: entries(fmt.Sprintf("h%d", i), 1)})
	}

	if sub.Lagged() {
		t.Fatal("heartbeats must not push a healthy subscriber over its buffer")
	}
	var types []model.EventType
	for n := len(sub.Events()); n > 0; n-- {
		types = append(types, (<-sub.Events()).Type)
	}
	want := []model.EventType{model.EventHeartbeat, model.EventLog, model.EventLog, model.EventLog, model.EventLog}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("queued events mismatch (-want +got):\n%s", diff)
	}
}

func TestLogReplayIsCapped(t *testing.T) {
	p := newTestPublisher(Options{LogLimit: 3}, nil)
	p.Open(&model.ScrapeJob{ID: "job-5", Status: model.JobRunning})
	p.Publish("job-5", model.StatusEvent{Type: model.EventLog, Logs: entries("e", 5)})

	sub, err := p.Subscribe(context.Background(), "job-5")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	<-sub.Events()
	init := <-sub.Events()

	want := entries("e", 5)[2:]
	if diff := cmp.Diff(want, init.Logs, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("replay mismatch (-want +got):\n%s", diff)
	}
}
