package streamclient

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

const maxEventSize = 4 << 20

// Event is one decoded server-sent event.
type Event struct {
	Type model.EventType
	Data []byte
}

// ReadEvents parses a text/event-stream body and calls fn for every event.
// Comments and the id and retry fields are ignored.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxEventSize)

	var name string
	var data bytes.Buffer
	dispatch := func() error {
		defer func() {
			name = ""
			data.Reset()
		}()
		if name == "" && data.Len() == 0 {
			return nil
		}
		if name == "" {
			name = "message"
		}
		return fn(Event{Type: model.EventType(name), Data: bytes.Clone(data.Bytes())})
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// State is the observer's reconstruction of a job.
type State struct {
	Job  model.ScrapeJob
	Logs []model.LogEntry
	Done bool
	// Polling is set once the client gave up on streaming.
	Polling bool
}

// Apply folds one event into the state: snapshot replaces the job,
// logs_init replaces the log, log appends to it and job_complete ends it.
// Heartbeats and unknown events are ignored.
func (s *State) Apply(ev Event) error {
	switch ev.Type {
	case model.EventSnapshot:
		var job model.ScrapeJob
		if err := json.Unmarshal(ev.Data, &job); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		job.Logs = nil
		s.Job = job
	case model.EventLogsInit:
		var logs []model.LogEntry
		if err := json.Unmarshal(ev.Data, &logs); err != nil {
			return fmt.Errorf("decode logs_init: %w", err)
		}
		s.Logs = logs
	case model.EventLog:
		var logs []model.LogEntry
		if err := json.Unmarshal(ev.Data, &logs); err != nil {
			return fmt.Errorf("decode log: %w", err)
		}
		s.Logs = append(s.Logs, logs...)
	case model.EventJobComplete:
		var p model.JobCompletePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode job_complete: %w", err)
		}
		s.Job.Status = p.Status
		s.Done = true
	}
	return nil
}

// applyPolled replaces the state with a job read from the API.
func (s *State) applyPolled(job *model.ScrapeJob) {
	s.Logs = job.Logs
	s.Job = *job
	s.Job.Logs = nil
	s.Done = job.Status.IsTerminal()
}

func (s *State) clone() State {
	cp := *s
	cp.Logs = append([]model.LogEntry(nil), s.Logs...)
	if j := s.Job.Clone(); j != nil {
		cp.Job = *j
	}
	return cp
}
