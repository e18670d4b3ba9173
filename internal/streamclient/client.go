// Package streamclient observes a job over the status stream endpoint.
//
// A stream that drops is resubscribed with capped exponential backoff; every
// subscription starts with a snapshot and a full log replay, so reconnecting
// mid-job is safe. After MaxAttempts consecutive failed connections the
// client falls back to polling the job until it finishes.
package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

// Default reconnect and polling settings.
const (
	DefaultBackoffBase  = time.Second
	DefaultBackoffCap   = 30 * time.Second
	DefaultMaxAttempts  = 5
	DefaultPollInterval = 3 * time.Second
)

var errStreamEnded = errors.New("stream ended before job_complete")

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Permanent reports whether retrying the request cannot help.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// Options tunes a Client. Zero values use the defaults.
type Options struct {
	Token        string
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	MaxAttempts  uint64
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Client talks to the admin API.
type Client struct {
	base string
	opts Options
	log  *slog.Logger
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts Options, log *slog.Logger) *Client {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), opts: opts, log: log}
}

func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.opts.BackoffBase)
	b = retry.WithCappedDuration(c.opts.BackoffCap, b)
	// MaxAttempts counts connections; the first one is not a retry.
	return retry.WithMaxRetries(c.opts.MaxAttempts-1, b)
}

// Watch follows a job until it reaches a terminal status, calling onUpdate
// with the reconstructed state after every change.
func (c *Client) Watch(ctx context.Context, jobID string, onUpdate func(State)) (State, error) {
	st := &State{}
	notify := func() {
		if onUpdate != nil {
			onUpdate(st.clone())
		}
	}

	for {
		var done bool
		err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
			d, healthy, err := c.streamOnce(ctx, jobID, st, notify)
			done = d
			var serr *StatusError
			switch {
			case d:
				return nil
			case errors.As(err, &serr) && serr.Permanent():
				return err
			case healthy:
				// The connection worked; reconnect with a fresh backoff.
				return nil
			default:
				c.log.Debug("stream attempt failed", "job_id", jobID, "error", err)
				return retry.RetryableError(err)
			}
		})
		switch {
		case done:
			return st.clone(), nil
		case ctx.Err() != nil:
			return st.clone(), ctx.Err()
		case err == nil:
			continue
		}

		var serr *StatusError
		if errors.As(err, &serr) && serr.Permanent() {
			return st.clone(), err
		}
		c.log.Warn("status stream unavailable, polling instead", "job_id", jobID, "error", err)
		break
	}

	st.Polling = true
	notify()
	return c.poll(ctx, jobID, st, notify)
}

// streamOnce consumes one stream connection. healthy reports whether the
// server delivered at least one event before the connection ended.
func (c *Client) streamOnce(ctx context.Context, jobID string, st *State, notify func()) (done, healthy bool, err error) {
	u := c.base + "/api/jobs/" + url.PathEscape(jobID) + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return false, false, fmt.Errorf("connect stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, false, &StatusError{StatusCode: resp.StatusCode, URL: u}
	}

	err = ReadEvents(resp.Body, func(ev Event) error {
		healthy = true
		if ev.Type == model.EventHeartbeat {
			return nil
		}
		if err := st.Apply(ev); err != nil {
			return err
		}
		notify()
		if st.Done {
			done = true
			return errStopReading
		}
		return nil
	})
	switch {
	case done:
		return true, true, nil
	case err != nil:
		return false, healthy, err
	default:
		return false, healthy, errStreamEnded
	}
}

var errStopReading = errors.New("stop reading")

func (c *Client) poll(ctx context.Context, jobID string, st *State, notify func()) (State, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		var serr *StatusError
		switch {
		case errors.As(err, &serr) && serr.Permanent():
			return st.clone(), err
		case err != nil:
			c.log.Debug("poll failed", "job_id", jobID, "error", err)
		default:
			st.applyPolled(job)
			notify()
			if st.Done {
				return st.clone(), nil
			}
		}

		select {
		case <-ctx.Done():
			return st.clone(), ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetJob fetches the persisted state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*model.ScrapeJob, error) {
	var job model.ScrapeJob
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ActiveJobID returns the id of the running job, or "" when none is running.
func (c *Client) ActiveJobID(ctx context.Context) (string, error) {
	var st struct {
		ActiveJob *model.ScrapeJob `json:"activeJob"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/scheduler", &st); err != nil {
		return "", err
	}
	if st.ActiveJob == nil {
		return "", nil
	}
	return st.ActiveJob.ID, nil
}

// RunNow triggers a job. started is false when another job is already active;
// jobID is then the id of that job.
func (c *Client) RunNow(ctx context.Context) (jobID string, started bool, err error) {
	var res struct {
		Started bool   `json:"started"`
		JobID   string `json:"jobId"`
	}
	err = c.do(ctx, http.MethodPost, "/api/scheduler/run", &res)
	var serr *StatusError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusConflict {
		return res.JobID, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return res.JobID, res.Started, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := c.opts.HTTPClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusConflict {
		return &StatusError{StatusCode: resp.StatusCode, URL: u}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusConflict {
		return &StatusError{StatusCode: resp.StatusCode, URL: u}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
}
