// Package httpapi exposes the scheduler control surface and the live job
// status stream over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/publisher"
	"github.com/magnetoid/nisam-video-sub001/internal/scheduler"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

// Controller is the scheduler control surface.
type Controller interface {
	Start(ctx context.Context) (*model.SchedulerSettings, error)
	Stop(ctx context.Context) (*model.SchedulerSettings, error)
	UpdateSettings(ctx context.Context, u scheduler.SettingsUpdate) (*model.SchedulerSettings, error)
	RunNow(ctx context.Context) (scheduler.TriggerResult, error)
	Status(ctx context.Context) (*scheduler.Status, error)
	Cancel(jobID string) error
}

// JobReader reads job history.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*model.ScrapeJob, error)
	ListJobs(ctx context.Context, f storage.JobFilter) (*storage.JobPage, error)
}

// Streamer provides live job events.
type Streamer interface {
	Subscribe(ctx context.Context, jobID string) (*publisher.Subscription, error)
}

// Server serves the admin API.
type Server struct {
	ctl    Controller
	jobs   JobReader
	stream Streamer
	token  string
	log    *slog.Logger
}

// New creates a Server. An empty token disables authentication.
func New(ctl Controller, jobs JobReader, stream Streamer, token string, log *slog.Logger) *Server {
	return &Server{ctl: ctl, jobs: jobs, stream: stream, token: token, log: log}
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/scheduler", s.handleStatus)
	api.HandleFunc("POST /api/scheduler/start", s.handleStart)
	api.HandleFunc("POST /api/scheduler/stop", s.handleStop)
	api.HandleFunc("POST /api/scheduler/run", s.handleRun)
	api.HandleFunc("PUT /api/scheduler/settings", s.handleSettings)
	api.HandleFunc("GET /api/jobs", s.handleListJobs)
	api.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	api.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	api.HandleFunc("GET /api/jobs/{id}/stream", s.handleStream)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/api/", s.auth(api))
	return s.logRequests(root)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// auth requires "Authorization: Bearer <token>". Stream requests may pass
// the token as access_token since browser event sources cannot set headers.
func (s *Server) auth(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	want := []byte(s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok && strings.HasSuffix(r.URL.Path, "/stream") {
			got, ok = r.URL.Query().Get("access_token"), true
		}
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
