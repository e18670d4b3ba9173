package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/scheduler"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctl.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctl.Start(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctl.Stop(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctl.RunNow(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !res.Started {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var u scheduler.SettingsUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	st, err := s.ctl.UpdateSettings(r.Context(), u)
	var verr *scheduler.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]string, len(verr.Errors))
		for i, e := range verr.Errors {
			details[i] = e.Error()
		}
		writeError(w, http.StatusBadRequest, "invalid settings", details...)
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f, err := parseJobFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.jobs.ListJobs(r.Context(), f)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseJobFilter(r *http.Request) (storage.JobFilter, error) {
	q := r.URL.Query()
	f := storage.JobFilter{Search: q.Get("q")}

	if v := q.Get("status"); v != "" {
		f.Status = model.JobStatus(v)
		if !f.Status.Valid() {
			return f, errors.New("unknown status " + strconv.Quote(v))
		}
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(key); v != "" {
			t, err := parseTimeParam(v)
			if err != nil {
				return f, errors.New("invalid " + key + ": expected RFC 3339 time or YYYY-MM-DD date")
			}
			*dst = t
		}
	}
	for key, dst := range map[string]*int{"page": &f.Page, "pageSize": &f.PageSize} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return f, errors.New("invalid " + key)
			}
			*dst = n
		}
	}
	return f, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), r.PathValue("id"))
	switch {
	case storage.IsNotFound(err):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	err := s.ctl.Cancel(id)
	switch {
	case errors.Is(err, scheduler.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"cancelling": true, "jobId": id})
}
