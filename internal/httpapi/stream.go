package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/publisher"
)

// handleStream serves a job's status events as server-sent events. The
// connection ends after job_complete, or early when the subscriber lagged
// so the client reconnects and receives a fresh replay.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	ctx := r.Context()

	sub, err := s.stream.Subscribe(ctx, jobID)
	switch {
	case errors.Is(err, publisher.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	// Streams outlive any server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.log.Warn("stream flush unsupported", "error", err)
		return
	}

	s.log.Debug("stream opened", "job_id", jobID)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("stream closed by client", "job_id", jobID)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Lagged() {
					s.log.Warn("stream subscriber lagged", "job_id", jobID)
				}
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.log.Debug("stream write failed", "job_id", jobID, "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, ev model.StatusEvent) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
