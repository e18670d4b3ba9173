package publisher

import "github.com/magnetoid/nisam-video-sub001/internal/model"

// Subscription is one observer's view of a job's events.
type Subscription struct {
	JobID string

	id     uint64
	p      *Publisher
	ch     chan model.StatusEvent
	closed bool
	lagged bool
}

// Events returns the event stream. It is closed after job_complete, after
// Close, or when the subscriber fell too far behind.
func (s *Subscription) Events() <-chan model.StatusEvent {
	return s.ch
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.p.unsubscribe(s)
}

// Lagged reports whether the subscription was dropped for falling behind.
func (s *Subscription) Lagged() bool {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.lagged
}

// offer queues ev without blocking. Callers hold the publisher lock.
func (s *Subscription) offer(ev model.StatusEvent) bool {
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
