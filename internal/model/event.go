package model

// EventType names a status stream event. The values are the wire event names.
type EventType string

// Status stream event types.
const (
	EventSnapshot    EventType = "snapshot"
	EventLogsInit    EventType = "logs_init"
	EventLog         EventType = "log"
	EventJobComplete EventType = "job_complete"
	EventHeartbeat   EventType = "heartbeat"
)

// StatusEvent is an ephemeral progress notification for one job.
// Which fields are set depends on Type.
type StatusEvent struct {
	Type   EventType
	JobID  string
	Job    *ScrapeJob
	Logs   []LogEntry
	Status JobStatus
}

// JobCompletePayload is the wire payload of a job_complete event.
type JobCompletePayload struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// Payload returns the JSON-serializable body of the event.
func (e StatusEvent) Payload() any {
	switch e.Type {
	case EventSnapshot:
		return e.Job
	case EventLogsInit, EventLog:
		if e.Logs == nil {
			return []LogEntry{}
		}
		return e.Logs
	case EventJobComplete:
		return JobCompletePayload{JobID: e.JobID, Status: e.Status}
	default:
		return struct{}{}
	}
}
