package model

import "time"

// JobStatus is the lifecycle state of a scrape job.
type JobStatus string

// Job statuses persisted in scrape_jobs.status.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	for _, v := range AllJobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobPending,
	JobRunning,
	JobCompleted,
	JobFailed,
	JobCancelled,
}

// Transition is a single allowed status change.
type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions enumerates the job lifecycle.
var ValidTransitions = []Transition{
	{From: JobPending, To: JobRunning},
	{From: JobPending, To: JobFailed},
	{From: JobPending, To: JobCancelled},
	{From: JobRunning, To: JobCompleted},
	{From: JobRunning, To: JobFailed},
	{From: JobRunning, To: JobCancelled},
}

// IsValidTransition reports whether a job may move from one status to another.
func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// JobKind names the pipeline a job runs. All kinds share one execution slot.
type JobKind string

// Known job kinds.
const (
	KindIncremental JobKind = "incremental"
)

// LogLevel is the severity of a job log entry.
type LogLevel string

// Job log levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one line of a job's bounded log buffer.
type LogEntry struct {
	Time        time.Time      `json:"time"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	ChannelID   string         `json:"channelId,omitempty"`
	ChannelName string         `json:"channelName,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// ScrapeJob is the durable record of one ingestion run.
type ScrapeJob struct {
	ID                 string     `json:"id"`
	Kind               JobKind    `json:"kind"`
	Status             JobStatus  `json:"status"`
	Transitioning      bool       `json:"transitioning"`
	TotalItems         int        `json:"totalItems"`
	ProcessedItems     int        `json:"processedItems"`
	FailedItems        int        `json:"failedItems"`
	VideosAdded        int        `json:"videosAdded"`
	CurrentChannelName *string    `json:"currentChannelName"`
	StartedAt          time.Time  `json:"startedAt"`
	CompletedAt        *time.Time `json:"completedAt"`
	ErrorMessage       *string    `json:"errorMessage"`
	Logs               []LogEntry `json:"logs"`
}

// Clone returns a copy of j that shares no mutable state with it.
func (j *ScrapeJob) Clone() *ScrapeJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.CurrentChannelName != nil {
		v := *j.CurrentChannelName
		cp.CurrentChannelName = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		cp.CompletedAt = &v
	}
	if j.ErrorMessage != nil {
		v := *j.ErrorMessage
		cp.ErrorMessage = &v
	}
	cp.Logs = append([]LogEntry(nil), j.Logs...)
	return &cp
}

// AppendLogs adds entries to the job log, evicting the oldest entries beyond limit.
func (j *ScrapeJob) AppendLogs(limit int, entries ...LogEntry) {
	j.Logs = append(j.Logs, entries...)
	if limit > 0 && len(j.Logs) > limit {
		j.Logs = append([]LogEntry(nil), j.Logs[len(j.Logs)-limit:]...)
	}
}

// SchedulerSettings is the singleton configuration of the automatic scheduler.
type SchedulerSettings struct {
	Enabled       bool       `json:"enabled"`
	IntervalHours float64    `json:"intervalHours"`
	Timezone      string     `json:"timezone"`
	LastRun       *time.Time `json:"lastRun"`
	NextRun       *time.Time `json:"nextRun"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Interval returns the spacing between automatic runs.
func (s SchedulerSettings) Interval() time.Duration {
	return time.Duration(s.IntervalHours * float64(time.Hour))
}

// Default scheduler settings used when the singleton row is first created.
const (
	DefaultIntervalHours = 6
	DefaultTimezone      = "UTC"
)

// SettingsPatch is a partial update of SchedulerSettings. Nil fields are left unchanged.
// ClearNextRun resets NextRun to null.
type SettingsPatch struct {
	Enabled       *bool
	IntervalHours *float64
	Timezone      *string
	LastRun       *time.Time
	NextRun       *time.Time
	ClearNextRun  bool
}
