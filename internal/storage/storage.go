// Package storage defines the persistence interfaces and their implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrJobFinalized is returned when writing to a job that already reached a terminal status.
	ErrJobFinalized = errors.New("job already finalized")
)

// JobFilter selects scrape jobs for listing. Zero values disable a criterion.
type JobFilter struct {
	Status   model.JobStatus
	From     time.Time
	To       time.Time
	Search   string
	Page     int
	PageSize int
}

// Default and maximum page sizes for ListJobs.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// JobPage is one page of ListJobs results, newest first.
type JobPage struct {
	Items      []model.ScrapeJob `json:"items"`
	TotalItems int               `json:"totalItems"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalPages int               `json:"totalPages"`
}

// JobStore persists scrape jobs. Only the runner owning a job writes its row.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.ScrapeJob) error
	GetJob(ctx context.Context, id string) (*model.ScrapeJob, error)
	GetActiveJob(ctx context.Context) (*model.ScrapeJob, error)
	ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.ScrapeJob, error)
	UpdateJob(ctx context.Context, job *model.ScrapeJob) error
	ListJobs(ctx context.Context, f JobFilter) (*JobPage, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SettingsStore persists the scheduler settings singleton.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*model.SchedulerSettings, error)
	UpdateSettings(ctx context.Context, patch model.SettingsPatch) (*model.SchedulerSettings, error)
}

// CatalogStore persists tracked channels, their filters, and ingested videos.
type CatalogStore interface {
	CreateChannel(ctx context.Context, ch *model.Channel) error
	UpsertChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListActiveChannels(ctx context.Context) ([]model.Channel, error)
	UpdateChannel(ctx context.Context, ch *model.Channel) error
	DeleteChannel(ctx context.Context, id int64) error

	CreateFilter(ctx context.Context, f *model.Filter) error
	ListFilters(ctx context.Context, channelID int64) ([]model.Filter, error)
	GetFilter(ctx context.Context, id int64) (*model.Filter, error)
	DeleteFilter(ctx context.Context, id int64) error

	AddVideo(ctx context.Context, v *model.Video) (bool, error)
	HasVideo(ctx context.Context, id string) (bool, error)
	CountVideos(ctx context.Context, channelID int64) (int, error)
}

// Storage is the union of all persistence operations.
type Storage interface {
	JobStore
	SettingsStore
	CatalogStore
	Close() error
}
