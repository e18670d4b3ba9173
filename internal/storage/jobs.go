package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

const jobColumns = `id, kind, status, transitioning, total_items, processed_items, failed_items,
	videos_added, current_channel_name, started_at, completed_at, error_message, logs`

// CreateJob inserts a new scrape job row. The job must carry an ID.
func (s *SQLite) CreateJob(ctx context.Context, job *model.ScrapeJob) error {
	if job.ID == "" {
		return fmt.Errorf("insert job: missing id")
	}
	if job.Kind == "" {
		job.Kind = model.KindIncremental
	}
	logs, err := encodeLogs(job.Logs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), string(job.Status), boolToInt(job.Transitioning),
		job.TotalItems, job.ProcessedItems, job.FailedItems, job.VideosAdded,
		job.CurrentChannelName, formatTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ErrorMessage, logs,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns a single job by its ID.
func (s *SQLite) GetJob(ctx context.Context, id string) (*model.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// GetActiveJob returns the most recently started running job, or ErrNotFound.
func (s *SQLite) GetActiveJob(ctx context.Context) (*model.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE status = ? ORDER BY started_at DESC LIMIT 1`,
		string(model.JobRunning),
	)
	return scanJob(row)
}

// ListJobsByStatus returns every job with the given status, oldest first.
func (s *SQLite) ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.ScrapeJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE status = ? ORDER BY started_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

// UpdateJob writes the full state of a job. Rows that already have a completion
// time are never modified; ErrJobFinalized is returned instead.
func (s *SQLite) UpdateJob(ctx context.Context, job *model.ScrapeJob) error {
	logs, err := encodeLogs(job.Logs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs
		 SET status = ?, transitioning = ?, total_items = ?, processed_items = ?, failed_items = ?,
		     videos_added = ?, current_channel_name = ?, completed_at = ?, error_message = ?, logs = ?
		 WHERE id = ? AND completed_at IS NULL`,
		string(job.Status), boolToInt(job.Transitioning), job.TotalItems, job.ProcessedItems,
		job.FailedItems, job.VideosAdded, job.CurrentChannelName, nullTime(job.CompletedAt),
		job.ErrorMessage, logs, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, job.ID); err != nil {
		return err
	}
	return ErrJobFinalized
}

// ListJobs returns a page of jobs matching f, newest first.
func (s *SQLite) ListJobs(ctx context.Context, f JobFilter) (*JobPage, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "started_at < ?")
		args = append(args, formatTime(f.To))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + escapeLike(q) + "%"
		where = append(where,
			`(id LIKE ? ESCAPE '\' OR current_channel_name LIKE ? ESCAPE '\' OR error_message LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page, size := normalizePage(f.Page, f.PageSize)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scrape_jobs`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs`+clause+` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`,
		append(args, size, (page-1)*size)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	items, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.ScrapeJob{}
	}

	return &JobPage{
		Items:      items,
		TotalItems: total,
		Page:       page,
		PageSize:   size,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// DeleteFinishedBefore purges terminal jobs that completed before the cutoff.
func (s *SQLite) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scrape_jobs WHERE completed_at IS NOT NULL AND completed_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// GetSettings returns the scheduler settings, creating the row with defaults on first read.
func (s *SQLite) GetSettings(ctx context.Context) (*model.SchedulerSettings, error) {
	if err := s.ensureSettings(ctx, s.db); err != nil {
		return nil, err
	}
	return scanSettings(s.db.QueryRowContext(ctx, settingsQuery))
}

// UpdateSettings applies patch to the settings singleton. Concurrent writers are last-writer-wins.
func (s *SQLite) UpdateSettings(ctx context.Context, patch model.SettingsPatch) (*model.SchedulerSettings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureSettings(ctx, tx); err != nil {
		return nil, err
	}
	cur, err := scanSettings(tx.QueryRowContext(ctx, settingsQuery))
	if err != nil {
		return nil, err
	}

	if patch.Enabled != nil {
		cur.Enabled = *patch.Enabled
	}
	if patch.IntervalHours != nil {
		cur.IntervalHours = *patch.IntervalHours
	}
	if patch.Timezone != nil {
		cur.Timezone = *patch.Timezone
	}
	if patch.LastRun != nil {
		v := *patch.LastRun
		cur.LastRun = &v
	}
	if patch.ClearNextRun {
		cur.NextRun = nil
	}
	if patch.NextRun != nil {
		v := *patch.NextRun
		cur.NextRun = &v
	}
	cur.UpdatedAt = parseTime(formatTime(time.Now()))

	_, err = tx.ExecContext(ctx,
		`UPDATE scheduler_settings
		 SET enabled = ?, interval_hours = ?, timezone = ?, last_run = ?, next_run = ?, updated_at = ?
		 WHERE id = 1`,
		boolToInt(cur.Enabled), cur.IntervalHours, cur.Timezone,
		nullTime(cur.LastRun), nullTime(cur.NextRun), formatTime(cur.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settings: %w", err)
	}
	return cur, nil
}

const settingsQuery = `SELECT enabled, interval_hours, timezone, last_run, next_run, updated_at
	FROM scheduler_settings WHERE id = 1`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) ensureSettings(ctx context.Context, db execer) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO scheduler_settings (id, enabled, interval_hours, timezone, updated_at)
		 VALUES (1, 0, ?, ?, ?)`,
		float64(model.DefaultIntervalHours), model.DefaultTimezone, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("init settings: %w", err)
	}
	return nil
}

func scanSettings(row scannable) (*model.SchedulerSettings, error) {
	var st model.SchedulerSettings
	var enabled int
	var lastRun, nextRun sql.NullString
	var updated string
	if err := row.Scan(&enabled, &st.IntervalHours, &st.Timezone, &lastRun, &nextRun, &updated); err != nil {
		return nil, wrapNoRows("settings", err)
	}
	st.Enabled = enabled == 1
	st.LastRun = parseNullTime(lastRun)
	st.NextRun = parseNullTime(nextRun)
	st.UpdatedAt = parseTime(updated)
	return &st, nil
}

func scanJob(row scannable) (*model.ScrapeJob, error) {
	var j model.ScrapeJob
	var kind, status, started, logs string
	var transitioning int
	var current, completed, errMsg sql.NullString
	err := row.Scan(&j.ID, &kind, &status, &transitioning, &j.TotalItems, &j.ProcessedItems,
		&j.FailedItems, &j.VideosAdded, &current, &started, &completed, &errMsg, &logs)
	if err != nil {
		return nil, wrapNoRows("job", err)
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.Transitioning = transitioning == 1
	if current.Valid {
		j.CurrentChannelName = &current.String
	}
	j.StartedAt = parseTime(started)
	j.CompletedAt = parseNullTime(completed)
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	if err := json.Unmarshal([]byte(logs), &j.Logs); err != nil {
		return nil, fmt.Errorf("decode job logs: %w", err)
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]model.ScrapeJob, error) {
	var jobs []model.ScrapeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func encodeLogs(entries []model.LogEntry) (string, error) {
	if entries == nil {
		entries = []model.LogEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode job logs: %w", err)
	}
	return string(b), nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
