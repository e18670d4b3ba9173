package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Storage = (*SQLite)(nil)

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateChannel inserts a new channel and populates its ID and CreatedAt.
func (s *SQLite) CreateChannel(ctx context.Context, ch *model.Channel) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (external_id, name, feed_url, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ch.ExternalID, ch.Name, ch.FeedURL, boolToInt(ch.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ch.ID = id
	ch.CreatedAt = parseTime(now)
	return nil
}

// UpsertChannel inserts a channel or updates the one with the same external ID.
func (s *SQLite) UpsertChannel(ctx context.Context, ch *model.Channel) error {
	now := formatTime(time.Now())
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO channels (external_id, name, feed_url, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO UPDATE
		   SET name = excluded.name, feed_url = excluded.feed_url, is_active = excluded.is_active
		 RETURNING id, created_at`,
		ch.ExternalID, ch.Name, ch.FeedURL, boolToInt(ch.IsActive), now,
	)
	var created string
	if err := row.Scan(&ch.ID, &created); err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	ch.CreatedAt = parseTime(created)
	return nil
}

const channelColumns = `id, external_id, name, feed_url, is_active, last_check_at, created_at`

// GetChannel returns a single channel by its ID.
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by ID.
func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanChannels(rows)
}

// ListActiveChannels returns the channels an ingestion run should visit.
func (s *SQLite) ListActiveChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active channels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanChannels(rows)
}

// UpdateChannel persists changes to an existing channel.
func (s *SQLite) UpdateChannel(ctx context.Context, ch *model.Channel) error {
	var lastCheck *string
	if ch.LastCheckAt != nil {
		v := formatTime(*ch.LastCheckAt)
		lastCheck = &v
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET name = ?, feed_url = ?, is_active = ?, last_check_at = ? WHERE id = ?`,
		ch.Name, ch.FeedURL, boolToInt(ch.IsActive), lastCheck, ch.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return expectAffected(res)
}

// DeleteChannel removes a channel and its filters. Ingested videos are kept.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM filters WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("delete filters: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateFilter inserts a new filter and populates its ID and CreatedAt.
func (s *SQLite) CreateFilter(ctx context.Context, f *model.Filter) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO filters (channel_id, kind, scope, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ChannelID, string(f.Kind), string(f.Scope), f.Value, now,
	)
	if err != nil {
		return fmt.Errorf("insert filter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	f.CreatedAt = parseTime(now)
	return nil
}

// ListFilters returns all filters for the given channel.
func (s *SQLite) ListFilters(ctx context.Context, channelID int64) ([]model.Filter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, kind, scope, value, created_at FROM filters WHERE channel_id = ? ORDER BY id`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var filters []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, *f)
	}
	return filters, rows.Err()
}

// GetFilter returns a single filter by its ID.
func (s *SQLite) GetFilter(ctx context.Context, id int64) (*model.Filter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, kind, scope, value, created_at FROM filters WHERE id = ?`, id,
	)
	return scanFilter(row)
}

// DeleteFilter removes a filter by its ID.
func (s *SQLite) DeleteFilter(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	return expectAffected(res)
}

// AddVideo records an ingested video. It reports false when the video was already known.
func (s *SQLite) AddVideo(ctx context.Context, v *model.Video) (bool, error) {
	now := formatTime(time.Now())
	var published *string
	if v.PublishedAt != nil {
		p := formatTime(*v.PublishedAt)
		published = &p
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO videos (id, channel_id, title, url, published_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.ChannelID, v.Title, v.URL, published, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	v.CreatedAt = parseTime(now)
	return true, nil
}

// HasVideo checks whether a video has already been ingested.
func (s *SQLite) HasVideo(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check video: %w", err)
	}
	return count > 0, nil
}

// CountVideos returns the number of videos ingested for a channel.
func (s *SQLite) CountVideos(ctx context.Context, channelID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE channel_id = ?`, channelID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count videos: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapNoRows(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("scan %s: %w", what, err)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var isActive int
	var lastCheck sql.NullString
	var created string
	err := row.Scan(&ch.ID, &ch.ExternalID, &ch.Name, &ch.FeedURL, &isActive, &lastCheck, &created)
	if err != nil {
		return nil, wrapNoRows("channel", err)
	}
	ch.IsActive = isActive == 1
	ch.LastCheckAt = parseNullTime(lastCheck)
	ch.CreatedAt = parseTime(created)
	return &ch, nil
}

func scanChannels(rows *sql.Rows) ([]model.Channel, error) {
	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

func scanFilter(row scannable) (*model.Filter, error) {
	var f model.Filter
	var kindStr, scopeStr, createdStr string
	err := row.Scan(&f.ID, &f.ChannelID, &kindStr, &scopeStr, &f.Value, &createdStr)
	if err != nil {
		return nil, wrapNoRows("filter", err)
	}
	f.Kind = model.FilterKind(kindStr)
	f.Scope = model.FilterScope(scopeStr)
	f.CreatedAt = parseTime(createdStr)
	return &f, nil
}
