package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"feedharvest/pkg/models"
)

// SQLite implements Store on modernc.org/sqlite (CGO-free). Timestamps are
// stored as unix milliseconds so range queries compare numerically.
type SQLite struct {
	db   *sql.DB
	opts Options
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens the database at path, creating its directory and schema
func NewSQLite(ctx context.Context, path string, opts Options) (*SQLite, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single connection
	d.SetMaxOpenConns(1)
	_, _ = d.ExecContext(ctx, "PRAGMA busy_timeout=3000;")

	s := &SQLite{db: d, opts: opts.withDefaults()}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts(
			post_url TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			posted_at INTEGER NOT NULL,
			likes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			impressions INTEGER NOT NULL DEFAULT 0,
			media_url TEXT NOT NULL DEFAULT '',
			media_urls TEXT NOT NULL DEFAULT '[]',
			media_type TEXT NOT NULL DEFAULT '',
			synthetic BOOLEAN NOT NULL DEFAULT 0,
			last_scraped_at INTEGER NOT NULL,
			is_full_scrape BOOLEAN NOT NULL DEFAULT 0,
			scrape_version INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_user_posted ON posts(user_id, posted_at);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_last_scraped ON posts(user_id, last_scraped_at);`,
		`CREATE TABLE IF NOT EXISTS scrape_history(
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			scrape_type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NULL,
			posts_scraped INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_status ON scrape_history(user_id, status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const sqliteUpsertPost = `
	INSERT INTO posts(post_url, user_id, text, posted_at, likes, comments, impressions,
		media_url, media_urls, media_type, synthetic, last_scraped_at, is_full_scrape, scrape_version, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(post_url) DO UPDATE SET
		user_id=excluded.user_id,
		text=excluded.text,
		likes=excluded.likes,
		comments=excluded.comments,
		impressions=excluded.impressions,
		media_url=excluded.media_url,
		media_urls=excluded.media_urls,
		media_type=excluded.media_type,
		last_scraped_at=excluded.last_scraped_at,
		is_full_scrape=excluded.is_full_scrape,
		scrape_version=excluded.scrape_version;`

func (s *SQLite) UpsertPosts(ctx context.Context, userID string, posts []models.Post, isFull bool) (UpsertResult, error) {
	var res UpsertResult
	for _, batch := range batches(posts, s.opts.BatchSize) {
		written, inserted, err := s.upsertBatch(ctx, userID, batch, isFull)
		if err != nil {
			return res, err
		}
		res.Written += written
		res.Inserted += inserted
	}
	return res, nil
}

func (s *SQLite) upsertBatch(ctx context.Context, userID string, batch []models.Post, isFull bool) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var before, after int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts;`).Scan(&before); err != nil {
		return 0, 0, err
	}

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertPost)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = stmt.Close() }()

	now := toMillis(s.opts.Now())
	for _, p := range batch {
		urls, err := json.Marshal(nonNil(p.MediaURLs))
		if err != nil {
			return 0, 0, err
		}
		if _, err := stmt.ExecContext(ctx,
			p.PostURL, userID, p.Text, toMillis(p.PostedAt), p.Likes, p.Comments, p.Impressions,
			p.MediaURL, string(urls), string(p.MediaType), p.Synthetic, now, isFull, models.ScrapeVersion, now,
		); err != nil {
			return 0, 0, fmt.Errorf("upsert %s: %w", p.PostURL, err)
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts;`).Scan(&after); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return len(batch), after - before, nil
}

func (s *SQLite) InsertHistory(ctx context.Context, userID string, scrapeType models.ScrapeType) (models.HistoryEntry, error) {
	e := models.HistoryEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		ScrapeType: scrapeType,
		Status:     models.StatusRunning,
		StartedAt:  s.opts.Now().UTC().Truncate(time.Millisecond),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_history(id, user_id, scrape_type, status, started_at, completed_at, posts_scraped, error_message)
		VALUES(?, ?, ?, ?, ?, NULL, 0, '');`,
		e.ID, e.UserID, string(e.ScrapeType), string(e.Status), toMillis(e.StartedAt))
	if err != nil {
		return models.HistoryEntry{}, err
	}
	return e, nil
}

func (s *SQLite) UpdateHistory(ctx context.Context, id string, u models.HistoryUpdate) error {
	if err := validUpdate(u); err != nil {
		return err
	}
	var completed any
	if u.Status.Terminal() {
		completed = toMillis(u.CompletedAt)
	}
	r, err := s.db.ExecContext(ctx, `
		UPDATE scrape_history
		SET status=?, completed_at=?, posts_scraped=?, error_message=?
		WHERE id=? AND status='running';`,
		string(u.Status), completed, u.PostsScraped, u.ErrorMessage, id)
	if err != nil {
		return err
	}
	if n, err := r.RowsAffected(); err != nil || n > 0 {
		return err
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM scrape_history WHERE id=?;`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrHistoryNotFound
	}
	if err != nil {
		return err
	}
	return ErrHistoryFinalized
}

func (s *SQLite) GetHistory(ctx context.Context, id string) (models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, scrape_type, status, started_at, completed_at, posts_scraped, error_message
		FROM scrape_history WHERE id=?;`, id)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	defer func() { _ = rows.Close() }()
	out, err := scanHistory(rows)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	if len(out) == 0 {
		return models.HistoryEntry{}, ErrHistoryNotFound
	}
	return out[0], nil
}

func (s *SQLite) Eligibility(ctx context.Context, userID string) (models.Eligibility, error) {
	var running int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scrape_history WHERE user_id=? AND status='running';`, userID).Scan(&running); err != nil {
		return models.Eligibility{}, err
	}
	var lastFull, lastAuto sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			MAX(CASE WHEN scrape_type='full' THEN completed_at END),
			MAX(completed_at)
		FROM scrape_history
		WHERE user_id=? AND status='completed' AND scrape_type IN ('full', 'partial');`, userID).Scan(&lastFull, &lastAuto); err != nil {
		return models.Eligibility{}, err
	}
	return eligibility(running > 0, nullMillis(lastFull), nullMillis(lastAuto), s.opts.Now(), s.opts.MinInterval), nil
}

func (s *SQLite) LastFullScrape(ctx context.Context, userID string) (*time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(completed_at) FROM scrape_history
		WHERE user_id=? AND status='completed' AND scrape_type='full';`, userID).Scan(&last)
	if err != nil {
		return nil, err
	}
	return nullMillis(last), nil
}

const sqlitePostColumns = `post_url, user_id, text, posted_at, likes, comments, impressions,
	media_url, media_urls, media_type, synthetic, last_scraped_at, is_full_scrape, scrape_version, created_at`

func (s *SQLite) ListPosts(ctx context.Context, userID string, f PostFilter) ([]models.StoredPost, error) {
	q := `SELECT ` + sqlitePostColumns + ` FROM posts WHERE user_id=?`
	args := []any{userID}
	if f.Since != nil {
		q += ` AND posted_at >= ?`
		args = append(args, toMillis(*f.Since))
	}
	if f.MediaType != models.MediaNone {
		q += ` AND media_type = ?`
		args = append(args, string(f.MediaType))
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	q += ` ORDER BY posted_at DESC, post_url ASC LIMIT ? OFFSET ?;`
	args = append(args, clampLimit(f.Limit), offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPosts(rows)
}

func (s *SQLite) ListHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, scrape_type, status, started_at, completed_at, posts_scraped, error_message
		FROM scrape_history
		WHERE user_id=?
		ORDER BY started_at DESC
		LIMIT ?;`, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanHistory(rows)
}

func (s *SQLite) PostsToRescrape(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.StoredPost, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqlitePostColumns+`
		FROM posts
		WHERE user_id=? AND last_scraped_at < ?
		ORDER BY last_scraped_at ASC
		LIMIT ?;`, userID, toMillis(olderThan), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPosts(rows)
}

func scanPosts(rows *sql.Rows) ([]models.StoredPost, error) {
	var out []models.StoredPost
	for rows.Next() {
		var (
			p                              models.StoredPost
			postedAt, lastScraped, created int64
			urls, mediaType                string
		)
		if err := rows.Scan(&p.PostURL, &p.UserID, &p.Text, &postedAt, &p.Likes, &p.Comments, &p.Impressions,
			&p.MediaURL, &urls, &mediaType, &p.Synthetic, &lastScraped, &p.IsFullScrape, &p.ScrapeVersion, &created); err != nil {
			return nil, err
		}
		p.PostedAt = fromMillis(postedAt)
		p.LastScrapedAt = fromMillis(lastScraped)
		p.CreatedAt = fromMillis(created)
		p.MediaType = models.MediaType(mediaType)
		if err := json.Unmarshal([]byte(urls), &p.MediaURLs); err != nil {
			return nil, fmt.Errorf("decode media_urls for %s: %w", p.PostURL, err)
		}
		if len(p.MediaURLs) == 0 {
			p.MediaURLs = nil
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanHistory(rows *sql.Rows) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	for rows.Next() {
		var (
			e                  models.HistoryEntry
			scrapeType, status string
			started            int64
			completed          sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &scrapeType, &status, &started, &completed, &e.PostsScraped, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.ScrapeType = models.ScrapeType(scrapeType)
		e.Status = models.HistoryStatus(status)
		e.StartedAt = fromMillis(started)
		e.CompletedAt = nullMillis(completed)
		out = append(out, e)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
