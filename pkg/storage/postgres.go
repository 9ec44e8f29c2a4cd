package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedharvest/pkg/models"
)

// Postgres implements Store on a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn and creates the schema
func NewPostgres(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	_, err = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS posts (
  post_url TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  text TEXT NOT NULL DEFAULT '',
  posted_at TIMESTAMPTZ NOT NULL,
  likes INT NOT NULL DEFAULT 0,
  comments INT NOT NULL DEFAULT 0,
  impressions INT NOT NULL DEFAULT 0,
  media_url TEXT NOT NULL DEFAULT '',
  media_urls TEXT[] NOT NULL DEFAULT '{}',
  media_type TEXT NOT NULL DEFAULT '',
  synthetic BOOLEAN NOT NULL DEFAULT false,
  last_scraped_at TIMESTAMPTZ NOT NULL,
  is_full_scrape BOOLEAN NOT NULL DEFAULT false,
  scrape_version INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_user_posted ON posts(user_id, posted_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_last_scraped ON posts(user_id, last_scraped_at);
CREATE TABLE IF NOT EXISTS scrape_history (
  id UUID PRIMARY KEY,
  user_id TEXT NOT NULL,
  scrape_type TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL,
  posts_scraped INT NOT NULL DEFAULT 0,
  error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_user_status ON scrape_history(user_id, status);
`)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, opts: opts.withDefaults()}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) UpsertPosts(ctx context.Context, userID string, posts []models.Post, isFull bool) (UpsertResult, error) {
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

// upsertBatch sends one pgx batch inside a transaction. xmax is zero only for
// rows created by this statement, which separates inserts from updates.
func (s *Postgres) upsertBatch(ctx context.Context, userID string, batch []models.Post, isFull bool) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.opts.Now().UTC()
	b := &pgx.Batch{}
	for _, p := range batch {
		b.Queue(`
INSERT INTO posts (post_url,user_id,text,posted_at,likes,comments,impressions,
  media_url,media_urls,media_type,synthetic,last_scraped_at,is_full_scrape,scrape_version,created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$12)
ON CONFLICT (post_url) DO UPDATE SET
  user_id=EXCLUDED.user_id, text=EXCLUDED.text,
  likes=EXCLUDED.likes, comments=EXCLUDED.comments, impressions=EXCLUDED.impressions,
  media_url=EXCLUDED.media_url, media_urls=EXCLUDED.media_urls, media_type=EXCLUDED.media_type,
  last_scraped_at=EXCLUDED.last_scraped_at, is_full_scrape=EXCLUDED.is_full_scrape,
  scrape_version=EXCLUDED.scrape_version
RETURNING (xmax = 0)`,
			p.PostURL, userID, p.Text, p.PostedAt.UTC(), p.Likes, p.Comments, p.Impressions,
			p.MediaURL, nonNil(p.MediaURLs), string(p.MediaType), p.Synthetic, now, isFull, models.ScrapeVersion)
	}

	br := tx.SendBatch(ctx, b)
	inserted := 0
	for _, p := range batch {
		var fresh bool
		if err := br.QueryRow().Scan(&fresh); err != nil {
			_ = br.Close()
			return 0, 0, fmt.Errorf("upsert %s: %w", p.PostURL, err)
		}
		if fresh {
			inserted++
		}
	}
	if err := br.Close(); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return len(batch), inserted, nil
}

func (s *Postgres) InsertHistory(ctx context.Context, userID string, scrapeType models.ScrapeType) (models.HistoryEntry, error) {
	e := models.HistoryEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		ScrapeType: scrapeType,
		Status:     models.StatusRunning,
		StartedAt:  s.opts.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO scrape_history (id,user_id,scrape_type,status,started_at)
VALUES ($1,$2,$3,$4,$5)`, e.ID, e.UserID, string(e.ScrapeType), string(e.Status), e.StartedAt)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	return e, nil
}

func (s *Postgres) UpdateHistory(ctx context.Context, id string, u models.HistoryUpdate) error {
	if err := validUpdate(u); err != nil {
		return err
	}
	var completed *time.Time
	if u.Status.Terminal() {
		at := u.CompletedAt.UTC()
		completed = &at
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_history
SET status=$1, completed_at=$2, posts_scraped=$3, error_message=$4
WHERE id=$5 AND status='running'`, string(u.Status), completed, u.PostsScraped, u.ErrorMessage, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM scrape_history WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrHistoryNotFound
	}
	if err != nil {
		return err
	}
	return ErrHistoryFinalized
}

const pgHistoryColumns = `id::text, user_id, scrape_type, status, started_at, completed_at, posts_scraped, error_message`

func (s *Postgres) GetHistory(ctx context.Context, id string) (models.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgHistoryColumns+` FROM scrape_history WHERE id=$1`, id)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	out, err := collectHistory(rows)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	if len(out) == 0 {
		return models.HistoryEntry{}, ErrHistoryNotFound
	}
	return out[0], nil
}

func (s *Postgres) Eligibility(ctx context.Context, userID string) (models.Eligibility, error) {
	var (
		running            bool
		lastFull, lastAuto *time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT
  EXISTS (SELECT 1 FROM scrape_history WHERE user_id=$1 AND status='running'),
  (SELECT MAX(completed_at) FROM scrape_history WHERE user_id=$1 AND status='completed' AND scrape_type='full'),
  (SELECT MAX(completed_at) FROM scrape_history WHERE user_id=$1 AND status='completed' AND scrape_type IN ('full','partial'))`,
		userID).Scan(&running, &lastFull, &lastAuto)
	if err != nil {
		return models.Eligibility{}, err
	}
	return eligibility(running, lastFull, lastAuto, s.opts.Now(), s.opts.MinInterval), nil
}

func (s *Postgres) LastFullScrape(ctx context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT MAX(completed_at) FROM scrape_history
WHERE user_id=$1 AND status='completed' AND scrape_type='full'`, userID).Scan(&last)
	return last, err
}

const pgPostColumns = `post_url, user_id, text, posted_at, likes, comments, impressions,
  media_url, media_urls, media_type, synthetic, last_scraped_at, is_full_scrape, scrape_version, created_at`

func (s *Postgres) ListPosts(ctx context.Context, userID string, f PostFilter) ([]models.StoredPost, error) {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+pgPostColumns+`
FROM posts
WHERE user_id=$1
  AND ($2::timestamptz IS NULL OR posted_at >= $2)
  AND ($3 = '' OR media_type = $3)
ORDER BY posted_at DESC, post_url ASC
LIMIT $4 OFFSET $5`, userID, f.Since, string(f.MediaType), clampLimit(f.Limit), offset)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

func (s *Postgres) ListHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgHistoryColumns+`
FROM scrape_history
WHERE user_id=$1
ORDER BY started_at DESC
LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

func (s *Postgres) PostsToRescrape(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.StoredPost, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgPostColumns+`
FROM posts
WHERE user_id=$1 AND last_scraped_at < $2
ORDER BY last_scraped_at ASC
LIMIT $3`, userID, olderThan.UTC(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

func collectPosts(rows pgx.Rows) ([]models.StoredPost, error) {
	defer rows.Close()
	var out []models.StoredPost
	for rows.Next() {
		var (
			p         models.StoredPost
			mediaType string
		)
		if err := rows.Scan(&p.PostURL, &p.UserID, &p.Text, &p.PostedAt, &p.Likes, &p.Comments, &p.Impressions,
			&p.MediaURL, &p.MediaURLs, &mediaType, &p.Synthetic, &p.LastScrapedAt, &p.IsFullScrape, &p.ScrapeVersion, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.MediaType = models.MediaType(mediaType)
		if len(p.MediaURLs) == 0 {
			p.MediaURLs = nil
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func collectHistory(rows pgx.Rows) ([]models.HistoryEntry, error) {
	defer rows.Close()
	var out []models.HistoryEntry
	for rows.Next() {
		var (
			e                  models.HistoryEntry
			scrapeType, status string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &scrapeType, &status, &e.StartedAt, &e.CompletedAt, &e.PostsScraped, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.ScrapeType = models.ScrapeType(scrapeType)
		e.Status = models.HistoryStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
