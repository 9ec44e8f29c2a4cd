package storage

import (
	"context"
	"errors"
	"time"

	"feedharvest/pkg/models"
)

var (
	// ErrHistoryFinalized is returned when a terminal history entry is updated again
	ErrHistoryFinalized = errors.New("history entry already finalized")
	// ErrHistoryNotFound is returned for an unknown history id
	ErrHistoryNotFound = errors.New("history entry not found")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultBatchSize = 50
)

// UpsertResult counts the rows touched by UpsertPosts
type UpsertResult struct {
	// Written is every row inserted or updated
	Written int `json:"written"`
	// Inserted is the subset of Written that did not exist before
	Inserted int `json:"inserted"`
}

// PostFilter narrows ListPosts
type PostFilter struct {
	Since     *time.Time
	MediaType models.MediaType
	Limit     int
	Offset    int
}

// Store persists posts and the scrape history ledger
type Store interface {
	// UpsertPosts writes posts keyed on post_url. Re-writing an existing key
	// refreshes its stats and never duplicates it.
	UpsertPosts(ctx context.Context, userID string, posts []models.Post, isFull bool) (UpsertResult, error)
	InsertHistory(ctx context.Context, userID string, scrapeType models.ScrapeType) (models.HistoryEntry, error)
	// UpdateHistory applies u to a running entry. Entries that already reached
	// a terminal state yield ErrHistoryFinalized.
	UpdateHistory(ctx context.Context, id string, u models.HistoryUpdate) error
	GetHistory(ctx context.Context, id string) (models.HistoryEntry, error)
	Eligibility(ctx context.Context, userID string) (models.Eligibility, error)
	LastFullScrape(ctx context.Context, userID string) (*time.Time, error)
	ListPosts(ctx context.Context, userID string, f PostFilter) ([]models.StoredPost, error)
	ListHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error)
	// PostsToRescrape lists posts whose stats were last refreshed before olderThan
	PostsToRescrape(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.StoredPost, error)
	Close() error
}

// Options tune behaviour shared by every backend
type Options struct {
	// MinInterval is the cadence window: a completed full or partial scrape
	// inside it makes the identity ineligible
	MinInterval time.Duration
	// BatchSize bounds the posts written per transaction
	BatchSize int
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MinInterval <= 0 {
		o.MinInterval = 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// eligibility applies the cadence rule. lastAuto is the newest completion of
// a full or partial scrape.
func eligibility(running bool, lastFull, lastAuto *time.Time, now time.Time, minInterval time.Duration) models.Eligibility {
	e := models.Eligibility{
		EverCompletedFull: lastFull != nil,
		LastFullScrape:    lastFull,
		CanScrapeNow:      !running,
	}
	if e.CanScrapeNow && lastAuto != nil && now.Sub(*lastAuto) < minInterval {
		e.CanScrapeNow = false
	}
	return e
}

// batches splits posts into chunks of at most size
func batches(posts []models.Post, size int) [][]models.Post {
	var out [][]models.Post
	for start := 0; start < len(posts); start += size {
		end := start + size
		if end > len(posts) {
			end = len(posts)
		}
		out = append(out, posts[start:end])
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func validUpdate(u models.HistoryUpdate) error {
	if u.Status != models.StatusRunning && !u.Status.Terminal() {
		return errors.New("invalid history status: " + string(u.Status))
	}
	return nil
}
