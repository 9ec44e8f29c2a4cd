package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedharvest/pkg/models"
)

// Memory is an in-process Store. Nothing survives Close.
type Memory struct {
	mu      sync.RWMutex
	opts    Options
	posts   map[string]models.StoredPost
	history map[string]models.HistoryEntry
	// FailUpserts makes UpsertPosts fail with the given error
	FailUpserts error
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:    opts.withDefaults(),
		posts:   make(map[string]models.StoredPost),
		history: make(map[string]models.HistoryEntry),
	}
}

func (m *Memory) UpsertPosts(ctx context.Context, userID string, posts []models.Post, isFull bool) (UpsertResult, error) {
	var res UpsertResult
	for _, batch := range batches(posts, m.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m.mu.Lock()
		if m.FailUpserts != nil {
			m.mu.Unlock()
			return res, m.FailUpserts
		}
		now := m.opts.Now().UTC()
		for _, p := range batch {
			existing, ok := m.posts[p.PostURL]
			sp := models.StoredPost{
				Post:          p,
				UserID:        userID,
				LastScrapedAt: now,
				IsFullScrape:  isFull,
				ScrapeVersion: models.ScrapeVersion,
				CreatedAt:     now,
			}
			if ok {
				sp.CreatedAt = existing.CreatedAt
			} else {
				res.Inserted++
			}
			m.posts[p.PostURL] = sp
			res.Written++
		}
		m.mu.Unlock()
	}
	return res, nil
}

func (m *Memory) InsertHistory(ctx context.Context, userID string, scrapeType models.ScrapeType) (models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := models.HistoryEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		ScrapeType: scrapeType,
		Status:     models.StatusRunning,
		StartedAt:  m.opts.Now().UTC(),
	}
	m.history[e.ID] = e
	return e, nil
}

func (m *Memory) UpdateHistory(ctx context.Context, id string, u models.HistoryUpdate) error {
	if err := validUpdate(u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.history[id]
	if !ok {
		return ErrHistoryNotFound
	}
	if e.Status != models.StatusRunning {
		return ErrHistoryFinalized
	}
	e.Status = u.Status
	e.PostsScraped = u.PostsScraped
	e.ErrorMessage = u.ErrorMessage
	if u.Status.Terminal() {
		at := u.CompletedAt.UTC()
		e.CompletedAt = &at
	}
	m.history[id] = e
	return nil
}

func (m *Memory) GetHistory(ctx context.Context, id string) (models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.history[id]
	if !ok {
		return models.HistoryEntry{}, ErrHistoryNotFound
	}
	return e, nil
}

func (m *Memory) Eligibility(ctx context.Context, userID string) (models.Eligibility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var running bool
	var lastFull, lastAuto *time.Time
	for _, e := range m.history {
		if e.UserID != userID {
			continue
		}
		if e.Status == models.StatusRunning {
			running = true
			continue
		}
		if e.Status != models.StatusCompleted || e.CompletedAt == nil {
			continue
		}
		switch e.ScrapeType {
		case models.ScrapeFull:
			lastFull = later(lastFull, e.CompletedAt)
			lastAuto = later(lastAuto, e.CompletedAt)
		case models.ScrapePartial:
			lastAuto = later(lastAuto, e.CompletedAt)
		}
	}
	return eligibility(running, lastFull, lastAuto, m.opts.Now(), m.opts.MinInterval), nil
}

func (m *Memory) LastFullScrape(ctx context.Context, userID string) (*time.Time, error) {
	e, err := m.Eligibility(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.LastFullScrape, nil
}

func (m *Memory) ListPosts(ctx context.Context, userID string, f PostFilter) ([]models.StoredPost, error) {
	m.mu.RLock()
	var out []models.StoredPost
	for _, p := range m.posts {
		if p.UserID != userID {
			continue
		}
		if f.Since != nil && p.PostedAt.Before(*f.Since) {
			continue
		}
		if f.MediaType != models.MediaNone && p.MediaType != f.MediaType {
			continue
		}
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostURL < out[j].PostURL
		}
		return out[i].PostedAt.After(out[j].PostedAt)
	})
	return page(out, f.Offset, clampLimit(f.Limit)), nil
}

func (m *Memory) ListHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	var out []models.HistoryEntry
	for _, e := range m.history {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, 0, clampLimit(limit)), nil
}

func (m *Memory) PostsToRescrape(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.StoredPost, error) {
	m.mu.RLock()
	var out []models.StoredPost
	for _, p := range m.posts {
		if p.UserID == userID && p.LastScrapedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastScrapedAt.Before(out[j].LastScrapedAt) })
	return page(out, 0, clampLimit(limit)), nil
}

func (m *Memory) Close() error { return nil }

func later(a, b *time.Time) *time.Time {
	if a == nil || b.After(*a) {
		t := *b
		return &t
	}
	return a
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
