package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/config"
	"feedharvest/pkg/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	name string
	open func(t *testing.T, opts Options) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T, opts Options) Store { return NewMemory(opts) }},
		{name: "sqlite", open: func(t *testing.T, opts Options) Store {
			s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "feed.db"), opts)
			require.NoError(t, err)
			return s
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, c *clock)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			c := &clock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
			s := b.open(t, Options{MinInterval: 24 * time.Hour, BatchSize: 4, Now: c.Now})
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, c)
		})
	}
}

func samplePosts(n int, base time.Time) []models.Post {
	posts := make([]models.Post, 0, n)
	for i := 1; i <= n; i++ {
		posts = append(posts, models.Post{
			Text:     fmt.Sprintf("post %d", i),
			PostURL:  fmt.Sprintf("https://www.linkedin.com/feed/update/urn:li:activity:%d/", i),
			PostedAt: base.Add(-time.Duration(i) * time.Hour),
			Likes:    i,
		})
	}
	return posts
}

func TestUpsertIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()
		posts := samplePosts(9, c.Now())

		res, err := s.UpsertPosts(ctx, "alice", posts, false)
		require.NoError(t, err)
		assert.Equal(t, UpsertResult{Written: 9, Inserted: 9}, res)

		c.Advance(time.Hour)
		posts[0].Likes = 500
		res, err = s.UpsertPosts(ctx, "alice", posts, true)
		require.NoError(t, err)
		assert.Equal(t, UpsertResult{Written: 9, Inserted: 0}, res)

		stored, err := s.ListPosts(ctx, "alice", PostFilter{Limit: 100})
		require.NoError(t, err)
		require.Len(t, stored, 9)

		first := stored[0]
		assert.Equal(t, posts[0].PostURL, first.PostURL)
		assert.Equal(t, 500, first.Likes, "stats are refreshed")
		assert.True(t, first.IsFullScrape)
		assert.Equal(t, models.ScrapeVersion, first.ScrapeVersion)
		assert.True(t, first.LastScrapedAt.After(first.CreatedAt), "created_at survives the update")
	})
}

func TestUpsertKeepsMediaAndEmptyBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()

		res, err := s.UpsertPosts(ctx, "alice", nil, false)
		require.NoError(t, err)
		assert.Zero(t, res.Written)

		post := models.Post{
			Text:      "with media",
			PostURL:   "https://www.linkedin.com/feed/update/urn:li:activity:42/",
			PostedAt:  c.Now(),
			MediaURL:  "https://media.licdn.com/a.jpg",
			MediaURLs: []string{"https://media.licdn.com/a.jpg", "https://media.licdn.com/b.jpg"},
			MediaType: models.MediaImage,
		}
		_, err = s.UpsertPosts(ctx, "alice", []models.Post{post}, false)
		require.NoError(t, err)

		stored, err := s.ListPosts(ctx, "alice", PostFilter{MediaType: models.MediaImage})
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, post.MediaURLs, stored[0].MediaURLs)
		assert.Equal(t, models.MediaImage, stored[0].MediaType)

		none, err := s.ListPosts(ctx, "alice", PostFilter{MediaType: models.MediaVideo})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestListPostsFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()
		_, err := s.UpsertPosts(ctx, "alice", samplePosts(6, c.Now()), false)
		require.NoError(t, err)
		_, err = s.UpsertPosts(ctx, "bob", []models.Post{{PostURL: "bob-1", Text: "b", PostedAt: c.Now()}}, false)
		require.NoError(t, err)

		since := c.Now().Add(-3*time.Hour - time.Minute)
		recent, err := s.ListPosts(ctx, "alice", PostFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, recent, 3)

		page, err := s.ListPosts(ctx, "alice", PostFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "post 3", page[0].Text)

		bob, err := s.ListPosts(ctx, "bob", PostFilter{})
		require.NoError(t, err)
		assert.Len(t, bob, 1)
	})
}

func TestHistoryLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()

		entry, err := s.InsertHistory(ctx, "alice", models.ScrapePartial)
		require.NoError(t, err)
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, models.StatusRunning, entry.Status)

		c.Advance(2 * time.Minute)
		err = s.UpdateHistory(ctx, entry.ID, models.HistoryUpdate{
			Status:       models.StatusCompleted,
			CompletedAt:  c.Now(),
			PostsScraped: 9,
		})
		require.NoError(t, err)

		got, err := s.GetHistory(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, 9, got.PostsScraped)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(c.Now()))

		err = s.UpdateHistory(ctx, entry.ID, models.HistoryUpdate{Status: models.StatusFailed, CompletedAt: c.Now()})
		assert.True(t, errors.Is(err, ErrHistoryFinalized))

		err = s.UpdateHistory(ctx, "missing", models.HistoryUpdate{Status: models.StatusFailed, CompletedAt: c.Now()})
		assert.True(t, errors.Is(err, ErrHistoryNotFound))

		err = s.UpdateHistory(ctx, entry.ID, models.HistoryUpdate{Status: "paused"})
		assert.Error(t, err)
	})
}

func TestListHistoryNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 3; i++ {
			e, err := s.InsertHistory(ctx, "alice", models.ScrapeManual)
			require.NoError(t, err)
			ids = append(ids, e.ID)
			c.Advance(time.Minute)
		}

		entries, err := s.ListHistory(ctx, "alice", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, ids[2], entries[0].ID)
		assert.Equal(t, ids[1], entries[1].ID)
	})
}

func TestEligibility(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()

		e, err := s.Eligibility(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, e.EverCompletedFull)
		assert.True(t, e.CanScrapeNow)

		full, err := s.InsertHistory(ctx, "alice", models.ScrapeFull)
		require.NoError(t, err)

		e, err = s.Eligibility(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, e.CanScrapeNow, "a running entry blocks scraping")

		require.NoError(t, s.UpdateHistory(ctx, full.ID, models.HistoryUpdate{
			Status: models.StatusCompleted, CompletedAt: c.Now(), PostsScraped: 30,
		}))

		e, err = s.Eligibility(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, e.EverCompletedFull)
		assert.False(t, e.CanScrapeNow, "inside the cadence window")

		last, err := s.LastFullScrape(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.Equal(c.Now()))

		c.Advance(25 * time.Hour)
		e, err = s.Eligibility(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, e.CanScrapeNow)

		manual, err := s.InsertHistory(ctx, "alice", models.ScrapeManual)
		require.NoError(t, err)
		require.NoError(t, s.UpdateHistory(ctx, manual.ID, models.HistoryUpdate{
			Status: models.StatusCompleted, CompletedAt: c.Now(),
		}))
		e, err = s.Eligibility(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, e.CanScrapeNow, "manual scrapes do not count toward the cadence")

		other, err := s.Eligibility(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, other.EverCompletedFull)
	})
}

func TestFailedFullDoesNotCountAsCompleted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()
		e, err := s.InsertHistory(ctx, "alice", models.ScrapeFull)
		require.NoError(t, err)
		require.NoError(t, s.UpdateHistory(ctx, e.ID, models.HistoryUpdate{
			Status: models.StatusFailed, CompletedAt: c.Now(), ErrorMessage: "timeout",
		}))

		el, err := s.Eligibility(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, el.EverCompletedFull)
		assert.True(t, el.CanScrapeNow)

		got, err := s.GetHistory(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "timeout", got.ErrorMessage)
	})
}

func TestPostsToRescrape(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		ctx := context.Background()
		posts := samplePosts(3, c.Now())
		_, err := s.UpsertPosts(ctx, "alice", posts[:2], false)
		require.NoError(t, err)

		c.Advance(80 * time.Hour)
		_, err = s.UpsertPosts(ctx, "alice", posts[2:], false)
		require.NoError(t, err)

		stale, err := s.PostsToRescrape(ctx, "alice", c.Now().Add(-72*time.Hour), 10)
		require.NoError(t, err)
		assert.Len(t, stale, 2)
	})
}

func TestUpsertBatchesLargeInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, c *clock) {
		res, err := s.UpsertPosts(context.Background(), "alice", samplePosts(11, c.Now()), false)
		require.NoError(t, err)
		assert.Equal(t, 11, res.Written)
		assert.Equal(t, 11, res.Inserted)
	})
}

func TestMemoryFailUpserts(t *testing.T) {
	m := NewMemory(Options{})
	m.FailUpserts = errors.New("disk full")

	res, err := m.UpsertPosts(context.Background(), "alice", samplePosts(2, time.Now()), false)
	assert.EqualError(t, err, "disk full")
	assert.Zero(t, res.Written)
}

func TestBatches(t *testing.T) {
	posts := samplePosts(7, time.Now())
	got := batches(posts, 3)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 3)
	assert.Len(t, got[2], 1)
	assert.Empty(t, batches(nil, 3))
}

func TestOpen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "memory"
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "open.db")
	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = ""
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Storage.Driver = "mongo"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}
