package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/config"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
	"feedharvest/pkg/ratelimit"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// fakePage replays one snapshot per scroll position. A completed scroll moves
// to the next snapshot; once the last one is reached the height stops growing.
type fakePage struct {
	mu          sync.Mutex
	snapshots   []string
	chrome      string
	cur         int
	scrolled    bool
	navErr      error
	navFailures int
	htmlErr     error
	navCalls    int
	scrollCalls int
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navCalls++
	if p.navFailures > 0 {
		p.navFailures--
		return errors.New("net::ERR_TIMED_OUT")
	}
	return p.navErr
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.htmlErr != nil {
		return "", p.htmlErr
	}
	return p.snapshots[p.cur], nil
}

// VisibleText renders the current snapshot with chrome appended to the body
// and drops everything under exclude.
func (p *fakePage) VisibleText(ctx context.Context, exclude string) (string, error) {
	p.mu.Lock()
	html := strings.Replace(p.snapshots[p.cur], "</body>", p.chrome+"</body>", 1)
	p.mu.Unlock()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style").Remove()
	if exclude != "" {
		doc.Find(exclude).Remove()
	}
	return strings.TrimSpace(doc.Find("body").Text()), nil
}

func (p *fakePage) ContentHeight(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scrolled {
		p.scrolled = false
		if p.cur < len(p.snapshots)-1 {
			p.cur++
		}
	}
	return int64(1000 * (p.cur + 1)), nil
}

func (p *fakePage) ViewportHeight(ctx context.Context) (int64, error) { return 900, nil }

func (p *fakePage) ScrollBy(ctx context.Context, px int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollCalls++
	p.scrolled = true
	return nil
}

type postSpec struct {
	urn      int
	text     string
	postedAt time.Time
	likes    int
}

func renderPost(s postSpec) string {
	return fmt.Sprintf(`
<div class="feed-shared-update-v2" data-id="urn:li:activity:%d">
  <div class="feed-shared-text"><span>%s</span></div>
  <time datetime="%s">1d</time>
  <span class="social-counts-reactions__count">%d</span>
  <span class="social-counts-comments__count">2 comments</span>
</div>`, s.urn, s.text, s.postedAt.Format(time.RFC3339), s.likes)
}

func snapshot(posts ...postSpec) string {
	var b strings.Builder
	b.WriteString(`<html><body><main class="scaffold-finite-scroll">`)
	for _, p := range posts {
		b.WriteString(renderPost(p))
	}
	b.WriteString(`</main></body></html>`)
	return b.String()
}

func recent(urn int, daysAgo int) postSpec {
	return postSpec{
		urn:      urn,
		text:     fmt.Sprintf("post number %d", urn),
		postedAt: testNow.AddDate(0, 0, -daysAgo),
		likes:    urn * 10,
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestHarvester(t *testing.T, mutate func(*config.Config), opts ...Option) (*Harvester, *logger.TestLogger) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	tl := logger.NewTestLogger()
	base := []Option{
		WithSleep(noSleep),
		WithClock(func() time.Time { return testNow }),
		WithLimiter(ratelimit.Unlimited{}),
	}
	return New(cfg, tl, append(base, opts...)...), tl
}

func urlFor(urn int) string {
	return fmt.Sprintf("https://www.linkedin.com/feed/update/urn:li:activity:%d/", urn)
}

func TestHarvestScenarioDedupAndDateCutoff(t *testing.T) {
	posts := []postSpec{}
	for i := 1; i <= 9; i++ {
		posts = append(posts, recent(i, i))
	}
	dup := recent(3, 3)
	dup.likes = 999
	posts = append(posts, dup)
	posts = append(posts,
		postSpec{urn: 100, text: "old one", postedAt: testNow.AddDate(0, 0, -25)},
		postSpec{urn: 101, text: "old two", postedAt: testNow.AddDate(0, 0, -30)},
	)
	require.Len(t, posts, 12)

	page := &fakePage{snapshots: []string{snapshot(posts...), snapshot(posts...)}}
	h, _ := newTestHarvester(t, nil)
	cutoff := testNow.Add(-14 * 24 * time.Hour)

	res, err := h.Harvest(context.Background(), page, Params{
		URL:        "https://www.linkedin.com/feed/",
		ScrapeType: models.ScrapePartial,
		DateLimit:  &cutoff,
	})
	require.NoError(t, err)

	assert.Len(t, res.Posts, 9)
	assert.Equal(t, StopDateLimit, res.Stats.StopReason)
	assert.Equal(t, 1, res.Stats.Passes)

	seen := map[string]models.Post{}
	for _, p := range res.Posts {
		assert.False(t, p.PostedAt.Before(cutoff), "post %s is older than the cutoff", p.PostURL)
		_, dup := seen[p.PostURL]
		assert.False(t, dup, "duplicate key %s", p.PostURL)
		seen[p.PostURL] = p
	}
	assert.Equal(t, 30, seen[urlFor(3)].Likes, "first-seen values are kept")
}

func TestHarvestDedupAcrossPasses(t *testing.T) {
	first := snapshot(recent(1, 1), recent(2, 1))
	second := snapshot(recent(1, 1), recent(2, 1), recent(3, 2))
	changed := recent(1, 1)
	changed.likes = 5000
	third := snapshot(changed, recent(2, 1), recent(3, 2), recent(4, 3))

	page := &fakePage{snapshots: []string{first, second, third}}
	var progress []int
	h, _ := newTestHarvester(t, nil, WithProgress(func(total int) { progress = append(progress, total) }))

	res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	require.Len(t, res.Posts, 4)
	assert.Equal(t, urlFor(1), res.Posts[0].PostURL)
	assert.Equal(t, 10, res.Posts[0].Likes)
	assert.Equal(t, urlFor(4), res.Posts[3].PostURL)
	assert.Equal(t, StopExhausted, res.Stats.StopReason)
	assert.Equal(t, []int{2, 3, 4}, progress)
}

func TestHarvestStopsWhenFeedExhausted(t *testing.T) {
	page := &fakePage{snapshots: []string{snapshot(recent(1, 1)), snapshot(recent(1, 1), recent(2, 1))}}
	h, _ := newTestHarvester(t, nil)

	res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	assert.Equal(t, StopExhausted, res.Stats.StopReason)
	assert.Equal(t, 2, res.Stats.Passes)
	assert.Len(t, res.Posts, 2)
}

func TestHarvestRespectsScrollBudget(t *testing.T) {
	var snaps []string
	for i := 1; i <= 30; i++ {
		snaps = append(snaps, snapshot(recent(i, 1)))
	}

	tests := []struct {
		name       string
		scrapeType models.ScrapeType
		passes     int
	}{
		{name: "manual", scrapeType: models.ScrapeManual, passes: 5},
		{name: "partial", scrapeType: models.ScrapePartial, passes: 5},
		{name: "full", scrapeType: models.ScrapeFull, passes: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{snapshots: snaps}
			h, _ := newTestHarvester(t, nil)

			res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: tt.scrapeType})
			require.NoError(t, err)

			assert.Equal(t, StopMaxScrolls, res.Stats.StopReason)
			assert.Equal(t, tt.passes, res.Stats.Passes)
			assert.Len(t, res.Posts, tt.passes)
			// no scroll after the final pass
			assert.Equal(t, (tt.passes-1)*3, page.scrollCalls)
		})
	}
}

func TestHarvestWaitsForSettleAndScrollDelays(t *testing.T) {
	var mu sync.Mutex
	var waits []time.Duration
	record := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}

	page := &fakePage{snapshots: []string{snapshot(recent(1, 1)), snapshot(recent(1, 1), recent(2, 1))}}
	h, _ := newTestHarvester(t, func(c *config.Config) { c.Timing.JitterVariance = 0 }, WithSleep(record))

	_, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	require.NotEmpty(t, waits)
	assert.Equal(t, 5*time.Second, waits[0], "settle delay comes first")
	assert.Contains(t, waits, 500*time.Millisecond)
	assert.Contains(t, waits, 3*time.Second)

	var pauses int
	for _, w := range waits {
		if w >= 2*time.Second && w <= 4*time.Second && w != 3*time.Second {
			pauses++
		}
	}
	assert.LessOrEqual(t, pauses, 1)
}

func TestHarvestNavigationFailure(t *testing.T) {
	page := &fakePage{snapshots: []string{snapshot()}, navErr: errors.New("net::ERR_CONNECTION_RESET")}
	h, _ := newTestHarvester(t, func(c *config.Config) { c.Limits.RetryBaseDelay = time.Millisecond })

	_, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.Error(t, err)

	assert.Equal(t, errs.ErrorTypeNavigation, errs.TypeOf(err))
	assert.Equal(t, 3, page.navCalls)
}

func TestHarvestRateLimitIsAdvisory(t *testing.T) {
	page := &fakePage{
		snapshots: []string{snapshot(recent(1, 1)), snapshot(recent(1, 1), recent(2, 1))},
		chrome:    `<div class="artdeco-toast-item">Something went wrong. Please try again later.</div>`,
	}
	h, tl := newTestHarvester(t, nil)

	res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	assert.Len(t, res.Posts, 2)
	assert.Equal(t, 2, res.Stats.RateLimitHits)
	assert.True(t, tl.HasMessage("Rate limit text detected, backing off"))
}

func TestHarvestIgnoresThrottlePhrasesInsidePosts(t *testing.T) {
	quoted := recent(1, 1)
	quoted.text = "Got the dreaded 'please try again later' banner today. Too many requests, apparently."
	page := &fakePage{snapshots: []string{snapshot(quoted), snapshot(quoted, recent(2, 1))}}
	h, tl := newTestHarvester(t, nil)

	res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	assert.Len(t, res.Posts, 2)
	assert.Zero(t, res.Stats.RateLimitHits)
	assert.False(t, tl.HasMessage("Rate limit text detected, backing off"))
}

func TestHarvestJittersScrollWaits(t *testing.T) {
	var mu sync.Mutex
	var waits []time.Duration
	record := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}

	page := &fakePage{snapshots: []string{snapshot(recent(1, 1)), snapshot(recent(1, 1), recent(2, 1))}}
	h, _ := newTestHarvester(t, func(c *config.Config) {
		c.Timing.JitterVariance = 0.3
		c.Timing.PassPauseMin = 10 * time.Second
		c.Timing.PassPauseMax = 10 * time.Second
	}, WithSleep(record))

	_, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	var steps, settles int
	for _, w := range waits[1:] {
		switch {
		case w == 10*time.Second:
		case w < time.Second:
			steps++
			assert.GreaterOrEqual(t, w, 350*time.Millisecond)
			assert.LessOrEqual(t, w, 650*time.Millisecond)
		default:
			settles++
			assert.GreaterOrEqual(t, w, 2100*time.Millisecond)
			assert.LessOrEqual(t, w, 3900*time.Millisecond)
		}
	}
	// two scrolls: one that grows the feed and one that finds nothing new
	assert.Equal(t, 6, steps)
	assert.Equal(t, 2, settles)
	assert.GreaterOrEqual(t, waits[0], 3500*time.Millisecond)
	assert.LessOrEqual(t, waits[0], 6500*time.Millisecond)
}

func TestHarvestNavigationRetryUsesInjectedSleep(t *testing.T) {
	var waits []time.Duration
	record := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	page := &fakePage{snapshots: []string{snapshot(recent(1, 1))}, navFailures: 2}
	h, _ := newTestHarvester(t, func(c *config.Config) {
		c.Timing.JitterVariance = 0
		c.Limits.MaxScrollsFull = 1
	}, WithSleep(record))

	res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	assert.Len(t, res.Posts, 1)
	assert.Equal(t, 3, page.navCalls)
	require.GreaterOrEqual(t, len(waits), 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}, waits[:3])
}

func TestHarvestAbortsAfterRepeatedPassFailures(t *testing.T) {
	var snaps []string
	for i := 0; i < 10; i++ {
		snaps = append(snaps, snapshot(recent(i+1, 1)))
	}
	page := &fakePage{snapshots: snaps, htmlErr: errors.New("target closed")}
	h, _ := newTestHarvester(t, nil)

	res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.Error(t, err)

	assert.Equal(t, errs.ErrorTypeExtraction, errs.TypeOf(err))
	assert.Equal(t, StopFailures, res.Stats.StopReason)
	assert.Equal(t, 3, res.Stats.Failures)
}

func TestHarvestSingleBadPassDoesNotAbort(t *testing.T) {
	page := &flakyPage{fakePage: fakePage{snapshots: []string{
		snapshot(recent(1, 1)),
		snapshot(recent(1, 1), recent(2, 1)),
		snapshot(recent(1, 1), recent(2, 1), recent(3, 1)),
	}}, failOn: 1}
	h, _ := newTestHarvester(t, nil)

	res, err := h.Harvest(context.Background(), page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Failures)
	assert.Len(t, res.Posts, 3)
}

type flakyPage struct {
	fakePage
	calls  int
	failOn int
}

func (p *flakyPage) HTML(ctx context.Context) (string, error) {
	p.calls++
	if p.calls == p.failOn {
		return "", errors.New("execution context was destroyed")
	}
	return p.fakePage.HTML(ctx)
}

func TestHarvestCancelledContext(t *testing.T) {
	page := &fakePage{snapshots: []string{snapshot(recent(1, 1))}}
	h, _ := newTestHarvester(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Harvest(ctx, page, Params{URL: "u", ScrapeType: models.ScrapeFull})
	assert.Error(t, err)
}

func TestFilterByDate(t *testing.T) {
	cutoff := testNow.AddDate(0, 0, -14)
	posts := []models.Post{
		{PostURL: "a", PostedAt: testNow},
		{PostURL: "b", PostedAt: cutoff},
		{PostURL: "c", PostedAt: cutoff.Add(-time.Second)},
	}

	assert.Len(t, FilterByDate(posts, nil), 3)

	kept := FilterByDate(posts, &cutoff)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].PostURL)
	assert.Equal(t, "b", kept[1].PostURL)
}
