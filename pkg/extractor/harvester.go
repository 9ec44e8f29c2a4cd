package extractor

import (
	"context"
	"strings"
	"time"

	"feedharvest/pkg/config"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/metrics"
	"feedharvest/pkg/models"
	"feedharvest/pkg/ratelimit"
	"feedharvest/pkg/retry"
)

// Page is a loaded, scrollable document. browser.Tab implements it over a
// headless Chrome tab; tests replay canned snapshots.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	VisibleText(ctx context.Context, exclude string) (string, error)
	ContentHeight(ctx context.Context) (int64, error)
	ViewportHeight(ctx context.Context) (int64, error)
	ScrollBy(ctx context.Context, px int64) error
}

// Params describes one harvest
type Params struct {
	URL        string
	ScrapeType models.ScrapeType
	// DateLimit drops posts older than the cutoff and ends the loop once
	// older posts start to appear
	DateLimit *time.Time
}

// StopReason explains why the scroll loop ended
type StopReason string

const (
	StopMaxScrolls StopReason = "max_scrolls"
	StopExhausted  StopReason = "exhausted"
	StopDateLimit  StopReason = "date_limit"
	StopCancelled  StopReason = "cancelled"
	StopFailures   StopReason = "failures"
)

// Stats summarizes a harvest
type Stats struct {
	Passes        int
	Failures      int
	Skipped       int
	RateLimitHits int
	StopReason    StopReason
}

// Result is the deduplicated, date-filtered output of a harvest
type Result struct {
	Posts []models.Post
	Stats Stats
}

// ProgressFunc receives the accumulated post count after each pass
type ProgressFunc func(total int)

// Harvester runs the scroll-and-harvest loop
type Harvester struct {
	cfg        *config.Config
	parser     *Parser
	limiter    ratelimit.Limiter
	sleep      retry.SleepFunc
	now        func() time.Time
	logger     logger.Logger
	onProgress ProgressFunc
}

// Option customizes a Harvester
type Option func(*Harvester)

// WithSleep replaces every wait in the loop
func WithSleep(fn retry.SleepFunc) Option { return func(h *Harvester) { h.sleep = fn } }

// WithClock sets the time source used for synthetic keys and relative dates
func WithClock(now func() time.Time) Option {
	return func(h *Harvester) {
		h.now = now
		h.parser.now = now
	}
}

// WithLimiter replaces the action limiter
func WithLimiter(l ratelimit.Limiter) Option { return func(h *Harvester) { h.limiter = l } }

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) Option { return func(h *Harvester) { h.onProgress = fn } }

// New builds a Harvester from configuration
func New(cfg *config.Config, log logger.Logger, opts ...Option) *Harvester {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "harvester")
	h := &Harvester{
		cfg:     cfg,
		parser:  NewParser(cfg.Selectors, cfg.Feed.URL, cfg.Feed.PostURLPrefix, log),
		limiter: ratelimit.PerMinute(cfg.RateLimit.ActionsPerMinute, cfg.RateLimit.BurstSize),
		sleep:   retry.Delay,
		now:     time.Now,
		logger:  log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest loads p.URL in page and collects posts until the feed is exhausted,
// the scroll budget is spent, or older posts than p.DateLimit appear.
// On context cancellation the posts gathered so far are returned with the
// context error.
func (h *Harvester) Harvest(ctx context.Context, page Page, p Params) (Result, error) {
	var res Result

	err := retry.WithBackoffSleep(ctx, func() error {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		return page.Navigate(ctx, p.URL)
	}, h.cfg.Limits.MaxRetries, h.cfg.Limits.RetryBaseDelay, h.sleep)
	if err != nil {
		return res, errs.Navigation("load feed", err)
	}
	if err := h.pause(ctx, h.cfg.Timing.SettleDelay); err != nil {
		res.Stats.StopReason = StopCancelled
		return res, err
	}

	maxScrolls := h.cfg.MaxScrolls(string(p.ScrapeType))
	acc := newAccumulator()
	failures := 0

	for pass := 1; pass <= maxScrolls; pass++ {
		res.Stats.Passes = pass

		raw, eligible, skipped, err := h.harvestPass(ctx, page, p.DateLimit)
		res.Stats.Skipped += skipped
		if err != nil {
			if ctx.Err() != nil {
				return h.finish(&res, acc, StopCancelled), ctx.Err()
			}
			failures++
			res.Stats.Failures++
			metrics.IncPass("failed")
			h.logger.WithError(err).WarnWithFields("Harvest pass failed", map[string]interface{}{
				"pass":     pass,
				"failures": failures,
			})
			if failures >= h.cfg.Limits.MaxPassFailures {
				return h.finish(&res, acc, StopFailures), errs.Extraction("too many failed passes", err)
			}
		} else {
			failures = 0
			metrics.IncPass("ok")
			added := acc.merge(eligible)
			logger.LogPass(h.logger, pass, raw, len(eligible), added, acc.len())
			if h.onProgress != nil {
				h.onProgress(acc.len())
			}
			if p.DateLimit != nil && len(eligible) < raw {
				return h.finish(&res, acc, StopDateLimit), nil
			}
		}

		if err := h.checkRateLimit(ctx, page, pass, &res.Stats); err != nil {
			return h.finish(&res, acc, StopCancelled), err
		}

		if pass == maxScrolls {
			break
		}

		grew, err := h.scroll(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return h.finish(&res, acc, StopCancelled), ctx.Err()
			}
			failures++
			res.Stats.Failures++
			h.logger.WithError(err).WarnWithFields("Scroll step failed", map[string]interface{}{"pass": pass})
			if failures >= h.cfg.Limits.MaxPassFailures {
				return h.finish(&res, acc, StopFailures), errs.Extraction("too many failed passes", err)
			}
			continue
		}
		if !grew {
			return h.finish(&res, acc, StopExhausted), nil
		}

		pause := retry.RandomBetween(h.cfg.Timing.PassPauseMin, h.cfg.Timing.PassPauseMax)
		if err := h.sleep(ctx, pause); err != nil {
			return h.finish(&res, acc, StopCancelled), err
		}
	}

	return h.finish(&res, acc, StopMaxScrolls), nil
}

func (h *Harvester) finish(res *Result, acc *accumulator, reason StopReason) Result {
	res.Posts = acc.posts
	res.Stats.StopReason = reason
	metrics.AddHarvested(len(acc.posts))
	h.logger.InfoWithFields("Harvest finished", map[string]interface{}{
		"posts":       len(acc.posts),
		"passes":      res.Stats.Passes,
		"failures":    res.Stats.Failures,
		"stop_reason": string(reason),
	})
	return *res
}

// harvestPass snapshots the page and returns the raw record count together
// with the records that pass the date filter
func (h *Harvester) harvestPass(ctx context.Context, page Page, dateLimit *time.Time) (int, []models.Post, int, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return 0, nil, 0, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return 0, nil, 0, err
	}
	parsed, err := h.parser.Parse(html)
	if err != nil {
		return 0, nil, parsed.Skipped, errs.Wrap(errs.ErrorTypeParsing, "parse snapshot", err)
	}
	return len(parsed.Posts), FilterByDate(parsed.Posts, dateLimit), parsed.Skipped, nil
}

// pause sleeps d spread by Timing.JitterVariance
func (h *Harvester) pause(ctx context.Context, d time.Duration) error {
	return h.sleep(ctx, retry.RandomizeDelay(d, h.cfg.Timing.JitterVariance))
}

// checkRateLimit scans the visible text outside post containers and, on a
// hit, waits an extra backoff. The signal never ends the loop.
func (h *Harvester) checkRateLimit(ctx context.Context, page Page, pass int, stats *Stats) error {
	text, err := page.VisibleText(ctx, strings.Join(h.cfg.Selectors.PostContainer, ", "))
	if err != nil || !ratelimit.DetectRateLimit(text, h.cfg.RateLimit.Phrases...) {
		return nil
	}
	stats.RateLimitHits++
	metrics.IncRateLimit()
	backoff := retry.RateLimitBackoff().NextDelay(stats.RateLimitHits)
	logger.LogRateLimit(h.logger, pass, backoff)
	return h.sleep(ctx, backoff)
}

// scroll advances the page in viewport-fraction steps and reports whether the
// content grew
func (h *Harvester) scroll(ctx context.Context, page Page) (bool, error) {
	before, err := page.ContentHeight(ctx)
	if err != nil {
		return false, err
	}
	viewport, err := page.ViewportHeight(ctx)
	if err != nil {
		return false, err
	}
	step := int64(float64(viewport) * h.cfg.Timing.ScrollStepFraction)
	if step <= 0 {
		step = 1
	}

	for i := 0; i < h.cfg.Timing.ScrollSteps; i++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return false, err
		}
		if err := page.ScrollBy(ctx, step); err != nil {
			return false, err
		}
		if err := h.pause(ctx, h.cfg.Timing.ScrollStepInterval); err != nil {
			return false, err
		}
	}
	if err := h.pause(ctx, h.cfg.Timing.ScrollSettle); err != nil {
		return false, err
	}

	after, err := page.ContentHeight(ctx)
	if err != nil {
		return false, err
	}
	return after > before, nil
}

// FilterByDate keeps posts at or after cutoff; a nil cutoff keeps everything
func FilterByDate(posts []models.Post, cutoff *time.Time) []models.Post {
	if cutoff == nil {
		return posts
	}
	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if !p.PostedAt.Before(*cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// accumulator keeps posts in first-seen order, one per natural key
type accumulator struct {
	seen  map[string]struct{}
	posts []models.Post
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[string]struct{})}
}

func (a *accumulator) merge(posts []models.Post) int {
	added := 0
	for _, p := range posts {
		if _, ok := a.seen[p.PostURL]; ok {
			continue
		}
		a.seen[p.PostURL] = struct{}{}
		a.posts = append(a.posts, p)
		added++
	}
	return added
}

func (a *accumulator) len() int { return len(a.posts) }
