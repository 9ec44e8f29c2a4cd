package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"feedharvest/pkg/config"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/worker"
)

// ErrNoBrowser is returned when no Chrome or Chromium binary can be found
var ErrNoBrowser = errors.New("no chrome or chromium binary found")

var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// FindChrome returns the first Chrome-compatible binary on PATH
func FindChrome() (string, error) {
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrNoBrowser
}

// CookieSource returns the session cookie value injected into every new tab.
// An empty value opens the tab without a session.
type CookieSource func(ctx context.Context) (string, error)

// StaticCookie always returns value
func StaticCookie(value string) CookieSource {
	return func(context.Context) (string, error) { return value, nil }
}

// AllocatorOptions translates browser settings into chromedp allocator flags
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Opener starts a dedicated browser process per page, so every scrape runs in
// its own isolated execution context.
type Opener struct {
	cfg    config.BrowserConfig
	cookie CookieSource
	logger logger.Logger
}

var _ worker.PageOpener = (*Opener)(nil)

// NewOpener creates an Opener. cookie may be nil.
func NewOpener(cfg config.BrowserConfig, cookie CookieSource, log logger.Logger) *Opener {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Opener{cfg: cfg, cookie: cookie, logger: log.WithField("component", "browser")}
}

// Open launches the browser, creates a tab and installs the session cookie.
// The browser lives until the returned tab is closed or ctx is done.
func (o *Opener) Open(ctx context.Context) (worker.PageSession, error) {
	var cookie string
	if o.cookie != nil {
		v, err := o.cookie(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeAuth, "load session cookie", err)
		}
		cookie = strings.TrimSpace(v)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(o.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		o.logger.Debug(fmt.Sprintf(format, args...))
	}))

	tab := &Tab{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// the first Run starts the browser process
	actions := []chromedp.Action{network.Enable()}
	if cookie != "" && o.cfg.CookieName != "" {
		actions = append(actions, setCookie(o.cfg.CookieName, cookie, o.cfg.CookieDomain))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		_ = tab.Close()
		return nil, errs.Wrap(errs.ErrorTypeNavigation, "start browser", err)
	}

	o.logger.DebugWithFields("Browser tab opened", map[string]interface{}{
		"headless":    o.cfg.Headless,
		"has_session": cookie != "",
	})
	return tab, nil
}

func setCookie(name, value, domain string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(name, value).
			WithDomain(domain).
			WithPath("/").
			WithSecure(true).
			WithHTTPOnly(true).
			Do(ctx)
	})
}

// Tab is a single browser tab. It implements worker.PageSession.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

var _ worker.PageSession = (*Tab)(nil)

// run executes actions on the tab, aborting early when ctx is done.
// Cancelling the derived context aborts the actions without closing the tab.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the body to be ready
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// HTML returns the outer HTML of the document
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// chromeTextJS collects rendered text nodes of the body, skipping hidden
// nodes, non-content elements and anything inside the exclude selector list
const chromeTextJS = `(() => {
  const body = document.body;
  if (!body) return "";
  const exclude = %s;
  const walker = document.createTreeWalker(body, NodeFilter.SHOW_TEXT);
  const out = [];
  for (let n = walker.nextNode(); n; n = walker.nextNode()) {
    const el = n.parentElement;
    if (!el || !n.nodeValue.trim()) continue;
    if (el.closest("script, style, noscript, template")) continue;
    if (exclude) {
      try { if (el.closest(exclude)) continue; } catch (e) {}
    }
    if (el.offsetParent === null && getComputedStyle(el).position !== "fixed") continue;
    out.push(n.nodeValue.trim());
  }
  return out.join(" ");
})()`

// VisibleText returns the rendered body text outside elements matching
// exclude. An empty exclude keeps the whole body.
func (t *Tab) VisibleText(ctx context.Context, exclude string) (string, error) {
	var text string
	err := t.run(ctx, chromedp.Evaluate(chromeScript(exclude), &text))
	return text, err
}

func chromeScript(exclude string) string {
	return fmt.Sprintf(chromeTextJS, strconv.Quote(exclude))
}

func (t *Tab) ContentHeight(ctx context.Context) (int64, error) {
	var h int64
	err := t.run(ctx, chromedp.Evaluate(`document.body ? document.body.scrollHeight : 0`, &h))
	return h, err
}

func (t *Tab) ViewportHeight(ctx context.Context) (int64, error) {
	var h int64
	err := t.run(ctx, chromedp.Evaluate(`window.innerHeight`, &h))
	return h, err
}

func (t *Tab) ScrollBy(ctx context.Context, px int64) error {
	return t.run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, px), nil))
}

// Close shuts the tab and its browser process. Only the first call has an
// effect.
func (t *Tab) Close() error {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
	})
	return nil
}
