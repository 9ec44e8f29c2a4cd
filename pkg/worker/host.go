package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"feedharvest/pkg/config"
	"feedharvest/pkg/extractor"
	"feedharvest/pkg/logger"
)

var (
	ErrClosed         = errors.New("execution context closed")
	ErrBusy           = errors.New("execution context is already running a command")
	ErrUnknownCommand = errors.New("unknown command")
)

// PageSession is a page owned by a single execution context
type PageSession interface {
	extractor.Page
	Close() error
}

// PageOpener opens a fresh, isolated page
type PageOpener interface {
	Open(ctx context.Context) (PageSession, error)
}

// Host is an ExecutionContext that runs the harvester on its own goroutine
// against a page it owns. Nothing is shared with the caller except the reply
// channel.
type Host struct {
	cfg    *config.Config
	page   PageSession
	logger logger.Logger
	opts   []extractor.Option

	busy     atomic.Bool
	closed   chan struct{}
	once     sync.Once
	closeErr error
}

var _ ExecutionContext = (*Host)(nil)

// NewHost wraps page. opts are passed to every harvester the host builds.
func NewHost(cfg *config.Config, page PageSession, log logger.Logger, opts ...extractor.Option) *Host {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Host{
		cfg:    cfg,
		page:   page,
		logger: log.WithField("component", "worker"),
		opts:   opts,
		closed: make(chan struct{}),
	}
}

// Dispatch starts cmd. The host runs one command at a time.
func (h *Host) Dispatch(ctx context.Context, cmd Command) (<-chan Reply, error) {
	if cmd.Action != ActionStartExtraction {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Action)
	}
	select {
	case <-h.closed:
		return nil, ErrClosed
	default:
	}
	if !h.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	replies := make(chan Reply, 8)
	go h.run(ctx, cmd, replies)
	return replies, nil
}

func (h *Host) run(ctx context.Context, cmd Command, replies chan<- Reply) {
	defer close(replies)
	defer h.busy.Store(false)

	final := h.extract(ctx, cmd, replies)

	select {
	case replies <- final:
	case <-h.closed:
		h.logger.WarnWithFields("Execution context closed before the result was read", map[string]interface{}{
			"history_id": cmd.HistoryID,
		})
	}
}

// extract runs the harvester and converts its outcome, including a panic,
// into a terminal reply
func (h *Host) extract(ctx context.Context, cmd Command, replies chan<- Reply) (final Reply) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorWithFields("Extraction panicked", map[string]interface{}{
				"history_id": cmd.HistoryID,
				"panic":      fmt.Sprint(r),
			})
			final = Reply{
				Action:    ActionError,
				HistoryID: cmd.HistoryID,
				Error:     fmt.Sprintf("extraction panicked: %v", r),
			}
		}
	}()

	url := cmd.URL
	if url == "" {
		url = h.cfg.Feed.URL
	}

	progress := func(total int) {
		select {
		case replies <- Reply{Action: ActionProgress, HistoryID: cmd.HistoryID, PostsSoFar: total}:
		default:
			// consumer is behind; the next progress or the result supersedes this one
		}
	}
	opts := append(append([]extractor.Option{}, h.opts...), extractor.WithProgress(progress))
	harvester := extractor.New(h.cfg, h.logger, opts...)

	res, err := harvester.Harvest(ctx, h.page, extractor.Params{
		URL:        url,
		ScrapeType: cmd.ScrapeType,
		DateLimit:  cmd.DateLimit,
	})
	if err != nil {
		return Reply{
			Action:     ActionError,
			HistoryID:  cmd.HistoryID,
			PostsSoFar: len(res.Posts),
			Error:      err.Error(),
		}
	}
	return Reply{
		Action:     ActionComplete,
		HistoryID:  cmd.HistoryID,
		Posts:      res.Posts,
		PostsSoFar: len(res.Posts),
	}
}

// Close releases the page. Later calls return the first result.
func (h *Host) Close() error {
	h.once.Do(func() {
		close(h.closed)
		h.closeErr = h.page.Close()
	})
	return h.closeErr
}

// HostLauncher opens a page per launch and wraps it in a Host
type HostLauncher struct {
	Config  *config.Config
	Opener  PageOpener
	Logger  logger.Logger
	Options []extractor.Option
}

var _ Launcher = (*HostLauncher)(nil)

func (l *HostLauncher) Launch(ctx context.Context) (ExecutionContext, error) {
	page, err := l.Opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open execution context: %w", err)
	}
	return NewHost(l.Config, page, l.Logger, l.Options...), nil
}
