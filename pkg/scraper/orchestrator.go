package scraper

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/config"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/metrics"
	"feedharvest/pkg/models"
	"feedharvest/pkg/retry"
	"feedharvest/pkg/storage"
	"feedharvest/pkg/worker"
)

// Start outcomes
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusNotEligible    = "not_eligible"
)

// Stop outcomes
const (
	StatusStopped   = "stopped"
	StatusIdle      = "idle"
	StatusStarting  = "starting"
	StatusFinishing = "finishing"
)

const interruptedReason = "interrupted"

// StartRequest asks for a scrape of the given type. DateLimit overrides the
// partial window; it is ignored for full scrapes.
type StartRequest struct {
	ScrapeType models.ScrapeType `json:"scrape_type"`
	DateLimit  *time.Time        `json:"date_limit,omitempty"`
}

// StartResponse reports whether a scrape was accepted
type StartResponse struct {
	Success    bool              `json:"success"`
	Status     string            `json:"status"`
	HistoryID  string            `json:"history_id,omitempty"`
	ScrapeType models.ScrapeType `json:"scrape_type,omitempty"`
}

// StopResponse reports the outcome of a stop request
type StopResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	HistoryID string `json:"history_id,omitempty"`
}

// session is the state of the one accepted scrape. It is only touched with
// Orchestrator.mu held.
type session struct {
	scrapeType   models.ScrapeType
	historyID    string
	startTime    time.Time
	postsScraped int
	lastUpdate   time.Time
	finalizing   bool

	exec     worker.ExecutionContext
	tornDown bool
	cancel   context.CancelFunc
	once     sync.Once
}

// Orchestrator owns the scrape lifecycle for one identity:
// Idle, Running, then back to Idle through completed, failed or cancelled.
type Orchestrator struct {
	cfg         *config.Config
	store       storage.Store
	launcher    worker.Launcher
	checkpoints *checkpoint.Manager
	ownerAlive  func(ctx context.Context, pid int) bool
	logger      logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	current *session
	// pending holds terminal history writes that failed; they are retried
	// before the next start and keep their run markers until they land
	pending map[string]models.HistoryUpdate
	wg      sync.WaitGroup
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithCheckpoint records in-flight runs so they can be recovered after a crash
func WithCheckpoint(m *checkpoint.Manager) Option {
	return func(o *Orchestrator) { o.checkpoints = m }
}

// WithProcessCheck replaces the liveness test Recover applies to the pid
// recorded in a run marker
func WithProcessCheck(alive func(ctx context.Context, pid int) bool) Option {
	return func(o *Orchestrator) { o.ownerAlive = alive }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an idle orchestrator
func New(cfg *config.Config, store storage.Store, launcher worker.Launcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		launcher:   launcher,
		ownerAlive: checkpoint.OwnerAlive,
		logger:     logger.GetLogger(),
		now:        time.Now,
		pending:    make(map[string]models.HistoryUpdate),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithField("component", "orchestrator")
	return o
}

// Start accepts a scrape when the orchestrator is idle and the identity is
// eligible. The scrape itself runs in the background; Start returns once the
// history entry exists.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	if !req.ScrapeType.Valid() {
		return StartResponse{Status: "invalid"}, errs.New(errs.ErrorTypeConfig, "invalid scrape type: "+string(req.ScrapeType))
	}

	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		o.logger.InfoWithFields("Scrape already running, start ignored", map[string]interface{}{
			"requested": string(req.ScrapeType),
		})
		return StartResponse{Status: StatusAlreadyRunning}, nil
	}
	s := &session{scrapeType: req.ScrapeType, startTime: o.now()}
	o.current = s
	o.mu.Unlock()

	o.flushPending(ctx)

	scrapeType, dateLimit, eligible, err := o.admit(ctx, req)
	if err != nil {
		o.release(s)
		return StartResponse{}, err
	}
	if !eligible {
		o.release(s)
		o.logger.InfoWithFields("Scrape not eligible, skipping", map[string]interface{}{
			"requested": string(req.ScrapeType),
		})
		return StartResponse{Status: StatusNotEligible}, nil
	}

	userID := o.cfg.Feed.UserID
	entry, err := o.store.InsertHistory(ctx, userID, scrapeType)
	if err != nil {
		o.release(s)
		return StartResponse{}, errs.Persistence("create history entry", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), o.cfg.Scrape.Timeout)
	o.mu.Lock()
	s.historyID = entry.ID
	s.scrapeType = scrapeType
	s.lastUpdate = o.now()
	s.cancel = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	if o.checkpoints != nil {
		if _, err := o.checkpoints.Begin(entry.ID, userID, string(scrapeType)); err != nil {
			o.logger.WithError(err).Warn("Failed to write run marker")
		}
	}
	metrics.SetRunning(true)
	logger.LogScrapeStart(o.logger, entry.ID, string(scrapeType), o.cfg.Selectors.Version)

	go o.run(runCtx, s, worker.Command{
		Action:     worker.ActionStartExtraction,
		HistoryID:  entry.ID,
		URL:        o.cfg.Feed.URL,
		ScrapeType: scrapeType,
		DateLimit:  dateLimit,
	})

	return StartResponse{Success: true, Status: StatusStarted, HistoryID: entry.ID, ScrapeType: scrapeType}, nil
}

// AutoTrigger is the automatic scrape decision: a full scrape until one has
// completed, partial scrapes afterwards, each subject to eligibility.
func (o *Orchestrator) AutoTrigger(ctx context.Context) (StartResponse, error) {
	return o.Start(ctx, StartRequest{ScrapeType: models.ScrapePartial})
}

// admit resolves the effective scrape type and date cutoff. Manual scrapes
// skip the eligibility check.
func (o *Orchestrator) admit(ctx context.Context, req StartRequest) (models.ScrapeType, *time.Time, bool, error) {
	if req.ScrapeType == models.ScrapeManual {
		return models.ScrapeManual, req.DateLimit, true, nil
	}

	e, err := o.store.Eligibility(ctx, o.cfg.Feed.UserID)
	if err != nil {
		return "", nil, false, errs.Persistence("check eligibility", err)
	}
	if !e.CanScrapeNow {
		return "", nil, false, nil
	}

	scrapeType := req.ScrapeType
	if !e.EverCompletedFull && scrapeType != models.ScrapeFull {
		o.logger.Info("No full scrape completed yet, escalating to full")
		scrapeType = models.ScrapeFull
	}
	if scrapeType == models.ScrapeFull {
		return scrapeType, nil, true, nil
	}

	dateLimit := req.DateLimit
	if dateLimit == nil {
		cutoff := o.now().Add(-o.cfg.Scrape.PartialWindow)
		dateLimit = &cutoff
	}
	return scrapeType, dateLimit, true, nil
}

// release returns to Idle after a start that never created history
func (o *Orchestrator) release(s *session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == s {
		o.current = nil
	}
}

// run drives one accepted scrape until a terminal reply, the timeout or an
// abort. The execution context is torn down on every path.
func (o *Orchestrator) run(ctx context.Context, s *session, cmd worker.Command) {
	defer o.wg.Done()
	defer o.teardown(s)

	exec, err := o.launcher.Launch(ctx)
	if err != nil {
		o.fail(s, "launch: "+err.Error())
		return
	}
	o.mu.Lock()
	if s.tornDown {
		o.mu.Unlock()
		_ = exec.Close()
		return
	}
	s.exec = exec
	o.mu.Unlock()

	replies, err := exec.Dispatch(ctx, cmd)
	if err != nil {
		o.fail(s, "dispatch: "+err.Error())
		return
	}

	for {
		select {
		case r, ok := <-replies:
			if !ok {
				o.fail(s, "worker exited without a result")
				return
			}
			if r.HistoryID != cmd.HistoryID {
				o.logger.WarnWithFields("Ignoring reply for another run", map[string]interface{}{
					"history_id": cmd.HistoryID,
					"reply_for":  r.HistoryID,
				})
				continue
			}
			switch r.Action {
			case worker.ActionProgress:
				o.progress(s, r.PostsSoFar)
			case worker.ActionComplete:
				o.complete(s, r.Posts)
				return
			case worker.ActionError:
				o.fail(s, r.Error)
				return
			}
		case <-ctx.Done():
			reason := "cancelled"
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = "timeout"
			}
			o.fail(s, reason)
			return
		}
	}
}

func (o *Orchestrator) progress(s *session, postsSoFar int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != s || s.finalizing {
		return
	}
	s.postsScraped = postsSoFar
	s.lastUpdate = o.now()
}

// claim marks s as finalizing. It fails when the session was stopped or is
// already being finalized, in which case the caller's result is discarded.
func (o *Orchestrator) claim(s *session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != s || s.finalizing {
		return false
	}
	s.finalizing = true
	return true
}

func (o *Orchestrator) complete(s *session, posts []models.Post) {
	if !o.claim(s) {
		o.logger.InfoWithFields("Discarding late result", map[string]interface{}{
			"history_id": s.historyID,
			"posts":      len(posts),
		})
		return
	}

	ctx, cancel := o.persistContext()
	defer cancel()

	res, err := o.store.UpsertPosts(ctx, o.cfg.Feed.UserID, posts, s.scrapeType == models.ScrapeFull)
	if err != nil {
		o.logger.WithError(err).ErrorWithFields("Failed to persist posts", map[string]interface{}{
			"history_id": s.historyID,
			"harvested":  len(posts),
			"written":    res.Written,
		})
	}
	metrics.AddWritten(res.Written)

	o.finalize(ctx, s, models.HistoryUpdate{
		Status:       models.StatusCompleted,
		PostsScraped: res.Written,
	}, len(posts))
}

func (o *Orchestrator) fail(s *session, reason string) {
	if !o.claim(s) {
		o.logger.InfoWithFields("Discarding late failure", map[string]interface{}{
			"history_id": s.historyID,
			"reason":     reason,
		})
		return
	}

	ctx, cancel := o.persistContext()
	defer cancel()

	o.mu.Lock()
	soFar := s.postsScraped
	o.mu.Unlock()

	o.finalize(ctx, s, models.HistoryUpdate{
		Status:       models.StatusFailed,
		PostsScraped: soFar,
		ErrorMessage: reason,
	}, soFar)
}

// finalize writes the terminal history state, releases the execution
// context and returns the orchestrator to Idle
func (o *Orchestrator) finalize(ctx context.Context, s *session, u models.HistoryUpdate, harvested int) {
	u.CompletedAt = o.now()
	_ = o.settle(ctx, s.historyID, u)
	o.teardown(s)

	elapsed := u.CompletedAt.Sub(s.startTime)
	metrics.IncScrape(string(s.scrapeType), string(u.Status))
	metrics.ObserveDuration(string(s.scrapeType), elapsed)
	metrics.SetRunning(false)
	if u.Status == models.StatusFailed {
		o.logger.WarnWithFields("Scrape failed", map[string]interface{}{
			"history_id": s.historyID,
			"reason":     u.ErrorMessage,
		})
	}
	logger.LogScrapeComplete(o.logger, s.historyID, string(u.Status), harvested, u.PostsScraped, elapsed)

	o.mu.Lock()
	if o.current == s {
		o.current = nil
	}
	o.mu.Unlock()
}

// teardown cancels the run context and closes the execution context. Only
// the first call has an effect.
func (o *Orchestrator) teardown(s *session) {
	s.once.Do(func() {
		o.mu.Lock()
		exec := s.exec
		s.tornDown = true
		o.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		if exec != nil {
			if err := exec.Close(); err != nil {
				o.logger.WithError(err).Warn("Failed to close execution context")
			}
		}
	})
}

// Stop cancels the running scrape. The history entry is marked cancelled and
// the orchestrator is Idle when Stop returns. The extraction itself is only
// interrupted when scrape.hard_stop is set; otherwise its result is dropped
// when it arrives.
func (o *Orchestrator) Stop(ctx context.Context) (StopResponse, error) {
	o.mu.Lock()
	s := o.current
	switch {
	case s == nil:
		o.mu.Unlock()
		return StopResponse{Status: StatusIdle}, nil
	case s.historyID == "":
		o.mu.Unlock()
		return StopResponse{Status: StatusStarting}, nil
	case s.finalizing:
		o.mu.Unlock()
		return StopResponse{Status: StatusFinishing, HistoryID: s.historyID}, nil
	}
	o.current = nil
	soFar := s.postsScraped
	o.mu.Unlock()

	completedAt := o.now()
	err := o.settle(ctx, s.historyID, models.HistoryUpdate{
		Status:       models.StatusCancelled,
		CompletedAt:  completedAt,
		PostsScraped: soFar,
	})
	metrics.IncScrape(string(s.scrapeType), string(models.StatusCancelled))
	metrics.SetRunning(false)

	if o.cfg.Scrape.HardStop {
		o.teardown(s)
	}
	logger.LogScrapeComplete(o.logger, s.historyID, string(models.StatusCancelled), soFar, 0, completedAt.Sub(s.startTime))

	resp := StopResponse{Success: true, Status: StatusStopped, HistoryID: s.historyID}
	if err != nil {
		return resp, errs.Persistence("mark history cancelled", err)
	}
	return resp, nil
}

// Status returns a copy of the current session
func (o *Orchestrator) Status() models.SessionSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.current
	if s == nil {
		return models.SessionSnapshot{}
	}
	start := s.startTime
	snap := models.SessionSnapshot{
		IsRunning:     true,
		ScrapeType:    s.scrapeType,
		StartTime:     &start,
		PostsScraped:  s.postsScraped,
		HistoryID:     s.historyID,
		ContextActive: s.exec != nil && !s.tornDown,
	}
	if !s.lastUpdate.IsZero() {
		last := s.lastUpdate
		snap.LastUpdate = &last
	}
	return snap
}

// Wait blocks until every run goroutine has exited, including runs whose
// sessions were already stopped
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Recover finalizes a run that a previous process left running. It returns
// the recovered history id, or "" when there was nothing to recover. Markers
// owned by this orchestrator or by a process that is still alive are left
// alone.
func (o *Orchestrator) Recover(ctx context.Context) (string, error) {
	if o.checkpoints == nil {
		return "", nil
	}
	marker, err := o.checkpoints.Load()
	if err != nil {
		return "", err
	}
	if marker == nil {
		return "", nil
	}

	fields := map[string]interface{}{
		"history_id": marker.HistoryID,
		"pid":        marker.PID,
	}
	if o.ownsRun(marker.HistoryID) {
		o.logger.InfoWithFields("Run marker belongs to this orchestrator, not recovering", fields)
		return "", nil
	}
	// this process only owns the runs ownsRun knows about; an equal pid is a
	// previous process in a recycled pid namespace
	if marker.PID != os.Getpid() && o.ownerAlive != nil && o.ownerAlive(ctx, marker.PID) {
		o.logger.InfoWithFields("Run marker owner is still alive, not recovering", fields)
		return "", nil
	}

	err = o.store.UpdateHistory(ctx, marker.HistoryID, models.HistoryUpdate{
		Status:       models.StatusFailed,
		CompletedAt:  o.now(),
		ErrorMessage: interruptedReason,
	})
	if err != nil && !errors.Is(err, storage.ErrHistoryFinalized) && !errors.Is(err, storage.ErrHistoryNotFound) {
		return "", errs.Persistence("finalize interrupted run", err)
	}
	if err := o.checkpoints.Clear(marker.HistoryID); err != nil {
		return "", err
	}

	o.logger.WarnWithFields("Recovered interrupted scrape", map[string]interface{}{
		"history_id":  marker.HistoryID,
		"scrape_type": marker.ScrapeType,
		"started_at":  marker.StartedAt,
	})
	return marker.HistoryID, nil
}

// ownsRun reports whether historyID is the current session or a terminal
// write still waiting to be retried
func (o *Orchestrator) ownsRun(historyID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && o.current.historyID == historyID {
		return true
	}
	_, ok := o.pending[historyID]
	return ok
}

// settle writes a terminal history state and clears the run marker once the
// write lands. A write that still fails after retries is queued for
// flushPending and its marker is kept.
func (o *Orchestrator) settle(ctx context.Context, historyID string, u models.HistoryUpdate) error {
	err := o.writeTerminal(ctx, historyID, u)

	o.mu.Lock()
	if err != nil {
		o.pending[historyID] = u
	} else {
		delete(o.pending, historyID)
	}
	o.mu.Unlock()

	if err != nil {
		o.logger.WithError(err).ErrorWithFields("Failed to finalize history", map[string]interface{}{
			"history_id": historyID,
			"status":     string(u.Status),
		})
		return err
	}
	o.clearCheckpoint(historyID)
	return nil
}

// writeTerminal retries UpdateHistory with a doubling backoff. An entry that
// is already terminal or gone counts as written.
func (o *Orchestrator) writeTerminal(ctx context.Context, historyID string, u models.HistoryUpdate) error {
	attempts := o.cfg.Limits.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	err := retry.Do(func() error {
		return o.store.UpdateHistory(ctx, historyID, u)
	}, &retry.Config{
		MaxAttempts: attempts,
		Backoff:     retry.DoublingBackoff(o.cfg.Limits.RetryBaseDelay),
		RetryIf: func(err error) bool {
			return !errors.Is(err, storage.ErrHistoryFinalized) && !errors.Is(err, storage.ErrHistoryNotFound)
		},
		Context: ctx,
		Logger:  o.logger,
	})
	if errors.Is(err, storage.ErrHistoryFinalized) || errors.Is(err, storage.ErrHistoryNotFound) {
		return nil
	}
	return err
}

// flushPending retries terminal writes left over from earlier runs
func (o *Orchestrator) flushPending(ctx context.Context) {
	o.mu.Lock()
	queued := make(map[string]models.HistoryUpdate, len(o.pending))
	for id, u := range o.pending {
		queued[id] = u
	}
	o.mu.Unlock()

	for id, u := range queued {
		if err := o.settle(ctx, id, u); err == nil {
			o.logger.InfoWithFields("Deferred history update written", map[string]interface{}{
				"history_id": id,
				"status":     string(u.Status),
			})
		}
	}
}

func (o *Orchestrator) clearCheckpoint(historyID string) {
	if o.checkpoints == nil {
		return
	}
	if err := o.checkpoints.Clear(historyID); err != nil {
		o.logger.WithError(err).Warn("Failed to clear run marker")
	}
}

func (o *Orchestrator) persistContext() (context.Context, context.CancelFunc) {
	timeout := o.cfg.Timing.ProcessingTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
