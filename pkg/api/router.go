package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"feedharvest/pkg/config"
	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/metrics"
	"feedharvest/pkg/models"
	"feedharvest/pkg/ratelimit"
	"feedharvest/pkg/scraper"
	"feedharvest/pkg/storage"
)

// Controller is the part of scraper.Orchestrator the API drives
type Controller interface {
	Start(ctx context.Context, req scraper.StartRequest) (scraper.StartResponse, error)
	Stop(ctx context.Context) (scraper.StopResponse, error)
	Status() models.SessionSnapshot
}

var _ Controller = (*scraper.Orchestrator)(nil)

// Router exposes the control protocol over HTTP.
// Endpoints, relative to basePath:
//
//	POST /scrape      body: {"scrape_type": "...", "date_limit": "RFC3339"}
//	GET  /status
//	POST /stop
//	GET  /eligibility
//	GET  /posts       query: since, media_type, limit, offset
//	GET  /history     query: limit
//	GET  /rescrape    query: limit
//
// /healthz and /metrics are served at the root.
type Router struct {
	ctl      Controller
	store    storage.Store
	cfg      *config.Config
	limiter  ratelimit.Limiter
	logger   logger.Logger
	basePath string
	now      func() time.Time
}

// RouterOption customizes a Router
type RouterOption func(*Router)

// WithStartLimiter throttles POST /scrape; requests over the limit get 429
func WithStartLimiter(l ratelimit.Limiter) RouterOption {
	return func(r *Router) { r.limiter = l }
}

// WithRouterLogger sets the request logger
func WithRouterLogger(l logger.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter constructs a Router mounted at cfg.Server.BasePath
func NewRouter(ctl Controller, store storage.Store, cfg *config.Config, opts ...RouterOption) *Router {
	r := &Router{
		ctl:      ctl,
		store:    store,
		cfg:      cfg,
		limiter:  ratelimit.NewSlidingWindow(6, time.Minute),
		logger:   logger.GetLogger(),
		basePath: sanitizeBase(cfg.Server.BasePath),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithField("component", "api")
	return r
}

// Handler returns an http.Handler powered by gin
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.logRequests())

	g.GET("/healthz", r.handleHealth)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	group := g.Group(r.basePath)
	group.POST("/scrape", r.handleStart)
	group.GET("/status", r.handleStatus)
	group.POST("/stop", r.handleStop)
	group.GET("/eligibility", r.handleEligibility)
	group.GET("/posts", r.handlePosts)
	group.GET("/history", r.handleHistory)
	group.GET("/rescrape", r.handleRescrape)
	return g
}

// NewServer wraps the router in an http.Server listening on cfg.Server.Addr.
// The caller starts and shuts it down.
func NewServer(r *Router) *http.Server {
	return &http.Server{
		Addr:              r.cfg.Server.Addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK      bool `json:"ok"`
	Running bool `json:"running"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{OK: true, Running: r.ctl.Status().IsRunning})
}

func (r *Router) handleStart(c *gin.Context) {
	if !r.limiter.Allow() {
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: "too many start requests"})
		return
	}

	var req scraper.StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	if req.ScrapeType == "" {
		req.ScrapeType = models.ScrapeManual
	}
	if !req.ScrapeType.Valid() {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid scrape_type: " + string(req.ScrapeType)})
		return
	}

	resp, err := r.ctl.Start(c.Request.Context(), req)
	if err != nil {
		r.logger.WithError(err).Error("Start request failed")
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}

	switch resp.Status {
	case scraper.StatusStarted:
		writeJSON(c, http.StatusAccepted, resp)
	case scraper.StatusAlreadyRunning:
		writeJSON(c, http.StatusConflict, resp)
	default:
		writeJSON(c, http.StatusOK, resp)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status())
}

func (r *Router) handleStop(c *gin.Context) {
	resp, err := r.ctl.Stop(c.Request.Context())
	if err != nil {
		r.logger.WithError(err).Error("Stop request failed")
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleEligibility(c *gin.Context) {
	e, err := r.store.Eligibility(c.Request.Context(), r.userID(c))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, e)
}

func (r *Router) handlePosts(c *gin.Context) {
	var f storage.PostFilter
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid since: must be RFC3339"})
			return
		}
		f.Since = &t
	}
	f.MediaType = models.MediaType(c.Query("media_type"))

	var ok bool
	if f.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}

	posts, err := r.store.ListPosts(c.Request.Context(), r.userID(c), f)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, posts)
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	entries, err := r.store.ListHistory(c.Request.Context(), r.userID(c), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleRescrape(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	cutoff := r.now().Add(-r.cfg.Scrape.RescrapeAfter)
	posts, err := r.store.PostsToRescrape(c.Request.Context(), r.userID(c), cutoff, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, posts)
}

func (r *Router) userID(c *gin.Context) string {
	if id := c.Query("user_id"); id != "" {
		return id
	}
	return r.cfg.Feed.UserID
}

func (r *Router) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.DebugWithFields("HTTP request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
	}
}

// queryInt parses an optional non-negative integer query parameter and
// writes a 400 when it is malformed
func queryInt(c *gin.Context, name string) (int, bool) {
	s := c.Query(name)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + name + ": must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func statusFor(err error) int {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeConfig:
		return http.StatusBadRequest
	case errs.ErrorTypeAlreadyRunning:
		return http.StatusConflict
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
