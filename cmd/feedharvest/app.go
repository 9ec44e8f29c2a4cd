package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"feedharvest/pkg/auth"
	"feedharvest/pkg/browser"
	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/config"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/metrics"
	"feedharvest/pkg/scraper"
	"feedharvest/pkg/storage"
	"feedharvest/pkg/ui"
	"feedharvest/pkg/worker"
)

// app is the wired process: configuration, store, and the orchestrator
// driving browser workers
type app struct {
	cfg   *config.Config
	log   logger.Logger
	store storage.Store
	orch  *scraper.Orchestrator
}

// newStoreApp loads configuration and opens the store only
func newStoreApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: store}, nil
}

// newApp wires everything needed to run scrapes and recovers a run left
// behind by a previous process
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	a, err := newStoreApp(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.log.WithError(err).Warn("Failed to register metrics")
	}

	cp, err := checkpoint.NewManager(a.cfg.Scrape.CheckpointFile)
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}

	opener := browser.NewOpener(a.cfg.Browser, a.cookieSource(), a.log)
	launcher := &worker.HostLauncher{Config: a.cfg, Opener: opener, Logger: a.log}
	a.orch = scraper.New(a.cfg, a.store, launcher, scraper.WithCheckpoint(cp), scraper.WithLogger(a.log))

	if id, err := a.orch.Recover(ctx); err != nil {
		a.log.WithError(err).Warn("Failed to recover interrupted scrape")
	} else if id != "" {
		ui.PrintWarning("Previous scrape was interrupted and marked failed", id)
	}

	logger.LogComponentStart("feedharvest", map[string]interface{}{
		"user_id":           a.cfg.Feed.UserID,
		"storage":           a.cfg.Storage.Driver,
		"selectors_version": a.cfg.Selectors.Version,
	})
	return a, nil
}

// cookieSource reads the session cookie for the configured identity. A
// missing session opens the browser logged out.
func (a *app) cookieSource() browser.CookieSource {
	sessions, err := auth.NewManager(a.cfg.Auth)
	if err != nil {
		a.log.WithError(err).Warn("Session store unavailable, browsing without a session")
		return nil
	}
	identity := a.cfg.Feed.UserID
	return func(ctx context.Context) (string, error) {
		cookie, err := sessions.Cookie(ctx, identity)
		if errors.Is(err, auth.ErrSessionNotFound) {
			a.log.WithField("identity", identity).Warn("No stored session, run 'feedharvest auth login'")
			return "", nil
		}
		return cookie, err
	}
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Wait()
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close store")
	}
	logger.LogComponentStop("feedharvest", "exit")
}
