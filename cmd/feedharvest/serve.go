package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"feedharvest/pkg/api"
	"feedharvest/pkg/ui"
)

var (
	serveAddr  string
	autoEvery  time.Duration
	startLimit int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API",
	Long: `Serve the HTTP control API and, with --auto-every, trigger the automatic
scrape decision on a fixed interval.

Endpoints (under server.base_path, default /api/v1):
  POST /scrape  GET /status  POST /stop  GET /eligibility
  GET /posts    GET /history GET /rescrape
plus /healthz and /metrics at the root.`,
	Example: `  feedharvest serve --addr 127.0.0.1:8080 --auto-every 6h`,
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().DurationVar(&autoEvery, "auto-every", 0, "run the automatic scrape decision on this interval (0 disables)")
	serveCmd.Flags().IntVar(&startLimit, "start-limit", 6, "max scrape start requests per minute")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	router := api.NewRouter(a.orch, a.store, a.cfg,
		api.WithRouterLogger(a.log),
		api.WithStartLimiter(newStartLimiter(startLimit)),
	)
	srv := api.NewServer(router)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	ui.PrintInfo("Listening", "http://"+a.cfg.Server.Addr+a.cfg.Server.BasePath)

	var tick <-chan time.Time
	if autoEvery > 0 {
		ticker := time.NewTicker(autoEvery)
		defer ticker.Stop()
		tick = ticker.C
		ui.PrintInfo("Auto trigger", autoEvery.String())
		a.autoTrigger(ctx)
	}

	for {
		select {
		case err := <-errCh:
			return err
		case <-tick:
			a.autoTrigger(ctx)
		case <-ctx.Done():
			a.log.Info("Shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.WithError(err).Warn("HTTP shutdown failed")
			}
			a.cfg.Scrape.HardStop = true
			if _, err := a.orch.Stop(shutdownCtx); err != nil {
				a.log.WithError(err).Warn("Failed to stop running scrape")
			}
			return nil
		}
	}
}

func (a *app) autoTrigger(ctx context.Context) {
	resp, err := a.orch.AutoTrigger(ctx)
	if err != nil {
		a.log.WithError(err).Error("Automatic scrape failed to start")
		return
	}
	a.log.InfoWithFields("Automatic scrape decision", map[string]interface{}{
		"status":      resp.Status,
		"history_id":  resp.HistoryID,
		"scrape_type": string(resp.ScrapeType),
	})
}
