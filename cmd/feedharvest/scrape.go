package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"feedharvest/pkg/models"
	"feedharvest/pkg/scraper"
	"feedharvest/pkg/ui"
)

var (
	scrapeType string
	dateLimit  string
	maxScrolls int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape in the foreground",
	Long: `Run one scrape and wait for it to finish.

Scrape types:
  manual   scroll the partial budget, skip the eligibility check
  full     scroll the full budget with no date cutoff
  partial  stop at posts older than the partial window (or --since)

full and partial scrapes honor the cadence window; partial scrapes are
escalated to full until a full scrape has completed. Ctrl+C stops the scrape
and marks it cancelled.`,
	Example: `  # Manual scrape with the configured feed
  feedharvest scrape

  # Partial scrape of the last three days
  feedharvest scrape --type partial --since 72h

  # Full scrape with a larger scroll budget
  feedharvest scrape --type full --max-scrolls 40`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, ok := models.ParseScrapeType(scrapeType)
		if !ok {
			return fmt.Errorf("invalid --type %q: must be manual, full or partial", scrapeType)
		}
		req := scraper.StartRequest{ScrapeType: t}
		if dateLimit != "" {
			limit, err := parseDateLimit(dateLimit, time.Now())
			if err != nil {
				return err
			}
			req.DateLimit = &limit
		}
		return runForeground(cmd, func(ctx context.Context, orch *scraper.Orchestrator) (scraper.StartResponse, error) {
			return orch.Start(ctx, req)
		})
	},
}

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Run the automatic scrape decision once",
	Long: `Run a full scrape if none has completed yet, otherwise a partial one.
Nothing happens when the identity is inside its cadence window. Suitable for
cron.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForeground(cmd, func(ctx context.Context, orch *scraper.Orchestrator) (scraper.StartResponse, error) {
			return orch.AutoTrigger(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(autoCmd)

	scrapeCmd.Flags().StringVarP(&scrapeType, "type", "t", string(models.ScrapeManual), "scrape type (manual, full, partial)")
	scrapeCmd.Flags().StringVar(&dateLimit, "since", "", "date cutoff: a duration back from now (72h) or a date (2006-01-02)")
	for _, c := range []*cobra.Command{scrapeCmd, autoCmd} {
		c.Flags().IntVar(&maxScrolls, "max-scrolls", 0, "override the full scrape scroll budget")
	}
}

// parseDateLimit accepts a look-back duration, an RFC3339 timestamp or a
// calendar date
func parseDateLimit(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if days, err := strconv.Atoi(s); err == nil {
		return now.AddDate(0, 0, -days), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use a duration, a number of days or a date", s)
}

type startFunc func(ctx context.Context, orch *scraper.Orchestrator) (scraper.StartResponse, error)

// runForeground starts a scrape, renders its progress and prints the final
// history entry. SIGINT and SIGTERM stop the scrape.
func runForeground(cmd *cobra.Command, start startFunc) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	// the process is about to exit, so a stop must not leave the browser running
	a.cfg.Scrape.HardStop = true

	resp, err := start(ctx, a.orch)
	if err != nil {
		return err
	}
	switch resp.Status {
	case scraper.StatusAlreadyRunning:
		ui.PrintWarning("A scrape is already running")
		return nil
	case scraper.StatusNotEligible:
		ui.PrintWarning("Not eligible: a scrape completed inside the cadence window")
		return nil
	}

	ui.PrintInfo("History ID", resp.HistoryID)
	ui.PrintInfo("Scrape type", string(resp.ScrapeType))

	tracker := ui.NewTracker()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			tracker.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			stop, err := a.orch.Stop(stopCtx)
			stopCancel()
			if err != nil {
				ui.PrintError("Failed to stop scrape", err)
			} else if stop.Success {
				ui.PrintWarning("Scrape stopped", stop.HistoryID)
			}
			break wait
		case <-ticker.C:
			snap := a.orch.Status()
			if !snap.IsRunning || snap.HistoryID != resp.HistoryID {
				tracker.Done()
				break wait
			}
			tracker.Update(snap)
		}
	}

	entry, err := a.store.GetHistory(context.Background(), resp.HistoryID)
	if err != nil {
		return err
	}
	ui.PrintHistory([]models.HistoryEntry{entry})
	if entry.Status == models.StatusFailed {
		return fmt.Errorf("scrape failed: %s", entry.ErrorMessage)
	}
	ui.PrintSuccess(fmt.Sprintf("Scrape %s with %d posts written", entry.Status, entry.PostsScraped))
	return nil
}
