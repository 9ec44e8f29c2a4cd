package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"feedharvest/pkg/checkpoint"
	"feedharvest/pkg/models"
	"feedharvest/pkg/storage"
	"feedharvest/pkg/ui"
)

var (
	postsSince     string
	postsMediaType string
	postsLimit     int
	postsOffset    int
	historyLimit   int
	rescrapeLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show eligibility, the latest run and any interrupted run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newStoreApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.closeStore()

		ctx := cmd.Context()
		ui.PrintInfo("Identity", a.cfg.Feed.UserID)
		ui.PrintInfo("Storage", a.cfg.Storage.Driver)

		elig, err := a.store.Eligibility(ctx, a.cfg.Feed.UserID)
		if err != nil {
			return err
		}
		ui.PrintEligibility(elig)

		cp, err := checkpoint.NewManager(a.cfg.Scrape.CheckpointFile)
		if err != nil {
			return err
		}
		marker, err := cp.Load()
		if err != nil {
			ui.PrintWarning("Unreadable run marker", err)
		} else if marker != nil {
			ui.PrintWarning(fmt.Sprintf("Run %s (%s) started %s has not finished",
				marker.HistoryID, marker.ScrapeType, marker.StartedAt.Format(time.RFC3339)))
		}

		history, err := a.store.ListHistory(ctx, a.cfg.Feed.UserID, 1)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			ui.PrintInfo("Last run", "never")
			return nil
		}
		ui.PrintHistory(history)
		return nil
	},
}

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List stored posts, newest first",
	Example: `  feedharvest posts --since 7 --media-type video
  feedharvest posts --limit 20 --offset 40`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := storage.PostFilter{Limit: postsLimit, Offset: postsOffset}
		if postsSince != "" {
			since, err := parseDateLimit(postsSince, time.Now())
			if err != nil {
				return err
			}
			f.Since = &since
		}
		if postsMediaType != "" {
			mt, err := parseMediaType(postsMediaType)
			if err != nil {
				return err
			}
			f.MediaType = mt
		}

		a, err := newStoreApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.closeStore()

		posts, err := a.store.ListPosts(cmd.Context(), a.cfg.Feed.UserID, f)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			ui.PrintWarning("No posts stored")
			return nil
		}
		ui.PrintPosts(posts)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent scrape runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newStoreApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.closeStore()

		entries, err := a.store.ListHistory(cmd.Context(), a.cfg.Feed.UserID, historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			ui.PrintWarning("No scrapes recorded")
			return nil
		}
		ui.PrintHistory(entries)
		return nil
	},
}

var rescrapeCmd = &cobra.Command{
	Use:   "rescrape",
	Short: "List posts whose engagement counts are stale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newStoreApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.closeStore()

		cutoff := time.Now().Add(-a.cfg.Scrape.RescrapeAfter)
		posts, err := a.store.PostsToRescrape(cmd.Context(), a.cfg.Feed.UserID, cutoff, rescrapeLimit)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			ui.PrintSuccess("All posts refreshed within " + a.cfg.Scrape.RescrapeAfter.String())
			return nil
		}
		ui.PrintPosts(posts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, postsCmd, historyCmd, rescrapeCmd)

	postsCmd.Flags().StringVar(&postsSince, "since", "", "only posts at or after: a duration (72h), days (7) or a date")
	postsCmd.Flags().StringVar(&postsMediaType, "media-type", "", "only posts with this media (image, video, document, article)")
	postsCmd.Flags().IntVarP(&postsLimit, "limit", "n", 50, "max posts to list")
	postsCmd.Flags().IntVar(&postsOffset, "offset", 0, "posts to skip")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max entries to list")
	rescrapeCmd.Flags().IntVarP(&rescrapeLimit, "limit", "n", 50, "max posts to list")
}

func parseMediaType(s string) (models.MediaType, error) {
	switch mt := models.MediaType(s); mt {
	case models.MediaImage, models.MediaVideo, models.MediaDocument, models.MediaArticle:
		return mt, nil
	}
	return "", fmt.Errorf("invalid media type %q", s)
}

func (a *app) closeStore() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close store")
	}
}
