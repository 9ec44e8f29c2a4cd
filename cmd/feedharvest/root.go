package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"feedharvest/pkg/config"
	"feedharvest/pkg/ui"
)

var (
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	configFile    string
	selectorsFile string
	logLevel      string
	userID        string
	storageDriver string
	dbPath        string
	dsn           string
	headless      bool
	scrapeTimeout time.Duration
	quiet         bool
)

var rootCmd = &cobra.Command{
	Use:   "feedharvest",
	Short: "Harvest posts from a logged-in social feed",
	Long: `feedharvest drives a headless browser through your feed, scrolls it the
way a person would and stores every post it finds with its engagement counts.

Scrapes are serialized per identity. Full scrapes walk as deep as the scroll
budget allows; partial scrapes stop at posts older than the partial window.
Scheduled scrapes run at most once per cadence window.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.SetQuietMode(true)
		}
		switch cmd.Name() {
		case "version", "help", "completion", "show", "posts", "history", "rescrape":
		default:
			ui.PrintBanner(version)
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config file (default ./feedharvest.yaml or ~/.config/feedharvest/config.yaml)")
	pf.StringVar(&selectorsFile, "selectors", "", "selector table overlay (YAML)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&userID, "user", "u", "", "identity that owns the scraped posts")
	pf.StringVar(&storageDriver, "storage", "", "storage driver (sqlite, postgres, memory)")
	pf.StringVar(&dbPath, "db", "", "sqlite database path")
	pf.StringVar(&dsn, "dsn", "", "postgres connection string")
	pf.BoolVar(&headless, "headless", true, "run the browser headless")
	pf.DurationVar(&scrapeTimeout, "timeout", 0, "overall scrape timeout")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`feedharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig resolves configuration from file, environment and the flags the
// user actually set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := make(map[string]interface{})
	pf := cmd.Flags()
	set := func(name string, v interface{}) {
		if pf.Changed(name) {
			flags[name] = v
		}
	}
	set("log-level", logLevel)
	set("user", userID)
	set("storage", storageDriver)
	set("db", dbPath)
	set("dsn", dsn)
	set("headless", headless)
	set("timeout", scrapeTimeout)
	if cmd.Flags().Lookup("addr") != nil {
		if addr, err := pf.GetString("addr"); err == nil {
			set("addr", addr)
		}
	}
	if cmd.Flags().Lookup("max-scrolls") != nil {
		if n, err := pf.GetInt("max-scrolls"); err == nil {
			set("max-scrolls", n)
		}
	}
	return config.Load(configFile, selectorsFile, flags)
}
