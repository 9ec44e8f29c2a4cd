package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"feedharvest/pkg/browser"
	"feedharvest/pkg/config"
	"feedharvest/pkg/ui"
)

var forceInit bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage feedharvest configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (FEEDHARVEST_*)
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration, including the built-in selector table,
to feedharvest.yaml or the path given with --config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = "feedharvest.yaml"
		}
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		ui.PrintSuccess("Configuration file created: " + path)
		fmt.Println("\nNext steps:")
		fmt.Println("1. Set feed.user_id to the identity that owns the posts")
		fmt.Println("2. Run 'feedharvest auth login' to store the session cookie")
		fmt.Println("3. Run 'feedharvest scrape --type full'")
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging defaults, file, environment and flags.
Passwords in the Postgres DSN are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		display := *cfg
		display.Storage.DSN = maskDSN(cfg.Storage.DSN)

		data, err := yaml.Marshal(&display)
		if err != nil {
			return fmt.Errorf("failed to format configuration: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			ui.PrintError("Configuration validation failed")
			return err
		}

		var warnings []string
		if cfg.Feed.UserID == "" {
			warnings = append(warnings, "feed.user_id is empty")
		}
		if cfg.Browser.ExecPath == "" {
			if _, err := browser.FindChrome(); err != nil {
				warnings = append(warnings, "no Chrome or Chromium on PATH, set browser.exec_path")
			}
		}
		if cfg.Storage.Driver == "memory" {
			warnings = append(warnings, "memory storage loses everything on exit")
		}
		for _, w := range warnings {
			ui.PrintWarning(w)
		}

		ui.PrintSuccess("Configuration is valid")
		ui.PrintInfo("Feed", cfg.Feed.URL)
		ui.PrintInfo("Storage", cfg.Storage.Driver)
		ui.PrintInfo("Selectors", cfg.Selectors.Version)
		ui.PrintInfo("Scroll budget", fmt.Sprintf("full %d, partial %d", cfg.Limits.MaxScrollsFull, cfg.Limits.MaxScrollsPartial))
		ui.PrintInfo("Cadence", cfg.Scrape.MinInterval.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd, showCmd, validateCmd)
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
}

// maskDSN hides the password of a URL-style connection string
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
