package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"feedharvest/pkg/auth"
	"feedharvest/pkg/config"
	"feedharvest/pkg/ui"
)

var (
	loginCookie    string
	loginUserAgent string
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored browser sessions",
	Long: `Manage the session cookie the browser uses to open your feed.

Sessions are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your session cookie or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login [identity]",
	Short: "Store a session cookie",
	Long: `Store the session cookie for an identity (default: feed.user_id).

The cookie can be given as the bare value, as name=value, or as a full
"Cookie:" request header copied from the browser's developer tools.`,
	Example: `  # Interactive login for the configured identity
  feedharvest auth login

  # Non-interactive
  feedharvest auth login alice --cookie "AQEDAR..."`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [identity]",
	Short: "Remove a stored session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, manager, err := authManager(cmd)
		if err != nil {
			return err
		}
		identity := identityArg(cfg, args)
		if err := manager.Delete(identity); err != nil {
			return err
		}
		ui.PrintSuccess("Session removed: " + identity)
		return nil
	},
}

var authListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"status"},
	Short:   "List stored sessions with masked cookies",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, err := authManager(cmd)
		if err != nil {
			return err
		}
		sessions, err := manager.List()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			ui.PrintWarning("No sessions stored, run 'feedharvest auth login'")
			return nil
		}
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].Identity < sessions[j].Identity })
		for _, s := range sessions {
			safe := auth.SanitizeSession(s)
			ui.PrintInfo(safe.Identity, fmt.Sprintf("%s (updated %s)", safe.Cookie, safe.LastModified.Format("2006-01-02 15:04")))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, authListCmd)

	loginCmd.Flags().StringVar(&loginCookie, "cookie", "", "session cookie (prompted when empty)")
	loginCmd.Flags().StringVar(&loginUserAgent, "user-agent", "", "user agent the cookie was issued to")
}

func authManager(cmd *cobra.Command) (*config.Config, *auth.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	manager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	return cfg, manager, nil
}

func identityArg(cfg *config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Feed.UserID
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, manager, err := authManager(cmd)
	if err != nil {
		return err
	}
	identity := identityArg(cfg, args)

	raw := loginCookie
	if raw == "" {
		auth.WriteCookieGuide(os.Stdout, cfg.Browser.CookieName, cfg.Browser.CookieDomain)
		fmt.Printf("%s cookie for %s: ", cfg.Browser.CookieName, identity)
		raw, err = readSecret()
		if err != nil {
			return fmt.Errorf("failed to read cookie: %w", err)
		}
	}

	cookie, err := auth.NormalizeCookie(raw, cfg.Browser.CookieName)
	if err != nil {
		return err
	}

	session := &auth.Session{
		Identity:     identity,
		Cookie:       cookie,
		UserAgent:    loginUserAgent,
		LastModified: time.Now(),
	}
	if err := manager.Store(session); err != nil {
		if errors.Is(err, auth.ErrStoreUnavailable) {
			return fmt.Errorf("no writable session store, set auth.store to keyring or file: %w", err)
		}
		return err
	}

	ui.PrintSuccess("Session stored for " + identity)
	return nil
}

// readSecret reads a line from stdin without echoing when stdin is a terminal
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
