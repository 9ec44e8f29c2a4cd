package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the feed harvester
type Config struct {
	// Target feed and owning identity
	Feed FeedConfig `yaml:"feed" json:"feed"`

	// Fallback selector lists, one ordered list per field
	Selectors SelectorConfig `yaml:"selectors" json:"selectors"`

	// Settle, scroll and pause timings
	Timing TimingConfig `yaml:"timing" json:"timing"`

	// Loop and batch limits
	Limits LimitsConfig `yaml:"limits" json:"limits"`

	// Orchestrator policy
	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`

	// Action pacing and throttle detection
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Headless browser settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Post and history persistence
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Control API
	Server ServerConfig `yaml:"server" json:"server"`

	// Session cookie storage
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

// FeedConfig identifies what is scraped and on whose behalf
type FeedConfig struct {
	URL    string `yaml:"url" json:"url"`
	UserID string `yaml:"user_id" json:"user_id"`
	// PostURLPrefix is joined with an activity urn to build the natural key
	PostURLPrefix string `yaml:"post_url_prefix" json:"post_url_prefix"`
}

// TimingConfig holds every delay used by the extraction loop
type TimingConfig struct {
	SettleDelay        time.Duration `yaml:"settle_delay" json:"settle_delay"`
	ScrollStepFraction float64       `yaml:"scroll_step_fraction" json:"scroll_step_fraction"`
	ScrollStepInterval time.Duration `yaml:"scroll_step_interval" json:"scroll_step_interval"`
	ScrollSteps        int           `yaml:"scroll_steps" json:"scroll_steps"`
	ScrollSettle       time.Duration `yaml:"scroll_settle" json:"scroll_settle"`
	PassPauseMin       time.Duration `yaml:"pass_pause_min" json:"pass_pause_min"`
	PassPauseMax       time.Duration `yaml:"pass_pause_max" json:"pass_pause_max"`
	ProcessingTimeout  time.Duration `yaml:"processing_timeout" json:"processing_timeout"`
	JitterVariance     float64       `yaml:"jitter_variance" json:"jitter_variance"`
}

// LimitsConfig bounds the scroll loop, retries and write batches
type LimitsConfig struct {
	MaxScrollsFull    int           `yaml:"max_scrolls_full" json:"max_scrolls_full"`
	MaxScrollsPartial int           `yaml:"max_scrolls_partial" json:"max_scrolls_partial"`
	MaxPostsPerBatch  int           `yaml:"max_posts_per_batch" json:"max_posts_per_batch"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	MaxPassFailures   int           `yaml:"max_pass_failures" json:"max_pass_failures"`
}

// ScrapeConfig holds orchestrator policy
type ScrapeConfig struct {
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	PartialWindow  time.Duration `yaml:"partial_window" json:"partial_window"`
	MinInterval    time.Duration `yaml:"min_interval" json:"min_interval"`
	RescrapeAfter  time.Duration `yaml:"rescrape_after" json:"rescrape_after"`
	HardStop       bool          `yaml:"hard_stop" json:"hard_stop"`
	CheckpointFile string        `yaml:"checkpoint_file" json:"checkpoint_file"`
}

// RateLimitConfig holds pacing and throttle-detection configuration
type RateLimitConfig struct {
	ActionsPerMinute int      `yaml:"actions_per_minute" json:"actions_per_minute"`
	BurstSize        int      `yaml:"burst_size" json:"burst_size"`
	Phrases          []string `yaml:"phrases" json:"phrases"`
}

// BrowserConfig holds headless browser configuration
type BrowserConfig struct {
	Headless     bool   `yaml:"headless" json:"headless"`
	ExecPath     string `yaml:"exec_path" json:"exec_path"`
	UserAgent    string `yaml:"user_agent" json:"user_agent"`
	WindowWidth  int    `yaml:"window_width" json:"window_width"`
	WindowHeight int    `yaml:"window_height" json:"window_height"`
	NoSandbox    bool   `yaml:"no_sandbox" json:"no_sandbox"`
	CookieName   string `yaml:"cookie_name" json:"cookie_name"`
	CookieDomain string `yaml:"cookie_domain" json:"cookie_domain"`
}

// StorageConfig selects and configures the post store
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// ServerConfig holds control API configuration
type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	BasePath string `yaml:"base_path" json:"base_path"`
}

// AuthConfig selects where the session cookie is kept
type AuthConfig struct {
	Store    string `yaml:"store" json:"store"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:           "https://www.linkedin.com/feed/",
			UserID:        "default",
			PostURLPrefix: "https://www.linkedin.com/feed/update/",
		},
		Selectors: DefaultSelectors(),
		Timing: TimingConfig{
			SettleDelay:        5 * time.Second,
			ScrollStepFraction: 0.8,
			ScrollStepInterval: 500 * time.Millisecond,
			ScrollSteps:        3,
			ScrollSettle:       3 * time.Second,
			PassPauseMin:       2 * time.Second,
			PassPauseMax:       4 * time.Second,
			ProcessingTimeout:  30 * time.Second,
			JitterVariance:     0.3,
		},
		Limits: LimitsConfig{
			MaxScrollsFull:    20,
			MaxScrollsPartial: 5,
			MaxPostsPerBatch:  50,
			MaxRetries:        3,
			RetryBaseDelay:    time.Second,
			MaxPassFailures:   3,
		},
		Scrape: ScrapeConfig{
			Timeout:        5 * time.Minute,
			PartialWindow:  14 * 24 * time.Hour,
			MinInterval:    24 * time.Hour,
			RescrapeAfter:  72 * time.Hour,
			HardStop:       false,
			CheckpointFile: defaultDataPath("run.checkpoint.json"),
		},
		RateLimit: RateLimitConfig{
			ActionsPerMinute: 30,
			BurstSize:        5,
			Phrases: []string{
				"too many requests",
				"rate limit",
				"temporarily unavailable",
				"please wait",
				"try again later",
			},
		},
		Browser: BrowserConfig{
			Headless:     true,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			WindowWidth:  1366,
			WindowHeight: 900,
			CookieName:   "li_at",
			CookieDomain: ".linkedin.com",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   defaultDataPath("feedharvest.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
		Server: ServerConfig{
			Addr:     "127.0.0.1:8080",
			BasePath: "/api/v1",
		},
		Auth: AuthConfig{
			Store: "auto",
		},
	}
}

// defaultDataPath places data files under XDG_DATA_HOME when it is set
func defaultDataPath(name string) string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "feedharvest", name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "feedharvest", name)
	}
	return name
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("FEEDHARVEST_FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("FEEDHARVEST_USER_ID"); v != "" {
		c.Feed.UserID = v
	}

	// Storage
	if v := os.Getenv("FEEDHARVEST_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("FEEDHARVEST_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("FEEDHARVEST_DATABASE_URL"); v != "" {
		c.Storage.DSN = v
	}

	// Browser
	if v := os.Getenv("FEEDHARVEST_CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv("FEEDHARVEST_USER_AGENT"); v != "" {
		c.Browser.UserAgent = v
	}
	if v := os.Getenv("FEEDHARVEST_HEADLESS"); v != "" {
		c.Browser.Headless = strings.ToLower(v) == "true"
	}

	// Orchestrator
	if v := os.Getenv("FEEDHARVEST_SCRAPE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDHARVEST_SCRAPE_TIMEOUT: %w", err))
		} else {
			c.Scrape.Timeout = d
		}
	}
	if v := os.Getenv("FEEDHARVEST_MAX_SCROLLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDHARVEST_MAX_SCROLLS: %w", err))
		} else if n > 0 {
			c.Limits.MaxScrollsFull = n
		}
	}
	if v := os.Getenv("FEEDHARVEST_ACTIONS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDHARVEST_ACTIONS_PER_MINUTE: %w", err))
		} else if n > 0 {
			c.RateLimit.ActionsPerMinute = n
		}
	}

	if v := os.Getenv("FEEDHARVEST_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FEEDHARVEST_AUTH_STORE"); v != "" {
		c.Auth.Store = v
	}

	// Logging
	if v := os.Getenv("FEEDHARVEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FEEDHARVEST_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("FEEDHARVEST_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"feedharvest.yaml",
		"feedharvest.yml",
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		locations = append(locations, filepath.Join(xdg, "feedharvest", "config.yaml"))
	}
	locations = append(locations,
		filepath.Join(home, ".config", "feedharvest", "config.yaml"),
		filepath.Join(home, ".feedharvest.yaml"),
	)

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Feed.URL == "" {
		errs = append(errs, errors.New("feed URL is required"))
	}
	if c.Feed.UserID == "" {
		errs = append(errs, errors.New("user ID is required"))
	}

	if err := c.Selectors.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Timing
	if c.Timing.ScrollStepFraction <= 0 || c.Timing.ScrollStepFraction > 1 {
		errs = append(errs, errors.New("scroll step fraction must be in (0, 1]"))
	}
	if c.Timing.ScrollSteps <= 0 {
		errs = append(errs, errors.New("scroll steps must be positive"))
	}
	if c.Timing.PassPauseMax < c.Timing.PassPauseMin {
		errs = append(errs, errors.New("pass pause max must not be below pass pause min"))
	}
	if c.Timing.JitterVariance < 0 || c.Timing.JitterVariance > 1 {
		errs = append(errs, errors.New("jitter variance must be in [0, 1]"))
	}

	// Limits
	if c.Limits.MaxScrollsFull <= 0 || c.Limits.MaxScrollsPartial <= 0 {
		errs = append(errs, errors.New("max scrolls must be positive"))
	}
	if c.Limits.MaxPostsPerBatch <= 0 {
		errs = append(errs, errors.New("max posts per batch must be positive"))
	}
	if c.Limits.MaxRetries <= 0 {
		errs = append(errs, errors.New("max retries must be positive"))
	}
	if c.Limits.MaxPassFailures <= 0 {
		errs = append(errs, errors.New("max pass failures must be positive"))
	}

	if c.Scrape.Timeout <= 0 {
		errs = append(errs, errors.New("scrape timeout must be positive"))
	}
	if c.Scrape.PartialWindow <= 0 {
		errs = append(errs, errors.New("partial window must be positive"))
	}

	if c.RateLimit.ActionsPerMinute <= 0 {
		errs = append(errs, errors.New("actions per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("sqlite storage requires a path"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("postgres storage requires a dsn"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("invalid storage driver %q", c.Storage.Driver))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if f := strings.ToLower(c.Logging.Format); f != "" && f != "console" && f != "json" {
		errs = append(errs, errors.New("invalid log format"))
	}

	validStores := map[string]bool{
		"auto": true, "keyring": true, "file": true, "env": true,
	}
	if !validStores[strings.ToLower(c.Auth.Store)] {
		errs = append(errs, errors.New("invalid auth store"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if url, ok := flags["url"].(string); ok && url != "" {
		c.Feed.URL = url
	}
	if user, ok := flags["user"].(string); ok && user != "" {
		c.Feed.UserID = user
	}
	if driver, ok := flags["storage"].(string); ok && driver != "" {
		c.Storage.Driver = driver
	}
	if path, ok := flags["db"].(string); ok && path != "" {
		c.Storage.Path = path
	}
	if dsn, ok := flags["dsn"].(string); ok && dsn != "" {
		c.Storage.DSN = dsn
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if timeout, ok := flags["timeout"].(time.Duration); ok && timeout > 0 {
		c.Scrape.Timeout = timeout
	}
	if scrolls, ok := flags["max-scrolls"].(int); ok && scrolls > 0 {
		c.Limits.MaxScrollsFull = scrolls
	}
	if addr, ok := flags["addr"].(string); ok && addr != "" {
		c.Server.Addr = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Selector file > Config file > Defaults
func Load(configPath, selectorsPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".feedharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if selectorsPath != "" {
		selectors, err := LoadSelectors(selectorsPath, config.Selectors)
		if err != nil {
			return nil, fmt.Errorf("failed to load selectors: %w", err)
		}
		config.Selectors = selectors
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// MaxScrolls returns the scroll budget for a scrape type name
func (c *Config) MaxScrolls(scrapeType string) int {
	if scrapeType == "full" {
		return c.Limits.MaxScrollsFull
	}
	return c.Limits.MaxScrollsPartial
}
