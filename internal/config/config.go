package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for delivery-sync.
type Config struct {
	// Portal endpoints. The API serves snapshots, mutations and
	// downloads; the feed is the WebSocket push channel of live
	// upload ids.
	APIURL  string `env:"PORTAL_API_URL"`
	FeedURL string `env:"PORTAL_FEED_URL"`

	// Bearer credential sent with every call. Acquiring it is someone
	// else's job.
	APIToken string `env:"PORTAL_API_TOKEN"`

	// Delivery root (order or standalone gallery) to keep in sync.
	RootID string `env:"PORTAL_ROOT_ID"`

	// PollInterval is the fixed snapshot cadence. RefreshDelay is how
	// long a successful mutation waits before its authoritative refresh.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	RefreshDelay time.Duration `env:"REFRESH_DELAY" envDefault:"500ms"`

	// Where finished downloads are saved. Defaults to
	// ~/.delivery-sync/downloads.
	DownloadDir string `env:"DOWNLOAD_DIR"`

	// Optional cap on a single download, human-readable ("2GB").
	// Empty means unlimited.
	DownloadMaxSize string `env:"DOWNLOAD_MAX_SIZE" envDefault:""`

	// Write a YAML manifest next to each saved download.
	DownloadManifest bool `env:"DOWNLOAD_MANIFEST" envDefault:"false"`

	// Serve operator tools over MCP on stdio.
	EnableMCP bool `env:"ENABLE_MCP" envDefault:"false"`

	// State database location. Defaults to ~/.delivery-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Environment controls log format, LogLevel overrides its default level.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:""`

	downloadMaxBytes int64
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. It holds the portal token.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.DownloadDir == "" {
		dir, err := defaultDir("downloads")
		if err != nil {
			return nil, err
		}

		cfg.DownloadDir = dir
	}

	absDir, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("resolving download dir to absolute path: %w", err)
	}

	cfg.DownloadDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("PORTAL_API_URL is required")
	}

	if err := checkURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("PORTAL_API_URL: %w", err)
	}

	if c.FeedURL == "" {
		return fmt.Errorf("PORTAL_FEED_URL is required")
	}

	if err := checkURL(c.FeedURL, "ws", "wss"); err != nil {
		return fmt.Errorf("PORTAL_FEED_URL: %w", err)
	}

	if c.APIToken == "" {
		return fmt.Errorf("PORTAL_API_TOKEN is required")
	}

	if c.RootID == "" {
		return fmt.Errorf("PORTAL_ROOT_ID is required")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}

	if c.RefreshDelay < 0 {
		return fmt.Errorf("REFRESH_DELAY must not be negative, got %s", c.RefreshDelay)
	}

	if c.DownloadMaxSize != "" {
		size, err := units.FromHumanSize(c.DownloadMaxSize)
		if err != nil {
			return fmt.Errorf("DOWNLOAD_MAX_SIZE: %w", err)
		}

		if size <= 0 {
			return fmt.Errorf("DOWNLOAD_MAX_SIZE must be positive, got %q", c.DownloadMaxSize)
		}

		c.downloadMaxBytes = size
	}

	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}

	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}

	return fmt.Errorf("scheme must be one of %v, got %q", schemes, u.Scheme)
}

// DownloadMaxBytes returns the parsed DOWNLOAD_MAX_SIZE, or 0 when
// downloads are unlimited.
func (c *Config) DownloadMaxBytes() int64 {
	return c.downloadMaxBytes
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ResolvedStatePath returns STATE_PATH, or ~/.delivery-sync/state.db.
func (c *Config) ResolvedStatePath() (string, error) {
	if c.StatePath != "" {
		return c.StatePath, nil
	}

	return defaultDir("state.db")
}

func defaultDir(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".delivery-sync", name), nil
}
