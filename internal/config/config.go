package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for diary-sync.
type Config struct {
	// Diary backend. APIURL is the REST base URL, WSURL the optional
	// notification socket. When WSURL is empty the push listener is off.
	APIURL   string `env:"DIARY_API_URL"`
	APIToken string `env:"DIARY_API_TOKEN"`
	WSURL    string `env:"DIARY_WS_URL"`

	// StatePath is the bbolt database holding entries and the upload
	// queue. Defaults to ~/.diary-sync/state.db.
	StatePath string `env:"DIARY_STATE_PATH"`

	// DraftsDir is watched for markdown drafts to import. Optional.
	DraftsDir string `env:"DIARY_DRAFTS_DIR"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// PushToken is registered with the backend once at startup.
	PushToken string `env:"PUSH_TOKEN"`

	HTTPTimeout            time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	NetworkPollInterval    time.Duration `env:"NETWORK_POLL_INTERVAL" envDefault:"5s"`
	SyncDebounce           time.Duration `env:"SYNC_DEBOUNCE" envDefault:"2s"`
	ForegroundSyncInterval time.Duration `env:"FOREGROUND_SYNC_INTERVAL" envDefault:"5m"`

	// FullSync disables incremental fetches. Full fetches also prune
	// synced entries the server no longer has.
	FullSync bool `env:"FULL_SYNC" envDefault:"false"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogFile sends logs to a rotating file instead of stdout.
	LogFile string `env:"LOG_FILE"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. The API token lives there.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
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

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "diary-sync"
		}

		cfg.DeviceName = hostname
	}

	if cfg.StatePath == "" {
		path, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	if cfg.DraftsDir != "" {
		absDir, err := filepath.Abs(cfg.DraftsDir)
		if err != nil {
			return nil, fmt.Errorf("resolving drafts dir to absolute path: %w", err)
		}

		cfg.DraftsDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("DIARY_API_URL is required")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DIARY_API_URL must be an absolute http(s) URL")
	}

	if c.APIToken == "" {
		return fmt.Errorf("DIARY_API_TOKEN is required")
	}

	if c.WSURL != "" {
		u, err := url.Parse(c.WSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("DIARY_WS_URL must be a ws(s) URL")
		}
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	if c.NetworkPollInterval <= 0 {
		return fmt.Errorf("NETWORK_POLL_INTERVAL must be positive")
	}

	if c.SyncDebounce < 0 {
		return fmt.Errorf("SYNC_DEBOUNCE must not be negative")
	}

	return nil
}

// DefaultStatePath returns ~/.diary-sync/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".diary-sync", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
