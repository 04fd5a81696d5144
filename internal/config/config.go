// ABOUTME: Configuration management for the sharelist client
// ABOUTME: TOML config with XDG paths, ~ expansion, and derived data paths

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config stores sharelist configuration.
type Config struct {
	// ServerURL is the base URL of the sync backend.
	ServerURL string `toml:"server_url,omitempty"`

	// Token authenticates requests against the backend.
	Token string `toml:"token,omitempty"`

	// UserID is the authenticated user's stable identifier.
	UserID string `toml:"user_id,omitempty"`

	// Handle is the user's share handle, matched against other items'
	// shared-with lists.
	Handle string `toml:"handle,omitempty"`

	// DataDir is the root directory for local state: the snapshot cache,
	// the attachment ledger, and staged attachment files.
	// Supports ~ expansion. Defaults to ~/.local/share/sharelist.
	DataDir string `toml:"data_dir,omitempty"`

	// Ordering selects the default list ordering: manual, due, created,
	// priority, or title. Defaults to manual.
	Ordering string `toml:"ordering,omitempty"`

	// MaxRetries is how many upload attempts an attachment gets before it
	// is parked as failed. Defaults to 3.
	MaxRetries int `toml:"max_retries,omitempty"`

	// RetryDelaySeconds is the pause between upload attempts. Defaults to 5.
	RetryDelaySeconds int `toml:"retry_delay_seconds,omitempty"`

	// StalenessSeconds is how long an unconfirmed local edit keeps
	// overriding server snapshots. Defaults to 10.
	StalenessSeconds int `toml:"staleness_seconds,omitempty"`
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 5 * time.Second
	defaultStaleness  = 10 * time.Second
	defaultOrdering   = "manual"
)

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir()
	}
	return ExpandPath(c.DataDir)
}

// GetOrdering returns the configured default ordering.
func (c *Config) GetOrdering() string {
	if c.Ordering == "" {
		return defaultOrdering
	}
	return c.Ordering
}

// GetMaxRetries returns the upload retry cap.
func (c *Config) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return c.MaxRetries
}

// GetRetryDelay returns the pause between upload attempts.
func (c *Config) GetRetryDelay() time.Duration {
	if c.RetryDelaySeconds <= 0 {
		return defaultRetryDelay
	}
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetStalenessWindow returns how long unconfirmed local edits override
// server snapshots.
func (c *Config) GetStalenessWindow() time.Duration {
	if c.StalenessSeconds <= 0 {
		return defaultStaleness
	}
	return time.Duration(c.StalenessSeconds) * time.Second
}

// LedgerPath returns the attachment ledger database path.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.GetDataDir(), "ledger.db")
}

// CachePath returns the snapshot cache database path.
func (c *Config) CachePath() string {
	return filepath.Join(c.GetDataDir(), "cache.db")
}

// AttachmentsDir returns the directory holding staged attachment files.
func (c *Config) AttachmentsDir() string {
	return filepath.Join(c.GetDataDir(), "attachments")
}

// Validate reports whether the config is usable for talking to a backend.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is not set; run 'sharelist login' or edit %s", GetConfigPath())
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is not set; run 'sharelist login' or edit %s", GetConfigPath())
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "sharelist", "config.toml")
}

// Load reads config from disk. A missing file yields defaults.
func Load() (*Config, error) {
	path := GetConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes config to disk via a temp file and rename.
func (c *Config) Save() error {
	path := GetConfigPath()
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// defaultDataDir returns the standard XDG data directory for sharelist.
func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "sharelist")
}
