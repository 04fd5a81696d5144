// ABOUTME: Tests for configuration loading, defaults, and path derivation
// ABOUTME: Uses XDG env overrides against temp directories

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GetMaxRetries() != 3 {
		t.Errorf("max retries: got %d, want 3", cfg.GetMaxRetries())
	}
	if cfg.GetRetryDelay() != 5*time.Second {
		t.Errorf("retry delay: got %v, want 5s", cfg.GetRetryDelay())
	}
	if cfg.GetStalenessWindow() != 10*time.Second {
		t.Errorf("staleness window: got %v, want 10s", cfg.GetStalenessWindow())
	}
	if cfg.GetOrdering() != "manual" {
		t.Errorf("ordering: got %q, want manual", cfg.GetOrdering())
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := &Config{
		ServerURL:         "https://sync.example.com",
		Token:             "tok",
		UserID:            "u1",
		Handle:            "alice",
		MaxRetries:        7,
		RetryDelaySeconds: 2,
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ServerURL != "https://sync.example.com" {
		t.Errorf("server url: got %q", loaded.ServerURL)
	}
	if loaded.Handle != "alice" {
		t.Errorf("handle: got %q", loaded.Handle)
	}
	if loaded.GetMaxRetries() != 7 {
		t.Errorf("max retries: got %d, want 7", loaded.GetMaxRetries())
	}
	if loaded.GetRetryDelay() != 2*time.Second {
		t.Errorf("retry delay: got %v, want 2s", loaded.GetRetryDelay())
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "sharelist", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("server_url = [broken"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Error("expected parse error for malformed config")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"bare tilde", "~", home},
		{"tilde prefix", "~/data", filepath.Join(home, "data")},
		{"absolute untouched", "/var/lib/sharelist", "/var/lib/sharelist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandPath(tt.in); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/sl"}

	if got := cfg.LedgerPath(); got != "/tmp/sl/ledger.db" {
		t.Errorf("ledger path: got %q", got)
	}
	if got := cfg.CachePath(); got != "/tmp/sl/cache.db" {
		t.Errorf("cache path: got %q", got)
	}
	if got := cfg.AttachmentsDir(); got != "/tmp/sl/attachments" {
		t.Errorf("attachments dir: got %q", got)
	}
}

func TestDefaultDataDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	cfg := &Config{}
	if got := cfg.GetDataDir(); got != filepath.Join("/xdg/data", "sharelist") {
		t.Errorf("data dir: got %q", got)
	}
}

func TestValidate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Error("empty config should not validate")
	}
	cfg := &Config{ServerURL: "https://x", UserID: "u1"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete config should validate: %v", err)
	}
}
