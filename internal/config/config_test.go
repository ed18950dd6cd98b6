package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/syncboard/syncboard/internal/logging"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load with no file failed: %v", err)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("backend = %q, want local", cfg.Storage.Backend)
	}
	if cfg.SyncInterval() != 30*time.Second {
		t.Errorf("sync interval = %v, want 30s", cfg.SyncInterval())
	}
	if cfg.RetryDelay() != 5*time.Second {
		t.Errorf("retry delay = %v, want 5s", cfg.RetryDelay())
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.DefaultLease() != 4*time.Hour {
		t.Errorf("default lease = %v, want 4h", cfg.DefaultLease())
	}
	if cfg.SweepInterval() != time.Minute {
		t.Errorf("sweep interval = %v, want 1m", cfg.SweepInterval())
	}
	if cfg.Dashboard.Addr != "127.0.0.1:8377" {
		t.Errorf("dashboard addr = %q", cfg.Dashboard.Addr)
	}
	if cfg.Logger.Enabled {
		t.Error("logger must default to disabled")
	}
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	content := `
[storage]
backend = "remote"
remote_url = "https://example.test"
remote_key = "k"

[sync]
interval_seconds = 10

[logger]
enabled = true
level = "debug"
`
	if err := os.WriteFile(filepath.Join(dir, "syncboard.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "remote" || cfg.Storage.RemoteURL != "https://example.test" {
		t.Errorf("storage section not read: %+v", cfg.Storage)
	}
	if cfg.SyncInterval() != 10*time.Second {
		t.Errorf("sync interval = %v, want 10s", cfg.SyncInterval())
	}
	// Unset keys keep their defaults.
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("max retries = %d, want default 3", cfg.Sync.MaxRetries)
	}

	lc := cfg.LoggingConfig()
	if !lc.Enabled || lc.Level != logging.LevelDebug {
		t.Errorf("logging config not converted: %+v", lc)
	}
	if len(lc.Categories) != 6 {
		t.Errorf("expected all 6 default categories, got %d", len(lc.Categories))
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "syncboard.toml"), []byte("[storage\nbackend ="), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SYNCBOARD_STORAGE_BACKEND", "remote")

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "remote" {
		t.Errorf("env override not applied: %q", cfg.Storage.Backend)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncboard.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "# syncboard configuration") {
		t.Error("expected comment header")
	}

	// The generated file round-trips through Load with the same defaults.
	t.Chdir(filepath.Dir(path))
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load of generated file failed: %v", err)
	}
	if cfg.Storage.Backend != "local" || cfg.Sync.IntervalSeconds != 30 {
		t.Errorf("generated config diverges from defaults: %+v", cfg)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("expected refusal to overwrite existing file")
	}
}

func TestParseLevelFallback(t *testing.T) {
	cfg := &Config{Logger: Logger{Level: "noisy"}}
	if got := cfg.LoggingConfig().Level; got != logging.LevelWarn {
		t.Errorf("unknown level mapped to %s, want WARN", got)
	}
}
