// Package config loads the syncboard configuration file and environment
// overrides.
//
// Configuration lives in syncboard.toml, searched in the current directory
// and ~/.config/syncboard. Every knob has a default, so a missing file is
// not an error. SYNCBOARD_* environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/syncboard/syncboard/internal/logging"
)

// Storage selects and parameterizes the persistence backends.
type Storage struct {
	// Backend is "local" for SQLite-only operation or "remote" to sync
	// against a hosted store.
	Backend string `mapstructure:"backend" toml:"backend"`
	// Path is the local SQLite database file.
	Path string `mapstructure:"path" toml:"path"`
	// RemoteURL and RemoteKey identify the hosted store. The key travels
	// as both the apikey header and a bearer token.
	RemoteURL string `mapstructure:"remote_url" toml:"remote_url"`
	RemoteKey string `mapstructure:"remote_key" toml:"remote_key"`
}

// User identifies the local operator for lock ownership.
type User struct {
	ID    string `mapstructure:"id" toml:"id"`
	Email string `mapstructure:"email" toml:"email"`
	Name  string `mapstructure:"name" toml:"name"`
}

// Sync tunes the background reconciliation loop.
type Sync struct {
	IntervalSeconds   int `mapstructure:"interval_seconds" toml:"interval_seconds"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds" toml:"retry_delay_seconds"`
	MaxRetries        int `mapstructure:"max_retries" toml:"max_retries"`
}

// Locks tunes the lease manager.
type Locks struct {
	SweepSeconds        int `mapstructure:"sweep_seconds" toml:"sweep_seconds"`
	DefaultLeaseMinutes int `mapstructure:"default_lease_minutes" toml:"default_lease_minutes"`
	ExtensionMinutes    int `mapstructure:"extension_minutes" toml:"extension_minutes"`
}

// Logger is the structured-logger section. Level is a name (debug, info,
// warn, error, critical) rather than a number so the file stays readable.
type Logger struct {
	Enabled        bool     `mapstructure:"enabled" toml:"enabled"`
	Level          string   `mapstructure:"level" toml:"level"`
	Categories     []string `mapstructure:"categories" toml:"categories"`
	MaxEntries     int      `mapstructure:"max_entries" toml:"max_entries"`
	PersistToLocal bool     `mapstructure:"persist_to_local" toml:"persist_to_local"`
	RealTime       bool     `mapstructure:"real_time_display" toml:"real_time_display"`
	File           string   `mapstructure:"file" toml:"file"`
	MaxSizeMB      int      `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups     int      `mapstructure:"max_backups" toml:"max_backups"`
}

// Dashboard configures the local observability server.
type Dashboard struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// Config is the full configuration surface.
type Config struct {
	Storage   Storage   `mapstructure:"storage" toml:"storage"`
	User      User      `mapstructure:"user" toml:"user"`
	Sync      Sync      `mapstructure:"sync" toml:"sync"`
	Locks     Locks     `mapstructure:"locks" toml:"locks"`
	Logger    Logger    `mapstructure:"logger" toml:"logger"`
	Dashboard Dashboard `mapstructure:"dashboard" toml:"dashboard"`
}

// SyncInterval returns the reconciliation timer period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// RetryDelay returns the shortened period used while failures remain.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Sync.RetryDelaySeconds) * time.Second
}

// SweepInterval returns the lock expiry sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Locks.SweepSeconds) * time.Second
}

// DefaultLease returns the lease granted when none is specified.
func (c *Config) DefaultLease() time.Duration {
	return time.Duration(c.Locks.DefaultLeaseMinutes) * time.Minute
}

// LoggingConfig converts the file section to the logger's runtime config.
func (c *Config) LoggingConfig() logging.Config {
	cats := make([]logging.Category, 0, len(c.Logger.Categories))
	for _, s := range c.Logger.Categories {
		cats = append(cats, logging.Category(s))
	}
	return logging.Config{
		Enabled:        c.Logger.Enabled,
		Level:          logging.ParseLevel(c.Logger.Level),
		Categories:     cats,
		MaxEntries:     c.Logger.MaxEntries,
		PersistToLocal: c.Logger.PersistToLocal,
		RealTime:       c.Logger.RealTime,
		File:           c.Logger.File,
		MaxSizeMB:      c.Logger.MaxSizeMB,
		MaxBackups:     c.Logger.MaxBackups,
	}
}

const fileName = "syncboard"

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.path", defaultDBPath())
	v.SetDefault("storage.remote_url", "")
	v.SetDefault("storage.remote_key", "")
	v.SetDefault("user.id", "")
	v.SetDefault("user.email", "")
	v.SetDefault("user.name", "")
	v.SetDefault("sync.interval_seconds", 30)
	v.SetDefault("sync.retry_delay_seconds", 5)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("locks.sweep_seconds", 60)
	v.SetDefault("locks.default_lease_minutes", 240)
	v.SetDefault("locks.extension_minutes", 60)
	v.SetDefault("logger.enabled", false)
	v.SetDefault("logger.level", "warn")
	v.SetDefault("logger.categories", []string{"sync", "database", "network", "auth", "validation", "performance"})
	v.SetDefault("logger.max_entries", 1000)
	v.SetDefault("logger.persist_to_local", true)
	v.SetDefault("logger.real_time_display", false)
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("dashboard.addr", "127.0.0.1:8377")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "syncboard.db"
	}
	return filepath.Join(home, ".syncboard", "syncboard.db")
}

// ConfigDir is where `sb config init` writes and where Load searches after
// the current directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "syncboard")
}

// Load reads configuration with defaults, file, and environment layered in
// that order. A missing file is fine; a malformed one is an error.
func Load() (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName(fileName)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath(ConfigDir())
	v.SetEnvPrefix("SYNCBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, v, nil
}

// Watch re-reads the file on change and invokes fn with the fresh config.
// Used to hot-reload the logger section without a restart.
func Watch(v *viper.Viper, fn func(*Config)) {
	v.OnConfigChange(func(fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		fn(&cfg)
	})
	v.WatchConfig()
}

// WriteDefault writes a commented default config to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to build default config: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("# syncboard configuration\n# storage.backend: \"local\" or \"remote\"\n\n"); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
