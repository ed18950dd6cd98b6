// Package logging is the in-process diagnostic log for the sync core.
//
// Entries live in a bounded ring buffer (oldest evicted first) and are
// filtered at write time by a runtime-configurable minimum level and
// enabled-category set. Sensitive detail keys are redacted before an entry
// is stored anywhere. The buffer can be queried, exported as JSON or CSV,
// streamed to subscribers, persisted to the local store, and mirrored to a
// rotating file.
package logging

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syncboard/syncboard/internal/store"
)

// Level is a log severity. Higher is more severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

var levelNames = map[Level]string{
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarn:     "WARN",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a name to a Level, defaulting to LevelWarn for unknown
// input.
func ParseLevel(s string) Level {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return l
		}
	}
	return LevelWarn
}

// Category tags an entry with the subsystem that produced it.
type Category string

const (
	CategorySync        Category = "sync"
	CategoryDatabase    Category = "database"
	CategoryNetwork     Category = "network"
	CategoryAuth        Category = "auth"
	CategoryValidation  Category = "validation"
	CategoryPerformance Category = "performance"
)

// AllCategories is the full category set, the default for a fresh config.
func AllCategories() []Category {
	return []Category{
		CategorySync, CategoryDatabase, CategoryNetwork,
		CategoryAuth, CategoryValidation, CategoryPerformance,
	}
}

// Context ties an entry to the operation that produced it.
type Context struct {
	Operation  string `json:"operation,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
}

// Entry is one stored log record. Details are redacted before the entry is
// created, so an Entry is always safe to persist or export.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	SessionID string         `json:"session_id"`
	Context   *Context       `json:"context,omitempty"`
}

// Config is the runtime logger configuration.
type Config struct {
	Enabled        bool       `json:"enabled" mapstructure:"enabled"`
	Level          Level      `json:"level" mapstructure:"level"`
	Categories     []Category `json:"categories" mapstructure:"categories"`
	MaxEntries     int        `json:"max_entries" mapstructure:"max_entries"`
	PersistToLocal bool       `json:"persist_to_local" mapstructure:"persist_to_local"`
	RealTime       bool       `json:"real_time_display" mapstructure:"real_time_display"`
	// File enables a rotating on-disk mirror of every stored entry,
	// one JSON object per line. Empty disables the mirror.
	File       string `json:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups,omitempty" mapstructure:"max_backups"`
}

// DefaultConfig matches the shipped defaults: logging off, WARN floor, all
// categories, 1000-entry buffer.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Level:          LevelWarn,
		Categories:     AllCategories(),
		MaxEntries:     1000,
		PersistToLocal: true,
	}
}

const (
	logsKey   = "sync_logs"
	configKey = "sync_logger_config"
)

// Logger is the ring-buffer diagnostic log. Safe for concurrent use.
type Logger struct {
	mu        sync.RWMutex
	cfg       Config
	entries   []Entry
	sessionID string
	store     store.Store
	file      *lumberjack.Logger
	subs      map[int]func(Entry)
	nextSub   int
}

// New builds a logger with the given config. st may be nil; when present it
// is used for entry persistence and config save/load. A config previously
// saved to the store overrides cfg.
func New(cfg Config, st store.Store) *Logger {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = AllCategories()
	}
	l := &Logger{
		cfg:       cfg,
		sessionID: "session_" + time.Now().UTC().Format("20060102T150405") + "_" + shortID(),
		store:     st,
		subs:      make(map[int]func(Entry)),
	}
	l.loadSavedConfig()
	l.openFileSink()
	l.loadPersisted()
	return l
}

func (l *Logger) loadSavedConfig() {
	if l.store == nil {
		return
	}
	raw, err := l.store.GetValue(configKey)
	if err != nil || raw == nil {
		return
	}
	var saved Config
	if json.Unmarshal(raw, &saved) == nil {
		if saved.MaxEntries <= 0 {
			saved.MaxEntries = DefaultConfig().MaxEntries
		}
		if len(saved.Categories) == 0 {
			saved.Categories = AllCategories()
		}
		l.cfg = saved
	}
}

func (l *Logger) openFileSink() {
	if l.cfg.File == "" {
		l.file = nil
		return
	}
	maxSize := l.cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	l.file = &lumberjack.Logger{
		Filename:   l.cfg.File,
		MaxSize:    maxSize,
		MaxBackups: l.cfg.MaxBackups,
	}
}

func (l *Logger) loadPersisted() {
	if l.store == nil || !l.cfg.PersistToLocal {
		return
	}
	raw, err := l.store.GetValue(logsKey)
	if err != nil || raw == nil {
		return
	}
	var saved []Entry
	if json.Unmarshal(raw, &saved) == nil {
		if len(saved) > l.cfg.MaxEntries {
			saved = saved[len(saved)-l.cfg.MaxEntries:]
		}
		l.entries = saved
	}
}

// Log records one entry if it passes the enabled/level/category filters.
func (l *Logger) Log(level Level, category Category, message string, details map[string]any, lctx *Context) {
	l.mu.Lock()
	if !l.cfg.Enabled || level < l.cfg.Level || !l.categoryEnabled(category) {
		l.mu.Unlock()
		return
	}

	entry := Entry{
		ID:        "log_" + shortID(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Category:  category,
		Message:   message,
		Details:   Redact(details),
		SessionID: l.sessionID,
		Context:   lctx,
	}

	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.cfg.MaxEntries; over > 0 {
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}

	l.persistLocked()
	if l.file != nil {
		if line, err := json.Marshal(entry); err == nil {
			l.file.Write(append(line, '\n'))
		}
	}

	subs := make([]func(Entry), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	// Listeners run outside the lock; a slow subscriber must not stall
	// logging callers.
	for _, fn := range subs {
		fn(entry)
	}
}

func (l *Logger) categoryEnabled(c Category) bool {
	for _, enabled := range l.cfg.Categories {
		if enabled == c {
			return true
		}
	}
	return false
}

func (l *Logger) persistLocked() {
	if l.store == nil || !l.cfg.PersistToLocal {
		return
	}
	if raw, err := json.Marshal(l.entries); err == nil {
		_ = l.store.SetValue(logsKey, raw)
	}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(category Category, message string, details map[string]any) {
	l.Log(LevelDebug, category, message, details, nil)
}

// Info logs at LevelInfo.
func (l *Logger) Info(category Category, message string, details map[string]any) {
	l.Log(LevelInfo, category, message, details, nil)
}

// Warn logs at LevelWarn.
func (l *Logger) Warn(category Category, message string, details map[string]any) {
	l.Log(LevelWarn, category, message, details, nil)
}

// Error logs at LevelError.
func (l *Logger) Error(category Category, message string, details map[string]any) {
	l.Log(LevelError, category, message, details, nil)
}

// Critical logs at LevelCritical.
func (l *Logger) Critical(category Category, message string, details map[string]any) {
	l.Log(LevelCritical, category, message, details, nil)
}

// SyncStart marks the beginning of a remote operation.
func (l *Logger) SyncStart(operation, entityType, entityID string) {
	l.Log(LevelDebug, CategorySync, "Starting "+operation, nil, &Context{
		Operation:  operation,
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// SyncSuccess marks a completed remote operation.
func (l *Logger) SyncSuccess(operation, entityType, entityID string, duration time.Duration) {
	l.Log(LevelInfo, CategorySync, operation+" completed successfully",
		map[string]any{"duration": duration.String()},
		&Context{Operation: operation, EntityType: entityType, EntityID: entityID})
}

// SyncError marks a failed remote operation attempt.
func (l *Logger) SyncError(operation, entityType, entityID string, err error, attempt int) {
	l.Log(LevelError, CategorySync, operation+" failed",
		map[string]any{"error": err.Error(), "attempt": attempt},
		&Context{Operation: operation, EntityType: entityType, EntityID: entityID, Attempt: attempt})
}

// NetworkStatusChange records an online/offline transition.
func (l *Logger) NetworkStatusChange(online bool, details map[string]any) {
	status := "offline"
	if online {
		status = "online"
	}
	l.Log(LevelInfo, CategoryNetwork, "Network status: "+status, details, nil)
}

// StorageOperation records a local or remote storage call outcome.
func (l *Logger) StorageOperation(operation, backend, entityType string, success bool, details map[string]any) {
	level := LevelInfo
	verdict := "succeeded"
	if !success {
		level = LevelError
		verdict = "failed"
	}
	msg := fmt.Sprintf("Storage %s %s (%s)", operation, verdict, backend)
	l.Log(level, CategoryDatabase, msg, details, &Context{Operation: operation, EntityType: entityType})
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	MinLevel   *Level
	Category   Category
	Since      time.Time
	EntityType string
	Operation  string
}

// Query returns matching entries, newest first.
func (l *Logger) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if f.MinLevel != nil && e.Level < *f.MinLevel {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if f.EntityType != "" && (e.Context == nil || e.Context.EntityType != f.EntityType) {
			continue
		}
		if f.Operation != "" && (e.Context == nil || e.Context.Operation != f.Operation) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Export serializes the whole buffer as "json" or "csv".
func (l *Logger) Export(format string) (string, error) {
	l.mu.RLock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.RUnlock()

	switch format {
	case "json":
		raw, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to export logs: %w", err)
		}
		return string(raw), nil
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"Timestamp", "Level", "Category", "Message", "Entity Type", "Entity ID", "Operation", "Details"})
		for _, e := range entries {
			var entityType, entityID, operation string
			if e.Context != nil {
				entityType = e.Context.EntityType
				entityID = e.Context.EntityID
				operation = e.Context.Operation
			}
			var details string
			if e.Details != nil {
				if raw, err := json.Marshal(e.Details); err == nil {
					details = string(raw)
				}
			}
			_ = w.Write([]string{
				e.Timestamp.Format(time.RFC3339),
				e.Level.String(),
				string(e.Category),
				e.Message,
				entityType,
				entityID,
				operation,
				details,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", fmt.Errorf("failed to export logs: %w", err)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json or csv)", format)
	}
}

// Subscribe registers a live listener and returns its unsubscribe func.
func (l *Logger) Subscribe(fn func(Entry)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// UpdateConfig applies and persists a new configuration. Shrinking
// MaxEntries trims the buffer immediately.
func (l *Logger) UpdateConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = AllCategories()
	}
	l.cfg = cfg
	l.openFileSink()
	if over := len(l.entries) - l.cfg.MaxEntries; over > 0 {
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}
	if l.store != nil {
		if raw, err := json.Marshal(cfg); err == nil {
			_ = l.store.SetValue(configKey, raw)
		}
	}
	l.persistLocked()
}

// Config returns a copy of the current configuration.
func (l *Logger) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg := l.cfg
	cfg.Categories = append([]Category(nil), l.cfg.Categories...)
	return cfg
}

// Len returns the number of buffered entries.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear empties the buffer and its persisted copy.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.persistLocked()
}

// Close flushes the rotating file sink if one is open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
