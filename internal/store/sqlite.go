package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/syncboard/syncboard/internal/model"
)

// sqliteStore implements Store on an embedded SQLite database.
type sqliteStore struct {
	conn *sql.DB
	path string
}

func openSQLite(path string) (*sqliteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &sqliteStore{conn: conn, path: path}

	// WAL for concurrent readers during writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);

	-- FIFO queue of mutations awaiting remote acknowledgement. seq
	-- preserves creation order across retry rewrites.
	CREATE TABLE IF NOT EXISTS pending_changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_type TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT,
		created_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// List implements Store.
func (s *sqliteStore) List(entityType model.EntityType) ([]Record, error) {
	rows, err := s.conn.Query(
		`SELECT id, data FROM entities WHERE entity_type = ? ORDER BY id`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var data string
		if err := rows.Scan(&rec.ID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", entityType, err)
		}
		rec.Data = json.RawMessage(data)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", entityType, err)
	}
	return out, nil
}

// ReplaceAll implements Store.
func (s *sqliteStore) ReplaceAll(entityType model.EntityType, records []Record) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entities WHERE entity_type = ?`, string(entityType)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", entityType, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range records {
		if _, err := tx.Exec(
			`INSERT INTO entities (entity_type, id, data, updated_at) VALUES (?, ?, ?, ?)`,
			string(entityType), rec.ID, string(rec.Data), now); err != nil {
			return fmt.Errorf("failed to insert %s %s: %w", entityType, rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Upsert implements Store.
func (s *sqliteStore) Upsert(entityType model.EntityType, rec Record) error {
	_, err := s.conn.Exec(`
		INSERT INTO entities (entity_type, id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		string(entityType), rec.ID, string(rec.Data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", entityType, rec.ID, err)
	}
	return nil
}

// Remove implements Store.
func (s *sqliteStore) Remove(entityType model.EntityType, id string) error {
	if _, err := s.conn.Exec(
		`DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(entityType), id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}
	return nil
}

// AppendPending implements Store.
func (s *sqliteStore) AppendPending(change *model.PendingChange) error {
	if err := change.Validate(); err != nil {
		return fmt.Errorf("invalid pending change: %w", err)
	}
	_, err := s.conn.Exec(`
		INSERT INTO pending_changes (id, entity_type, action, entity_id, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.ID, string(change.EntityType), string(change.Action), change.EntityID,
		string(change.Payload), change.CreatedAt.Format(time.RFC3339Nano), change.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to append pending change: %w", err)
	}
	return nil
}

// ListPending implements Store.
func (s *sqliteStore) ListPending() ([]*model.PendingChange, error) {
	rows, err := s.conn.Query(`
		SELECT id, entity_type, action, entity_id, payload, created_at, retry_count
		FROM pending_changes ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changes: %w", err)
	}
	defer rows.Close()

	var out []*model.PendingChange
	for rows.Next() {
		var c model.PendingChange
		var et, action, payload, createdAt string
		if err := rows.Scan(&c.ID, &et, &action, &c.EntityID, &payload, &createdAt, &c.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan pending change: %w", err)
		}
		c.EntityType = model.EntityType(et)
		c.Action = model.Action(action)
		if payload != "" {
			c.Payload = json.RawMessage(payload)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending changes: %w", err)
	}
	return out, nil
}

// UpdatePending implements Store.
func (s *sqliteStore) UpdatePending(change *model.PendingChange) error {
	_, err := s.conn.Exec(
		`UPDATE pending_changes SET retry_count = ?, payload = ? WHERE id = ?`,
		change.RetryCount, string(change.Payload), change.ID)
	if err != nil {
		return fmt.Errorf("failed to update pending change %s: %w", change.ID, err)
	}
	return nil
}

// RemovePending implements Store.
func (s *sqliteStore) RemovePending(id string) error {
	if _, err := s.conn.Exec(`DELETE FROM pending_changes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove pending change %s: %w", id, err)
	}
	return nil
}

// ClearPending implements Store.
func (s *sqliteStore) ClearPending() error {
	if _, err := s.conn.Exec(`DELETE FROM pending_changes`); err != nil {
		return fmt.Errorf("failed to clear pending changes: %w", err)
	}
	return nil
}

// GetValue implements Store.
func (s *sqliteStore) GetValue(key string) ([]byte, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return []byte(value), nil
}

// SetValue implements Store.
func (s *sqliteStore) SetValue(key string, value []byte) error {
	_, err := s.conn.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(value))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (s *sqliteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}
