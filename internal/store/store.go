// Package store is the durable local half of the offline-first core.
//
// It persists entity collections, the pending-change queue, and a small
// key-value namespace in an embedded SQLite database with WAL enabled for
// concurrent readers. The store is always the system of record for reads
// and never touches the network; when SQLite cannot be opened it degrades
// to an in-memory fallback so the application stays usable.
package store

import (
	"encoding/json"
	"log"

	"github.com/syncboard/syncboard/internal/model"
)

// Record is one entity document in a collection.
type Record struct {
	ID   string
	Data json.RawMessage
}

// Store is the local persistence contract. Operations are synchronous and
// side-effect free beyond persistence; the store never triggers a sync.
type Store interface {
	// List returns every record in the collection.
	List(entityType model.EntityType) ([]Record, error)
	// ReplaceAll atomically swaps the collection's contents.
	ReplaceAll(entityType model.EntityType, records []Record) error
	// Upsert inserts or overwrites one record.
	Upsert(entityType model.EntityType, rec Record) error
	// Remove deletes one record; removing a missing record is a no-op.
	Remove(entityType model.EntityType, id string) error

	// AppendPending adds a change to the tail of the pending queue.
	AppendPending(change *model.PendingChange) error
	// ListPending returns the queue in FIFO order.
	ListPending() ([]*model.PendingChange, error)
	// UpdatePending rewrites a queued change in place (retry bookkeeping),
	// preserving its queue position.
	UpdatePending(change *model.PendingChange) error
	// RemovePending drops a change by ID.
	RemovePending(id string) error
	// ClearPending empties the queue (force-pull).
	ClearPending() error

	// GetValue reads a key from the kv namespace; nil means absent.
	GetValue(key string) ([]byte, error)
	// SetValue writes a key in the kv namespace.
	SetValue(key string, value []byte) error

	Close() error
}

// Open returns a SQLite-backed store at path, or the in-memory fallback if
// the database cannot be opened. Local persistence must never take the
// application down, so the fallback is silent beyond a logged warning.
func Open(path string, logger *log.Logger) Store {
	s, err := openSQLite(path)
	if err != nil {
		if logger != nil {
			logger.Printf("WARNING: local database unavailable (%v), falling back to in-memory store", err)
		}
		return NewMemory()
	}
	return s
}
