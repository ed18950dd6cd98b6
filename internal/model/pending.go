package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the mutation kind carried by a pending change.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// PendingChange is a mutation that was applied locally but has not yet been
// acknowledged by the remote store. Changes replay in FIFO order by
// CreatedAt; RetryCount only ever increases, and the change is discarded
// (surfaced as a terminal sync error) once it reaches the retry limit.
type PendingChange struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	Action     Action          `json:"action"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"` // full entity document; nil for deletes
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
}

// NewPendingChange builds a queue entry for a local mutation.
func NewPendingChange(entityType EntityType, action Action, entityID string, payload json.RawMessage) *PendingChange {
	return &PendingChange{
		ID:         NewID(),
		EntityType: entityType,
		Action:     action,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks the change is replayable.
func (c *PendingChange) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !c.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", c.EntityType)
	}
	if !c.Action.Valid() {
		return fmt.Errorf("unknown action %q", c.Action)
	}
	if c.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if c.Action != ActionDelete && len(c.Payload) == 0 {
		return fmt.Errorf("payload is required for %s", c.Action)
	}
	return nil
}

// SyncStatus is the process-wide sync health snapshot. The sync engine is
// the only writer; everyone else observes copies through a subscription.
type SyncStatus struct {
	IsOnline       bool       `json:"is_online"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	PendingChanges int        `json:"pending_changes"`
	SyncInProgress bool       `json:"sync_in_progress"`
	LastError      string     `json:"last_error,omitempty"`
}
