// Package errtrack records classified sync failures and rolling health
// metrics for the sync engine.
//
// Errors are append-only apart from the resolved flag; they disappear only
// on explicit clear. Metrics are a pure function of the observed outcome
// sequence: every remote attempt bumps the totals, the running mean covers
// successful attempts only, and the streak resets whenever the outcome
// flips.
package errtrack

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/remote"
	"github.com/syncboard/syncboard/internal/store"
)

// SyncError is a recorded remote failure. Payload keeps the original
// request body so the operation can be replayed verbatim.
type SyncError struct {
	ID         string           `json:"id"`
	Kind       remote.Kind      `json:"type"`
	Operation  model.Action     `json:"operation"`
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Message    string           `json:"message"`
	Details    map[string]any   `json:"details,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Attempt    int              `json:"attempt"`
	Retryable  bool             `json:"is_retryable"`
	Suggested  string           `json:"suggested_action,omitempty"`
	Resolved   bool             `json:"resolved"`
}

// Streak is a run of identical outcomes.
type Streak struct {
	Type  string `json:"type"` // success or failure
	Count int    `json:"count"`
}

// Metrics is the rolling sync health summary.
type Metrics struct {
	TotalAttempts       int        `json:"total_attempts"`
	SuccessfulSyncs     int        `json:"successful_syncs"`
	FailedSyncs         int        `json:"failed_syncs"`
	AverageResponseTime float64    `json:"average_response_time_ms"`
	LastSuccessfulSync  *time.Time `json:"last_successful_sync,omitempty"`
	CurrentStreak       Streak     `json:"current_streak"`
}

const (
	errorsKey  = "sync_errors"
	metricsKey = "sync_metrics"
)

// Tracker aggregates sync errors and metrics. Safe for concurrent use.
// With a store attached, errors and metrics survive process restarts.
type Tracker struct {
	store store.Store

	mu      sync.RWMutex
	errors  []*SyncError
	metrics Metrics
}

// New returns a tracker backed by st. st may be nil for a purely in-memory
// tracker.
func New(st store.Store) *Tracker {
	t := &Tracker{store: st}
	t.load()
	return t
}

func (t *Tracker) load() {
	if t.store == nil {
		return
	}
	if raw, err := t.store.GetValue(errorsKey); err == nil && raw != nil {
		var saved []*SyncError
		if json.Unmarshal(raw, &saved) == nil {
			t.errors = saved
		}
	}
	if raw, err := t.store.GetValue(metricsKey); err == nil && raw != nil {
		var saved Metrics
		if json.Unmarshal(raw, &saved) == nil {
			t.metrics = saved
		}
	}
}

// persistLocked saves the current state. Callers hold t.mu.
func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	if raw, err := json.Marshal(t.errors); err == nil {
		_ = t.store.SetValue(errorsKey, raw)
	}
	if raw, err := json.Marshal(t.metrics); err == nil {
		_ = t.store.SetValue(metricsKey, raw)
	}
}

// NewError builds a SyncError from a failed remote operation on a pending
// change. attempt is the number of times the operation has been tried.
func NewError(change *model.PendingChange, err error, attempt int) *SyncError {
	kind := remote.KindOf(err)
	return &SyncError{
		ID:         model.NewID(),
		Kind:       kind,
		Operation:  change.Action,
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		Message:    err.Error(),
		Payload:    change.Payload,
		Timestamp:  time.Now().UTC(),
		Attempt:    attempt,
		Retryable:  kind.Retryable(),
		Suggested:  kind.SuggestedAction(),
	}
}

// NewExhausted builds the terminal SyncError for a change retired from the
// pending queue. A retired change is never replayed automatically, whatever
// its kind's usual policy, so the record must not promise an automatic
// retry.
func NewExhausted(change *model.PendingChange, err error) *SyncError {
	se := NewError(change, err, change.RetryCount)
	se.Retryable = false
	if se.Kind.Retryable() {
		se.Suggested = "retry limit reached, resubmit to try again"
	}
	return se
}

// Record appends an error.
func (t *Tracker) Record(e *SyncError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, e)
	t.persistLocked()
}

// Observe folds one remote attempt into the metrics. The duration of
// failed attempts is ignored; the running mean covers successes only.
func (t *Tracker) Observe(success bool, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalAttempts++
	outcome := "failure"
	if success {
		outcome = "success"
		n := float64(t.metrics.SuccessfulSyncs)
		ms := float64(d.Milliseconds())
		t.metrics.AverageResponseTime = (t.metrics.AverageResponseTime*n + ms) / (n + 1)
		t.metrics.SuccessfulSyncs++
		now := time.Now().UTC()
		t.metrics.LastSuccessfulSync = &now
	} else {
		t.metrics.FailedSyncs++
	}

	if t.metrics.CurrentStreak.Type == outcome {
		t.metrics.CurrentStreak.Count++
	} else {
		t.metrics.CurrentStreak = Streak{Type: outcome, Count: 1}
	}
	t.persistLocked()
}

// Metrics returns a snapshot of the rolling metrics.
func (t *Tracker) Metrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}

// Get returns the error with the given ID, or nil.
func (t *Tracker) Get(id string) *SyncError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.errors {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Errors returns all recorded errors, newest first.
func (t *Tracker) Errors() []*SyncError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*SyncError, len(t.errors))
	copy(out, t.errors)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Unresolved returns errors not yet resolved, grouped stably by kind then
// entity type, the shape the error dashboard renders.
func (t *Tracker) Unresolved() []*SyncError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*SyncError
	for _, e := range t.errors {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Resolve marks an error resolved and removes it. Returns false if the ID
// is unknown.
func (t *Tracker) Resolve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.errors {
		if e.ID == id {
			e.Resolved = true
			t.errors = append(t.errors[:i], t.errors[i+1:]...)
			t.persistLocked()
			return true
		}
	}
	return false
}

// NoteRetryFailure bumps an error's attempt counter and message after a
// failed manual retry.
func (t *Tracker) NoteRetryFailure(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.errors {
		if e.ID == id {
			e.Attempt++
			e.Message = err.Error()
			e.Kind = remote.KindOf(err)
			// Recorded errors live outside the queue; only another
			// explicit retry replays them.
			e.Retryable = false
			t.persistLocked()
			return
		}
	}
}

// Clear removes the given errors, or every error when no IDs are passed.
func (t *Tracker) Clear(ids ...string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(ids) == 0 {
		n := len(t.errors)
		t.errors = nil
		t.persistLocked()
		return n
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := t.errors[:0]
	removed := 0
	for _, e := range t.errors {
		if drop[e.ID] {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.errors = kept
	t.persistLocked()
	return removed
}
