// Package queue manages the ordered log of mutations awaiting remote
// acknowledgement.
//
// Entries replay in FIFO order. A failed replay increments the entry's
// retry counter; once the counter reaches the retry limit, or the failure
// is classified as non-retryable, the entry is dropped from the queue and
// handed back to the caller as terminal, to be surfaced as a sync error
// exactly once. Only one drain may run at a time: a second call while one
// is in flight is a no-op that leans on the next timer tick.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/remote"
	"github.com/syncboard/syncboard/internal/store"
)

// DefaultMaxRetries is how many failed replays a change survives before it
// becomes a terminal sync error.
const DefaultMaxRetries = 3

// ErrDrainInProgress is returned when Drain is called while another drain
// is still running. Callers treat it as "nothing to do".
var ErrDrainInProgress = errors.New("queue: drain already in progress")

// ApplyFunc replays one pending change against the remote store.
type ApplyFunc func(ctx context.Context, change *model.PendingChange) error

// Terminal is a change that was removed from the queue without being
// applied, along with the failure that retired it.
type Terminal struct {
	Change *model.PendingChange
	Err    error
}

// Result summarizes one drain pass.
type Result struct {
	Applied int
	Failed  int // still queued, will retry
	Dropped []Terminal
}

// Queue is the persistent pending-change log.
type Queue struct {
	store      store.Store
	maxRetries int

	mu       sync.Mutex
	draining bool
}

// New creates a queue over the given store. maxRetries <= 0 selects
// DefaultMaxRetries.
func New(st store.Store, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{store: st, maxRetries: maxRetries}
}

// Enqueue appends a new change with a zero retry count.
func (q *Queue) Enqueue(entityType model.EntityType, action model.Action, entityID string, payload []byte) (*model.PendingChange, error) {
	change := model.NewPendingChange(entityType, action, entityID, payload)
	if err := q.store.AppendPending(change); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return change, nil
}

// Len returns the number of queued changes.
func (q *Queue) Len() int {
	pending, err := q.store.ListPending()
	if err != nil {
		return 0
	}
	return len(pending)
}

// Pending returns the queued changes in replay order.
func (q *Queue) Pending() ([]*model.PendingChange, error) {
	return q.store.ListPending()
}

// Clear empties the queue. Used by force-pull, which discards uncommitted
// local changes by design.
func (q *Queue) Clear() error {
	return q.store.ClearPending()
}

// Draining reports whether a drain is currently in flight. Callers that
// publish drain progress can check it before announcing one.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Drain replays every queued change through apply in FIFO order.
//
// Non-retryable failures (auth, validation, conflict) retire the change
// immediately; retryable ones increment its retry counter and retire it
// once the counter reaches the limit. Changes that remain under the limit
// stay queued for the next pass. Returns ErrDrainInProgress if another
// drain is running; the guard is a flag, not a blocking lock, so a
// concurrent trigger costs nothing.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) (*Result, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil, ErrDrainInProgress
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	pending, err := q.store.ListPending()
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	res := &Result{}
	for _, change := range pending {
		if ctx.Err() != nil {
			break
		}

		err := apply(ctx, change)
		if err == nil {
			if rmErr := q.store.RemovePending(change.ID); rmErr != nil {
				return res, fmt.Errorf("drain: remove applied change: %w", rmErr)
			}
			res.Applied++
			continue
		}

		change.RetryCount++
		retryable := remote.KindOf(err).Retryable()
		if !retryable || change.RetryCount >= q.maxRetries {
			if rmErr := q.store.RemovePending(change.ID); rmErr != nil {
				return res, fmt.Errorf("drain: retire change: %w", rmErr)
			}
			res.Dropped = append(res.Dropped, Terminal{Change: change, Err: err})
			continue
		}

		if upErr := q.store.UpdatePending(change); upErr != nil {
			return res, fmt.Errorf("drain: record retry: %w", upErr)
		}
		res.Failed++
	}
	return res, nil
}
