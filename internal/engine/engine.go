// Package engine orchestrates background reconciliation between the local
// store and the remote project store.
//
// The engine owns the process-wide SyncStatus and is its only writer. A
// connectivity/drain cycle runs on a timer; mutations are applied to the
// local store immediately regardless of connectivity, then replayed to the
// remote store directly or through the pending queue. The cycle body is
// idempotent and guarded by an in-flight flag, so it can be invoked
// directly in tests without real timers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/syncboard/syncboard/internal/errtrack"
	"github.com/syncboard/syncboard/internal/logging"
	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/queue"
	"github.com/syncboard/syncboard/internal/remote"
	"github.com/syncboard/syncboard/internal/store"
)

// State is the engine's background-reconciliation state.
type State string

const (
	StateIdle                 State = "idle"
	StateCheckingConnectivity State = "checking_connectivity"
	StateSyncing              State = "syncing"
	StateOffline              State = "offline"
)

const (
	// DefaultSyncInterval is the period of the connectivity/drain timer.
	DefaultSyncInterval = 30 * time.Second
	// DefaultRetryDelay is the shortened period used while offline or
	// after a cycle that left failures behind.
	DefaultRetryDelay = 5 * time.Second

	statusKey = "syncStatus"
)

// ErrNotFound is returned by RetryError for an unknown error ID.
var ErrNotFound = errors.New("engine: sync error not found")

// Options tunes the engine. Zero values select defaults.
type Options struct {
	SyncInterval time.Duration
	RetryDelay   time.Duration
	Logger       *log.Logger
}

// Engine is the long-lived sync service. Construct once with New, start the
// background loop with Start, and tear down with Dispose.
type Engine struct {
	store   store.Store
	remote  remote.Interface
	queue   *queue.Queue
	tracker *errtrack.Tracker
	diag    *logging.Logger
	logger  *log.Logger

	syncInterval time.Duration
	retryDelay   time.Duration

	mu      sync.Mutex
	state   State
	status  model.SyncStatus
	subs    map[int]chan model.SyncStatus
	nextSub int
	cycling bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New wires the engine. diag may be nil to disable structured diagnostics.
func New(st store.Store, rc remote.Interface, q *queue.Queue, tracker *errtrack.Tracker, diag *logging.Logger, opts Options) *Engine {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	e := &Engine{
		store:        st,
		remote:       rc,
		queue:        q,
		tracker:      tracker,
		diag:         diag,
		logger:       opts.Logger,
		syncInterval: opts.SyncInterval,
		retryDelay:   opts.RetryDelay,
		state:        StateIdle,
		subs:         make(map[int]chan model.SyncStatus),
	}
	e.loadPersistedStatus()
	return e
}

// loadPersistedStatus restores the last snapshot so status queries work
// before the first cycle (and without a running daemon at all).
func (e *Engine) loadPersistedStatus() {
	raw, err := e.store.GetValue(statusKey)
	if err != nil || raw == nil {
		return
	}
	var saved model.SyncStatus
	if json.Unmarshal(raw, &saved) == nil {
		saved.SyncInProgress = false
		e.status = saved
	}
	e.status.PendingChanges = e.queue.Len()
}

// Start launches the background sync loop. Safe to call once.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("sync engine already started")
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.logger.Printf("starting sync loop (interval %s, retry delay %s)", e.syncInterval, e.retryDelay)
	e.wg.Add(1)
	go e.loop(ctx)
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	// First cycle immediately so startup does not wait a full interval.
	e.RunSyncCycle(ctx)

	timer := time.NewTimer(e.nextInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.RunSyncCycle(ctx)
			timer.Reset(e.nextInterval())
		}
	}
}

// nextInterval shortens the wait while offline or while retryable failures
// remain queued.
func (e *Engine) nextInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateOffline || e.status.PendingChanges > 0 {
		return e.retryDelay
	}
	return e.syncInterval
}

// Stop halts the background loop and waits for the in-flight cycle to
// finish. An issued remote call runs to completion; there is no mid-flight
// abort.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Printf("sync loop stopped")
}

// Dispose stops the loop and closes all status subscriptions.
func (e *Engine) Dispose() {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}

// RunSyncCycle is the timer body: probe connectivity, then drain the queue
// if anything is pending. A second call while one is in flight is a no-op.
func (e *Engine) RunSyncCycle(ctx context.Context) {
	e.mu.Lock()
	if e.cycling {
		e.mu.Unlock()
		return
	}
	e.cycling = true
	e.state = StateCheckingConnectivity
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cycling = false
		e.mu.Unlock()
	}()

	if err := e.remote.Ping(ctx); err != nil {
		e.setOffline(err)
		return
	}
	e.setOnline()

	if e.queue.Len() == 0 {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
		return
	}
	e.Flush(ctx)
}

func (e *Engine) setOffline(err error) {
	e.mu.Lock()
	wasOnline := e.status.IsOnline
	e.state = StateOffline
	e.status.IsOnline = false
	e.status.SyncInProgress = false
	e.status.LastError = err.Error()
	e.publishLocked()
	e.mu.Unlock()
	if wasOnline {
		e.logger.Printf("connectivity lost: %v", err)
		if e.diag != nil {
			e.diag.NetworkStatusChange(false, map[string]any{"error": err.Error()})
		}
	}
}

func (e *Engine) setOnline() {
	e.mu.Lock()
	wasOnline := e.status.IsOnline
	e.status.IsOnline = true
	e.publishLocked()
	e.mu.Unlock()
	if !wasOnline {
		e.logger.Printf("connectivity restored")
		if e.diag != nil {
			e.diag.NetworkStatusChange(true, nil)
		}
	}
}

// Flush drains the pending queue once. Terminal failures become recorded
// sync errors; a concurrent drain in progress is treated as nothing to do.
func (e *Engine) Flush(ctx context.Context) *queue.Result {
	// The in-flight drain owns the status flags; a competing flush must
	// not announce a sync it will never run (or reset).
	if e.queue.Draining() {
		return nil
	}

	e.mu.Lock()
	e.state = StateSyncing
	e.status.SyncInProgress = true
	e.publishLocked()
	e.mu.Unlock()

	res, err := e.queue.Drain(ctx, e.applyChange)
	if errors.Is(err, queue.ErrDrainInProgress) {
		e.mu.Lock()
		e.state = StateIdle
		e.status.SyncInProgress = false
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateIdle
	e.status.SyncInProgress = false
	e.status.PendingChanges = e.queue.Len()
	if err != nil {
		e.status.LastError = err.Error()
		e.publishLocked()
		e.logger.Printf("drain aborted: %v", err)
		return res
	}

	for _, term := range res.Dropped {
		se := errtrack.NewExhausted(term.Change, term.Err)
		e.tracker.Record(se)
		e.logger.Printf("change %s (%s %s/%s) retired after %d attempts: %v",
			term.Change.ID, term.Change.Action, term.Change.EntityType, term.Change.EntityID,
			term.Change.RetryCount, term.Err)
	}

	if res.Failed == 0 && len(res.Dropped) == 0 {
		now := time.Now().UTC()
		e.status.LastSyncTime = &now
		e.status.LastError = ""
	}
	e.publishLocked()
	if res.Applied > 0 || res.Failed > 0 || len(res.Dropped) > 0 {
		e.logger.Printf("drain: %d applied, %d still pending, %d retired",
			res.Applied, res.Failed, len(res.Dropped))
	}
	return res
}

// applyChange replays one pending change against the remote store and
// records the attempt in the metrics.
func (e *Engine) applyChange(ctx context.Context, change *model.PendingChange) error {
	if e.diag != nil {
		e.diag.SyncStart(string(change.Action), string(change.EntityType), change.EntityID)
	}
	start := time.Now()
	err := e.applyRemote(ctx, change.EntityType, change.Action, change.EntityID, change.Payload)
	elapsed := time.Since(start)
	e.tracker.Observe(err == nil, elapsed)
	if e.diag != nil {
		if err == nil {
			e.diag.SyncSuccess(string(change.Action), string(change.EntityType), change.EntityID, elapsed)
		} else {
			e.diag.SyncError(string(change.Action), string(change.EntityType), change.EntityID, err, change.RetryCount+1)
		}
	}
	return err
}

func (e *Engine) applyRemote(ctx context.Context, entityType model.EntityType, action model.Action, entityID string, payload json.RawMessage) error {
	switch action {
	case model.ActionCreate:
		_, err := e.remote.Create(ctx, entityType, payload)
		return err
	case model.ActionUpdate:
		_, err := e.remote.Update(ctx, entityType, entityID, payload)
		return err
	case model.ActionDelete:
		return e.remote.Delete(ctx, entityType, entityID)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// Mutate applies a mutation locally first, always, then reconciles with the
// remote store: directly when online, via the pending queue when
// connectivity is down or the write fails with a retryable kind. A write
// the remote rejects outright (auth, validation, conflict) is recorded as a
// terminal sync error for explicit resubmission rather than queued. The
// local write is the accepted truth; Mutate only errors when the mutation
// itself is invalid.
func (e *Engine) Mutate(ctx context.Context, entityType model.EntityType, action model.Action, entityID string, payload json.RawMessage) error {
	if !entityType.Valid() {
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}
	if entityID == "" {
		return fmt.Errorf("entity id is required")
	}

	// Local write first. Failures degrade to a logged warning, never to a
	// caller-facing error.
	var localErr error
	switch action {
	case model.ActionDelete:
		localErr = e.store.Remove(entityType, entityID)
	default:
		localErr = e.store.Upsert(entityType, store.Record{ID: entityID, Data: payload})
	}
	if localErr != nil {
		e.logger.Printf("WARNING: local %s of %s/%s failed: %v", action, entityType, entityID, localErr)
		if e.diag != nil {
			e.diag.StorageOperation(string(action), "local", string(entityType), false,
				map[string]any{"error": localErr.Error()})
		}
	}

	e.mu.Lock()
	online := e.status.IsOnline
	e.mu.Unlock()

	if online {
		change := &model.PendingChange{EntityType: entityType, Action: action, EntityID: entityID, Payload: payload}
		err := e.applyChange(ctx, change)
		if err == nil {
			e.mu.Lock()
			now := time.Now().UTC()
			e.status.LastSyncTime = &now
			e.publishLocked()
			e.mu.Unlock()
			return nil
		}
		if !remote.KindOf(err).Retryable() {
			// A rejected write will not pass on replay. Surface it as a
			// terminal error now instead of burning a queue attempt on it.
			se := errtrack.NewError(change, err, 1)
			e.tracker.Record(se)
			e.logger.Printf("%s %s/%s rejected by remote: %v", action, entityType, entityID, err)
			e.mu.Lock()
			e.status.LastError = err.Error()
			e.publishLocked()
			e.mu.Unlock()
			return nil
		}
	}

	if _, err := e.queue.Enqueue(entityType, action, entityID, payload); err != nil {
		return fmt.Errorf("queue mutation: %w", err)
	}
	e.mu.Lock()
	e.status.PendingChanges = e.queue.Len()
	e.publishLocked()
	e.mu.Unlock()
	return nil
}

// FullResync flushes the queue, then replaces every local collection with
// the remote contents. Queued changes are pushed before the pull so they
// are not silently lost.
func (e *Engine) FullResync(ctx context.Context) error {
	if err := e.remote.Ping(ctx); err != nil {
		e.setOffline(err)
		return fmt.Errorf("full resync: %w", err)
	}
	e.setOnline()

	e.Flush(ctx)
	if err := e.pullAll(ctx); err != nil {
		return fmt.Errorf("full resync: %w", err)
	}

	e.mu.Lock()
	now := time.Now().UTC()
	e.status.LastSyncTime = &now
	e.status.LastError = ""
	e.status.PendingChanges = e.queue.Len()
	e.publishLocked()
	e.mu.Unlock()
	e.logger.Printf("full resync complete")
	return nil
}

// ForcePush uploads the full local entity set, overwriting the remote
// copies. Destructive to remote changes not present locally.
func (e *Engine) ForcePush(ctx context.Context) error {
	for _, entityType := range model.KnownEntityTypes {
		records, err := e.store.List(entityType)
		if err != nil {
			return fmt.Errorf("force push: read local %s: %w", entityType, err)
		}
		for _, rec := range records {
			// Update first; a missing remote row matches nothing and
			// falls through to create.
			row, err := e.remote.Update(ctx, entityType, rec.ID, rec.Data)
			if err != nil {
				return fmt.Errorf("force push %s/%s: %w", entityType, rec.ID, err)
			}
			if row == nil {
				if _, err := e.remote.Create(ctx, entityType, rec.Data); err != nil {
					return fmt.Errorf("force push %s/%s: %w", entityType, rec.ID, err)
				}
			}
		}
	}

	e.mu.Lock()
	now := time.Now().UTC()
	e.status.LastSyncTime = &now
	e.status.LastError = ""
	e.publishLocked()
	e.mu.Unlock()
	e.logger.Printf("force push complete")
	return nil
}

// ForcePull downloads the full remote entity set, overwriting local copies
// and discarding the pending queue. Destructive to uncommitted local
// changes.
func (e *Engine) ForcePull(ctx context.Context) error {
	if err := e.queue.Clear(); err != nil {
		return fmt.Errorf("force pull: clear queue: %w", err)
	}
	if err := e.pullAll(ctx); err != nil {
		return fmt.Errorf("force pull: %w", err)
	}

	e.mu.Lock()
	now := time.Now().UTC()
	e.status.LastSyncTime = &now
	e.status.LastError = ""
	e.status.PendingChanges = 0
	e.publishLocked()
	e.mu.Unlock()
	e.logger.Printf("force pull complete")
	return nil
}

func (e *Engine) pullAll(ctx context.Context) error {
	for _, entityType := range model.KnownEntityTypes {
		rows, err := e.remote.List(ctx, entityType)
		if err != nil {
			return fmt.Errorf("pull %s: %w", entityType, err)
		}
		records := make([]store.Record, 0, len(rows))
		for _, row := range rows {
			var probe struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(row, &probe); err != nil || probe.ID == "" {
				e.logger.Printf("WARNING: skipping %s row without id", entityType)
				continue
			}
			records = append(records, store.Record{ID: probe.ID, Data: row})
		}
		if err := e.store.ReplaceAll(entityType, records); err != nil {
			return fmt.Errorf("store %s: %w", entityType, err)
		}
	}
	return nil
}

// RetryError replays the operation behind a recorded sync error. On success
// the error is resolved and removed; on failure its attempt counter and
// message are updated in place.
func (e *Engine) RetryError(ctx context.Context, errorID string) error {
	se := e.tracker.Get(errorID)
	if se == nil {
		return ErrNotFound
	}
	change := &model.PendingChange{
		EntityType: se.EntityType,
		Action:     se.Operation,
		EntityID:   se.EntityID,
		Payload:    se.Payload,
		RetryCount: se.Attempt,
	}
	if err := e.applyChange(ctx, change); err != nil {
		e.tracker.NoteRetryFailure(errorID, err)
		return err
	}
	e.tracker.Resolve(errorID)
	e.mu.Lock()
	now := time.Now().UTC()
	e.status.LastSyncTime = &now
	e.publishLocked()
	e.mu.Unlock()
	return nil
}

// State returns the current background state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a snapshot of the authoritative sync status.
func (e *Engine) Status() model.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.PendingChanges = e.queue.Len()
	return e.status
}

// Subscribe returns a channel of status snapshots and an unsubscribe func.
// Slow consumers miss intermediate snapshots rather than stalling the
// engine.
func (e *Engine) Subscribe() (<-chan model.SyncStatus, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan model.SyncStatus, 8)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// publishLocked persists the status snapshot and fans it out. Callers hold
// e.mu.
func (e *Engine) publishLocked() {
	if raw, err := json.Marshal(e.status); err == nil {
		_ = e.store.SetValue(statusKey, raw)
	}
	for _, ch := range e.subs {
		select {
		case ch <- e.status:
		default:
		}
	}
}
