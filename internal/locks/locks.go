// Package locks manages time-bound exclusive editing leases on projects.
//
// The manager keeps an advisory local cache of active leases and defers to
// the remote store's uniqueness constraint as the authority on races: a
// lock request first fast-fails against the cache, then asks the remote
// store, and treats a conflict rejection there as the real answer,
// refreshing the cache from it. Read-side queries filter the cache by
// expiry, so a lease past its deadline is absent everywhere before the
// sweep physically deactivates it.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/syncboard/syncboard/internal/logging"
	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/remote"
)

const (
	// DefaultLease is the lease granted when the caller does not specify
	// a duration.
	DefaultLease = 4 * time.Hour
	// DefaultExtension is the extension granted when the caller does not
	// specify one.
	DefaultExtension = 60 * time.Minute
	// DefaultSweepInterval is the period of the expiry sweep.
	DefaultSweepInterval = 60 * time.Second
)

// ErrProjectLocked is returned when another user holds an active lease.
// Unwrap the surrounding error for the holder details.
var ErrProjectLocked = errors.New("project is locked by another user")

// ErrNotOwner is returned for owner-only operations invoked by a
// non-owner, or when no active owned lease exists.
var ErrNotOwner = errors.New("no active lock owned by caller")

// Owner identifies the user acquiring leases through this manager.
type Owner struct {
	UserID string
	Email  string
	Name   string
}

// Options tunes the manager. Zero values select defaults.
type Options struct {
	SweepInterval time.Duration
	Logger        *log.Logger
	Now           func() time.Time // test hook
}

// Manager grants, renews, releases, and sweeps project locks.
type Manager struct {
	remote remote.Interface
	owner  Owner
	diag   *logging.Logger
	logger *log.Logger
	now    func() time.Time

	sweepInterval time.Duration

	mu       sync.Mutex
	cache    map[string]*model.ProjectLock // projectID -> active lease
	sweeping bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a manager for the given owner. diag may be nil.
func New(rc remote.Interface, owner Owner, diag *logging.Logger, opts Options) *Manager {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[locks] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		remote:        rc,
		owner:         owner,
		diag:          diag,
		logger:        opts.Logger,
		now:           opts.Now,
		sweepInterval: opts.SweepInterval,
		cache:         make(map[string]*model.ProjectLock),
	}
}

// Refresh replaces the local cache with the remote active lock set.
func (m *Manager) Refresh(ctx context.Context) error {
	locks, err := m.remote.ListActiveLocks(ctx)
	if err != nil {
		return fmt.Errorf("refresh locks: %w", err)
	}
	fresh := make(map[string]*model.ProjectLock, len(locks))
	now := m.now().UTC()
	for i := range locks {
		l := locks[i]
		if l.ActiveAt(now) {
			fresh[l.ProjectID] = &l
		}
	}
	m.mu.Lock()
	m.cache = fresh
	m.mu.Unlock()
	return nil
}

// Lock acquires an exclusive lease on the project, or extends the caller's
// existing one (a repeat lock by the owner is an idempotent extension).
// duration <= 0 selects DefaultLease.
//
// The cache check is advisory fast-fail only; the remote uniqueness
// constraint decides races. A remote conflict refreshes the cache and
// surfaces as ErrProjectLocked.
func (m *Manager) Lock(ctx context.Context, projectID, reason string, duration time.Duration) (*model.ProjectLock, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if duration <= 0 {
		duration = DefaultLease
	}
	now := m.now().UTC()

	m.mu.Lock()
	existing := m.cache[projectID]
	if existing != nil && !existing.ActiveAt(now) {
		existing = nil
	}
	m.mu.Unlock()

	if existing != nil {
		if !existing.OwnedBy(m.owner.UserID) {
			return nil, m.conflict(projectID, existing)
		}
		// Own lease: extend instead of duplicating.
		expiresAt := now.Add(duration)
		if err := m.remote.RenewLock(ctx, existing.ID, expiresAt, reason); err != nil {
			return nil, fmt.Errorf("extend own lock: %w", err)
		}
		renewed := *existing
		renewed.ExpiresAt = expiresAt
		if reason != "" {
			renewed.Reason = reason
		}
		m.put(&renewed)
		m.logLock("lock extended", &renewed)
		return &renewed, nil
	}

	lock := &model.ProjectLock{
		ProjectID:      projectID,
		LockedByUserID: m.owner.UserID,
		LockedByEmail:  m.owner.Email,
		LockedByName:   m.owner.Name,
		LockedAt:       now,
		ExpiresAt:      now.Add(duration),
		Reason:         reason,
		IsActive:       true,
	}
	created, err := m.remote.CreateLock(ctx, lock)
	if err != nil {
		if remote.IsConflict(err) {
			// Lost the race. The remote answer is authoritative, so
			// resync the cache before reporting the holder.
			if rErr := m.Refresh(ctx); rErr != nil {
				m.logger.Printf("WARNING: lock cache refresh after conflict failed: %v", rErr)
			}
			m.mu.Lock()
			holder := m.cache[projectID]
			m.mu.Unlock()
			return nil, m.conflict(projectID, holder)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	m.put(created)
	m.logLock("lock acquired", created)
	return created, nil
}

func (m *Manager) conflict(projectID string, holder *model.ProjectLock) error {
	if m.diag != nil {
		details := map[string]any{"project_id": projectID}
		if holder != nil {
			details["locked_by"] = holder.LockedByName
			details["expires_at"] = holder.ExpiresAt
		}
		m.diag.Warn(logging.CategoryValidation, "lock conflict", details)
	}
	if holder != nil {
		return fmt.Errorf("project %s is held by %s until %s: %w",
			projectID, holder.LockedByName, holder.ExpiresAt.Format(time.RFC3339), ErrProjectLocked)
	}
	return fmt.Errorf("project %s: %w", projectID, ErrProjectLocked)
}

// Unlock releases the caller's lease. Releasing a project the caller does
// not hold is a no-op.
func (m *Manager) Unlock(ctx context.Context, projectID string) error {
	if err := m.remote.ReleaseLock(ctx, projectID, m.owner.UserID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	m.drop(projectID, m.owner.UserID)
	return nil
}

// AdminUnlock force-clears any lease on the project regardless of owner.
// Authorization is enforced server-side; false means the server refused or
// no lock existed.
func (m *Manager) AdminUnlock(ctx context.Context, projectID string) (bool, error) {
	ok, err := m.remote.AdminUnlock(ctx, projectID, m.owner.UserID)
	if err != nil {
		return false, fmt.Errorf("admin unlock: %w", err)
	}
	if ok {
		m.drop(projectID, "")
		m.logger.Printf("admin cleared lock on project %s", projectID)
	}
	return ok, nil
}

// Extend lengthens the caller's lease by the given duration. minutes <= 0
// selects DefaultExtension. Returns ErrNotOwner when no active owned lease
// exists.
func (m *Manager) Extend(ctx context.Context, projectID string, extension time.Duration) error {
	if extension <= 0 {
		extension = DefaultExtension
	}
	minutes := int(extension / time.Minute)
	if minutes <= 0 {
		minutes = 1
	}
	ok, err := m.remote.ExtendLock(ctx, projectID, m.owner.UserID, minutes)
	if err != nil {
		return fmt.Errorf("extend lock: %w", err)
	}
	if !ok {
		return ErrNotOwner
	}
	m.mu.Lock()
	if l := m.cache[projectID]; l != nil && l.OwnedBy(m.owner.UserID) {
		l.ExpiresAt = l.ExpiresAt.Add(time.Duration(minutes) * time.Minute)
	}
	m.mu.Unlock()
	return nil
}

// IsLocked reports whether any unexpired lease exists on the project.
func (m *Manager) IsLocked(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.cache[projectID]
	return l != nil && l.ActiveAt(m.now().UTC())
}

// CanEdit reports whether the caller may edit the project: unlocked, or
// locked by the caller.
func (m *Manager) CanEdit(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.cache[projectID]
	if l == nil || !l.ActiveAt(m.now().UTC()) {
		return true
	}
	return l.OwnedBy(m.owner.UserID)
}

// Holder returns the active lease on the project, or nil.
func (m *Manager) Holder(projectID string) *model.ProjectLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.cache[projectID]
	if l == nil || !l.ActiveAt(m.now().UTC()) {
		return nil
	}
	cp := *l
	return &cp
}

// ActiveLocks returns every unexpired cached lease.
func (m *Manager) ActiveLocks() []model.ProjectLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	var out []model.ProjectLock
	for _, l := range m.cache {
		if l.ActiveAt(now) {
			out = append(out, *l)
		}
	}
	return out
}

// UserLocks returns the unexpired cached leases held by the given user.
func (m *Manager) UserLocks(userID string) []model.ProjectLock {
	var out []model.ProjectLock
	for _, l := range m.ActiveLocks() {
		if l.OwnedBy(userID) {
			out = append(out, l)
		}
	}
	return out
}

// Start launches the periodic expiry sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("lock manager already started")
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the sweep loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()
	cancel()
	m.wg.Wait()
}

// Sweep is the timer body: purge expired leases locally and ask the remote
// store to deactivate its own. Reentrant calls are no-ops.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.Lock()
	if m.sweeping {
		m.mu.Unlock()
		return
	}
	m.sweeping = true
	now := m.now().UTC()
	purged := 0
	for id, l := range m.cache {
		if l.Expired(now) {
			delete(m.cache, id)
			purged++
		}
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.sweeping = false
		m.mu.Unlock()
	}()

	if purged > 0 {
		m.logger.Printf("purged %d expired locks from cache", purged)
	}
	if err := m.remote.CleanupExpiredLocks(ctx); err != nil {
		m.logger.Printf("WARNING: remote lock cleanup failed: %v", err)
	}
}

func (m *Manager) put(l *model.ProjectLock) {
	m.mu.Lock()
	m.cache[l.ProjectID] = l
	m.mu.Unlock()
}

// drop removes a cached lease. An empty userID drops regardless of owner.
func (m *Manager) drop(projectID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.cache[projectID]
	if l == nil {
		return
	}
	if userID == "" || l.OwnedBy(userID) {
		delete(m.cache, projectID)
	}
}

func (m *Manager) logLock(msg string, l *model.ProjectLock) {
	m.logger.Printf("%s: project %s until %s", msg, l.ProjectID, l.ExpiresAt.Format(time.RFC3339))
	if m.diag != nil {
		m.diag.Info(logging.CategorySync, msg, map[string]any{
			"project_id": l.ProjectID,
			"expires_at": l.ExpiresAt,
		})
	}
}
