package locks

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/remote"
)

// fakeLockRemote simulates the remote lock table with its uniqueness
// constraint. The embedded interface panics on anything else.
type fakeLockRemote struct {
	remote.Interface

	mu       sync.Mutex
	locks    map[string]*model.ProjectLock // projectID -> active lock
	cleanups int
	renews   int
}

func newFakeLockRemote() *fakeLockRemote {
	return &fakeLockRemote{locks: make(map[string]*model.ProjectLock)}
}

func (f *fakeLockRemote) ListActiveLocks(context.Context) ([]model.ProjectLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ProjectLock
	now := time.Now().UTC()
	for _, l := range f.locks {
		if l.ActiveAt(now) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeLockRemote) CreateLock(_ context.Context, lock *model.ProjectLock) (*model.ProjectLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.locks[lock.ProjectID]; existing != nil && existing.ActiveAt(time.Now().UTC()) {
		return nil, &remote.Error{
			Kind:       remote.KindConflict,
			Operation:  "create",
			EntityType: "project_locks",
			EntityID:   lock.ProjectID,
			StatusCode: 409,
			Message:    "duplicate key value violates unique constraint (code 23505)",
		}
	}
	created := *lock
	created.ID = model.NewID()
	stored := created
	f.locks[lock.ProjectID] = &stored
	return &created, nil
}

func (f *fakeLockRemote) RenewLock(_ context.Context, lockID string, expiresAt time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	for _, l := range f.locks {
		if l.ID == lockID {
			l.ExpiresAt = expiresAt
			if reason != "" {
				l.Reason = reason
			}
			return nil
		}
	}
	return &remote.Error{Kind: remote.KindValidation, Message: "no such lock"}
}

func (f *fakeLockRemote) ReleaseLock(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l := f.locks[projectID]; l != nil && l.OwnedBy(userID) {
		delete(f.locks, projectID)
	}
	return nil
}

func (f *fakeLockRemote) AdminUnlock(_ context.Context, projectID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[projectID] == nil {
		return false, nil
	}
	delete(f.locks, projectID)
	return true, nil
}

func (f *fakeLockRemote) ExtendLock(_ context.Context, projectID, userID string, additionalMinutes int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.locks[projectID]
	if l == nil || !l.OwnedBy(userID) || !l.ActiveAt(time.Now().UTC()) {
		return false, nil
	}
	l.ExpiresAt = l.ExpiresAt.Add(time.Duration(additionalMinutes) * time.Minute)
	return true, nil
}

func (f *fakeLockRemote) CleanupExpiredLocks(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	now := time.Now().UTC()
	for id, l := range f.locks {
		if l.Expired(now) {
			delete(f.locks, id)
		}
	}
	return nil
}

func newManager(t *testing.T, fr *fakeLockRemote, userID string) *Manager {
	t.Helper()
	return New(fr, Owner{UserID: userID, Name: "User " + userID}, nil, Options{
		Logger: log.New(io.Discard, "", 0),
	})
}

func TestLockExclusivity(t *testing.T) {
	fr := newFakeLockRemote()
	alice := newManager(t, fr, "alice")
	bob := newManager(t, fr, "bob")

	if _, err := alice.Lock(context.Background(), "p1", "editing", time.Hour); err != nil {
		t.Fatalf("alice Lock failed: %v", err)
	}

	_, err := bob.Lock(context.Background(), "p1", "also editing", time.Hour)
	if !errors.Is(err, ErrProjectLocked) {
		t.Fatalf("expected ErrProjectLocked for bob, got %v", err)
	}

	// Bob's cache resynced from the authoritative rejection.
	if bob.CanEdit("p1") {
		t.Error("bob must not be able to edit after conflict")
	}
	holder := bob.Holder("p1")
	if holder == nil || holder.LockedByUserID != "alice" {
		t.Errorf("bob's cache should name alice as holder, got %+v", holder)
	}
}

func TestOwnerRelockExtends(t *testing.T) {
	fr := newFakeLockRemote()
	m := newManager(t, fr, "alice")

	first, err := m.Lock(context.Background(), "p1", "", time.Hour)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	second, err := m.Lock(context.Background(), "p1", "still editing", 2*time.Hour)
	if err != nil {
		t.Fatalf("repeat Lock by owner failed: %v", err)
	}

	if second.ID != first.ID {
		t.Error("owner re-lock must extend, not create a duplicate")
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("expiry not extended: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}
	if fr.renews != 1 {
		t.Errorf("expected one renew call, got %d", fr.renews)
	}
	if second.Reason != "still editing" {
		t.Errorf("reason not updated: %q", second.Reason)
	}
}

func TestLazyExpiry(t *testing.T) {
	fr := newFakeLockRemote()
	now := time.Now().UTC()
	clock := now
	m := New(fr, Owner{UserID: "bob"}, nil, Options{
		Logger: log.New(io.Discard, "", 0),
		Now:    func() time.Time { return clock },
	})

	fr.locks["p1"] = &model.ProjectLock{
		ID: "l1", ProjectID: "p1", LockedByUserID: "alice",
		LockedAt: now, ExpiresAt: now.Add(time.Minute), IsActive: true,
	}
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if !m.IsLocked("p1") || m.CanEdit("p1") {
		t.Fatal("lock should be visible before expiry")
	}

	// Past expiry, before any sweep: reads already treat it as absent.
	clock = now.Add(2 * time.Minute)
	if m.IsLocked("p1") {
		t.Error("expired lock must read as absent before the sweep")
	}
	if !m.CanEdit("p1") {
		t.Error("expired lock must not block edits")
	}

	// The sweep physically purges it, locally and remotely.
	m.Sweep(context.Background())
	if fr.cleanups != 1 {
		t.Errorf("expected remote cleanup call, got %d", fr.cleanups)
	}
	if len(m.ActiveLocks()) != 0 {
		t.Error("sweep should purge the cache")
	}
}

func TestUnlockOnlyOwn(t *testing.T) {
	fr := newFakeLockRemote()
	alice := newManager(t, fr, "alice")
	bob := newManager(t, fr, "bob")

	if _, err := alice.Lock(context.Background(), "p1", "", time.Hour); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// Bob's unlock is a no-op on alice's lock.
	if err := bob.Unlock(context.Background(), "p1"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if fr.locks["p1"] == nil {
		t.Fatal("bob must not release alice's lock")
	}

	if err := alice.Unlock(context.Background(), "p1"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if fr.locks["p1"] != nil {
		t.Error("alice's unlock should release the lock")
	}
	if alice.IsLocked("p1") {
		t.Error("cache should drop the released lock")
	}
}

func TestAdminUnlockAnyOwner(t *testing.T) {
	fr := newFakeLockRemote()
	alice := newManager(t, fr, "alice")
	admin := newManager(t, fr, "root")

	if _, err := alice.Lock(context.Background(), "p1", "", time.Hour); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	ok, err := admin.AdminUnlock(context.Background(), "p1")
	if err != nil || !ok {
		t.Fatalf("AdminUnlock = %v, %v", ok, err)
	}
	if fr.locks["p1"] != nil {
		t.Error("admin unlock should clear the lock")
	}

	ok, err = admin.AdminUnlock(context.Background(), "p1")
	if err != nil {
		t.Fatalf("second AdminUnlock errored: %v", err)
	}
	if ok {
		t.Error("unlocking a lock-free project should report false")
	}
}

func TestExtendRequiresOwnership(t *testing.T) {
	fr := newFakeLockRemote()
	alice := newManager(t, fr, "alice")
	bob := newManager(t, fr, "bob")

	if _, err := alice.Lock(context.Background(), "p1", "", time.Hour); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if err := bob.Extend(context.Background(), "p1", 30*time.Minute); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner for bob, got %v", err)
	}

	before := fr.locks["p1"].ExpiresAt
	if err := alice.Extend(context.Background(), "p1", 30*time.Minute); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if got := fr.locks["p1"].ExpiresAt; !got.After(before) {
		t.Errorf("expiry not extended: %v -> %v", before, got)
	}
}

func TestUserLocks(t *testing.T) {
	fr := newFakeLockRemote()
	alice := newManager(t, fr, "alice")

	for _, p := range []string{"p1", "p2"} {
		if _, err := alice.Lock(context.Background(), p, "", time.Hour); err != nil {
			t.Fatalf("Lock %s failed: %v", p, err)
		}
	}
	fr.locks["p3"] = &model.ProjectLock{
		ID: "l3", ProjectID: "p3", LockedByUserID: "bob",
		ExpiresAt: time.Now().Add(time.Hour), IsActive: true,
	}
	if err := alice.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	mine := alice.UserLocks("alice")
	if len(mine) != 2 {
		t.Errorf("expected 2 owned locks, got %d", len(mine))
	}
	if len(alice.ActiveLocks()) != 3 {
		t.Errorf("expected 3 active locks overall, got %d", len(alice.ActiveLocks()))
	}
}
