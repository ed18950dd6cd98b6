package model

import (
	"fmt"
	"time"
)

// ProjectLock is a time-bound exclusive editing lease on a project.
//
// At most one active, unexpired lock may exist per project; the remote
// store's uniqueness constraint is the authority on races, the local cache
// is advisory. A lock past ExpiresAt is treated as absent everywhere even
// if IsActive has not been flipped yet (lazy expiry); the periodic sweep
// physically deactivates it later.
type ProjectLock struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	LockedByUserID string    `json:"locked_by_user_id"`
	LockedByEmail  string    `json:"locked_by_email,omitempty"`
	LockedByName   string    `json:"locked_by_name"`
	LockedAt       time.Time `json:"locked_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Reason         string    `json:"lock_reason,omitempty"`
	IsActive       bool      `json:"is_active"`
}

// ActiveAt reports whether the lease grants exclusivity at the given
// instant: flagged active and not yet expired.
func (l *ProjectLock) ActiveAt(now time.Time) bool {
	return l.IsActive && l.ExpiresAt.After(now)
}

// Expired reports whether the lease is past its expiry, regardless of the
// IsActive flag.
func (l *ProjectLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// OwnedBy reports whether the lease belongs to the given user.
func (l *ProjectLock) OwnedBy(userID string) bool {
	return l.LockedByUserID == userID
}

// Validate checks required lock fields.
func (l *ProjectLock) Validate() error {
	if l.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if l.LockedByUserID == "" {
		return fmt.Errorf("locked_by_user_id is required")
	}
	if l.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at is required")
	}
	return nil
}
