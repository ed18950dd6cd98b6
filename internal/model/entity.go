// Package model defines the domain records tracked by syncboard and the
// bookkeeping types the sync subsystem threads through the local store,
// the pending-change queue, and the remote mirror.
//
// Entities are flat JSON documents with stable string IDs. The local store
// is the system of record; the remote copy is a mirror that only becomes
// authoritative for a field once a write has been acknowledged.
package model

import (
	"crypto/rand"
	"fmt"
	"time"
)

// EntityType identifies a syncable record collection. The values double as
// remote table names and local store namespaces.
type EntityType string

const (
	EntityProjects   EntityType = "projects"
	EntityUsers      EntityType = "users"
	EntityTasks      EntityType = "tasks"
	EntityMilestones EntityType = "milestones"
)

// KnownEntityTypes lists every collection the sync engine mirrors, in the
// order a full resync processes them.
var KnownEntityTypes = []EntityType{EntityProjects, EntityUsers, EntityTasks, EntityMilestones}

// Valid reports whether t names a known collection.
func (t EntityType) Valid() bool {
	for _, k := range KnownEntityTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Project is a tracked project. Tasks and milestones reference it by ID
// rather than nesting under it, so each collection syncs independently.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`   // planning, in-progress, completed, on-hold
	Priority    string   `json:"priority"` // low, medium, high
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	Progress    int      `json:"progress"`
	Color       string   `json:"color,omitempty"`
	ManagerID   string   `json:"manager_id,omitempty"`
	TeamUserIDs []string `json:"team_user_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required Project fields.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Status == "" {
		return fmt.Errorf("status is required")
	}
	if p.Progress < 0 || p.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d)", p.Progress)
	}
	return nil
}

// Task is a unit of work inside a project.
type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`   // todo, in-progress, completed
	Priority    string `json:"priority"` // low, medium, high
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueDate     string `json:"due_date,omitempty"`

	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	ActualHours    float64  `json:"actual_hours,omitempty"`
	Tags           []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required Task fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// User is a team member. Only the fields the sync core and lock manager
// need; profile extras ride along in the JSON document untouched.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`   // admin, project_manager, developer, ...
	Status   string `json:"status,omitempty"` // active, inactive, pending
	JoinedAt string `json:"joined_date,omitempty"`

	LastActive string `json:"last_active,omitempty"`
}

// Validate checks required User fields.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("id is required")
	}
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	return nil
}

// Milestone is a dated checkpoint within a project.
type Milestone struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
}

// Validate checks required Milestone fields.
func (m *Milestone) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if m.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// NewID returns a random 128-bit hex identifier. Entity IDs are minted
// locally so offline creates never block on the remote store.
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("id-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b[:])
}
