package store

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/syncboard/syncboard/internal/model"
)

// setupTestStore opens a real SQLite store in a temp directory.
func setupTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := openSQLite(path)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertListRemove(t *testing.T) {
	s := setupTestStore(t)

	rec := Record{ID: "p1", Data: json.RawMessage(`{"id":"p1","name":"Alpha"}`)}
	if err := s.Upsert(model.EntityProjects, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Overwrite in place.
	rec.Data = json.RawMessage(`{"id":"p1","name":"Beta"}`)
	if err := s.Upsert(model.EntityProjects, rec); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := s.List(model.EntityProjects)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	var doc struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(got[0].Data, &doc); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if doc.Name != "Beta" {
		t.Errorf("expected overwritten name Beta, got %q", doc.Name)
	}

	if err := s.Remove(model.EntityProjects, "p1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := s.Remove(model.EntityProjects, "p1"); err != nil {
		t.Errorf("removing a missing record should be a no-op, got %v", err)
	}
	got, _ = s.List(model.EntityProjects)
	if len(got) != 0 {
		t.Errorf("expected empty collection after remove, got %d", len(got))
	}
}

func TestReplaceAll(t *testing.T) {
	s := setupTestStore(t)

	for _, id := range []string{"t1", "t2", "t3"} {
		if err := s.Upsert(model.EntityTasks, Record{ID: id, Data: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	fresh := []Record{
		{ID: "t9", Data: json.RawMessage(`{"id":"t9"}`)},
	}
	if err := s.ReplaceAll(model.EntityTasks, fresh); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	got, err := s.List(model.EntityTasks)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t9" {
		t.Errorf("expected only t9 after ReplaceAll, got %+v", got)
	}

	// Other collections are untouched.
	if err := s.Upsert(model.EntityUsers, Record{ID: "u1", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.ReplaceAll(model.EntityTasks, nil); err != nil {
		t.Fatalf("ReplaceAll to empty failed: %v", err)
	}
	users, _ := s.List(model.EntityUsers)
	if len(users) != 1 {
		t.Errorf("ReplaceAll on tasks must not touch users, got %d users", len(users))
	}
}

func TestPendingFIFO(t *testing.T) {
	s := setupTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		c := model.NewPendingChange(model.EntityTasks, model.ActionUpdate, "t1", json.RawMessage(`{"i":1}`))
		if err := s.AppendPending(c); err != nil {
			t.Fatalf("AppendPending failed: %v", err)
		}
		ids = append(ids, c.ID)
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, c := range pending {
		if c.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s (FIFO order broken)", i, ids[i], c.ID)
		}
	}

	// Retry bookkeeping keeps queue position.
	pending[0].RetryCount = 2
	if err := s.UpdatePending(pending[0]); err != nil {
		t.Fatalf("UpdatePending failed: %v", err)
	}
	pending, _ = s.ListPending()
	if pending[0].ID != ids[0] || pending[0].RetryCount != 2 {
		t.Errorf("retry update must preserve position: got %s retry=%d", pending[0].ID, pending[0].RetryCount)
	}

	if err := s.RemovePending(ids[1]); err != nil {
		t.Fatalf("RemovePending failed: %v", err)
	}
	pending, _ = s.ListPending()
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("unexpected queue after removal: %+v", pending)
	}

	if err := s.ClearPending(); err != nil {
		t.Fatalf("ClearPending failed: %v", err)
	}
	pending, _ = s.ListPending()
	if len(pending) != 0 {
		t.Errorf("expected empty queue after clear, got %d", len(pending))
	}
}

func TestAppendPendingValidates(t *testing.T) {
	s := setupTestStore(t)
	bad := &model.PendingChange{ID: "x", EntityType: "nope", Action: model.ActionCreate, EntityID: "e1", CreatedAt: time.Now()}
	if err := s.AppendPending(bad); err == nil {
		t.Error("expected validation error for unknown entity type")
	}
}

func TestKV(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.GetValue("missing")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %q", got)
	}

	if err := s.SetValue("syncStatus", []byte(`{"is_online":true}`)); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := s.SetValue("syncStatus", []byte(`{"is_online":false}`)); err != nil {
		t.Fatalf("SetValue overwrite failed: %v", err)
	}
	got, _ = s.GetValue("syncStatus")
	if string(got) != `{"is_online":false}` {
		t.Errorf("unexpected kv value: %s", got)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := openSQLite(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Upsert(model.EntityProjects, Record{ID: "p1", Data: json.RawMessage(`{"id":"p1"}`)}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := openSQLite(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()
	got, _ := s2.List(model.EntityProjects)
	if len(got) != 1 {
		t.Errorf("expected data to survive reopen, got %d records", len(got))
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	// A path under a file (not a directory) cannot be created.
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	s := Open(filepath.Join(blocker, "nested", "db.sqlite"), log.New(os.Stderr, "[test] ", 0))
	defer s.Close()

	// Fallback store must stay usable.
	if err := s.Upsert(model.EntityTasks, Record{ID: "t1", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("fallback Upsert failed: %v", err)
	}
	got, err := s.List(model.EntityTasks)
	if err != nil || len(got) != 1 {
		t.Errorf("fallback store unusable: %v, %d records", err, len(got))
	}
}
