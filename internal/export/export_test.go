package export

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/store"
)

func seedStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewMemory()
	put := func(et model.EntityType, id, doc string) {
		t.Helper()
		if err := st.Upsert(et, store.Record{ID: id, Data: json.RawMessage(doc)}); err != nil {
			t.Fatalf("seeding %s/%s: %v", et, id, err)
		}
	}
	put(model.EntityProjects, "p1", `{"id":"p1","name":"Website Redesign"}`)
	put(model.EntityUsers, "u1", `{"id":"u1","name":"Alice Chen","email":"alice@example.test"}`)
	put(model.EntityTasks, "t1", `{"id":"t1","project_id":"p1","title":"Draft homepage","description":"hero and nav","status":"in-progress","priority":"high","assignee_id":"u1","due_date":"2026-09-15","estimated_hours":6.5,"tags":["design","frontend"]}`)
	put(model.EntityTasks, "t2", `{"id":"t2","project_id":"p-gone","title":"Orphan","assignee_id":"u-gone"}`)
	put(model.EntityMilestones, "m1", `{"id":"m1","project_id":"p1","title":"Launch"}`)
	return st
}

func TestJSONSnapshot(t *testing.T) {
	st := seedStore(t)
	out, err := JSON(st)
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(out, &snap); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if snap.Version != FormatVersion {
		t.Errorf("version = %q, want %q", snap.Version, FormatVersion)
	}
	if snap.ExportDate.IsZero() {
		t.Error("exportDate not stamped")
	}
	if len(snap.Projects) != 1 || len(snap.Users) != 1 || len(snap.Tasks) != 2 || len(snap.Milestones) != 1 {
		t.Errorf("unexpected collection sizes: %d/%d/%d/%d",
			len(snap.Projects), len(snap.Users), len(snap.Tasks), len(snap.Milestones))
	}
}

func TestJSONEmptyStoreHasEmptyArrays(t *testing.T) {
	out, err := JSON(store.NewMemory())
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	// Collaborator tooling expects arrays, never null.
	for _, key := range []string{`"projects": []`, `"tasks": []`} {
		if !strings.Contains(string(out), key) {
			t.Errorf("export missing %s:\n%s", key, out)
		}
	}
}

func TestCSVResolvesNames(t *testing.T) {
	st := seedStore(t)
	out, err := CSV(st)
	if err != nil {
		t.Fatalf("CSV failed: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	for i, col := range csvHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], col)
		}
	}

	byTitle := map[string][]string{}
	for _, r := range rows[1:] {
		byTitle[r[1]] = r
	}

	full := byTitle["Draft homepage"]
	if full == nil {
		t.Fatal("seeded task missing from export")
	}
	if full[0] != "Website Redesign" {
		t.Errorf("project not resolved to name: %q", full[0])
	}
	if full[5] != "Alice Chen" {
		t.Errorf("assignee not resolved to name: %q", full[5])
	}
	if full[7] != "6.5" {
		t.Errorf("estimated hours = %q, want 6.5", full[7])
	}
	if full[8] != "design; frontend" {
		t.Errorf("tags = %q", full[8])
	}

	// Unresolvable IDs pass through verbatim instead of dropping the row.
	orphan := byTitle["Orphan"]
	if orphan == nil {
		t.Fatal("orphan task dropped from export")
	}
	if orphan[0] != "p-gone" || orphan[5] != "u-gone" {
		t.Errorf("unresolvable IDs mangled: project=%q assignee=%q", orphan[0], orphan[5])
	}
	if orphan[7] != "" {
		t.Errorf("zero estimated hours should render empty, got %q", orphan[7])
	}
}
