package errtrack

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/remote"
	"github.com/syncboard/syncboard/internal/store"
)

func testChange(t *testing.T) *model.PendingChange {
	t.Helper()
	return model.NewPendingChange(model.EntityTasks, model.ActionUpdate, "t1", json.RawMessage(`{"status":"done"}`))
}

func TestStreakAccounting(t *testing.T) {
	tr := New(nil)

	// success, success, failure, success
	tr.Observe(true, 100*time.Millisecond)
	tr.Observe(true, 200*time.Millisecond)
	tr.Observe(false, 0)
	tr.Observe(true, 300*time.Millisecond)

	m := tr.Metrics()
	if m.TotalAttempts != 4 {
		t.Errorf("totalAttempts = %d, want 4", m.TotalAttempts)
	}
	if m.SuccessfulSyncs != 3 {
		t.Errorf("successfulSyncs = %d, want 3", m.SuccessfulSyncs)
	}
	if m.FailedSyncs != 1 {
		t.Errorf("failedSyncs = %d, want 1", m.FailedSyncs)
	}
	if m.CurrentStreak.Type != "success" || m.CurrentStreak.Count != 1 {
		t.Errorf("currentStreak = %+v, want {success 1}", m.CurrentStreak)
	}
}

func TestAverageResponseTimeOverSuccessesOnly(t *testing.T) {
	tr := New(nil)
	tr.Observe(true, 100*time.Millisecond)
	tr.Observe(false, 10*time.Second) // failure duration must not count
	tr.Observe(true, 300*time.Millisecond)

	m := tr.Metrics()
	if m.AverageResponseTime != 200 {
		t.Errorf("averageResponseTime = %v, want 200", m.AverageResponseTime)
	}
	if m.LastSuccessfulSync == nil {
		t.Error("lastSuccessfulSync not set")
	}
}

func TestStreakGrowsOnRepeatedOutcome(t *testing.T) {
	tr := New(nil)
	for i := 0; i < 3; i++ {
		tr.Observe(false, 0)
	}
	m := tr.Metrics()
	if m.CurrentStreak.Type != "failure" || m.CurrentStreak.Count != 3 {
		t.Errorf("currentStreak = %+v, want {failure 3}", m.CurrentStreak)
	}
}

func TestNewErrorClassification(t *testing.T) {
	change := testChange(t)
	err := &remote.Error{Kind: remote.KindAuth, Operation: "update", Message: "jwt expired"}

	se := NewError(change, err, 1)
	if se.Kind != remote.KindAuth {
		t.Errorf("kind = %s, want auth", se.Kind)
	}
	if se.Retryable {
		t.Error("auth errors must not be retryable")
	}
	if se.Suggested == "" {
		t.Error("expected a suggested action for a non-retryable kind")
	}
	if se.EntityID != "t1" || se.Operation != model.ActionUpdate {
		t.Errorf("context not carried: %+v", se)
	}
	if string(se.Payload) != string(change.Payload) {
		t.Error("payload must be carried for replay")
	}
}

func TestNewExhaustedNeverRetryable(t *testing.T) {
	change := testChange(t)
	change.RetryCount = 3

	se := NewExhausted(change, &remote.Error{Kind: remote.KindServer, Message: "500"})
	if se.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", se.Attempt)
	}
	if se.Retryable {
		t.Error("a retired change must not be marked retryable")
	}
	if se.Suggested == "" || se.Suggested == remote.KindServer.SuggestedAction() {
		t.Errorf("suggested = %q, want a resubmit instruction, not the in-queue hint", se.Suggested)
	}

	// Non-retryable kinds keep their kind-specific instruction.
	se = NewExhausted(change, &remote.Error{Kind: remote.KindValidation, Message: "bad field"})
	if se.Retryable {
		t.Error("validation exhaustion must not be retryable")
	}
	if se.Suggested != remote.KindValidation.SuggestedAction() {
		t.Errorf("suggested = %q, want the validation instruction", se.Suggested)
	}
}

func TestResolveRemoves(t *testing.T) {
	tr := New(nil)
	se := NewError(testChange(t), &remote.Error{Kind: remote.KindNetwork, Message: "down"}, 3)
	tr.Record(se)

	if !tr.Resolve(se.ID) {
		t.Fatal("Resolve returned false for a known error")
	}
	if tr.Resolve(se.ID) {
		t.Error("Resolve returned true for an already-removed error")
	}
	if len(tr.Errors()) != 0 {
		t.Errorf("expected no errors after resolve, got %d", len(tr.Errors()))
	}
}

func TestClearSubsetAndAll(t *testing.T) {
	tr := New(nil)
	var ids []string
	for i := 0; i < 3; i++ {
		se := NewError(testChange(t), &remote.Error{Kind: remote.KindServer, Message: "500"}, 1)
		tr.Record(se)
		ids = append(ids, se.ID)
	}

	if n := tr.Clear(ids[0], ids[2]); n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}
	remaining := tr.Errors()
	if len(remaining) != 1 || remaining[0].ID != ids[1] {
		t.Errorf("unexpected remaining errors: %+v", remaining)
	}

	if n := tr.Clear(); n != 1 {
		t.Errorf("Clear all removed %d, want 1", n)
	}
}

func TestNoteRetryFailure(t *testing.T) {
	tr := New(nil)
	se := NewError(testChange(t), &remote.Error{Kind: remote.KindNetwork, Message: "down"}, 3)
	tr.Record(se)

	tr.NoteRetryFailure(se.ID, &remote.Error{Kind: remote.KindValidation, Message: "bad field"})
	got := tr.Get(se.ID)
	if got.Attempt != 4 {
		t.Errorf("attempt = %d, want 4", got.Attempt)
	}
	if got.Kind != remote.KindValidation || got.Retryable {
		t.Errorf("reclassification not applied: %+v", got)
	}

	// Even a retryable kind does not make a recorded error auto-retry
	// again; it replays only on another explicit retry.
	tr.NoteRetryFailure(se.ID, &remote.Error{Kind: remote.KindServer, Message: "500"})
	if got := tr.Get(se.ID); got.Retryable {
		t.Errorf("recorded error flipped back to retryable: %+v", got)
	}
}

func TestUnresolvedGrouping(t *testing.T) {
	tr := New(nil)
	kinds := []remote.Kind{remote.KindServer, remote.KindAuth, remote.KindServer}
	for _, k := range kinds {
		tr.Record(NewError(testChange(t), &remote.Error{Kind: k, Message: "x"}, 1))
	}

	got := tr.Unresolved()
	if len(got) != 3 {
		t.Fatalf("expected 3 unresolved, got %d", len(got))
	}
	// Grouped by kind: auth sorts before server.
	if got[0].Kind != remote.KindAuth || got[1].Kind != remote.KindServer || got[2].Kind != remote.KindServer {
		t.Errorf("unexpected grouping: %s %s %s", got[0].Kind, got[1].Kind, got[2].Kind)
	}
}

func TestPersistenceAcrossTrackers(t *testing.T) {
	st := store.NewMemory()

	tr := New(st)
	se := NewError(testChange(t), &remote.Error{Kind: remote.KindServer, Message: "500"}, 2)
	tr.Record(se)
	tr.Observe(false, 0)

	tr2 := New(st)
	if got := tr2.Get(se.ID); got == nil {
		t.Fatal("recorded error did not survive restart")
	}
	m := tr2.Metrics()
	if m.TotalAttempts != 1 || m.FailedSyncs != 1 {
		t.Errorf("metrics did not survive restart: %+v", m)
	}
}
