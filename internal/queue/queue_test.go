package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/remote"
	"github.com/syncboard/syncboard/internal/store"
)

func setupQueue(t *testing.T, maxRetries int) *Queue {
	t.Helper()
	return New(store.NewMemory(), maxRetries)
}

func enqueue(t *testing.T, q *Queue, entityID string) *model.PendingChange {
	t.Helper()
	c, err := q.Enqueue(model.EntityTasks, model.ActionUpdate, entityID, json.RawMessage(`{"status":"in-progress"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return c
}

func TestDrainAppliesInOrder(t *testing.T) {
	q := setupQueue(t, 0)
	enqueue(t, q, "t1")
	enqueue(t, q, "t2")
	enqueue(t, q, "t3")

	var seen []string
	res, err := q.Drain(context.Background(), func(_ context.Context, c *model.PendingChange) error {
		seen = append(seen, c.EntityID)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Applied != 3 || res.Failed != 0 || len(res.Dropped) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(seen) != 3 || seen[0] != "t1" || seen[1] != "t2" || seen[2] != "t3" {
		t.Errorf("expected FIFO replay, got %v", seen)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after full drain, got %d", q.Len())
	}
}

func TestRetryableFailureStaysQueued(t *testing.T) {
	q := setupQueue(t, 3)
	enqueue(t, q, "t1")

	netErr := &remote.Error{Kind: remote.KindNetwork, Message: "connection refused"}
	res, err := q.Drain(context.Background(), func(context.Context, *model.PendingChange) error {
		return netErr
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Failed != 1 || len(res.Dropped) != 0 {
		t.Errorf("expected 1 still pending, got %+v", res)
	}

	pending, _ := q.Pending()
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Errorf("expected retryCount 1, got %+v", pending)
	}
}

func TestRetryExhaustionRetires(t *testing.T) {
	q := setupQueue(t, 3)
	enqueue(t, q, "t1")

	netErr := &remote.Error{Kind: remote.KindTimeout, Message: "deadline exceeded"}
	apply := func(context.Context, *model.PendingChange) error { return netErr }

	var dropped []Terminal
	for i := 0; i < 3; i++ {
		res, err := q.Drain(context.Background(), apply)
		if err != nil {
			t.Fatalf("Drain %d failed: %v", i, err)
		}
		dropped = append(dropped, res.Dropped...)
	}

	if q.Len() != 0 {
		t.Errorf("expected queue empty after exhaustion, got %d", q.Len())
	}
	if len(dropped) != 1 {
		t.Fatalf("expected exactly one terminal change, got %d", len(dropped))
	}
	if dropped[0].Change.RetryCount != 3 {
		t.Errorf("expected retryCount 3 at retirement, got %d", dropped[0].Change.RetryCount)
	}

	// No further drains produce anything.
	res, _ := q.Drain(context.Background(), apply)
	if res.Applied != 0 || res.Failed != 0 || len(res.Dropped) != 0 {
		t.Errorf("retired change resurfaced: %+v", res)
	}
}

func TestNonRetryableDropsImmediately(t *testing.T) {
	q := setupQueue(t, 3)
	enqueue(t, q, "t1")

	authErr := &remote.Error{Kind: remote.KindAuth, Message: "jwt expired"}
	res, err := q.Drain(context.Background(), func(context.Context, *model.PendingChange) error {
		return authErr
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(res.Dropped) != 1 || res.Failed != 0 {
		t.Errorf("auth failure must retire on first attempt: %+v", res)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestConcurrentDrainIsNoOp(t *testing.T) {
	q := setupQueue(t, 3)
	enqueue(t, q, "t1")

	var inner error
	_, err := q.Drain(context.Background(), func(ctx context.Context, _ *model.PendingChange) error {
		_, inner = q.Drain(ctx, func(context.Context, *model.PendingChange) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("outer Drain failed: %v", err)
	}
	if inner != ErrDrainInProgress {
		t.Errorf("expected ErrDrainInProgress from nested drain, got %v", inner)
	}
}

func TestMixedOutcomes(t *testing.T) {
	q := setupQueue(t, 3)
	enqueue(t, q, "ok")
	enqueue(t, q, "flaky")
	enqueue(t, q, "bad")

	res, err := q.Drain(context.Background(), func(_ context.Context, c *model.PendingChange) error {
		switch c.EntityID {
		case "flaky":
			return &remote.Error{Kind: remote.KindServer, Message: "500"}
		case "bad":
			return &remote.Error{Kind: remote.KindValidation, Message: "bad payload"}
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Applied != 1 || res.Failed != 1 || len(res.Dropped) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Dropped[0].Change.EntityID != "bad" {
		t.Errorf("expected validation failure retired, got %s", res.Dropped[0].Change.EntityID)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 still queued, got %d", q.Len())
	}
}

func TestClear(t *testing.T) {
	q := setupQueue(t, 3)
	enqueue(t, q, "t1")
	enqueue(t, q, "t2")
	if err := q.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after Clear, got %d", q.Len())
	}
}
