package queue

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustEnqueue(t *testing.T, s *Store, entity string, op Operation, payload map[string]string) Mutation {
	t.Helper()
	m, err := s.Enqueue(entity, op, payload, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return m
}

func TestEnqueuePersistsBeforeReturn(t *testing.T) {
	s := openTest(t)
	m := mustEnqueue(t, s, "task-1", OpCreate, map[string]string{"title": "buy milk"})

	got, err := s.Get(m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Payload["title"] != "buy milk" {
		t.Errorf("payload = %v", got.Payload)
	}
	if got.Attempt != 0 {
		t.Errorf("attempt = %d, want 0", got.Attempt)
	}
}

func TestEnqueueRejectsEmptyEntity(t *testing.T) {
	s := openTest(t)
	if _, err := s.Enqueue("", OpCreate, nil, nil); !errors.Is(err, ErrEmptyEntityID) {
		t.Fatalf("err = %v, want ErrEmptyEntityID", err)
	}
}

func TestHeadsOnePerEntity(t *testing.T) {
	s := openTest(t)
	a1 := mustEnqueue(t, s, "task-a", OpCreate, nil)
	mustEnqueue(t, s, "task-a", OpUpdateStatus, map[string]string{"status": "done"})
	b1 := mustEnqueue(t, s, "task-b", OpCreate, nil)

	heads, err := s.Heads()
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 2 {
		t.Fatalf("heads = %d, want 2", len(heads))
	}
	if heads[0].ID != a1.ID || heads[1].ID != b1.ID {
		t.Errorf("heads = [%s %s], want [%s %s]", heads[0].ID, heads[1].ID, a1.ID, b1.ID)
	}
}

func TestInFlightBlocksEntitySubQueue(t *testing.T) {
	s := openTest(t)
	a1 := mustEnqueue(t, s, "task-a", OpCreate, nil)
	a2 := mustEnqueue(t, s, "task-a", OpUpdateStatus, nil)
	b1 := mustEnqueue(t, s, "task-b", OpCreate, nil)

	if _, err := s.MarkInFlight(a1.ID); err != nil {
		t.Fatal(err)
	}

	heads, err := s.Heads()
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || heads[0].ID != b1.ID {
		t.Fatalf("heads while a1 in flight = %v, want only %s", ids(heads), b1.ID)
	}

	// confirming a1 releases a2
	if _, err := s.Confirm(a1.ID, 1); err != nil {
		t.Fatal(err)
	}
	heads, err = s.Heads()
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 2 || heads[0].ID != a2.ID {
		t.Fatalf("heads after confirm = %v, want %s first", ids(heads), a2.ID)
	}
}

func TestMarkInFlightBumpsAttempt(t *testing.T) {
	s := openTest(t)
	m := mustEnqueue(t, s, "task-1", OpCreate, nil)

	for want := 1; want <= 3; want++ {
		inFlight, err := s.MarkInFlight(m.ID)
		if err != nil {
			t.Fatal(err)
		}
		if inFlight.Attempt != want {
			t.Errorf("attempt = %d, want %d", inFlight.Attempt, want)
		}
		if _, err := s.Requeue(m.ID); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConfirmAdvancesBaselineAndRemoves(t *testing.T) {
	s := openTest(t)
	m := mustEnqueue(t, s, "task-1", OpCreate, nil)
	if _, err := s.MarkInFlight(m.ID); err != nil {
		t.Fatal(err)
	}
	confirmed, err := s.Confirm(m.ID, 7)
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("status = %s", confirmed.Status)
	}
	if confirmed.ServerVersion == nil || *confirmed.ServerVersion != 7 {
		t.Errorf("server version = %v, want 7", confirmed.ServerVersion)
	}

	v, ok, err := s.Baseline("task-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != 7 {
		t.Errorf("baseline = %d/%v, want 7", v, ok)
	}

	// a confirmed change has nothing to replay: the row is gone
	if _, err := s.Get(m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after confirm = %v, want ErrNotFound", err)
	}
	if _, err := s.Confirm(m.ID, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("duplicate confirm = %v, want ErrNotFound", err)
	}
}

func TestCancelOnlyPending(t *testing.T) {
	s := openTest(t)
	m := mustEnqueue(t, s, "task-1", OpCreate, nil)

	if err := s.Cancel(m.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if _, err := s.Get(m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after cancel = %v, want ErrNotFound", err)
	}

	m2 := mustEnqueue(t, s, "task-2", OpCreate, nil)
	if _, err := s.MarkInFlight(m2.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel(m2.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("cancel in-flight = %v, want ErrNotPending", err)
	}
}

func TestFailedBlocksUntilRetriedOrDiscarded(t *testing.T) {
	s := openTest(t)
	a1 := mustEnqueue(t, s, "task-a", OpUpdateStatus, map[string]string{"status": "done"})
	a2 := mustEnqueue(t, s, "task-a", OpUpdateFields, nil)

	if _, err := s.MarkInFlight(a1.ID); err != nil {
		t.Fatal(err)
	}
	failed, err := s.MarkFailed(a1.ID)
	if err != nil {
		t.Fatal(err)
	}
	// the original change stays with the failure
	if failed.Payload["status"] != "done" {
		t.Errorf("failed payload = %v", failed.Payload)
	}

	heads, _ := s.Heads()
	if len(heads) != 0 {
		t.Fatalf("failed head must block the entity, got %v", ids(heads))
	}

	retried, err := s.RetryFailed(a1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != StatusPending || retried.Attempt != 0 {
		t.Errorf("retried = %s attempt %d", retried.Status, retried.Attempt)
	}
	heads, _ = s.Heads()
	if len(heads) != 1 || heads[0].ID != a1.ID {
		t.Fatalf("heads after retry = %v", ids(heads))
	}

	if _, err := s.MarkInFlight(a1.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkFailed(a1.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DiscardFailed(a1.ID); err != nil {
		t.Fatal(err)
	}
	heads, _ = s.Heads()
	if len(heads) != 1 || heads[0].ID != a2.ID {
		t.Fatalf("heads after discard = %v, want %s", ids(heads), a2.ID)
	}
}

func TestConflictRebuildAndDrop(t *testing.T) {
	s := openTest(t)
	m := mustEnqueue(t, s, "task-1", OpUpdateFields, map[string]string{"title": "old"})
	if _, err := s.MarkInFlight(m.ID); err != nil {
		t.Fatal(err)
	}
	conflicted, err := s.MarkConflicted(m.ID, 9)
	if err != nil {
		t.Fatal(err)
	}
	if conflicted.ServerVersion == nil || *conflicted.ServerVersion != 9 {
		t.Errorf("server version = %v", conflicted.ServerVersion)
	}

	rebuilt, err := s.RebuildConflicted(m.ID, map[string]string{"title": "new"}, 9)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.Status != StatusPending || rebuilt.Payload["title"] != "new" || rebuilt.Attempt != 0 {
		t.Errorf("rebuilt = %+v", rebuilt)
	}

	if _, err := s.MarkInFlight(m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkConflicted(m.ID, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.DropConflicted(m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after drop = %v", err)
	}
}

func TestBaselineNeverMovesBackward(t *testing.T) {
	s := openTest(t)
	if err := s.SetBaseline("task-1", 5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBaseline("task-1", 3); err != nil {
		t.Fatal(err)
	}
	v, _, err := s.Baseline("task-1")
	if err != nil {
		t.Fatal(err)
	}
	if v != 5 {
		t.Errorf("baseline = %d, want 5", v)
	}
}

func TestHasActive(t *testing.T) {
	s := openTest(t)
	m := mustEnqueue(t, s, "task-1", OpDelete, nil)

	active, err := s.HasActive("task-1")
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Error("pending mutation must count as active")
	}

	if _, err := s.MarkInFlight(m.ID); err != nil {
		t.Fatal(err)
	}
	if active, _ = s.HasActive("task-1"); !active {
		t.Error("in-flight mutation must count as active")
	}

	if _, err := s.Confirm(m.ID, 1); err != nil {
		t.Fatal(err)
	}
	if active, _ = s.HasActive("task-1"); active {
		t.Error("confirmed mutation must not count as active")
	}
}

func TestReopenDemotesInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	m, err := s.Enqueue("task-1", OpCreate, map[string]string{"title": "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkInFlight(m.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// a restart must never leave a mutation stranded in flight
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.Get(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending {
		t.Errorf("status after reopen = %s, want pending", got.Status)
	}
	if got.Payload["title"] != "x" {
		t.Errorf("payload lost across reopen: %v", got.Payload)
	}
}

func TestStatsAndUpdates(t *testing.T) {
	s := openTest(t)
	ch, cancel := s.Updates()
	defer cancel()

	mustEnqueue(t, s, "task-1", OpCreate, nil)
	mustEnqueue(t, s, "task-2", OpCreate, nil)

	var last Stats
	for drained := false; !drained; {
		select {
		case st := <-ch:
			last = st
		default:
			drained = true
		}
	}
	if last.Pending != 2 {
		t.Errorf("pending = %d, want 2", last.Pending)
	}
	if !last.Active() {
		t.Error("stats with pending work must be active")
	}
}

func TestEventsStreamEveryTransition(t *testing.T) {
	s := openTest(t)
	events, cancel := s.Events()
	defer cancel()

	m := mustEnqueue(t, s, "task-1", OpCreate, nil)
	if _, err := s.MarkInFlight(m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Confirm(m.ID, 1); err != nil {
		t.Fatal(err)
	}

	want := []struct {
		status  Status
		removed bool
	}{
		{StatusPending, false},
		{StatusInFlight, false},
		{StatusConfirmed, true}, // confirmation removes the row
	}
	for i, w := range want {
		ev := <-events
		if ev.Mutation.ID != m.ID {
			t.Fatalf("event %d for mutation %s, want %s", i, ev.Mutation.ID, m.ID)
		}
		if ev.Mutation.Status != w.status || ev.Removed != w.removed {
			t.Errorf("event %d = %s removed=%v, want %s removed=%v",
				i, ev.Mutation.Status, ev.Removed, w.status, w.removed)
		}
	}
}

func TestEventsReportRemovals(t *testing.T) {
	s := openTest(t)
	events, cancel := s.Events()
	defer cancel()

	m := mustEnqueue(t, s, "task-1", OpCreate, nil)
	if err := s.Cancel(m.ID); err != nil {
		t.Fatal(err)
	}

	<-events // pending
	ev := <-events
	if !ev.Removed || ev.Mutation.ID != m.ID {
		t.Errorf("event = %+v, want removal of %s", ev, m.ID)
	}
}

func ids(ms []Mutation) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
