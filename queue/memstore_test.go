package queue

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func enqueueWaiting(t *testing.T, s *MemoryStore, id string, priority int) *Job {
	t.Helper()
	ctx := context.Background()
	seq, _ := s.NextSeq(ctx)
	job := &Job{ID: id, Type: "t", Priority: priority, Seq: seq, State: StateWaiting}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", id, err)
	}
	return job
}

func TestMemoryStoreDequeueByPriority(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	enqueueWaiting(t, s, "low", 50)
	enqueueWaiting(t, s, "high", 1)
	enqueueWaiting(t, s, "mid", 10)

	var order []string
	for {
		job, err := s.Dequeue(ctx, time.Now())
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if job == nil {
			break
		}
		order = append(order, job.ID)
		if job.State != StateActive {
			t.Errorf("dequeued job %s should be active, got %s", job.ID, job.State)
		}
	}

	want := []string{"high", "mid", "low"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("dequeue order %v, want %v", order, want)
	}
}

func TestMemoryStoreFIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		enqueueWaiting(t, s, fmt.Sprintf("job-%d", i), 10)
	}

	for i := 0; i < 5; i++ {
		job, _ := s.Dequeue(ctx, time.Now())
		if job == nil || job.ID != fmt.Sprintf("job-%d", i) {
			t.Fatalf("position %d: got %+v, want job-%d", i, job, i)
		}
	}
}

func TestMemoryStoreDequeueSkipsRemoved(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	enqueueWaiting(t, s, "a", 1)
	enqueueWaiting(t, s, "b", 2)

	removed, err := s.Remove(ctx, "a")
	if err != nil || !removed {
		t.Fatalf("Remove failed: removed=%v err=%v", removed, err)
	}

	job, _ := s.Dequeue(ctx, time.Now())
	if job == nil || job.ID != "b" {
		t.Errorf("removed job should be skipped, got %+v", job)
	}
}

func TestMemoryStorePromoteDue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	due := &Job{ID: "due", Type: "t", Priority: 10, Seq: 1, State: StateDelayed, NotBefore: now.Add(-time.Second)}
	future := &Job{ID: "future", Type: "t", Priority: 10, Seq: 2, State: StateDelayed, NotBefore: now.Add(time.Hour)}
	s.Enqueue(ctx, due)
	s.Enqueue(ctx, future)

	n, err := s.PromoteDue(ctx, now)
	if err != nil {
		t.Fatalf("PromoteDue failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 promotion, got %d", n)
	}

	job, _ := s.Dequeue(ctx, now)
	if job == nil || job.ID != "due" {
		t.Errorf("due job should be ready, got %+v", job)
	}
	if job2, _ := s.Dequeue(ctx, now); job2 != nil {
		t.Errorf("future job must stay delayed, got %+v", job2)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	enqueueWaiting(t, s, "w1", 10)
	enqueueWaiting(t, s, "w2", 10)
	s.Enqueue(ctx, &Job{ID: "d1", Type: "t", Seq: 99, State: StateDelayed, NotBefore: now.Add(time.Hour)})

	active, _ := s.Dequeue(ctx, now)
	if active == nil {
		t.Fatal("expected an active job")
	}

	dead := &Job{ID: "x", Type: "t", State: StateDead}
	s.MoveToDead(ctx, &DeadLetterEntry{OriginalID: "x", Job: dead, FailedAt: now})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Waiting != 1 || st.Active != 1 || st.Delayed != 1 || st.DeadLetter != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestMemoryStoreListByState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 4; i++ {
		enqueueWaiting(t, s, fmt.Sprintf("j%d", i), 10)
	}

	listed, err := s.ListByState(ctx, StateWaiting, 1, 2)
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "j1" || listed[1].ID != "j2" {
		t.Errorf("unexpected page %v", listed)
	}
}

func TestMemoryStoreClean(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	s.Update(ctx, &Job{ID: "old", State: StateCompleted, UpdatedAt: now.Add(-2 * time.Hour)})
	s.Update(ctx, &Job{ID: "fresh", State: StateCompleted, UpdatedAt: now})
	s.Update(ctx, &Job{ID: "running", State: StateActive, UpdatedAt: now.Add(-2 * time.Hour)})
	s.MoveToDead(ctx, &DeadLetterEntry{OriginalID: "d", FailedAt: now.Add(-3 * time.Hour)})

	removed, err := s.Clean(ctx, time.Hour, now)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removals, got %d", removed)
	}

	if job, _ := s.Get(ctx, "old"); job != nil {
		t.Errorf("stale terminal job should be gone")
	}
	if job, _ := s.Get(ctx, "fresh"); job == nil {
		t.Errorf("recent terminal job should survive")
	}
	if job, _ := s.Get(ctx, "running"); job == nil {
		t.Errorf("active job must never be cleaned")
	}
}

func TestMemoryStoreRecurring(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := &RecurringJob{ID: "r1", Spec: "*/5 * * * *", Template: &Job{Type: "t"}, CreatedAt: time.Now()}
	if err := s.SaveRecurring(ctx, rec); err != nil {
		t.Fatalf("SaveRecurring failed: %v", err)
	}

	listed, _ := s.ListRecurring(ctx)
	if len(listed) != 1 || listed[0].ID != "r1" {
		t.Errorf("unexpected recurring list %v", listed)
	}

	if err := s.RemoveRecurring(ctx, "r1"); err != nil {
		t.Fatalf("RemoveRecurring failed: %v", err)
	}
	if err := s.RemoveRecurring(ctx, "r1"); err == nil {
		t.Errorf("expected error removing unknown schedule")
	}
}
