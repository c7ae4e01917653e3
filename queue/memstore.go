package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// readyHeap orders jobs by (priority, seq): lowest priority number first,
// FIFO within a level.
type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// MemoryStore is the in-process queue backend. A single lock guards all
// state; no operation under it performs I/O.
type MemoryStore struct {
	mu        sync.Mutex
	ready     readyHeap
	jobs      map[string]*Job
	delayed   map[string]*Job
	dead      []*DeadLetterEntry
	recurring map[string]*RecurringJob
	seq       atomic.Uint64
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		delayed:   make(map[string]*Job),
		recurring: make(map[string]*RecurringJob),
	}
}

// NextSeq returns the next FIFO sequence number
func (s *MemoryStore) NextSeq(ctx context.Context) (uint64, error) {
	return s.seq.Add(1), nil
}

// Enqueue adds a job to the ready or delayed pool
func (s *MemoryStore) Enqueue(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job
	if job.State == StateDelayed {
		s.delayed[job.ID] = job
		return nil
	}
	heap.Push(&s.ready, job)
	return nil
}

// Dequeue pops the highest-priority ready job and marks it active
func (s *MemoryStore) Dequeue(ctx context.Context, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.ready.Len() > 0 {
		job := heap.Pop(&s.ready).(*Job)
		// A removed or externally mutated job may still sit in the heap
		if current, ok := s.jobs[job.ID]; !ok || current.State != StateWaiting {
			continue
		}
		job.State = StateActive
		job.UpdatedAt = now
		return job, nil
	}
	return nil, nil
}

// PromoteDue moves due delayed jobs into the ready pool
func (s *MemoryStore) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promoted := 0
	for id, job := range s.delayed {
		if job.NotBefore.After(now) {
			continue
		}
		delete(s.delayed, id)
		job.State = StateWaiting
		job.UpdatedAt = now
		heap.Push(&s.ready, job)
		promoted++
	}
	return promoted, nil
}

// Get returns a job by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.jobs[id], nil
}

// Update persists the job record
func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job
	return nil
}

// Remove drops a not-yet-dispatched job
func (s *MemoryStore) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	delete(s.delayed, id)
	// The heap entry, if any, is skipped at dequeue time
	return true, nil
}

// MoveToDead parks the job record and appends a dead-letter entry
func (s *MemoryStore) MoveToDead(ctx context.Context, entry *DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[entry.OriginalID]; ok {
		job.State = StateDead
	}
	s.dead = append(s.dead, entry)
	return nil
}

// ListByState pages jobs in a state, oldest first
func (s *MemoryStore) ListByState(ctx context.Context, state State, offset, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Job
	for _, job := range s.jobs {
		if job.State == state {
			matched = append(matched, job)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })

	return page(matched, offset, limit), nil
}

// DeadLetters pages the dead-letter sink, most recent first
func (s *MemoryStore) DeadLetters(ctx context.Context, offset, limit int) ([]*DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reversed := make([]*DeadLetterEntry, len(s.dead))
	for i, e := range s.dead {
		reversed[len(s.dead)-1-i] = e
	}
	return page(reversed, offset, limit), nil
}

// Stats returns the per-state census
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, job := range s.jobs {
		switch job.State {
		case StateWaiting:
			st.Waiting++
		case StateActive:
			st.Active++
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		case StateDelayed:
			st.Delayed++
		}
	}
	st.DeadLetter = int64(len(s.dead))
	return st, nil
}

// Clean removes terminal records older than the grace period
func (s *MemoryStore) Clean(ctx context.Context, grace time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-grace)
	removed := 0

	for id, job := range s.jobs {
		if !job.State.Terminal() && job.State != StateFailed {
			continue
		}
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		removed++
	}

	kept := s.dead[:0]
	for _, e := range s.dead {
		if e.FailedAt.After(cutoff) {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	s.dead = kept

	return removed, nil
}

// SaveRecurring persists a cron schedule
func (s *MemoryStore) SaveRecurring(ctx context.Context, rec *RecurringJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recurring[rec.ID] = rec
	return nil
}

// ListRecurring returns every persisted schedule
func (s *MemoryStore) ListRecurring(ctx context.Context) ([]*RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*RecurringJob, 0, len(s.recurring))
	for _, rec := range s.recurring {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RemoveRecurring drops a persisted schedule
func (s *MemoryStore) RemoveRecurring(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recurring[id]; !ok {
		return engerr.E(engerr.KindNotFound, "recurring job %s not found", id)
	}
	delete(s.recurring, id)
	return nil
}

// Health always succeeds for the in-process store
func (s *MemoryStore) Health(ctx context.Context) error { return nil }

// Close is a no-op for the in-process store
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// page applies offset/limit to a slice; limit <= 0 means no limit
func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
