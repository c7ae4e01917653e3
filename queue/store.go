package queue

import (
	"context"
	"time"
)

// Store is the pluggable queue backend. Implementations order the ready
// pool by (priority, seq) so equal priorities dispatch in arrival order.
type Store interface {
	// NextSeq returns a monotonically increasing sequence number used as
	// the FIFO tie-break within a priority level.
	NextSeq(ctx context.Context) (uint64, error)

	// Enqueue adds a job to the ready pool (state waiting) or the delayed
	// pool (state delayed, invisible until NotBefore).
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue pops the highest-priority ready job and marks it active.
	// Returns nil when the ready pool is empty.
	Dequeue(ctx context.Context, now time.Time) (*Job, error)

	// PromoteDue moves delayed jobs whose NotBefore has passed into the
	// ready pool. Returns the number promoted.
	PromoteDue(ctx context.Context, now time.Time) (int, error)

	// Get returns a job by id, nil when unknown.
	Get(ctx context.Context, id string) (*Job, error)

	// Update persists the current job record.
	Update(ctx context.Context, job *Job) error

	// Remove drops a job that has not been dispatched. Returns false when
	// the id is unknown.
	Remove(ctx context.Context, id string) (bool, error)

	// MoveToDead records a dead-letter entry and parks the job record.
	MoveToDead(ctx context.Context, entry *DeadLetterEntry) error

	// ListByState pages job records in a given state.
	ListByState(ctx context.Context, state State, offset, limit int) ([]*Job, error)

	// DeadLetters pages the dead-letter sink, most recent first.
	DeadLetters(ctx context.Context, offset, limit int) ([]*DeadLetterEntry, error)

	// Stats returns the per-state census.
	Stats(ctx context.Context) (Stats, error)

	// Clean removes terminal job records and dead letters older than the
	// grace period. Returns the number removed.
	Clean(ctx context.Context, grace time.Duration, now time.Time) (int, error)

	// SaveRecurring persists a cron schedule so it survives restarts.
	SaveRecurring(ctx context.Context, rec *RecurringJob) error

	// ListRecurring returns every persisted schedule.
	ListRecurring(ctx context.Context) ([]*RecurringJob, error)

	// RemoveRecurring drops a persisted schedule.
	RemoveRecurring(ctx context.Context, id string) error

	// Health checks backend reachability.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
