package queue

import (
	"time"

	"github.com/axiomflow/orchestrator/cache"
)

// State is a job's lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDead      State = "dead"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDead
}

// WorkflowRef ties a job back to the workflow node it executes. Upstream
// results are forwarded from completed parent nodes at enqueue time.
type WorkflowRef struct {
	WorkflowID      string         `json:"workflow_id"`
	NodeID          string         `json:"node_id"`
	UpstreamResults map[string]any `json:"upstream_results,omitempty"`
}

// Job is a unit of work. ID and ContentHash are assigned on first add and
// preserved across retries.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	Priority    int            `json:"priority"` // 1 highest .. 100 lowest
	GroupKey    string         `json:"group_key,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CachePolicy *cache.Policy  `json:"cache_policy,omitempty"`
	Workflow    *WorkflowRef   `json:"workflow,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	RecurringID string         `json:"recurring_id,omitempty"`

	MaxAttempts int    `json:"max_attempts,omitempty"` // 0 defers to the retry policy
	Attempts    int    `json:"attempts"`
	State       State  `json:"state"`
	Seq         uint64 `json:"seq"`

	NotBefore   time.Time  `json:"not_before,omitempty"`
	Result      any        `json:"result,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a shallow copy safe for re-submission as a fresh job
func (j *Job) Clone() *Job {
	cp := *j
	cp.Result = nil
	cp.LastError = ""
	cp.StartedAt = nil
	cp.CompletedAt = nil
	return &cp
}

// DeadLetterEntry records a job that exhausted its retry budget or hit a
// non-retryable error. Entries are retained until cleaned explicitly.
type DeadLetterEntry struct {
	OriginalID    string    `json:"original_id"`
	Job           *Job      `json:"job"`
	FailureReason string    `json:"failure_reason"`
	FailedAt      time.Time `json:"failed_at"`
	Attempts      int       `json:"attempts"`
}

// Stats is the per-state job census.
type Stats struct {
	Waiting    int64 `json:"waiting"`
	Active     int64 `json:"active"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Delayed    int64 `json:"delayed"`
	DeadLetter int64 `json:"dead_letter"`
}

// RecurringJob is a persisted cron schedule that spawns independent job
// copies at each firing.
type RecurringJob struct {
	ID        string    `json:"id"`
	Spec      string    `json:"spec"` // standard 5-field cron, UTC
	Template  *Job      `json:"template"`
	CreatedAt time.Time `json:"created_at"`
}
