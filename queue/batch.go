package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// BatchStrategy selects how a batch's jobs are executed.
type BatchStrategy string

const (
	BatchSequential    BatchStrategy = "sequential"
	BatchParallel      BatchStrategy = "parallel"
	BatchPriorityBased BatchStrategy = "priority-based"
)

// defaultBatchConcurrency is the parallel-strategy chunk size.
const defaultBatchConcurrency = 5

// BatchConfig tunes one batch. Priority and GroupKey, when set, are
// inherited by child jobs that did not specify their own.
type BatchConfig struct {
	Strategy        BatchStrategy `json:"strategy"`
	MaxConcurrency  int           `json:"max_concurrency,omitempty"`
	ContinueOnError bool          `json:"continue_on_error"`
	Priority        int           `json:"priority,omitempty"`
	GroupKey        string        `json:"group_key,omitempty"`
}

// Batch is a group of jobs executed under one strategy.
type Batch struct {
	ID     string      `json:"id"`
	Config BatchConfig `json:"config"`
	Jobs   []*Job      `json:"jobs"`
}

// BatchStatus is a batch's lifecycle state.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// JobOutcome is one child job's result inside a batch.
type JobOutcome struct {
	JobID  string `json:"job_id"`
	State  State  `json:"state"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchProgress is a point-in-time view of a batch.
type BatchProgress struct {
	BatchID     string       `json:"batch_id"`
	Total       int          `json:"total"`
	Completed   int          `json:"completed"`
	Failed      int          `json:"failed"`
	Status      BatchStatus  `json:"status"`
	Results     []JobOutcome `json:"results"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// batchRun is the live state of one executing batch.
type batchRun struct {
	mu       sync.Mutex
	progress BatchProgress
	cancel   context.CancelFunc
}

func (r *batchRun) snapshot() BatchProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.progress
	snap.Results = append([]JobOutcome(nil), r.progress.Results...)
	return snap
}

func (r *batchRun) record(outcome JobOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress.Results = append(r.progress.Results, outcome)
	if outcome.State == StateCompleted {
		r.progress.Completed++
	} else {
		r.progress.Failed++
	}
}

func (r *batchRun) finish(status BatchStatus, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress.Status != BatchRunning {
		return
	}
	r.progress.Status = status
	r.progress.CompletedAt = &at
}

func (r *batchRun) status() BatchStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.Status
}

// AddBatch validates and launches a batch, returning its id. Execution
// proceeds in the background; progress is observable via BatchProgress.
func (q *Queue) AddBatch(ctx context.Context, batch *Batch) (string, error) {
	if batch == nil || len(batch.Jobs) == 0 {
		return "", engerr.E(engerr.KindInvalidInput, "batch must contain at least one job")
	}
	for _, job := range batch.Jobs {
		if job == nil || job.Type == "" {
			return "", engerr.E(engerr.KindInvalidInput, "every batch job needs a type")
		}
	}

	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	q.inheritBatchConfig(batch)

	runCtx, cancel := context.WithCancel(context.Background())
	run := &batchRun{
		cancel: cancel,
		progress: BatchProgress{
			BatchID:   batch.ID,
			Total:     len(batch.Jobs),
			Status:    BatchRunning,
			StartedAt: q.now(),
		},
	}

	q.batchesMu.Lock()
	q.batches[batch.ID] = run
	q.batchesMu.Unlock()

	go q.runBatch(runCtx, batch, run)

	q.log.Info("batch started",
		"batch_id", batch.ID, "strategy", batch.Config.Strategy, "jobs", len(batch.Jobs))
	return batch.ID, nil
}

// BatchProgress returns a snapshot of a batch
func (q *Queue) BatchProgress(id string) (BatchProgress, error) {
	q.batchesMu.Lock()
	run, ok := q.batches[id]
	q.batchesMu.Unlock()

	if !ok {
		return BatchProgress{}, engerr.E(engerr.KindNotFound, "batch %s not found", id)
	}
	return run.snapshot(), nil
}

// CancelBatch stops a running batch. Finished batches fail with
// AlreadyTerminal.
func (q *Queue) CancelBatch(id string) error {
	q.batchesMu.Lock()
	run, ok := q.batches[id]
	q.batchesMu.Unlock()

	if !ok {
		return engerr.E(engerr.KindNotFound, "batch %s not found", id)
	}
	if run.status() != BatchRunning {
		return engerr.E(engerr.KindAlreadyTerminal, "batch %s already finished", id)
	}

	run.finish(BatchCancelled, q.now())
	run.cancel()
	q.log.Info("batch cancelled", "batch_id", id)
	return nil
}

// inheritBatchConfig pushes batch-level priority and group key into child
// jobs that did not set their own
func (q *Queue) inheritBatchConfig(batch *Batch) {
	for _, job := range batch.Jobs {
		if job.Priority == 0 && batch.Config.Priority != 0 {
			job.Priority = batch.Config.Priority
		}
		if job.GroupKey == "" {
			if batch.Config.GroupKey != "" {
				job.GroupKey = batch.Config.GroupKey
			} else {
				job.GroupKey = batch.ID
			}
		}
	}
}

// runBatch drives one batch to completion under its strategy
func (q *Queue) runBatch(ctx context.Context, batch *Batch, run *batchRun) {
	var aborted bool

	switch batch.Config.Strategy {
	case BatchParallel:
		aborted = q.runParallel(ctx, batch, run)
	case BatchPriorityBased:
		jobs := append([]*Job(nil), batch.Jobs...)
		sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Priority < jobs[j].Priority })
		aborted = q.runSequential(ctx, jobs, batch.Config, run)
	default:
		aborted = q.runSequential(ctx, batch.Jobs, batch.Config, run)
	}

	if run.status() == BatchCancelled {
		return
	}

	final := BatchCompleted
	if aborted || run.snapshot().Failed > 0 {
		final = BatchFailed
	}
	run.finish(final, q.now())

	snap := run.snapshot()
	q.log.Info("batch finished",
		"batch_id", batch.ID, "status", snap.Status,
		"completed", snap.Completed, "failed", snap.Failed)
}

// runSequential executes jobs one at a time, honoring continueOnError
func (q *Queue) runSequential(ctx context.Context, jobs []*Job, cfg BatchConfig, run *batchRun) bool {
	for _, job := range jobs {
		if ctx.Err() != nil {
			return true
		}

		outcome := q.runBatchJob(ctx, job)
		run.record(outcome)

		if outcome.State != StateCompleted && !cfg.ContinueOnError {
			return true
		}
	}
	return false
}

// runParallel executes jobs in awaited chunks of maxConcurrency
func (q *Queue) runParallel(ctx context.Context, batch *Batch, run *batchRun) bool {
	concurrency := batch.Config.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	for _, chunk := range lo.Chunk(batch.Jobs, concurrency) {
		if ctx.Err() != nil {
			return true
		}

		var wg sync.WaitGroup
		outcomes := make([]JobOutcome, len(chunk))
		for i, job := range chunk {
			wg.Add(1)
			go func(i int, job *Job) {
				defer wg.Done()
				outcomes[i] = q.runBatchJob(ctx, job)
			}(i, job)
		}
		wg.Wait()

		chunkFailed := false
		for _, outcome := range outcomes {
			run.record(outcome)
			if outcome.State != StateCompleted {
				chunkFailed = true
			}
		}
		if chunkFailed && !batch.Config.ContinueOnError {
			return true
		}
	}
	return false
}

// runBatchJob enqueues one child job and awaits its terminal state
func (q *Queue) runBatchJob(ctx context.Context, job *Job) JobOutcome {
	// Register before enqueueing so a fast completion cannot be missed
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	done := q.await(job.ID)

	if _, err := q.Add(ctx, job); err != nil {
		q.forget(job.ID, done)
		return JobOutcome{JobID: job.ID, State: StateFailed, Error: err.Error()}
	}

	select {
	case finished := <-done:
		outcome := JobOutcome{JobID: finished.ID, State: finished.State}
		if finished.State == StateCompleted {
			outcome.Result = finished.Result
		} else {
			outcome.Error = finished.LastError
		}
		return outcome
	case <-ctx.Done():
		return JobOutcome{JobID: job.ID, State: StateFailed, Error: "batch cancelled"}
	}
}
