package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomflow/orchestrator/cache"
	"github.com/axiomflow/orchestrator/common/events"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
	"github.com/axiomflow/orchestrator/retry"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ExecuteFunc performs the actual work of one job. The queue owns scheduling
// and retries; execution (typically the provider router) is injected.
type ExecuteFunc func(ctx context.Context, job *Job) (any, error)

// WorkflowGate reports whether a workflow has been cancelled. Jobs belonging
// to a cancelled workflow are dropped instead of dispatched.
type WorkflowGate func(workflowID string) bool

// dispatchPollInterval bounds how long an idle worker sleeps between polls.
const dispatchPollInterval = 250 * time.Millisecond

// dispatcher drives the worker pool: it promotes due delayed jobs, pops
// ready jobs in priority order and runs them through the execute function
// with retry and dead-letter handling.
type dispatcher struct {
	store    Store
	resolver *retry.Resolver
	cache    *cache.Store
	bus      *events.Bus
	log      Logger
	execute  ExecuteFunc
	gate     WorkflowGate
	workers  int

	// onTerminal notifies the queue when a job reaches a terminal state,
	// waking batch waiters.
	onTerminal func(job *Job)

	paused atomic.Bool
	wake   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// run starts the worker pool and blocks until ctx is cancelled
func (d *dispatcher) start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// stop waits for in-flight jobs to finish
func (d *dispatcher) stop() {
	d.wg.Wait()
}

// kick wakes idle workers after an enqueue
func (d *dispatcher) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// worker is one dispatch loop
func (d *dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if d.paused.Load() {
			d.sleep(ctx)
			continue
		}

		if _, err := d.store.PromoteDue(ctx, d.now()); err != nil {
			d.log.Warn("failed to promote delayed jobs", "worker", id, "error", err)
		}

		job, err := d.store.Dequeue(ctx, d.now())
		if err != nil {
			d.log.Warn("dequeue failed", "worker", id, "error", err)
			d.sleep(ctx)
			continue
		}
		if job == nil {
			d.sleep(ctx)
			continue
		}

		d.process(ctx, job)
	}
}

// sleep waits for a kick, the poll interval, or shutdown
func (d *dispatcher) sleep(ctx context.Context) {
	timer := time.NewTimer(dispatchPollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-d.wake:
	case <-timer.C:
	}
}

// process runs one dequeued job end to end
func (d *dispatcher) process(ctx context.Context, job *Job) {
	if job.Workflow != nil && d.gate != nil && d.gate(job.Workflow.WorkflowID) {
		// The workflow was cancelled between enqueue and dispatch
		job.State = StateFailed
		job.LastError = "workflow cancelled"
		job.UpdatedAt = d.now()
		if err := d.store.Update(ctx, job); err != nil {
			d.log.Warn("failed to park cancelled-workflow job", "job_id", job.ID, "error", err)
		}
		return
	}

	job.Attempts++
	started := d.now()
	job.StartedAt = &started
	job.UpdatedAt = started
	if err := d.store.Update(ctx, job); err != nil {
		d.log.Warn("failed to mark job active", "job_id", job.ID, "error", err)
	}

	startedEv := events.Event{Name: events.JobStarted, JobID: job.ID, JobType: job.Type}
	if job.Workflow != nil {
		startedEv.WorkflowID = job.Workflow.WorkflowID
		startedEv.NodeID = job.Workflow.NodeID
	}
	d.publish(ctx, startedEv)

	if result, hit := d.cacheLookup(ctx, job); hit {
		d.log.Debug("job served from cache", "job_id", job.ID, "type", job.Type)
		d.complete(ctx, job, result)
		return
	}

	result, err := d.execute(ctx, job)
	if err != nil {
		d.fail(ctx, job, err)
		return
	}
	d.complete(ctx, job, result)
}

// cacheLookup consults the result cache for jobs carrying a cache policy
func (d *dispatcher) cacheLookup(ctx context.Context, job *Job) (any, bool) {
	if d.cache == nil || job.CachePolicy == nil {
		return nil, false
	}
	result, hit, err := d.cache.Get(ctx, job.Type, job.Payload, cache.GetOptions{})
	if err != nil || !hit {
		return nil, false
	}
	return result, true
}

// complete finishes a job successfully: persists the result, writes the
// cache, and emits completion events.
func (d *dispatcher) complete(ctx context.Context, job *Job, result any) {
	now := d.now()
	job.State = StateCompleted
	job.Result = result
	job.LastError = ""
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := d.store.Update(ctx, job); err != nil {
		d.log.Error("failed to persist completed job", "job_id", job.ID, "error", err)
	}

	if d.cache != nil && job.CachePolicy != nil {
		// The key must stay content-addressed so later jobs with the same
		// payload hit; the producing job id is metadata on the entry only.
		if _, err := d.cache.Set(ctx, job.Type, job.Payload, result, cache.SetOptions{
			OwnerJobID: job.ID,
			Policy:     job.CachePolicy,
		}); err != nil {
			d.log.Warn("failed to cache job result", "job_id", job.ID, "error", err)
		}
	}

	d.publish(ctx, events.Event{
		Name:    events.JobCompleted,
		JobID:   job.ID,
		JobType: job.Type,
		Result:  result,
	})
	if job.Workflow != nil {
		d.publish(ctx, events.Event{
			Name:       events.DAGJobCompleted,
			JobID:      job.ID,
			JobType:    job.Type,
			WorkflowID: job.Workflow.WorkflowID,
			NodeID:     job.Workflow.NodeID,
			Result:     result,
		})
	}

	if d.onTerminal != nil {
		d.onTerminal(job)
	}
}

// fail routes a failed attempt to retry or dead-letter
func (d *dispatcher) fail(ctx context.Context, job *Job, cause error) {
	policy := d.resolver.Policy(job.Type)
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}

	if d.resolver.ShouldRetry(job.Type, cause, job.Attempts, maxAttempts) {
		delay := d.resolver.Delay(policy, job.Attempts)
		job.State = StateDelayed
		job.LastError = cause.Error()
		job.NotBefore = d.now().Add(delay)
		job.UpdatedAt = d.now()

		d.log.Info("job retry scheduled",
			"job_id", job.ID, "type", job.Type,
			"attempt", job.Attempts, "max_attempts", maxAttempts, "delay", delay)

		if err := d.store.Enqueue(ctx, job); err != nil {
			d.log.Error("failed to reschedule job, dead-lettering", "job_id", job.ID, "error", err)
			d.deadLetter(ctx, job, cause)
		}
		return
	}

	d.deadLetter(ctx, job, cause)
}

// deadLetter moves a terminally failed job to the dead-letter sink and
// emits the failure events.
func (d *dispatcher) deadLetter(ctx context.Context, job *Job, cause error) {
	now := d.now()
	job.LastError = cause.Error()
	job.UpdatedAt = now

	entry := &DeadLetterEntry{
		OriginalID:    job.ID,
		Job:           job,
		FailureReason: cause.Error(),
		FailedAt:      now,
		Attempts:      job.Attempts,
	}
	if err := d.store.MoveToDead(ctx, entry); err != nil {
		d.log.Error("failed to dead-letter job", "job_id", job.ID, "error", err)
		job.State = StateFailed
		if uerr := d.store.Update(ctx, job); uerr != nil {
			d.log.Error("failed to park failed job", "job_id", job.ID, "error", uerr)
		}
	}

	reason := engerr.KindOf(cause).String()
	d.log.Warn("job dead-lettered",
		"job_id", job.ID, "type", job.Type,
		"attempts", job.Attempts, "reason", reason, "error", cause)

	d.publish(ctx, events.Event{
		Name:    events.JobFailed,
		JobID:   job.ID,
		JobType: job.Type,
		Error:   cause.Error(),
	})
	d.publish(ctx, events.Event{
		Name:    events.JobDeadLettered,
		JobID:   job.ID,
		JobType: job.Type,
		Error:   cause.Error(),
		Fields:  map[string]any{"reason": reason, "attempts": job.Attempts},
	})
	if job.Workflow != nil {
		d.publish(ctx, events.Event{
			Name:       events.DAGJobFailed,
			JobID:      job.ID,
			JobType:    job.Type,
			WorkflowID: job.Workflow.WorkflowID,
			NodeID:     job.Workflow.NodeID,
			Error:      cause.Error(),
		})
	}

	if d.onTerminal != nil {
		d.onTerminal(job)
	}
}

// publish emits an event when a bus is attached
func (d *dispatcher) publish(ctx context.Context, ev events.Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, ev)
}
