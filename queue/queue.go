// Package queue implements the durable priority job queue: priority-ordered
// dispatch, delayed and recurring scheduling, retry with dead-lettering, and
// batch orchestration.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/axiomflow/orchestrator/cache"
	"github.com/axiomflow/orchestrator/common/events"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
	"github.com/axiomflow/orchestrator/retry"
)

// Config tunes the queue.
type Config struct {
	Workers             int // dispatcher fan-out; default 10
	FailedThreshold     int // health: failed count ceiling; default 100
	DeadLetterThreshold int // health: dead-letter count ceiling; default 50
	ActiveThreshold     int // health: active count ceiling; default 1000
}

// DefaultConfig returns the standard queue tuning
func DefaultConfig() Config {
	return Config{
		Workers:             10,
		FailedThreshold:     100,
		DeadLetterThreshold: 50,
		ActiveThreshold:     1000,
	}
}

// Queue is the public job queue API.
type Queue struct {
	store    Store
	resolver *retry.Resolver
	cache    *cache.Store
	bus      *events.Bus
	log      Logger
	cfg      Config

	dispatcher *dispatcher
	cron       *cron.Cron
	cronIDs    map[string]cron.EntryID
	cronMu     sync.Mutex

	waitersMu sync.Mutex
	waiters   map[string][]chan *Job

	batchesMu sync.Mutex
	batches   map[string]*batchRun

	now func() time.Time
}

// Opts contains options for creating a queue
type Opts struct {
	Store    Store
	Resolver *retry.Resolver
	Cache    *cache.Store // optional result cache
	Bus      *events.Bus
	Logger   Logger
	Config   Config
}

// New creates a queue over a store. Execution is injected via SetExecute
// before Start.
func New(opts *Opts) *Queue {
	cfg := opts.Config
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.FailedThreshold <= 0 {
		cfg.FailedThreshold = 100
	}
	if cfg.DeadLetterThreshold <= 0 {
		cfg.DeadLetterThreshold = 50
	}
	if cfg.ActiveThreshold <= 0 {
		cfg.ActiveThreshold = 1000
	}

	q := &Queue{
		store:    opts.Store,
		resolver: opts.Resolver,
		cache:    opts.Cache,
		bus:      opts.Bus,
		log:      opts.Logger,
		cfg:      cfg,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		cronIDs:  make(map[string]cron.EntryID),
		waiters:  make(map[string][]chan *Job),
		batches:  make(map[string]*batchRun),
		now:      time.Now,
	}

	q.dispatcher = &dispatcher{
		store:      opts.Store,
		resolver:   opts.Resolver,
		cache:      opts.Cache,
		bus:        opts.Bus,
		log:        opts.Logger,
		workers:    cfg.Workers,
		wake:       make(chan struct{}, 1),
		now:        q.now,
		onTerminal: q.notifyTerminal,
	}

	return q
}

// SetExecute injects the execution function. Must be called before Start.
func (q *Queue) SetExecute(fn ExecuteFunc) {
	q.dispatcher.execute = fn
}

// SetWorkflowGate injects the cancelled-workflow check
func (q *Queue) SetWorkflowGate(gate WorkflowGate) {
	q.dispatcher.gate = gate
}

// Start launches the dispatcher workers and the cron scheduler, restoring
// persisted recurring schedules.
func (q *Queue) Start(ctx context.Context) error {
	if q.dispatcher.execute == nil {
		return engerr.E(engerr.KindInvalidInput, "queue started without an execute function")
	}

	if err := q.restoreRecurring(ctx); err != nil {
		return err
	}
	q.cron.Start()
	q.dispatcher.start(ctx)

	q.log.Info("queue started", "workers", q.cfg.Workers)
	return nil
}

// Stop drains the cron scheduler and waits for in-flight jobs
func (q *Queue) Stop(ctx context.Context) error {
	cronCtx := q.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	q.dispatcher.stop()
	return q.store.Close(ctx)
}

// Add submits a job for immediate dispatch and returns its id
func (q *Queue) Add(ctx context.Context, job *Job) (string, error) {
	if err := q.prepare(ctx, job); err != nil {
		return "", err
	}

	job.State = StateWaiting
	if err := q.store.Enqueue(ctx, job); err != nil {
		return "", err
	}
	q.dispatcher.kick()

	q.log.Debug("job enqueued", "job_id", job.ID, "type", job.Type, "priority", job.Priority)
	return job.ID, nil
}

// AddDelayed submits a job invisible to the dispatcher until the delay
// elapses. A zero delay dispatches in the next cycle.
func (q *Queue) AddDelayed(ctx context.Context, job *Job, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	if err := q.prepare(ctx, job); err != nil {
		return "", err
	}

	job.State = StateDelayed
	job.NotBefore = q.now().Add(delay)
	if err := q.store.Enqueue(ctx, job); err != nil {
		return "", err
	}

	q.log.Debug("delayed job enqueued", "job_id", job.ID, "type", job.Type, "not_before", job.NotBefore)
	return job.ID, nil
}

// Get returns a job by id
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, engerr.E(engerr.KindNotFound, "job %s not found", id)
	}
	return job, nil
}

// Status returns a job's lifecycle state
func (q *Queue) Status(ctx context.Context, id string) (State, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return job.State, nil
}

// Remove drops a job that has not been dispatched yet
func (q *Queue) Remove(ctx context.Context, id string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State == StateActive {
		return engerr.E(engerr.KindInvalidInput, "job %s is active and cannot be removed", id)
	}

	removed, err := q.store.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return engerr.E(engerr.KindNotFound, "job %s not found", id)
	}
	return nil
}

// Retry resubmits a failed or dead-lettered job, preserving its id and
// content hash
func (q *Queue) Retry(ctx context.Context, id string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateFailed && job.State != StateDead {
		return engerr.E(engerr.KindInvalidInput, "job %s is %s, only failed or dead jobs can be retried", id, job.State)
	}

	job.State = StateWaiting
	job.Attempts = 0
	job.LastError = ""
	job.Result = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.UpdatedAt = q.now()

	seq, err := q.store.NextSeq(ctx)
	if err != nil {
		return err
	}
	job.Seq = seq

	if err := q.store.Enqueue(ctx, job); err != nil {
		return err
	}
	q.dispatcher.kick()
	return nil
}

// FailedJobs pages jobs in the failed state
func (q *Queue) FailedJobs(ctx context.Context, offset, limit int) ([]*Job, error) {
	return q.store.ListByState(ctx, StateFailed, offset, limit)
}

// DeadLetter pages the dead-letter sink, most recent first
func (q *Queue) DeadLetter(ctx context.Context, offset, limit int) ([]*DeadLetterEntry, error) {
	return q.store.DeadLetters(ctx, offset, limit)
}

// Stats returns the per-state job census
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.store.Stats(ctx)
}

// Pause stops dispatching; queued jobs are retained
func (q *Queue) Pause() {
	q.dispatcher.paused.Store(true)
	q.log.Info("queue paused")
}

// Resume restarts dispatching
func (q *Queue) Resume() {
	q.dispatcher.paused.Store(false)
	q.dispatcher.kick()
	q.log.Info("queue resumed")
}

// Clean removes terminal job records and dead letters older than the grace
// period
func (q *Queue) Clean(ctx context.Context, grace time.Duration) (int, error) {
	return q.store.Clean(ctx, grace, q.now())
}

// Health reports healthy iff the store is reachable and the failure
// census is within thresholds.
func (q *Queue) Health(ctx context.Context) error {
	if err := q.store.Health(ctx); err != nil {
		return err
	}

	stats, err := q.store.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.Failed >= int64(q.cfg.FailedThreshold) {
		return engerr.E(engerr.KindStorageUnavailable, "failed job count %d over threshold %d", stats.Failed, q.cfg.FailedThreshold)
	}
	if stats.DeadLetter >= int64(q.cfg.DeadLetterThreshold) {
		return engerr.E(engerr.KindStorageUnavailable, "dead-letter count %d over threshold %d", stats.DeadLetter, q.cfg.DeadLetterThreshold)
	}
	if stats.Active >= int64(q.cfg.ActiveThreshold) {
		return engerr.E(engerr.KindStorageUnavailable, "active job count %d over threshold %d", stats.Active, q.cfg.ActiveThreshold)
	}
	return nil
}

// prepare assigns identity, priority, sequence and content hash
func (q *Queue) prepare(ctx context.Context, job *Job) error {
	if job == nil || job.Type == "" {
		return engerr.E(engerr.KindInvalidInput, "job type must not be empty")
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Priority = EffectivePriority(job)
	job.Attempts = 0

	if job.ContentHash == "" {
		hash, err := cache.ContentHash(job.Type, job.Payload, "")
		if err != nil {
			return engerr.Wrap(engerr.KindInvalidInput, err, "failed to hash job payload")
		}
		job.ContentHash = hash
	}

	seq, err := q.store.NextSeq(ctx)
	if err != nil {
		return err
	}
	job.Seq = seq

	now := q.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return nil
}

// await registers interest in a job's terminal state. The channel must be
// registered before the job can finish.
func (q *Queue) await(id string) chan *Job {
	ch := make(chan *Job, 1)
	q.waitersMu.Lock()
	q.waiters[id] = append(q.waiters[id], ch)
	q.waitersMu.Unlock()
	return ch
}

// forget deregisters a waiter whose job was never enqueued and so will
// never be signalled
func (q *Queue) forget(id string, ch chan *Job) {
	q.waitersMu.Lock()
	defer q.waitersMu.Unlock()

	remaining := q.waiters[id][:0]
	for _, c := range q.waiters[id] {
		if c != ch {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(q.waiters, id)
		return
	}
	q.waiters[id] = remaining
}

// notifyTerminal wakes every waiter of a finished job
func (q *Queue) notifyTerminal(job *Job) {
	q.waitersMu.Lock()
	chans := q.waiters[job.ID]
	delete(q.waiters, job.ID)
	q.waitersMu.Unlock()

	for _, ch := range chans {
		ch <- job
	}
}
