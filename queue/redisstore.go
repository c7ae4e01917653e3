package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	commonredis "github.com/axiomflow/orchestrator/common/redis"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// Redis key layout. Ready jobs live in a sorted set scored by
// priority*2^40+seq so ZPOPMIN yields priority order with FIFO ties.
const (
	redisSeqKey       = "queue:seq"
	redisReadyKey     = "queue:ready"
	redisDelayedKey   = "queue:delayed"
	redisDeadKey      = "queue:dead"
	redisRecurringKey = "queue:recurring"
	redisJobPrefix    = "queue:job:"
	redisDeadPrefix   = "queue:dead:"
	redisStatePrefix  = "queue:state:"
)

// seqShift packs priority above the sequence number in the ready score.
const seqShift = 40

// RedisStore is the durable queue backend.
type RedisStore struct {
	client *commonredis.Client
	log    Logger
}

// NewRedisStore creates a queue store over a shared redis client
func NewRedisStore(client *commonredis.Client, log Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

// NextSeq returns the next FIFO sequence number
func (s *RedisStore) NextSeq(ctx context.Context) (uint64, error) {
	n, err := s.client.GetUnderlying().Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return 0, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to allocate sequence")
	}
	return uint64(n), nil
}

// Enqueue adds a job to the ready or delayed pool
func (s *RedisStore) Enqueue(ctx context.Context, job *Job) error {
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	if err := s.reindexState(ctx, job.ID, job.State); err != nil {
		return err
	}

	if job.State == StateDelayed {
		return s.client.AddToSortedSet(ctx, redisDelayedKey, float64(job.NotBefore.UnixMilli()), job.ID)
	}
	return s.client.AddToSortedSet(ctx, redisReadyKey, readyScore(job), job.ID)
}

// Dequeue pops the highest-priority ready job and marks it active
func (s *RedisStore) Dequeue(ctx context.Context, now time.Time) (*Job, error) {
	for {
		popped, err := s.client.GetUnderlying().ZPopMin(ctx, redisReadyKey, 1).Result()
		if err != nil {
			return nil, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to pop ready job")
		}
		if len(popped) == 0 {
			return nil, nil
		}

		id, _ := popped[0].Member.(string)
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// Stale heap entries for removed jobs are dropped silently
		if job == nil || job.State != StateWaiting {
			continue
		}

		job.State = StateActive
		job.UpdatedAt = now
		if err := s.Update(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}
}

// PromoteDue moves due delayed jobs into the ready pool
func (s *RedisStore) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.client.RangeByScore(ctx, redisDelayedKey, "-inf", strconv.FormatInt(now.UnixMilli(), 10), 200)
	if err != nil {
		return 0, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to read delayed jobs")
	}

	promoted := 0
	for _, id := range due {
		job, err := s.Get(ctx, id)
		if err != nil {
			return promoted, err
		}
		if _, err := s.client.RemoveFromSortedSet(ctx, redisDelayedKey, id); err != nil {
			return promoted, err
		}
		if job == nil {
			continue
		}

		job.State = StateWaiting
		job.UpdatedAt = now
		if err := s.Update(ctx, job); err != nil {
			return promoted, err
		}
		if err := s.client.AddToSortedSet(ctx, redisReadyKey, readyScore(job), job.ID); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Get returns a job by id
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	raw, found, err := s.client.Get(ctx, redisJobPrefix+id)
	if err != nil {
		return nil, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to read job")
	}
	if !found {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", id, err)
	}
	return &job, nil
}

// Update persists the job record and its state index
func (s *RedisStore) Update(ctx context.Context, job *Job) error {
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	return s.reindexState(ctx, job.ID, job.State)
}

// Remove drops a not-yet-dispatched job
func (s *RedisStore) Remove(ctx context.Context, id string) (bool, error) {
	exists, err := s.client.Exists(ctx, redisJobPrefix+id)
	if err != nil {
		return false, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to check job")
	}
	if !exists {
		return false, nil
	}

	if _, err := s.client.RemoveFromSortedSet(ctx, redisReadyKey, id); err != nil {
		return false, err
	}
	if _, err := s.client.RemoveFromSortedSet(ctx, redisDelayedKey, id); err != nil {
		return false, err
	}
	if err := s.reindexState(ctx, id, ""); err != nil {
		return false, err
	}
	if err := s.client.Delete(ctx, redisJobPrefix+id); err != nil {
		return false, err
	}
	return true, nil
}

// MoveToDead parks the job record and stores a dead-letter entry
func (s *RedisStore) MoveToDead(ctx context.Context, entry *DeadLetterEntry) error {
	if entry.Job != nil {
		entry.Job.State = StateDead
		if err := s.Update(ctx, entry.Job); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize dead letter: %w", err)
	}
	if err := s.client.Set(ctx, redisDeadPrefix+entry.OriginalID, string(raw), 0); err != nil {
		return err
	}
	return s.client.AddToSortedSet(ctx, redisDeadKey, float64(entry.FailedAt.UnixMilli()), entry.OriginalID)
}

// ListByState pages jobs in a state
func (s *RedisStore) ListByState(ctx context.Context, state State, offset, limit int) ([]*Job, error) {
	ids, err := s.client.SetMembers(ctx, redisStatePrefix+string(state))
	if err != nil {
		return nil, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to list jobs")
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil && job.State == state {
			jobs = append(jobs, job)
		}
	}
	sortJobsBySeq(jobs)
	return page(jobs, offset, limit), nil
}

// DeadLetters pages the dead-letter sink, most recent first
func (s *RedisStore) DeadLetters(ctx context.Context, offset, limit int) ([]*DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.GetUnderlying().ZRevRange(ctx, redisDeadKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to list dead letters")
	}

	entries := make([]*DeadLetterEntry, 0, len(ids))
	for _, id := range ids {
		raw, found, err := s.client.Get(ctx, redisDeadPrefix+id)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("corrupt dead letter %s: %w", id, err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Stats returns the per-state census
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	rdb := s.client.GetUnderlying()
	var st Stats

	counts := map[State]*int64{
		StateWaiting:   &st.Waiting,
		StateActive:    &st.Active,
		StateCompleted: &st.Completed,
		StateFailed:    &st.Failed,
		StateDelayed:   &st.Delayed,
	}
	for state, dst := range counts {
		n, err := rdb.SCard(ctx, redisStatePrefix+string(state)).Result()
		if err != nil {
			return Stats{}, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to read queue stats")
		}
		*dst = n
	}

	dead, err := rdb.ZCard(ctx, redisDeadKey).Result()
	if err != nil {
		return Stats{}, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to read dead-letter count")
	}
	st.DeadLetter = dead
	return st, nil
}

// Clean removes terminal records older than the grace period
func (s *RedisStore) Clean(ctx context.Context, grace time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-grace)
	removed := 0

	for _, state := range []State{StateCompleted, StateFailed, StateDead} {
		ids, err := s.client.SetMembers(ctx, redisStatePrefix+string(state))
		if err != nil {
			return removed, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to clean queue")
		}
		for _, id := range ids {
			job, err := s.Get(ctx, id)
			if err != nil {
				return removed, err
			}
			if job != nil && job.UpdatedAt.After(cutoff) {
				continue
			}
			if err := s.reindexState(ctx, id, ""); err != nil {
				return removed, err
			}
			if err := s.client.Delete(ctx, redisJobPrefix+id); err != nil {
				return removed, err
			}
			removed++
		}
	}

	// Dead letters beyond the grace period
	max := strconv.FormatInt(cutoff.UnixMilli(), 10)
	ids, err := s.client.RangeByScore(ctx, redisDeadKey, "-inf", max, 0)
	if err != nil {
		return removed, err
	}
	for _, id := range ids {
		if _, err := s.client.RemoveFromSortedSet(ctx, redisDeadKey, id); err != nil {
			return removed, err
		}
		if err := s.client.Delete(ctx, redisDeadPrefix+id); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}

// SaveRecurring persists a cron schedule
func (s *RedisStore) SaveRecurring(ctx context.Context, rec *RecurringJob) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize recurring job: %w", err)
	}
	return s.client.SetHash(ctx, redisRecurringKey, map[string]interface{}{rec.ID: string(raw)})
}

// ListRecurring returns every persisted schedule
func (s *RedisStore) ListRecurring(ctx context.Context) ([]*RecurringJob, error) {
	all, err := s.client.GetAllHash(ctx, redisRecurringKey)
	if err != nil {
		return nil, engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to list recurring jobs")
	}

	out := make([]*RecurringJob, 0, len(all))
	for id, raw := range all {
		var rec RecurringJob
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("corrupt recurring job %s: %w", id, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// RemoveRecurring drops a persisted schedule
func (s *RedisStore) RemoveRecurring(ctx context.Context, id string) error {
	return s.client.DeleteHashField(ctx, redisRecurringKey, id)
}

// Health checks redis reachability
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return engerr.Wrap(engerr.KindStorageUnavailable, err, "queue store unreachable")
	}
	return nil
}

// Close is a no-op; the shared client is owned by bootstrap
func (s *RedisStore) Close(ctx context.Context) error { return nil }

// saveJob writes the job record
func (s *RedisStore) saveJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, redisJobPrefix+job.ID, string(raw), 0); err != nil {
		return engerr.Wrap(engerr.KindStorageUnavailable, err, "failed to write job")
	}
	return nil
}

// reindexState moves the id into the index set for state. An empty state
// removes the id from every index.
func (s *RedisStore) reindexState(ctx context.Context, id string, state State) error {
	for _, st := range []State{StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed, StateDead} {
		if st == state {
			continue
		}
		if err := s.client.RemoveFromSet(ctx, redisStatePrefix+string(st), id); err != nil {
			return err
		}
	}
	if state == "" {
		return nil
	}
	return s.client.AddToSet(ctx, redisStatePrefix+string(state), id)
}

// readyScore packs priority and sequence into one sortable score
func readyScore(job *Job) float64 {
	return float64(uint64(job.Priority)<<seqShift + job.Seq)
}

func sortJobsBySeq(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Seq < jobs[j].Seq })
}
