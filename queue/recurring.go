package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// Recurring schedules use standard 5-field cron expressions evaluated at
// minute granularity in UTC. Each firing spawns an independent job copy.

// AddRecurring persists a cron schedule and starts firing it. Returns the
// schedule id.
func (q *Queue) AddRecurring(ctx context.Context, template *Job, spec string) (string, error) {
	if template == nil || template.Type == "" {
		return "", engerr.E(engerr.KindInvalidInput, "recurring job type must not be empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return "", engerr.Wrap(engerr.KindInvalidInput, err, "invalid cron expression")
	}

	rec := &RecurringJob{
		ID:        uuid.NewString(),
		Spec:      spec,
		Template:  template,
		CreatedAt: q.now(),
	}
	if err := q.store.SaveRecurring(ctx, rec); err != nil {
		return "", err
	}
	if err := q.schedule(rec); err != nil {
		return "", err
	}

	q.log.Info("recurring job registered", "recurring_id", rec.ID, "type", template.Type, "spec", spec)
	return rec.ID, nil
}

// RemoveRecurring stops and forgets a schedule. Already-spawned copies are
// unaffected.
func (q *Queue) RemoveRecurring(ctx context.Context, id string) error {
	q.cronMu.Lock()
	entryID, scheduled := q.cronIDs[id]
	delete(q.cronIDs, id)
	q.cronMu.Unlock()

	if scheduled {
		q.cron.Remove(entryID)
	}
	return q.store.RemoveRecurring(ctx, id)
}

// ListRecurring returns every registered schedule
func (q *Queue) ListRecurring(ctx context.Context) ([]*RecurringJob, error) {
	return q.store.ListRecurring(ctx)
}

// restoreRecurring re-schedules persisted cron entries after a restart
func (q *Queue) restoreRecurring(ctx context.Context) error {
	recs, err := q.store.ListRecurring(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := q.schedule(rec); err != nil {
			return err
		}
	}
	if len(recs) > 0 {
		q.log.Info("recurring jobs restored", "count", len(recs))
	}
	return nil
}

// schedule registers one cron entry that spawns a fresh job per firing
func (q *Queue) schedule(rec *RecurringJob) error {
	entryID, err := q.cron.AddFunc(rec.Spec, func() {
		job := rec.Template.Clone()
		job.ID = uuid.NewString()
		job.ContentHash = ""
		job.Seq = 0
		job.Attempts = 0
		job.RecurringID = rec.ID
		job.CreatedAt = time.Time{}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := q.Add(ctx, job); err != nil {
			q.log.Error("recurring fire failed", "recurring_id", rec.ID, "type", job.Type, "error", err)
		}
	})
	if err != nil {
		return engerr.Wrap(engerr.KindInvalidInput, err, "failed to schedule recurring job")
	}

	q.cronMu.Lock()
	q.cronIDs[rec.ID] = entryID
	q.cronMu.Unlock()
	return nil
}
