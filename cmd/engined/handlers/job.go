package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
	"github.com/axiomflow/orchestrator/queue"
)

// JobHandler handles job-related requests
type JobHandler struct {
	queue *queue.Queue
}

// NewJobHandler creates a new job handler
func NewJobHandler(q *queue.Queue) *JobHandler {
	return &JobHandler{queue: q}
}

// addJobRequest is the submission body. DelayMs, when positive, schedules
// the job for later dispatch.
type addJobRequest struct {
	Job     *queue.Job `json:"job"`
	DelayMs int64      `json:"delay_ms,omitempty"`
}

// AddJob submits a job, immediately or delayed
// POST /api/v1/jobs
func (h *JobHandler) AddJob(c echo.Context) error {
	var req addJobRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, engerr.Wrap(engerr.KindInvalidInput, err, "invalid job body"))
	}
	if req.Job == nil {
		return respondError(c, engerr.E(engerr.KindInvalidInput, "request body must carry a job"))
	}

	var (
		id  string
		err error
	)
	if req.DelayMs > 0 {
		id, err = h.queue.AddDelayed(c.Request().Context(), req.Job, time.Duration(req.DelayMs)*time.Millisecond)
	} else {
		id, err = h.queue.Add(c.Request().Context(), req.Job)
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"job_id":   id,
		"priority": req.Job.Priority,
		"state":    req.Job.State,
	})
}

// GetJob returns a job record
// GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c echo.Context) error {
	job, err := h.queue.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// RemoveJob drops a job that has not been dispatched
// DELETE /api/v1/jobs/:id
func (h *JobHandler) RemoveJob(c echo.Context) error {
	if err := h.queue.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RetryJob resubmits a failed or dead-lettered job
// POST /api/v1/jobs/:id/retry
func (h *JobHandler) RetryJob(c echo.Context) error {
	id := c.Param("id")
	if err := h.queue.Retry(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"job_id": id, "state": queue.StateWaiting})
}

// QueueStats returns the per-state job census
// GET /api/v1/jobs/stats
func (h *JobHandler) QueueStats(c echo.Context) error {
	stats, err := h.queue.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ListFailed pages jobs in the failed state
// GET /api/v1/jobs/failed
func (h *JobHandler) ListFailed(c echo.Context) error {
	offset, limit := pageParams(c)
	jobs, err := h.queue.FailedJobs(c.Request().Context(), offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": jobs})
}

// ListDeadLetter pages the dead-letter sink, most recent first
// GET /api/v1/jobs/dead-letter
func (h *JobHandler) ListDeadLetter(c echo.Context) error {
	offset, limit := pageParams(c)
	entries, err := h.queue.DeadLetter(c.Request().Context(), offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

// PauseQueue stops dispatching; queued jobs are retained
// POST /api/v1/queue/pause
func (h *JobHandler) PauseQueue(c echo.Context) error {
	h.queue.Pause()
	return c.JSON(http.StatusOK, map[string]any{"paused": true})
}

// ResumeQueue restarts dispatching
// POST /api/v1/queue/resume
func (h *JobHandler) ResumeQueue(c echo.Context) error {
	h.queue.Resume()
	return c.JSON(http.StatusOK, map[string]any{"paused": false})
}

// CleanQueue removes terminal records older than the grace period
// POST /api/v1/queue/clean?grace_seconds=3600
func (h *JobHandler) CleanQueue(c echo.Context) error {
	grace := time.Hour
	if raw := c.QueryParam("grace_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			return respondError(c, engerr.E(engerr.KindInvalidInput, "invalid grace_seconds %q", raw))
		}
		grace = time.Duration(secs) * time.Second
	}

	removed, err := h.queue.Clean(c.Request().Context(), grace)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"removed": removed})
}

// addRecurringRequest registers a cron schedule for a job template.
type addRecurringRequest struct {
	Template *queue.Job `json:"template"`
	Spec     string     `json:"spec"`
}

// AddRecurring registers a cron schedule
// POST /api/v1/jobs/recurring
func (h *JobHandler) AddRecurring(c echo.Context) error {
	var req addRecurringRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, engerr.Wrap(engerr.KindInvalidInput, err, "invalid recurring body"))
	}

	id, err := h.queue.AddRecurring(c.Request().Context(), req.Template, req.Spec)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"recurring_id": id, "spec": req.Spec})
}

// ListRecurring returns every registered schedule
// GET /api/v1/jobs/recurring
func (h *JobHandler) ListRecurring(c echo.Context) error {
	recs, err := h.queue.ListRecurring(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"recurring": recs})
}

// RemoveRecurring stops and forgets a schedule
// DELETE /api/v1/jobs/recurring/:id
func (h *JobHandler) RemoveRecurring(c echo.Context) error {
	if err := h.queue.RemoveRecurring(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// pageParams reads offset/limit query params with sane defaults
func pageParams(c echo.Context) (int, int) {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return offset, limit
}
