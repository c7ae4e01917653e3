package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
	"github.com/axiomflow/orchestrator/queue"
)

// BatchHandler handles batch-related requests
type BatchHandler struct {
	queue *queue.Queue
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(q *queue.Queue) *BatchHandler {
	return &BatchHandler{queue: q}
}

// AddBatch launches a batch of jobs
// POST /api/v1/batches
func (h *BatchHandler) AddBatch(c echo.Context) error {
	var batch queue.Batch
	if err := c.Bind(&batch); err != nil {
		return respondError(c, engerr.Wrap(engerr.KindInvalidInput, err, "invalid batch body"))
	}

	id, err := h.queue.AddBatch(c.Request().Context(), &batch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"batch_id": id,
		"strategy": batch.Config.Strategy,
		"jobs":     len(batch.Jobs),
	})
}

// GetBatchProgress returns a point-in-time batch snapshot
// GET /api/v1/batches/:id
func (h *BatchHandler) GetBatchProgress(c echo.Context) error {
	progress, err := h.queue.BatchProgress(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

// CancelBatch stops a running batch
// POST /api/v1/batches/:id/cancel
func (h *BatchHandler) CancelBatch(c echo.Context) error {
	id := c.Param("id")
	if err := h.queue.CancelBatch(id); err != nil {
		return respondError(c, err)
	}

	progress, err := h.queue.BatchProgress(id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}
