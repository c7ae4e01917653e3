package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/axiomflow/orchestrator/dag"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// WorkflowHandler handles workflow-related requests
type WorkflowHandler struct {
	engine *dag.Engine
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(engine *dag.Engine) *WorkflowHandler {
	return &WorkflowHandler{engine: engine}
}

// SubmitWorkflow validates and starts a workflow
// POST /api/v1/workflows
func (h *WorkflowHandler) SubmitWorkflow(c echo.Context) error {
	var wf dag.Workflow
	if err := c.Bind(&wf); err != nil {
		return respondError(c, engerr.Wrap(engerr.KindInvalidInput, err, "invalid workflow body"))
	}

	submitted, err := h.engine.Submit(c.Request().Context(), &wf)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, submitted)
}

// ValidateWorkflow runs the structural checks without submitting
// POST /api/v1/workflows/validate
func (h *WorkflowHandler) ValidateWorkflow(c echo.Context) error {
	var wf dag.Workflow
	if err := c.Bind(&wf); err != nil {
		return respondError(c, engerr.Wrap(engerr.KindInvalidInput, err, "invalid workflow body"))
	}

	res := h.engine.Validate(&wf)
	status := http.StatusOK
	if !res.Valid {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, res)
}

// GetWorkflow returns a workflow snapshot
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	wf, err := h.engine.Get(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ListWorkflows returns every workflow, oldest first
// GET /api/v1/workflows
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"workflows": h.engine.List(),
	})
}

// CancelWorkflow stops a running workflow
// POST /api/v1/workflows/:id/cancel
func (h *WorkflowHandler) CancelWorkflow(c echo.Context) error {
	id := c.Param("id")
	if err := h.engine.Cancel(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}

	wf, err := h.engine.Get(id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// PatchWorkflowNode merge-patches the payload of a pending node
// PATCH /api/v1/workflows/:id/nodes/:nodeId
func (h *WorkflowHandler) PatchWorkflowNode(c echo.Context) error {
	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondError(c, engerr.Wrap(engerr.KindInvalidInput, err, "failed to read patch body"))
	}

	node, err := h.engine.PatchNode(c.Request().Context(), c.Param("id"), c.Param("nodeId"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}
