// Package routes registers the engine's HTTP API onto an echo instance.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/axiomflow/orchestrator/cmd/engined/handlers"
	"github.com/axiomflow/orchestrator/common/bootstrap"
)

// Register mounts every API group. Components missing from the bootstrap
// (disabled via options) simply do not get routes.
func Register(e *echo.Echo, components *bootstrap.Components) {
	api := e.Group("/api/v1")

	if components.Engine != nil {
		h := handlers.NewWorkflowHandler(components.Engine)
		wf := api.Group("/workflows")
		wf.POST("", h.SubmitWorkflow)
		wf.POST("/validate", h.ValidateWorkflow)
		wf.GET("", h.ListWorkflows)
		wf.GET("/:id", h.GetWorkflow)
		wf.POST("/:id/cancel", h.CancelWorkflow)
		wf.PATCH("/:id/nodes/:nodeId", h.PatchWorkflowNode)
	}

	if components.Queue != nil {
		jh := handlers.NewJobHandler(components.Queue)
		jobs := api.Group("/jobs")
		jobs.POST("", jh.AddJob)
		jobs.GET("/stats", jh.QueueStats)
		jobs.GET("/failed", jh.ListFailed)
		jobs.GET("/dead-letter", jh.ListDeadLetter)
		jobs.POST("/recurring", jh.AddRecurring)
		jobs.GET("/recurring", jh.ListRecurring)
		jobs.DELETE("/recurring/:id", jh.RemoveRecurring)
		jobs.GET("/:id", jh.GetJob)
		jobs.DELETE("/:id", jh.RemoveJob)
		jobs.POST("/:id/retry", jh.RetryJob)

		q := api.Group("/queue")
		q.POST("/pause", jh.PauseQueue)
		q.POST("/resume", jh.ResumeQueue)
		q.POST("/clean", jh.CleanQueue)

		bh := handlers.NewBatchHandler(components.Queue)
		batches := api.Group("/batches")
		batches.POST("", bh.AddBatch)
		batches.GET("/:id", bh.GetBatchProgress)
		batches.POST("/:id/cancel", bh.CancelBatch)
	}

	if components.Router != nil {
		ph := handlers.NewProviderHandler(components.Router)
		providers := api.Group("/providers")
		providers.GET("", ph.ListProviders)
		providers.GET("/:id", ph.GetProvider)
	}

	if components.Cache != nil {
		ch := handlers.NewCacheHandler(components.Cache)
		ca := api.Group("/cache")
		ca.GET("/metrics", ch.GetMetrics)
		ca.POST("/invalidate", ch.Invalidate)
	}
}
