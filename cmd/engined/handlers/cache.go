package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/axiomflow/orchestrator/cache"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// CacheHandler handles cache-inspection and invalidation requests
type CacheHandler struct {
	cache *cache.Store
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(store *cache.Store) *CacheHandler {
	return &CacheHandler{cache: store}
}

// GetMetrics returns the cache hit/miss/size snapshot
// GET /api/v1/cache/metrics
func (h *CacheHandler) GetMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cache.Metrics(c.Request().Context()))
}

// invalidateRequest selects what to invalidate. Exactly one selector is
// honored, checked in field order.
type invalidateRequest struct {
	Key       string   `json:"key,omitempty"`
	JobType   string   `json:"job_type,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	DependsOn string   `json:"depends_on,omitempty"`
}

// Invalidate removes cache entries by key, type, tags or dependency
// POST /api/v1/cache/invalidate
func (h *CacheHandler) Invalidate(c echo.Context) error {
	var req invalidateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, engerr.Wrap(engerr.KindInvalidInput, err, "invalid invalidation body"))
	}

	ctx := c.Request().Context()
	var (
		removed int
		err     error
	)
	switch {
	case req.Key != "":
		err = h.cache.Invalidate(ctx, req.Key)
		removed = 1
	case req.JobType != "":
		removed, err = h.cache.InvalidateByType(ctx, req.JobType)
	case len(req.Tags) > 0:
		removed, err = h.cache.InvalidateByTags(ctx, req.Tags)
	case req.DependsOn != "":
		removed, err = h.cache.InvalidateByDependency(ctx, req.DependsOn)
	default:
		return respondError(c, engerr.E(engerr.KindInvalidInput, "invalidation needs a key, job_type, tags or depends_on selector"))
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"invalidated": removed})
}
