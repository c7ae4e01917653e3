package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/axiomflow/orchestrator/router"
)

// ProviderHandler handles provider-inspection requests
type ProviderHandler struct {
	router *router.Router
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(r *router.Router) *ProviderHandler {
	return &ProviderHandler{router: r}
}

// ListProviders returns per-provider health and breaker snapshots
// GET /api/v1/providers
func (h *ProviderHandler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"providers": h.router.Stats(),
		"available": h.router.AvailableProviders(),
	})
}

// GetProvider returns the snapshot for one provider
// GET /api/v1/providers/:id
func (h *ProviderHandler) GetProvider(c echo.Context) error {
	stats, err := h.router.ProviderStatus(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
