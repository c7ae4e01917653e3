package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// respondError maps an engine error kind onto an HTTP status
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch engerr.KindOf(err) {
	case engerr.KindInvalidInput:
		status = http.StatusBadRequest
	case engerr.KindNotFound:
		status = http.StatusNotFound
	case engerr.KindAlreadyTerminal:
		status = http.StatusConflict
	case engerr.KindNoProvidersAvailable, engerr.KindCircuitOpen, engerr.KindStorageUnavailable:
		status = http.StatusServiceUnavailable
	}

	return c.JSON(status, map[string]any{
		"error": err.Error(),
		"kind":  engerr.KindOf(err).String(),
	})
}
