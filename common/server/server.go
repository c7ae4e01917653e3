// Package server hosts the engine's HTTP surface: liveness, composite
// readiness and prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/axiomflow/orchestrator/common/logger"
)

// readinessTimeout bounds the composite readiness probe.
const readinessTimeout = 5 * time.Second

// Check is one named readiness dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Opts contains options for creating a server
type Opts struct {
	Name    string
	Port    int
	Logger  *logger.Logger
	Metrics http.Handler // prometheus handler; nil disables /metrics
	Checks  []Check
}

// Server wraps the HTTP surface with graceful shutdown.
type Server struct {
	echo   *echo.Echo
	log    *logger.Logger
	name   string
	port   int
	checks []Check
}

// New creates a server with the health and metrics routes registered
func New(opts *Opts) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		log:    opts.Logger,
		name:   opts.Name,
		port:   opts.Port,
		checks: opts.Checks,
	}

	e.GET("/healthz", s.handleLiveness)
	e.GET("/readyz", s.handleReadiness)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	return s
}

// Echo exposes the router for services that mount extra routes
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start runs the server until an error or a shutdown signal
func (s *Server) Start() error {
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("%s starting", s.name), "port", s.port)
		serverErrors <- s.echo.Start(fmt.Sprintf(":%d", s.port))
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.echo.Shutdown(ctx); err != nil {
			s.log.Error("graceful shutdown failed", "error", err)
			if err := s.echo.Close(); err != nil {
				return fmt.Errorf("could not stop server: %w", err)
			}
		}

		s.log.Info("shutdown complete")
	}

	return nil
}

// handleLiveness reports that the process is running; no dependencies are
// consulted
func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReadiness runs every registered check and reports per-dependency
// status
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	ready := true
	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			results[check.Name] = err.Error()
			ready = false
			continue
		}
		results[check.Name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	return c.JSON(status, map[string]any{"status": state, "checks": results})
}
