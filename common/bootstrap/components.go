package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axiomflow/orchestrator/cache"
	"github.com/axiomflow/orchestrator/common/config"
	"github.com/axiomflow/orchestrator/common/events"
	"github.com/axiomflow/orchestrator/common/logger"
	"github.com/axiomflow/orchestrator/common/metrics"
	commonredis "github.com/axiomflow/orchestrator/common/redis"
	"github.com/axiomflow/orchestrator/dag"
	"github.com/axiomflow/orchestrator/queue"
	"github.com/axiomflow/orchestrator/router"
)

// Components holds all initialized engine dependencies
type Components struct {
	Config  *config.Config
	Logger  *logger.Logger
	Bus     *events.Bus
	Metrics *metrics.Registry
	Redis   *commonredis.Client
	DB      *pgxpool.Pool
	Cache   *cache.Store
	Queue   *queue.Queue
	Router  *router.Router
	Engine  *dag.Engine

	// Internal
	cleanupFuncs []func() error
}

// Start wires the components together and begins dispatching: the engine
// subscribes to queue events, the queue starts its workers and the router
// starts probing. Execution must be injected first (see WithExecute).
func (c *Components) Start(ctx context.Context) error {
	if c.Engine != nil {
		c.Engine.Start()
	}
	if c.Router != nil {
		c.Router.StartHealthProbes(ctx)
	}
	if c.Queue != nil {
		if err := c.Queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start queue: %w", err)
		}
	}
	return nil
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.Cache != nil {
		if err := c.Cache.Health(ctx); err != nil {
			return fmt.Errorf("cache unhealthy: %w", err)
		}
	}
	if c.Queue != nil {
		if err := c.Queue.Health(ctx); err != nil {
			return fmt.Errorf("queue unhealthy: %w", err)
		}
	}
	if c.Router != nil && len(c.Router.Stats()) > 0 && len(c.Router.AvailableProviders()) == 0 {
		return fmt.Errorf("no providers available")
	}
	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
