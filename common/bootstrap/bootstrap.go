// Package bootstrap assembles the engine: configuration, logging, storage
// backends, cache, queue, router and workflow engine, with ordered cleanup.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/axiomflow/orchestrator/cache"
	"github.com/axiomflow/orchestrator/common/config"
	"github.com/axiomflow/orchestrator/common/events"
	"github.com/axiomflow/orchestrator/common/logger"
	"github.com/axiomflow/orchestrator/common/metrics"
	commonredis "github.com/axiomflow/orchestrator/common/redis"
	"github.com/axiomflow/orchestrator/dag"
	"github.com/axiomflow/orchestrator/queue"
	"github.com/axiomflow/orchestrator/retry"
	"github.com/axiomflow/orchestrator/router"
)

// Setup initializes all engine components
// This is the main entry point for the engine binary and for tests
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	log := components.Logger

	log.Info("initializing engine",
		"service", serviceName,
		"environment", cfg.Service.Environment,
	)

	// 3. Process-wide event bus and metrics registry
	components.Bus = events.NewBus(log)
	components.Metrics = metrics.New()

	// 4. Shared redis client when any backend needs it
	needsRedis := cfg.Cache.Backend == "redis" || cfg.Queue.Backend == "redis"
	if needsRedis {
		log.Info("connecting to redis", "addr", cfg.Redis.Addr)
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		components.Redis = commonredis.NewClient(rdb, log)
		if err := components.Redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.addCleanup(func() error {
			log.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 5. Postgres pool for the indexed cache driver
	if !options.skipCache && cfg.Cache.Enabled && cfg.Cache.Backend == "postgres" {
		log.Info("connecting to database", "host", cfg.Database.Host)
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("invalid database config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxConns)
		poolCfg.MinConns = int32(cfg.Database.MinConns)
		poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
		poolCfg.MaxConnLifetime = cfg.Database.MaxLifetime

		components.DB, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.addCleanup(func() error {
			log.Info("closing database connection")
			components.DB.Close()
			return nil
		})
	}

	// 6. Result cache
	if !options.skipCache && cfg.Cache.Enabled {
		log.Info("initializing cache", "backend", cfg.Cache.Backend)

		var driver cache.Driver
		switch cfg.Cache.Backend {
		case "memory":
			driver = cache.NewMemoryDriver()
		case "redis":
			driver = cache.NewRedisDriver(components.Redis)
		case "postgres":
			driver, err = cache.NewPostgresDriver(ctx, components.DB)
			if err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to initialize postgres cache: %w", err)
			}
		default:
			return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
		}

		components.Cache = cache.NewStore(&cache.StoreOpts{
			Driver:               driver,
			Logger:               log,
			Bus:                  components.Bus,
			DefaultTTL:           cfg.Cache.DefaultTTL,
			Compression:          cache.Algorithm(cfg.Cache.Compression),
			CompressionThreshold: cfg.Cache.CompressionThreshold,
		})
		components.addCleanup(func() error {
			log.Info("closing cache")
			return components.Cache.Close(context.Background())
		})
	}

	// 7. Provider router
	if !options.skipRouter {
		components.Router = router.New(&router.Opts{
			Logger:  log,
			Metrics: components.Metrics,
			Config: router.Config{
				DefaultStrategy: router.Strategy(cfg.Router.Strategy),
				MaxRetries:      cfg.Router.MaxRetries,
				RequestTimeout:  cfg.Router.RequestTimeout,
				FallbackChain:   cfg.Router.FallbackChain,
				CostSensitivity: cfg.Router.CostSensitivity,
				MaxConcurrent:   cfg.Router.MaxConcurrentRequests,
				Breaker: router.BreakerConfig{
					FailureThreshold: cfg.Router.FailureThreshold,
					SuccessThreshold: cfg.Router.SuccessThreshold,
					Backoff:          cfg.Router.BreakerBackoff,
					BackoffFactor:    cfg.Router.BreakerBackoffFactor,
					MaxBackoff:       cfg.Router.BreakerMaxBackoff,
				},
				Health: router.HealthConfig{
					Interval:         cfg.Router.HealthCheckInterval,
					Timeout:          cfg.Router.HealthCheckTimeout,
					FailureThreshold: cfg.Router.ProbeFailureThreshold,
					SuccessThreshold: cfg.Router.ProbeSuccessThreshold,
				},
			},
		})
	}

	// 8. Job queue
	if !options.skipQueue {
		log.Info("initializing queue",
			"backend", cfg.Queue.Backend,
			"workers", cfg.Queue.Workers,
		)

		resolver, err := retry.NewResolver(&retry.ResolverOpts{
			OverridesJSON: cfg.Queue.RetryOverrides,
			Logger:        log,
		})
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to build retry resolver: %w", err)
		}

		var store queue.Store
		switch cfg.Queue.Backend {
		case "memory":
			store = queue.NewMemoryStore()
		case "redis":
			store = queue.NewRedisStore(components.Redis, log)
		default:
			return nil, fmt.Errorf("unknown queue backend: %s", cfg.Queue.Backend)
		}

		components.Queue = queue.New(&queue.Opts{
			Store:    store,
			Resolver: resolver,
			Cache:    components.Cache,
			Bus:      components.Bus,
			Logger:   log,
			Config: queue.Config{
				Workers:             cfg.Queue.Workers,
				FailedThreshold:     cfg.Queue.FailedThreshold,
				DeadLetterThreshold: cfg.Queue.DeadLetterThreshold,
				ActiveThreshold:     cfg.Queue.ActiveThreshold,
			},
		})
		if options.execute != nil {
			components.Queue.SetExecute(options.execute)
		}
	}

	// 9. Workflow engine
	if !options.skipEngine && components.Queue != nil {
		components.Engine, err = dag.New(&dag.Opts{
			Queue:  components.Queue,
			Bus:    components.Bus,
			Logger: log,
		})
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to build workflow engine: %w", err)
		}
	}

	log.Info("engine initialization complete",
		"service", serviceName,
		"cache", components.Cache != nil,
		"queue", components.Queue != nil,
		"router", components.Router != nil,
		"engine", components.Engine != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful when the engine can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup %s: %v", serviceName, err))
	}
	return components
}

// WireRouterExecution routes every dequeued job through the provider
// router. The transport performs the concrete provider call.
func (c *Components) WireRouterExecution(transport func(ctx context.Context, providerID string, job *queue.Job) (any, error)) {
	c.Queue.SetExecute(func(ctx context.Context, job *queue.Job) (any, error) {
		res, err := c.Router.Execute(ctx, router.Request{JobType: job.Type}, func(ctx context.Context, providerID string) (any, error) {
			return transport(ctx, providerID, job)
		})
		if err != nil {
			return nil, err
		}
		return res.Output, nil
	})
}
