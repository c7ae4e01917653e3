package bootstrap

import (
	"github.com/axiomflow/orchestrator/common/config"
	"github.com/axiomflow/orchestrator/common/logger"
	"github.com/axiomflow/orchestrator/queue"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipCache    bool
	skipQueue    bool
	skipRouter   bool
	skipEngine   bool
	customLogger *logger.Logger
	customConfig *config.Config
	execute      queue.ExecuteFunc
}

// WithoutCache skips result-cache initialization
func WithoutCache() Option {
	return func(o *options) {
		o.skipCache = true
	}
}

// WithoutQueue skips queue initialization (implies no engine)
func WithoutQueue() Option {
	return func(o *options) {
		o.skipQueue = true
		o.skipEngine = true
	}
}

// WithoutRouter skips provider-router initialization. Execution must then
// be supplied via WithExecute.
func WithoutRouter() Option {
	return func(o *options) {
		o.skipRouter = true
	}
}

// WithoutEngine skips workflow-engine initialization
func WithoutEngine() Option {
	return func(o *options) {
		o.skipEngine = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithExecute replaces the default router-backed execution path
func WithExecute(fn queue.ExecuteFunc) Option {
	return func(o *options) {
		o.execute = fn
	}
}

func defaultOptions() *options {
	return &options{}
}
