package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all engine configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Router    RouterConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings (postgres cache driver)
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings (redis cache driver and queue store)
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds result cache settings
type CacheConfig struct {
	Enabled              bool
	Backend              string // "memory", "redis", "postgres"
	DefaultTTL           time.Duration
	Compression          string // "none", "gzip", "brotli"
	CompressionThreshold int    // bytes; payloads below are stored uncompressed
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	Backend             string // "memory" or "redis"
	Workers             int    // dispatcher fan-out
	RetryOverrides      string // JSON map of job type -> retry policy
	FailedThreshold     int
	DeadLetterThreshold int
	ActiveThreshold     int
}

// RouterConfig holds provider routing settings
type RouterConfig struct {
	Strategy              string // default "healthAware"
	MaxRetries            int
	RequestTimeout        time.Duration
	FallbackChain         []string
	CostSensitivity       float64
	FailureThreshold      int // breaker: consecutive failures before open
	SuccessThreshold      int // breaker: half-open successes before closed
	BreakerBackoff        time.Duration
	BreakerBackoffFactor  float64
	BreakerMaxBackoff     time.Duration
	HealthCheckInterval   time.Duration
	HealthCheckTimeout    time.Duration
	ProbeFailureThreshold int
	ProbeSuccessThreshold int
	MaxConcurrentRequests int
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "orchestrator"),
			User:        getEnv("POSTGRES_USER", "orchestrator"),
			Password:    getEnv("POSTGRES_PASSWORD", "orchestrator"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:              getEnvBool("CACHE_ENABLED", true),
			Backend:              getEnv("CACHE_BACKEND", "memory"),
			DefaultTTL:           getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
			Compression:          getEnv("CACHE_COMPRESSION", "gzip"),
			CompressionThreshold: getEnvInt("CACHE_COMPRESSION_THRESHOLD", 1024),
		},
		Queue: QueueConfig{
			Backend:             getEnv("QUEUE_BACKEND", "memory"),
			Workers:             getEnvInt("QUEUE_WORKERS", 10),
			RetryOverrides:      getEnv("QUEUE_RETRY_OVERRIDES", ""),
			FailedThreshold:     getEnvInt("QUEUE_FAILED_THRESHOLD", 100),
			DeadLetterThreshold: getEnvInt("QUEUE_DEAD_LETTER_THRESHOLD", 50),
			ActiveThreshold:     getEnvInt("QUEUE_ACTIVE_THRESHOLD", 1000),
		},
		Router: RouterConfig{
			Strategy:              getEnv("ROUTER_STRATEGY", "healthAware"),
			MaxRetries:            getEnvInt("ROUTER_MAX_RETRIES", 3),
			RequestTimeout:        getEnvDuration("ROUTER_REQUEST_TIMEOUT", 30*time.Second),
			FallbackChain:         getEnvSlice("ROUTER_FALLBACK_CHAIN", nil),
			CostSensitivity:       getEnvFloat("ROUTER_COST_SENSITIVITY", 0),
			FailureThreshold:      getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold:      getEnvInt("BREAKER_SUCCESS_THRESHOLD", 3),
			BreakerBackoff:        getEnvDuration("BREAKER_BACKOFF", 30*time.Second),
			BreakerBackoffFactor:  getEnvFloat("BREAKER_BACKOFF_FACTOR", 2),
			BreakerMaxBackoff:     getEnvDuration("BREAKER_MAX_BACKOFF", 5*time.Minute),
			HealthCheckInterval:   getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			HealthCheckTimeout:    getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			ProbeFailureThreshold: getEnvInt("HEALTH_FAILURE_THRESHOLD", 3),
			ProbeSuccessThreshold: getEnvInt("HEALTH_SUCCESS_THRESHOLD", 2),
			MaxConcurrentRequests: getEnvInt("PROVIDER_MAX_CONCURRENT", 100),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be >= 1")
	}

	switch c.Cache.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}

	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue backend: %s", c.Queue.Backend)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
