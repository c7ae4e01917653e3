package cache

import (
	"context"
	"time"
)

// Driver is the pluggable storage backend behind the cache store. The store
// owns content addressing, compression, and metrics; drivers own persistence
// and secondary indexes (tags, dependencies, type prefixes).
type Driver interface {
	// Set stores an entry under its key with a TTL.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Get returns the entry for key, or (nil, nil) on a miss. Drivers may
	// return expired entries; the store handles lazy eviction.
	Get(ctx context.Context, key string) (*Entry, error)

	// Delete removes a single entry.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes a batch of entries.
	DeleteMany(ctx context.Context, keys []string) error

	// Exists reports whether a non-deleted entry is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetByPrefix returns every entry whose key starts with prefix.
	GetByPrefix(ctx context.Context, prefix string) ([]*Entry, error)

	// ClearByTags removes every entry whose tag set intersects tags.
	// Returns the number of entries removed.
	ClearByTags(ctx context.Context, tags []string) (int, error)

	// ClearByType removes every entry for the given job type.
	ClearByType(ctx context.Context, jobType string) (int, error)

	// ClearByDependency removes every entry whose dependency set contains
	// jobID.
	ClearByDependency(ctx context.Context, jobID string) (int, error)

	// InvalidateOldVersions removes every entry for jobType whose schema
	// version differs from v.SchemaVersion.
	InvalidateOldVersions(ctx context.Context, jobType string, v Version) (int, error)

	// SetVersion stores the version stamp side-key for a cache key.
	SetVersion(ctx context.Context, key string, v Version) error

	// GetVersion reads the version stamp side-key, or (nil, nil) if absent.
	GetVersion(ctx context.Context, key string) (*Version, error)

	// Metrics reports storage-level gauges.
	Metrics(ctx context.Context) (DriverMetrics, error)

	// ClearAll drops every entry and index.
	ClearAll(ctx context.Context) error

	// Health checks backend reachability.
	Health(ctx context.Context) error

	// Disconnect releases backend resources.
	Disconnect(ctx context.Context) error
}
