package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redisWrapper "github.com/axiomflow/orchestrator/common/redis"
)

const (
	tagIndexPrefix = "cache:idx:tag:"
	depIndexPrefix = "cache:idx:dep:"
)

// RedisDriver persists cache entries in Redis. Entries live under their
// cache key as JSON; tag and dependency indexes are Redis sets. TTL is
// delegated to Redis key expiry in addition to the store's lazy check.
type RedisDriver struct {
	client *redisWrapper.Client
}

// NewRedisDriver creates a redis-backed cache driver
func NewRedisDriver(client *redisWrapper.Client) *RedisDriver {
	return &RedisDriver{client: client}
}

// Set stores an entry as JSON and registers it in the tag/dep indexes
func (d *RedisDriver) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := d.client.Set(ctx, key, string(raw), ttl); err != nil {
		return err
	}

	for _, tag := range entry.Tags {
		if err := d.client.AddToSet(ctx, tagIndexPrefix+tag, key); err != nil {
			return err
		}
	}
	for _, dep := range entry.Dependencies {
		if err := d.client.AddToSet(ctx, depIndexPrefix+dep, key); err != nil {
			return err
		}
	}
	return nil
}

// SetIfAbsent stores an entry only while the key is vacant, using SETNX so
// writers in different processes keep first-writer-wins semantics.
func (d *RedisDriver) SetIfAbsent(ctx context.Context, key string, entry *Entry, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal entry: %w", err)
	}

	won, err := d.client.SetNX(ctx, key, string(raw), ttl)
	if err != nil || !won {
		return false, err
	}

	for _, tag := range entry.Tags {
		if err := d.client.AddToSet(ctx, tagIndexPrefix+tag, key); err != nil {
			return true, err
		}
	}
	for _, dep := range entry.Dependencies {
		if err := d.client.AddToSet(ctx, depIndexPrefix+dep, key); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Get returns the entry for key, or nil on a miss
func (d *RedisDriver) Get(ctx context.Context, key string) (*Entry, error) {
	raw, found, err := d.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry %s: %w", key, err)
	}
	return &entry, nil
}

// Delete removes an entry and its index references
func (d *RedisDriver) Delete(ctx context.Context, key string) error {
	entry, err := d.Get(ctx, key)
	if err != nil {
		return err
	}
	if entry != nil {
		for _, tag := range entry.Tags {
			_ = d.client.RemoveFromSet(ctx, tagIndexPrefix+tag, key)
		}
		for _, dep := range entry.Dependencies {
			_ = d.client.RemoveFromSet(ctx, depIndexPrefix+dep, key)
		}
	}
	return d.client.Delete(ctx, key, VersionKey(key))
}

// DeleteMany removes a batch of entries
func (d *RedisDriver) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := d.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether an entry is stored under key
func (d *RedisDriver) Exists(ctx context.Context, key string) (bool, error) {
	return d.client.Exists(ctx, key)
}

// GetByPrefix returns entries whose key starts with prefix
func (d *RedisDriver) GetByPrefix(ctx context.Context, prefix string) ([]*Entry, error) {
	keys, err := d.client.ScanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	var out []*Entry
	for _, key := range keys {
		if !isEntryKey(key) {
			continue
		}
		entry, err := d.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ClearByTags removes entries whose tag set intersects tags
func (d *RedisDriver) ClearByTags(ctx context.Context, tags []string) (int, error) {
	victims := make(map[string]struct{})
	for _, tag := range tags {
		keys, err := d.client.SetMembers(ctx, tagIndexPrefix+tag)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			victims[key] = struct{}{}
		}
	}

	for key := range victims {
		if err := d.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

// ClearByType removes entries for the given job type
func (d *RedisDriver) ClearByType(ctx context.Context, jobType string) (int, error) {
	keys, err := d.client.ScanKeys(ctx, KeyPrefix(jobType)+"*")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, key := range keys {
		if !isEntryKey(key) {
			continue
		}
		if err := d.Delete(ctx, key); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ClearByDependency removes entries depending on jobID
func (d *RedisDriver) ClearByDependency(ctx context.Context, jobID string) (int, error) {
	keys, err := d.client.SetMembers(ctx, depIndexPrefix+jobID)
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		if err := d.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// InvalidateOldVersions removes entries for jobType with a stale schema version
func (d *RedisDriver) InvalidateOldVersions(ctx context.Context, jobType string, v Version) (int, error) {
	entries, err := d.GetByPrefix(ctx, KeyPrefix(jobType))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if entry.Version.SchemaVersion != v.SchemaVersion {
			if err := d.Delete(ctx, entry.Key); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// SetVersion stores the version stamp side-key
func (d *RedisDriver) SetVersion(ctx context.Context, key string, v Version) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}
	return d.client.Set(ctx, VersionKey(key), string(raw), 0)
}

// GetVersion reads the version stamp side-key
func (d *RedisDriver) GetVersion(ctx context.Context, key string) (*Version, error) {
	raw, found, err := d.client.Get(ctx, VersionKey(key))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var v Version
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version for %s: %w", key, err)
	}
	return &v, nil
}

// Metrics reports entry count and stored bytes
func (d *RedisDriver) Metrics(ctx context.Context) (DriverMetrics, error) {
	keys, err := d.client.ScanKeys(ctx, "cache:*")
	if err != nil {
		return DriverMetrics{}, err
	}

	var m DriverMetrics
	for _, key := range keys {
		if !isEntryKey(key) {
			continue
		}
		entry, err := d.Get(ctx, key)
		if err != nil || entry == nil {
			continue
		}
		m.Entries++
		m.Bytes += int64(len(entry.Payload))
	}
	return m, nil
}

// ClearAll drops every entry and index
func (d *RedisDriver) ClearAll(ctx context.Context) error {
	keys, err := d.client.ScanKeys(ctx, "cache:*")
	if err != nil {
		return err
	}
	return d.client.Delete(ctx, keys...)
}

// Health checks backend reachability
func (d *RedisDriver) Health(ctx context.Context) error {
	return d.client.Ping(ctx)
}

// Disconnect releases the connection pool
func (d *RedisDriver) Disconnect(ctx context.Context) error {
	return d.client.Close()
}

// isEntryKey filters out index and version side-keys during scans
func isEntryKey(key string) bool {
	if strings.HasPrefix(key, "cache:idx:") {
		return false
	}
	if strings.HasSuffix(key, ":version") {
		return false
	}
	return true
}
