package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryDriver is an in-process cache backend with tag and dependency
// indexes. Expired entries are removed lazily on the access path and by a
// sweep that runs at most once per minute.
type MemoryDriver struct {
	mu        sync.RWMutex
	data      map[string]*Entry
	versions  map[string]Version
	byTag     map[string]map[string]struct{}
	byDep     map[string]map[string]struct{}
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryDriver creates a new in-memory cache backend
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		data:     make(map[string]*Entry),
		versions: make(map[string]Version),
		byTag:    make(map[string]map[string]struct{}),
		byDep:    make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Set stores an entry and updates the secondary indexes
func (d *MemoryDriver) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(key)
	d.data[key] = entry

	for _, tag := range entry.Tags {
		if d.byTag[tag] == nil {
			d.byTag[tag] = make(map[string]struct{})
		}
		d.byTag[tag][key] = struct{}{}
	}
	for _, dep := range entry.Dependencies {
		if d.byDep[dep] == nil {
			d.byDep[dep] = make(map[string]struct{})
		}
		d.byDep[dep][key] = struct{}{}
	}

	d.maybeSweepLocked()
	return nil
}

// Get returns the entry for key, or nil on a miss
func (d *MemoryDriver) Get(ctx context.Context, key string) (*Entry, error) {
	d.mu.RLock()
	entry, exists := d.data[key]
	d.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	return entry, nil
}

// Delete removes a single entry
func (d *MemoryDriver) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(key)
	return nil
}

// DeleteMany removes a batch of entries
func (d *MemoryDriver) DeleteMany(ctx context.Context, keys []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range keys {
		d.removeLocked(key)
	}
	return nil
}

// Exists reports whether an entry is stored under key
func (d *MemoryDriver) Exists(ctx context.Context, key string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.data[key]
	return exists, nil
}

// GetByPrefix returns entries whose key starts with prefix
func (d *MemoryDriver) GetByPrefix(ctx context.Context, prefix string) ([]*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Entry
	for key, entry := range d.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ClearByTags removes entries whose tag set intersects tags
func (d *MemoryDriver) ClearByTags(ctx context.Context, tags []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	victims := make(map[string]struct{})
	for _, tag := range tags {
		for key := range d.byTag[tag] {
			victims[key] = struct{}{}
		}
	}

	for key := range victims {
		d.removeLocked(key)
	}
	return len(victims), nil
}

// ClearByType removes entries for the given job type
func (d *MemoryDriver) ClearByType(ctx context.Context, jobType string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prefix := KeyPrefix(jobType)
	count := 0
	for key := range d.data {
		if strings.HasPrefix(key, prefix) {
			d.removeLocked(key)
			count++
		}
	}
	return count, nil
}

// ClearByDependency removes entries depending on jobID
func (d *MemoryDriver) ClearByDependency(ctx context.Context, jobID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := d.byDep[jobID]
	count := len(keys)
	for key := range keys {
		d.removeLocked(key)
	}
	return count, nil
}

// InvalidateOldVersions removes entries for jobType with a stale schema version
func (d *MemoryDriver) InvalidateOldVersions(ctx context.Context, jobType string, v Version) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prefix := KeyPrefix(jobType)
	count := 0
	for key, entry := range d.data {
		if strings.HasPrefix(key, prefix) && entry.Version.SchemaVersion != v.SchemaVersion {
			d.removeLocked(key)
			count++
		}
	}
	return count, nil
}

// SetVersion stores the version stamp side-key
func (d *MemoryDriver) SetVersion(ctx context.Context, key string, v Version) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.versions[VersionKey(key)] = v
	return nil
}

// GetVersion reads the version stamp side-key
func (d *MemoryDriver) GetVersion(ctx context.Context, key string) (*Version, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, exists := d.versions[VersionKey(key)]
	if !exists {
		return nil, nil
	}
	return &v, nil
}

// Metrics reports entry count and stored bytes
func (d *MemoryDriver) Metrics(ctx context.Context) (DriverMetrics, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var bytes int64
	for _, entry := range d.data {
		bytes += int64(len(entry.Payload))
	}
	return DriverMetrics{Entries: int64(len(d.data)), Bytes: bytes}, nil
}

// ClearAll drops every entry and index
func (d *MemoryDriver) ClearAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.data = make(map[string]*Entry)
	d.versions = make(map[string]Version)
	d.byTag = make(map[string]map[string]struct{})
	d.byDep = make(map[string]map[string]struct{})
	return nil
}

// Health always succeeds for the in-process backend
func (d *MemoryDriver) Health(ctx context.Context) error {
	return nil
}

// Disconnect drops all data
func (d *MemoryDriver) Disconnect(ctx context.Context) error {
	return d.ClearAll(ctx)
}

// removeLocked deletes an entry and its index references. Caller holds the
// write lock.
func (d *MemoryDriver) removeLocked(key string) {
	entry, exists := d.data[key]
	if !exists {
		return
	}

	delete(d.data, key)
	delete(d.versions, VersionKey(key))

	for _, tag := range entry.Tags {
		delete(d.byTag[tag], key)
		if len(d.byTag[tag]) == 0 {
			delete(d.byTag, tag)
		}
	}
	for _, dep := range entry.Dependencies {
		delete(d.byDep[dep], key)
		if len(d.byDep[dep]) == 0 {
			delete(d.byDep, dep)
		}
	}
}

// maybeSweepLocked evicts expired entries, at most once per minute. Caller
// holds the write lock.
func (d *MemoryDriver) maybeSweepLocked() {
	now := d.now()
	if now.Sub(d.lastSweep) < time.Minute {
		return
	}
	d.lastSweep = now

	for key, entry := range d.data {
		if entry.Expired(now) {
			d.removeLocked(key)
		}
	}
}
