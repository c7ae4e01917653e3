package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/axiomflow/orchestrator/common/events"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// GetOptions scope a cache lookup.
type GetOptions struct {
	JobID      string
	ProviderID string
}

// SetOptions scope a cache store. JobID and ProviderID narrow the key
// itself, so lookups must pass the same values. OwnerJobID only records the
// producing job on the entry and leaves the key content-addressed.
type SetOptions struct {
	JobID      string
	ProviderID string
	OwnerJobID string
	Policy     *Policy
}

// conditionalSetter is implemented by drivers that can store a fresh entry
// only while the key is still vacant, extending first-writer-wins to
// backends shared across processes.
type conditionalSetter interface {
	SetIfAbsent(ctx context.Context, key string, entry *Entry, ttl time.Duration) (bool, error)
}

// SetReceipt reports the outcome of a Set call. Cached is false when the
// write was skipped or the backend failed; the caller proceeds either way.
type SetReceipt struct {
	Key    string `json:"key"`
	Cached bool   `json:"cached"`
}

// Store is the content-addressed result cache. Storage failures are
// contained: reads degrade to misses, writes report Cached=false.
type Store struct {
	driver     Driver
	log        Logger
	bus        *events.Bus
	defaultTTL time.Duration
	threshold  int
	algorithm  Algorithm
	metrics    storeMetrics
	now        func() time.Time

	// inflight serializes stores per key: first writer wins, concurrent
	// stores for the same key are dropped.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// StoreOpts contains options for creating a cache store
type StoreOpts struct {
	Driver               Driver
	Logger               Logger
	Bus                  *events.Bus
	DefaultTTL           time.Duration
	Compression          Algorithm
	CompressionThreshold int
}

// NewStore creates a cache store over a driver
func NewStore(opts *StoreOpts) *Store {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	threshold := opts.CompressionThreshold
	if threshold <= 0 {
		threshold = 1024
	}
	algo := opts.Compression
	if algo == "" {
		algo = AlgorithmNone
	}

	return &Store{
		driver:     opts.Driver,
		log:        opts.Logger,
		bus:        opts.Bus,
		defaultTTL: ttl,
		threshold:  threshold,
		algorithm:  algo,
		now:        time.Now,
		inflight:   make(map[string]struct{}),
	}
}

// Get looks up a result by content identity. Returns (result, true, nil) on
// a hit; storage failures are logged and surfaced as misses so execution
// can proceed.
func (s *Store) Get(ctx context.Context, jobType string, payload any, opt GetOptions) (any, bool, error) {
	start := s.now()

	key, err := s.buildKey(jobType, payload, opt.JobID, opt.ProviderID)
	if err != nil {
		return nil, false, err
	}

	entry, err := s.driver.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed, treating as miss", "key", key, "error", err)
		s.metrics.recordMiss(s.now().Sub(start))
		return nil, false, nil
	}

	if entry == nil {
		s.metrics.recordMiss(s.now().Sub(start))
		return nil, false, nil
	}

	if entry.Expired(s.now()) {
		// Lazy eviction off the access path
		s.metrics.recordMiss(s.now().Sub(start))
		s.metrics.recordEvictions(1)
		go func() {
			if err := s.driver.Delete(context.Background(), key); err != nil {
				s.log.Warn("failed to purge expired entry", "key", key, "error", err)
			}
		}()
		return nil, false, nil
	}

	result, err := s.decode(entry)
	if err != nil {
		s.log.Error("failed to decode cache entry", "key", key, "error", err)
		s.metrics.recordMiss(s.now().Sub(start))
		return nil, false, nil
	}

	s.metrics.recordHit(s.now().Sub(start))
	return result, true, nil
}

// Set stores a job result under its content identity. A write failure is
// logged and reported as Cached=false; the caller continues as if no cache
// existed.
func (s *Store) Set(ctx context.Context, jobType string, payload, result any, opt SetOptions) (SetReceipt, error) {
	key, err := s.buildKey(jobType, payload, opt.JobID, opt.ProviderID)
	if err != nil {
		return SetReceipt{}, err
	}

	// First-writer-wins per key
	s.inflightMu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.inflightMu.Unlock()
		return SetReceipt{Key: key, Cached: false}, nil
	}
	s.inflight[key] = struct{}{}
	s.inflightMu.Unlock()

	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, key)
		s.inflightMu.Unlock()
	}()

	policy := opt.Policy
	if policy == nil {
		policy = &Policy{}
	}

	// Compare-and-set: an existing live entry with the same version stamp
	// is never overwritten.
	existing, getErr := s.driver.Get(ctx, key)
	if getErr == nil && existing != nil &&
		!existing.Expired(s.now()) && existing.Version == policy.Version {
		return SetReceipt{Key: key, Cached: true}, nil
	}

	entry, err := s.encode(key, jobType, result, opt, policy)
	if err != nil {
		return SetReceipt{Key: key}, err
	}

	ttl := policy.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	stored := false
	if getErr == nil && existing == nil {
		// Fresh key: drivers with an atomic conditional write keep
		// first-writer-wins across processes sharing the backend.
		if nx, ok := s.driver.(conditionalSetter); ok {
			won, err := nx.SetIfAbsent(ctx, key, entry, ttl)
			if err != nil {
				s.log.Error("cache write failed", "key", key, "error", err)
				return SetReceipt{Key: key, Cached: false}, nil
			}
			if !won {
				return SetReceipt{Key: key, Cached: false}, nil
			}
			stored = true
		}
	}
	if !stored {
		if err := s.driver.Set(ctx, key, entry, ttl); err != nil {
			s.log.Error("cache write failed", "key", key, "error", err)
			return SetReceipt{Key: key, Cached: false}, nil
		}
	}
	if err := s.driver.SetVersion(ctx, key, policy.Version); err != nil {
		s.log.Warn("failed to store version stamp", "key", key, "error", err)
	}

	s.metrics.recordCompression(entry.SourceSize, entry.StoredSize)
	s.publish(ctx, events.CacheStored, key, jobType)

	return SetReceipt{Key: key, Cached: true}, nil
}

// Invalidate removes a single entry by key
func (s *Store) Invalidate(ctx context.Context, key string) error {
	if err := s.driver.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	s.metrics.recordEvictions(1)
	s.publish(ctx, events.CacheInvalidated, key, "")
	return nil
}

// InvalidateByType removes every entry for a job type
func (s *Store) InvalidateByType(ctx context.Context, jobType string) (int, error) {
	n, err := s.driver.ClearByType(ctx, jobType)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate type %s: %w", jobType, err)
	}
	s.metrics.recordEvictions(n)
	s.publish(ctx, events.CacheInvalidated, "", jobType)
	return n, nil
}

// InvalidateByTags removes every entry whose tag set intersects tags
func (s *Store) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	n, err := s.driver.ClearByTags(ctx, tags)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate by tags: %w", err)
	}
	s.metrics.recordEvictions(n)
	s.publish(ctx, events.CacheInvalidated, "", "")
	return n, nil
}

// InvalidateByDependency removes every entry depending on jobID. The
// cascade is one level deep; deeper cascades require chained calls.
func (s *Store) InvalidateByDependency(ctx context.Context, jobID string) (int, error) {
	n, err := s.driver.ClearByDependency(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate dependents of %s: %w", jobID, err)
	}
	s.metrics.recordEvictions(n)
	s.publish(ctx, events.CacheInvalidated, jobID, "")
	return n, nil
}

// InvalidateOldVersions removes entries for jobType whose schema version
// differs from the new version's
func (s *Store) InvalidateOldVersions(ctx context.Context, jobType string, v Version) (int, error) {
	n, err := s.driver.InvalidateOldVersions(ctx, jobType, v)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate old versions of %s: %w", jobType, err)
	}
	s.metrics.recordEvictions(n)
	s.publish(ctx, events.CacheInvalidated, "", jobType)
	return n, nil
}

// Metrics returns a point-in-time snapshot
func (s *Store) Metrics(ctx context.Context) Snapshot {
	driverMetrics, err := s.driver.Metrics(ctx)
	if err != nil {
		s.log.Warn("failed to read driver metrics", "error", err)
	}
	return s.metrics.snapshot(driverMetrics)
}

// Health checks backend reachability
func (s *Store) Health(ctx context.Context) error {
	return s.driver.Health(ctx)
}

// Close releases backend resources
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Disconnect(ctx)
}

// buildKey derives the content-addressed cache key
func (s *Store) buildKey(jobType string, payload any, jobID, providerID string) (string, error) {
	hash, err := ContentHash(jobType, payload, providerID)
	if err != nil {
		return "", err
	}
	return Key(jobType, hash, jobID), nil
}

// encode serializes and optionally compresses a result into an entry
func (s *Store) encode(key, jobType string, result any, opt SetOptions, policy *Policy) (*Entry, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}

	algo := policy.Compression
	if algo == "" {
		algo = s.algorithm
	}
	threshold := policy.CompressionThreshold
	if threshold <= 0 {
		threshold = s.threshold
	}

	payload := raw
	compressed := false
	if algo != AlgorithmNone && len(raw) >= threshold {
		payload, err = Compress(raw, algo)
		if err != nil {
			return nil, fmt.Errorf("failed to compress result: %w", err)
		}
		compressed = true
	} else {
		algo = AlgorithmNone
	}

	ttl := policy.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	owner := opt.OwnerJobID
	if owner == "" {
		owner = opt.JobID
	}

	now := s.now()
	return &Entry{
		Key:          key,
		Payload:      payload,
		Compressed:   compressed,
		Algorithm:    algo,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Version:      policy.Version,
		JobID:        owner,
		JobType:      jobType,
		Dependencies: policy.Dependencies,
		Tags:         policy.Tags,
		SourceSize:   len(raw),
		StoredSize:   len(payload),
	}, nil
}

// decode reverses encode
func (s *Store) decode(entry *Entry) (any, error) {
	raw := entry.Payload
	if entry.Compressed {
		var err error
		raw, err = Decompress(raw, entry.Algorithm)
		if err != nil {
			return nil, err
		}
	}

	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize result: %w", err)
	}
	return result, nil
}

// publish emits a cache event when a bus is attached
func (s *Store) publish(ctx context.Context, name, key, jobType string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Name:    name,
		JobType: jobType,
		Fields:  map[string]any{"key": key},
	})
}
