package cache

import (
	"sync"
	"time"
)

const latencyWindow = 100

// compressionEMAWeight smooths the compression ratio across stores.
const compressionEMAWeight = 0.5

// storeMetrics tracks cache performance counters and rolling latencies.
type storeMetrics struct {
	mu sync.Mutex

	hits      int64
	misses    int64
	evictions int64

	hitLatencies  latencyRing
	missLatencies latencyRing

	compressionRatio    float64
	compressionSampled  bool
}

// latencyRing holds the last latencyWindow samples.
type latencyRing struct {
	samples [latencyWindow]float64
	next    int
	count   int
}

func (r *latencyRing) add(ms float64) {
	r.samples[r.next] = ms
	r.next = (r.next + 1) % latencyWindow
	if r.count < latencyWindow {
		r.count++
	}
}

func (r *latencyRing) average() float64 {
	if r.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return sum / float64(r.count)
}

func (m *storeMetrics) recordHit(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits++
	m.hitLatencies.add(float64(latency.Microseconds()) / 1000)
}

func (m *storeMetrics) recordMiss(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.misses++
	m.missLatencies.add(float64(latency.Microseconds()) / 1000)
}

func (m *storeMetrics) recordEvictions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictions += int64(n)
}

func (m *storeMetrics) recordCompression(sourceSize, storedSize int) {
	if sourceSize == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ratio := float64(storedSize) / float64(sourceSize)
	if !m.compressionSampled {
		m.compressionRatio = ratio
		m.compressionSampled = true
		return
	}
	m.compressionRatio = compressionEMAWeight*ratio + (1-compressionEMAWeight)*m.compressionRatio
}

// Snapshot is a point-in-time view of cache metrics.
type Snapshot struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Evictions        int64   `json:"evictions"`
	Entries          int64   `json:"entries"`
	TotalBytes       int64   `json:"total_bytes"`
	AvgEntryBytes    float64 `json:"avg_entry_bytes"`
	AvgHitLatencyMs  float64 `json:"avg_hit_latency_ms"`
	AvgMissLatencyMs float64 `json:"avg_miss_latency_ms"`
	CompressionRatio float64 `json:"compression_ratio"`
}

func (m *storeMetrics) snapshot(driver DriverMetrics) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Hits:             m.hits,
		Misses:           m.misses,
		Evictions:        m.evictions,
		Entries:          driver.Entries,
		TotalBytes:       driver.Bytes,
		AvgHitLatencyMs:  m.hitLatencies.average(),
		AvgMissLatencyMs: m.missLatencies.average(),
		CompressionRatio: m.compressionRatio,
	}
	if driver.Entries > 0 {
		snap.AvgEntryBytes = float64(driver.Bytes) / float64(driver.Entries)
	}
	return snap
}
