package cache

import (
	"time"
)

// Version is the stamp used to invalidate stale entries when job
// definitions, provider versions, or result schemas change.
type Version struct {
	JobDefinitionHash string `json:"job_definition_hash,omitempty"`
	ProviderVersion   string `json:"provider_version,omitempty"`
	SchemaVersion     string `json:"schema_version,omitempty"`
}

// Policy controls how a result is stored.
type Policy struct {
	TTL                  time.Duration
	Compression          Algorithm
	CompressionThreshold int // bytes; 0 means the store default
	Tags                 []string
	Dependencies         []string // upstream job ids
	Version              Version
}

// Entry is a stored job result. Entries are immutable after write.
type Entry struct {
	Key          string    `json:"key"`
	Payload      []byte    `json:"payload"`
	Compressed   bool      `json:"compressed"`
	Algorithm    Algorithm `json:"algorithm"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Version      Version   `json:"version"`
	JobID        string    `json:"job_id,omitempty"`
	JobType      string    `json:"job_type"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	SourceSize   int       `json:"source_size"`
	StoredSize   int       `json:"stored_size"`
}

// Expired reports whether the entry is past its TTL. An entry at exactly
// ExpiresAt is treated as expired.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// DriverMetrics reports storage-level gauges.
type DriverMetrics struct {
	Entries int64
	Bytes   int64
}
