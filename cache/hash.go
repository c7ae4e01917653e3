package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fields stripped recursively before hashing. Timestamp-like fields and
// generated ids would otherwise break content identity across submissions.
var strippedFields = map[string]struct{}{
	"timestamp": {},
	"createdAt": {},
	"updatedAt": {},
	"id":        {},
}

// ContentHash computes the deterministic digest of a job's identifying
// inputs: job type, normalized payload, and provider id ("default" when
// absent). Identical tuples yield identical hashes across calls.
func ContentHash(jobType string, payload any, providerID string) (string, error) {
	if providerID == "" {
		providerID = "default"
	}

	doc := map[string]any{
		"type":       jobType,
		"payload":    payload,
		"providerId": providerID,
	}

	canonical, err := canonicalJSON(doc)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Key builds the cache key: cache:{type}:{contentHash}[:{jobId}]
func Key(jobType, contentHash, jobID string) string {
	if jobID != "" {
		return fmt.Sprintf("cache:%s:%s:%s", jobType, contentHash, jobID)
	}
	return fmt.Sprintf("cache:%s:%s", jobType, contentHash)
}

// VersionKey builds the side-key holding an entry's version stamp.
func VersionKey(cacheKey string) string {
	return cacheKey + ":version"
}

// KeyPrefix builds the invalidation prefix for a job type.
func KeyPrefix(jobType string) string {
	return fmt.Sprintf("cache:%s:", jobType)
}

// canonicalJSON serializes v with object keys sorted and volatile fields
// stripped. Round-tripping through map[string]any gives sorted keys for
// free (encoding/json sorts map keys).
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}

	return json.Marshal(normalize(decoded))
}

// normalize walks the decoded document, dropping stripped fields at every
// level.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if _, strip := strippedFields[k]; strip {
				continue
			}
			out[k] = normalize(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalize(child)
		}
		return out
	default:
		return v
	}
}
