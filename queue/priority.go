package queue

import (
	"encoding/json"
	"strings"
)

// Priority bounds. Lower number dispatches first.
const (
	MinPriority  = 1
	MaxPriority  = 100
	basePriority = 10
)

// typePriorities are the per-type bases used when the caller sets none.
var typePriorities = map[string]int{
	"email-notification": 8,
	"data-processing":    12,
	"ai-computation":     15,
	"batch-operation":    5,
}

// premiumOwnerPrefix marks owners whose jobs get a priority boost.
const premiumOwnerPrefix = "premium-"

// Payload-size penalties push bulky jobs behind small ones.
const (
	largePayloadBytes   = 10000
	largePayloadPenalty = 5
	bigPayloadBytes     = 5000
	bigPayloadPenalty   = 2
)

// ClampPriority forces p into [MinPriority, MaxPriority]
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// EffectivePriority returns the dispatch priority for a job: the caller's
// explicit priority clamped, or the dynamic priority when none was set.
func EffectivePriority(job *Job) int {
	if job.Priority != 0 {
		return ClampPriority(job.Priority)
	}
	return dynamicPriority(job)
}

// dynamicPriority derives a priority from job type, owner tier and payload
// size
func dynamicPriority(job *Job) int {
	p := basePriority
	if tp, ok := typePriorities[job.Type]; ok {
		p = tp
	}

	if strings.HasPrefix(job.Owner, premiumOwnerPrefix) {
		p -= 3
	}

	if size := payloadSize(job.Payload); size > largePayloadBytes {
		p += largePayloadPenalty
	} else if size > bigPayloadBytes {
		p += bigPayloadPenalty
	}

	return ClampPriority(p)
}

// payloadSize measures the serialized payload; unserializable payloads
// count as zero
func payloadSize(payload map[string]any) int {
	if len(payload) == 0 {
		return 0
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(raw)
}
