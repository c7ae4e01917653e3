package queue

import (
	"strings"
	"testing"
)

func TestClampPriority(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, 1},
		{0, 1},
		{1, 1},
		{50, 50},
		{100, 100},
		{500, 100},
	}
	for _, tt := range tests {
		if got := ClampPriority(tt.in); got != tt.want {
			t.Errorf("ClampPriority(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEffectivePriorityExplicit(t *testing.T) {
	if got := EffectivePriority(&Job{Priority: 42, Type: "ai-computation"}); got != 42 {
		t.Errorf("explicit priority should win, got %d", got)
	}
	if got := EffectivePriority(&Job{Priority: 900}); got != 100 {
		t.Errorf("explicit priority should be clamped, got %d", got)
	}
}

func TestDynamicPriorityByType(t *testing.T) {
	tests := []struct {
		jobType string
		want    int
	}{
		{"email-notification", 8},
		{"data-processing", 12},
		{"ai-computation", 15},
		{"batch-operation", 5},
		{"anything-else", 10},
	}
	for _, tt := range tests {
		if got := EffectivePriority(&Job{Type: tt.jobType}); got != tt.want {
			t.Errorf("type %s: got %d, want %d", tt.jobType, got, tt.want)
		}
	}
}

func TestDynamicPriorityPremiumOwner(t *testing.T) {
	if got := EffectivePriority(&Job{Type: "data-processing", Owner: "premium-acme"}); got != 9 {
		t.Errorf("premium owner boost: got %d, want 9", got)
	}
	if got := EffectivePriority(&Job{Type: "data-processing", Owner: "acme"}); got != 12 {
		t.Errorf("regular owner: got %d, want 12", got)
	}
}

func TestDynamicPriorityPayloadPenalty(t *testing.T) {
	big := map[string]any{"blob": strings.Repeat("x", 6000)}
	large := map[string]any{"blob": strings.Repeat("x", 11000)}

	if got := EffectivePriority(&Job{Type: "data-processing", Payload: big}); got != 14 {
		t.Errorf("payload over 5000 bytes: got %d, want 14", got)
	}
	if got := EffectivePriority(&Job{Type: "data-processing", Payload: large}); got != 17 {
		t.Errorf("payload over 10000 bytes: got %d, want 17", got)
	}
}

func TestDynamicPriorityClamped(t *testing.T) {
	// batch-operation base 5 with premium boost stays within bounds
	if got := EffectivePriority(&Job{Type: "batch-operation", Owner: "premium-x"}); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}
