package cache

import (
	"strings"
	"testing"
)

func TestContentHashDeterministic(t *testing.T) {
	payload := map[string]any{"b": 2, "a": "one", "nested": map[string]any{"y": true, "x": []any{1, 2}}}

	h1, err := ContentHash("ai-computation", payload, "openai")
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	h2, err := ContentHash("ai-computation", payload, "openai")
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("expected identical hashes, got %s and %s", h1, h2)
	}
	if len(h1) != 64 || strings.ToLower(h1) != h1 {
		t.Errorf("expected 64 lowercase hex chars, got %q", h1)
	}
}

func TestContentHashStripsVolatileFields(t *testing.T) {
	base := map[string]any{"query": "select 1", "limit": 10}
	noisy := map[string]any{
		"query":     "select 1",
		"limit":     10,
		"timestamp": "2024-01-01T00:00:00Z",
		"createdAt": "2024-01-01T00:00:00Z",
		"updatedAt": "2024-01-02T00:00:00Z",
		"id":        "req-123",
	}

	h1, err := ContentHash("data-processing", base, "")
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	h2, err := ContentHash("data-processing", noisy, "")
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("volatile fields should not change the hash: %s vs %s", h1, h2)
	}
}

func TestContentHashStripsNestedVolatileFields(t *testing.T) {
	a := map[string]any{"doc": map[string]any{"body": "x"}}
	b := map[string]any{"doc": map[string]any{"body": "x", "updatedAt": "later"}}

	ha, _ := ContentHash("t", a, "")
	hb, _ := ContentHash("t", b, "")
	if ha != hb {
		t.Errorf("nested volatile fields should be stripped")
	}
}

func TestContentHashProviderChangesKey(t *testing.T) {
	payload := map[string]any{"prompt": "hello"}

	h1, _ := ContentHash("ai-computation", payload, "alpha")
	h2, _ := ContentHash("ai-computation", payload, "beta")
	h3, _ := ContentHash("ai-computation", payload, "")
	h4, _ := ContentHash("ai-computation", payload, "default")

	if h1 == h2 {
		t.Errorf("different providers should produce different hashes")
	}
	// Empty provider id defaults to "default"
	if h3 != h4 {
		t.Errorf("empty provider should hash as default: %s vs %s", h3, h4)
	}
}

func TestKeyFormat(t *testing.T) {
	hash := strings.Repeat("ab", 32)

	key := Key("ai-computation", hash, "")
	if key != "cache:ai-computation:"+hash {
		t.Errorf("unexpected key %q", key)
	}

	scoped := Key("ai-computation", hash, "job-1")
	if scoped != "cache:ai-computation:"+hash+":job-1" {
		t.Errorf("unexpected scoped key %q", scoped)
	}

	if got := VersionKey(key); got != key+":version" {
		t.Errorf("unexpected version key %q", got)
	}
}
