package cache

import (
	"bytes"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox "), 200)

	for _, algo := range []Algorithm{AlgorithmGzip, AlgorithmBrotli} {
		compressed, err := Compress(data, algo)
		if err != nil {
			t.Fatalf("%s compress failed: %v", algo, err)
		}
		if len(compressed) >= len(data) {
			t.Errorf("%s did not shrink repetitive data: %d >= %d", algo, len(compressed), len(data))
		}

		decoded, err := Decompress(compressed, algo)
		if err != nil {
			t.Fatalf("%s decompress failed: %v", algo, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("%s round trip corrupted data", algo)
		}
	}
}

func TestCompressUnknownAlgorithm(t *testing.T) {
	if _, err := Compress([]byte("x"), Algorithm("zstd")); err == nil {
		t.Errorf("expected error for unknown algorithm")
	}
	if _, err := Decompress([]byte("x"), Algorithm("zstd")); err == nil {
		t.Errorf("expected error for unknown algorithm")
	}
}
