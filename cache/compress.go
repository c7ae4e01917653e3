package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Algorithm identifies a payload compression codec.
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmBrotli Algorithm = "brotli"
)

// Compress encodes data under the given algorithm.
func Compress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil

	case AlgorithmBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("brotli write failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli close failed: %w", err)
		}
		return buf.Bytes(), nil

	case AlgorithmNone, "":
		return data, nil

	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", algo)
	}
}

// Decompress decodes data produced by Compress.
func Decompress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader failed: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip read failed: %w", err)
		}
		return out, nil

	case AlgorithmBrotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("brotli read failed: %w", err)
		}
		return out, nil

	case AlgorithmNone, "":
		return data, nil

	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", algo)
	}
}
