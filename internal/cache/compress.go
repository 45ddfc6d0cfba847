package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/rendercove/prerender/pkg/types"
)

// ErrDecompression is returned when cache decompression fails.
// Use errors.Is(err, ErrDecompression) to check for decompression errors.
var ErrDecompression = errors.New("decompression failed")

// Compress compresses content using the requested algorithm and returns the
// encoded bytes plus the algorithm actually applied. Content below the size
// threshold, or an algorithm of "none", passes through unchanged with
// CompressionNone so the metadata records what the body really is.
func Compress(content []byte, algorithm string) ([]byte, string, error) {
	// Skip compression for small content
	if len(content) < types.CompressionMinSize {
		return content, types.CompressionNone, nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		compressed := snappy.Encode(nil, content)
		return compressed, types.CompressionSnappy, nil

	case types.CompressionLZ4:
		// Use LZ4 stream format which embeds size information
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), types.CompressionLZ4, nil

	default:
		return content, types.CompressionNone, nil
	}
}

// Decompress reverses Compress given the algorithm recorded in the entry
// metadata. Unknown algorithms return the content as-is.
func Decompress(content []byte, algorithm string) ([]byte, error) {
	switch algorithm {
	case types.CompressionSnappy:
		decompressed, err := snappy.Decode(nil, content)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return decompressed, nil

	case types.CompressionLZ4:
		// Use LZ4 stream format reader
		r := lz4.NewReader(bytes.NewReader(content))
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return decompressed, nil

	default:
		return content, nil
	}
}
