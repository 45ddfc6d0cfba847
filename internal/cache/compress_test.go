package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendercove/prerender/pkg/types"
)

// generateTestContent creates test content of specified size
func generateTestContent(size int) []byte {
	content := make([]byte, size)
	// Fill with repeatable pattern for good compression
	pattern := []byte("The quick brown fox jumps over the lazy dog. ")
	for i := 0; i < size; i++ {
		content[i] = pattern[i%len(pattern)]
	}
	return content
}

func TestCompressDecompressRoundTripSnappy(t *testing.T) {
	original := generateTestContent(2000)

	compressed, algorithm, err := Compress(original, types.CompressionSnappy)
	require.NoError(t, err)
	assert.Equal(t, types.CompressionSnappy, algorithm)
	assert.Less(t, len(compressed), len(original), "compressed should be smaller than original")

	decompressed, err := Decompress(compressed, algorithm)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressDecompressRoundTripLZ4(t *testing.T) {
	original := generateTestContent(2000)

	compressed, algorithm, err := Compress(original, types.CompressionLZ4)
	require.NoError(t, err)
	assert.Equal(t, types.CompressionLZ4, algorithm)
	assert.Less(t, len(compressed), len(original), "compressed should be smaller than original")

	decompressed, err := Decompress(compressed, algorithm)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressSkipsBelowThreshold(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty content", 0},
		{"small content", 100},
		{"just below threshold", types.CompressionMinSize - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := generateTestContent(tt.size)

			compressed, algorithm, err := Compress(original, types.CompressionSnappy)
			require.NoError(t, err)
			assert.Equal(t, types.CompressionNone, algorithm, "small content should record no compression")
			assert.Equal(t, original, compressed, "content should be unchanged")
		})
	}
}

func TestCompressAtThreshold(t *testing.T) {
	original := generateTestContent(types.CompressionMinSize)

	compressed, algorithm, err := Compress(original, types.CompressionSnappy)
	require.NoError(t, err)
	assert.Equal(t, types.CompressionSnappy, algorithm, "content at threshold should be compressed")
	assert.Less(t, len(compressed), len(original))
}

func TestCompressAlgorithmNone(t *testing.T) {
	original := generateTestContent(2000)

	compressed, algorithm, err := Compress(original, types.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, types.CompressionNone, algorithm)
	assert.Equal(t, original, compressed)
}

func TestCompressUnknownAlgorithm(t *testing.T) {
	original := generateTestContent(2000)

	compressed, algorithm, err := Compress(original, "zstd")
	require.NoError(t, err)
	assert.Equal(t, types.CompressionNone, algorithm, "unknown algorithm falls back to none")
	assert.Equal(t, original, compressed)
}

func TestDecompressNone(t *testing.T) {
	original := []byte("<html><body>Hello World</body></html>")

	result, err := Decompress(original, types.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, original, result)
}

func TestDecompressCorruptData(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
	}{
		{"corrupt snappy", types.CompressionSnappy},
		{"corrupt lz4", types.CompressionLZ4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompress([]byte("this is not compressed data"), tt.algorithm)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecompression), "error should wrap ErrDecompression")
		})
	}
}

func TestDecompressWrongAlgorithm(t *testing.T) {
	original := generateTestContent(2000)

	compressed, _, err := Compress(original, types.CompressionLZ4)
	require.NoError(t, err)

	// LZ4 stream bytes fed to the snappy decoder must not round-trip silently
	result, err := Decompress(compressed, types.CompressionSnappy)
	if err == nil {
		assert.NotEqual(t, original, result)
	} else {
		assert.True(t, errors.Is(err, ErrDecompression))
	}
}
