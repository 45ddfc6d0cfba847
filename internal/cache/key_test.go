package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "already canonical",
			input:    "https://example.com/page",
			expected: "https://example.com/page",
		},
		{
			name:     "scheme defaults to https",
			input:    "example.com/page",
			expected: "https://example.com/page",
		},
		{
			name:     "uppercase scheme and host lowered",
			input:    "HTTPS://Example.COM/Page",
			expected: "https://example.com/Page",
		},
		{
			name:     "default https port removed",
			input:    "https://example.com:443/page",
			expected: "https://example.com/page",
		},
		{
			name:     "default http port removed",
			input:    "http://example.com:80/page",
			expected: "http://example.com/page",
		},
		{
			name:     "non-default port kept",
			input:    "https://example.com:8443/page",
			expected: "https://example.com:8443/page",
		},
		{
			name:     "empty path becomes root",
			input:    "https://example.com",
			expected: "https://example.com/",
		},
		{
			name:     "duplicate slashes collapsed",
			input:    "https://example.com//a///b",
			expected: "https://example.com/a/b",
		},
		{
			name:     "dot segments resolved",
			input:    "https://example.com/a/./b/../c",
			expected: "https://example.com/a/c",
		},
		{
			name:     "trailing slash preserved",
			input:    "https://example.com/a/b/",
			expected: "https://example.com/a/b/",
		},
		{
			name:     "query parameters sorted",
			input:    "https://example.com/page?b=2&a=1",
			expected: "https://example.com/page?a=1&b=2",
		},
		{
			name:     "repeated query values kept in order",
			input:    "https://example.com/page?x=2&x=1&a=0",
			expected: "https://example.com/page?a=0&x=2&x=1",
		},
		{
			name:     "fragment dropped",
			input:    "https://example.com/page#section",
			expected: "https://example.com/page",
		},
		{
			name:     "trailing host dot removed",
			input:    "https://example.com./page",
			expected: "https://example.com/page",
		},
		{
			name:     "localhost allowed",
			input:    "http://localhost:3000/page",
			expected: "http://localhost:3000/page",
		},
		{
			name:    "missing host",
			input:   "https:///page",
			wantErr: true,
		},
		{
			name:    "bare word host",
			input:   "https://notahost/page",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestKey(t *testing.T) {
	key := Key("https://example.com/page")

	assert.Len(t, key, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", key)

	// Same input, same key
	assert.Equal(t, key, Key("https://example.com/page"))

	// Different input, different key
	assert.NotEqual(t, key, Key("https://example.com/other"))
}

func TestKeyForURL(t *testing.T) {
	t.Run("equivalent spellings share a key", func(t *testing.T) {
		key1, norm1, err := KeyForURL("https://example.com/page?b=2&a=1")
		require.NoError(t, err)

		key2, norm2, err := KeyForURL("example.com/page?a=1&b=2#frag")
		require.NoError(t, err)

		assert.Equal(t, norm1, norm2)
		assert.Equal(t, key1, key2)
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, _, err := KeyForURL("https://nodots")
		assert.Error(t, err)
	})
}
