package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected time.Duration
		wantErr  bool
	}{
		{name: "milliseconds", yaml: "duration: 250ms", expected: 250 * time.Millisecond},
		{name: "seconds", yaml: "duration: 30s", expected: 30 * time.Second},
		{name: "combined", yaml: "duration: 1h30m", expected: 90 * time.Minute},
		{name: "days", yaml: "duration: 30d", expected: 30 * 24 * time.Hour},
		{name: "fractional days", yaml: "duration: 1.5d", expected: time.Duration(1.5 * float64(24*time.Hour))},
		{name: "weeks", yaml: "duration: 2w", expected: 2 * 7 * 24 * time.Hour},
		{name: "bare number rejected", yaml: "duration: 42", wantErr: true},
		{name: "unknown suffix rejected", yaml: "duration: 3y", wantErr: true},
		{name: "garbage rejected", yaml: "duration: soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Duration Duration `yaml:"duration"`
			}
			err := yaml.Unmarshal([]byte(tt.yaml), &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.Duration.ToDuration())
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	t.Run("string form", func(t *testing.T) {
		var d Duration
		require.NoError(t, json.Unmarshal([]byte(`"45s"`), &d))
		assert.Equal(t, 45*time.Second, d.ToDuration())

		encoded, err := json.Marshal(d)
		require.NoError(t, err)
		assert.Equal(t, `"45s"`, string(encoded))
	})

	t.Run("numeric nanoseconds", func(t *testing.T) {
		var d Duration
		require.NoError(t, json.Unmarshal([]byte(`1500000000`), &d))
		assert.Equal(t, 1500*time.Millisecond, d.ToDuration())
	})

	t.Run("extended suffix", func(t *testing.T) {
		var d Duration
		require.NoError(t, json.Unmarshal([]byte(`"1w"`), &d))
		assert.Equal(t, 7*24*time.Hour, d.ToDuration())
	})

	t.Run("rejects objects", func(t *testing.T) {
		var d Duration
		assert.Error(t, json.Unmarshal([]byte(`{"value":1}`), &d))
	})
}
