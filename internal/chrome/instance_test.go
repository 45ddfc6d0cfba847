package chrome

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceStatus_String(t *testing.T) {
	tests := []struct {
		status   InstanceStatus
		expected string
	}{
		{StatusIdle, "idle"},
		{StatusRendering, "rendering"},
		{StatusRestarting, "restarting"},
		{StatusDead, "dead"},
		{InstanceStatus(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}
