package reqctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestContext_Creation(t *testing.T) {
	rc := New("test-request-123", zap.NewNop(), 30*time.Second)

	assert.Equal(t, "test-request-123", rc.RequestID)
	assert.NotNil(t, rc.Logger)
	assert.Equal(t, 30*time.Second, rc.Budget())
}

func TestContext_FluentEnrichment(t *testing.T) {
	rc := New("test-request-123", zap.NewNop(), 30*time.Second).
		WithTargetURL("example.com/test?b=2&a=1").
		WithNormalizedURL("https://example.com/test?a=1&b=2", "a1b2c3d4e5f60718")

	assert.Equal(t, "example.com/test?b=2&a=1", rc.TargetURL)
	assert.Equal(t, "https://example.com/test?a=1&b=2", rc.NormalizedURL)
	assert.Equal(t, "a1b2c3d4e5f60718", rc.CacheKey)
}

func TestContext_TimeRemaining(t *testing.T) {
	rc := New("test-request-123", zap.NewNop(), time.Hour)

	remaining := rc.TimeRemaining()
	assert.Greater(t, remaining, 59*time.Minute)
	assert.LessOrEqual(t, remaining, time.Hour)
	assert.False(t, rc.IsTimedOut())
}

func TestContext_TimedOut(t *testing.T) {
	rc := New("test-request-123", zap.NewNop(), -time.Second)

	assert.Equal(t, time.Duration(0), rc.TimeRemaining())
	assert.True(t, rc.IsTimedOut())
}

func TestContext_GetContext(t *testing.T) {
	t.Run("within budget", func(t *testing.T) {
		rc := New("test-request-123", zap.NewNop(), time.Hour)

		ctx, cancel := rc.GetContext()
		defer cancel()

		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)
		assert.NoError(t, ctx.Err())
	})

	t.Run("exhausted budget returns cancelled context", func(t *testing.T) {
		rc := New("test-request-123", zap.NewNop(), -time.Second)

		ctx, cancel := rc.GetContext()
		defer cancel()

		assert.Error(t, ctx.Err())
	})
}

func TestContext_ContextWithTimeout(t *testing.T) {
	t.Run("operation timeout below remaining budget", func(t *testing.T) {
		rc := New("test-request-123", zap.NewNop(), time.Hour)

		ctx, cancel := rc.ContextWithTimeout(5 * time.Second)
		defer cancel()

		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
	})

	t.Run("operation timeout capped by remaining budget", func(t *testing.T) {
		rc := New("test-request-123", zap.NewNop(), 2*time.Second)

		ctx, cancel := rc.ContextWithTimeout(time.Hour)
		defer cancel()

		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
	})

	t.Run("exhausted budget returns cancelled context", func(t *testing.T) {
		rc := New("test-request-123", zap.NewNop(), -time.Second)

		ctx, cancel := rc.ContextWithTimeout(5 * time.Second)
		defer cancel()

		assert.Error(t, ctx.Err())
	})
}
