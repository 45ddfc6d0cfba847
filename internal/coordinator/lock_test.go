package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendercove/prerender/pkg/types"
)

func TestSingleFlightLockAcquireRelease(t *testing.T) {
	f := newFixture(t)
	key := "0000aaaabbbbcccc"
	rc := f.newRC("https://example.com/locked", key)

	acquired, err := f.lock.Acquire(rc)
	require.NoError(t, err)
	assert.True(t, acquired)

	// TTL covers the render budget plus the buffer
	assert.InDelta(t, (testBudget + lockTTLBuffer).Seconds(),
		f.mr.TTL("lock:"+key).Seconds(), 1.0)

	// Second acquire for the same key loses
	acquired, err = f.lock.Acquire(f.newRC("https://example.com/locked", key))
	require.NoError(t, err)
	assert.False(t, acquired)

	// Release is idempotent and frees the key
	f.lock.Release(rc)
	f.lock.Release(rc)

	acquired, err = f.lock.Acquire(rc)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestSingleFlightLockExpiresWithoutRelease(t *testing.T) {
	f := newFixture(t)
	key := "0000aaaabbbbdddd"
	rc := f.newRCWithBudget("https://example.com/crash", key, 10*time.Second)

	acquired, err := f.lock.Acquire(rc)
	require.NoError(t, err)
	require.True(t, acquired)

	// Holder crashes: the TTL is the safety net
	f.mr.FastForward(f.lock.CalculateLockTTL(10*time.Second) + time.Second)

	acquired, err = f.lock.Acquire(f.newRC("https://example.com/crash", key))
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestCalculateLockTTL(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		budget   time.Duration
		expected time.Duration
	}{
		{"short budget hits the floor", 5 * time.Second, minLockTTL},
		{"floor boundary", 27 * time.Second, minLockTTL},
		{"long budget adds the buffer", 60 * time.Second, 63 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.lock.CalculateLockTTL(tt.budget))
		})
	}
}

func TestCalculateWaitBudget(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		budget   time.Duration
		expected time.Duration
	}{
		{"floor", time.Second, minConcurrentWait},
		{"eighty percent", 30 * time.Second, 24 * time.Second},
		{"ceiling", 2 * time.Minute, maxConcurrentWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.lock.CalculateWaitBudget(tt.budget))
		})
	}
}

func TestPublishResult(t *testing.T) {
	f := newFixture(t)
	key := "0000aaaabbbbeeee"
	rc := f.newRC("https://example.com/published", key)

	f.lock.PublishResult(rc, true)
	marker, err := f.mr.Get("done:" + key)
	require.NoError(t, err)
	assert.Equal(t, MarkerComplete, marker)
	assert.InDelta(t, testResultTTL.Seconds(), f.mr.TTL("done:"+key).Seconds(), 1.0)

	f.lock.PublishResult(rc, false)
	marker, err = f.mr.Get("done:" + key)
	require.NoError(t, err)
	assert.Equal(t, MarkerPartial, marker)
}

func TestWaitForRenderObservesBody(t *testing.T) {
	f := newFixture(t)
	key := "0000aaaabbbbffff"
	url := "https://example.com/waited"

	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = f.hot.Set(context.Background(), key, url,
			&types.RenderResult{HTML: []byte("<html>done</html>"), Complete: true}, testHotTTL)
	}()

	waitResult, result := f.lock.WaitForRender(f.newRC(url, key))
	assert.Equal(t, WaitReady, waitResult)
	require.NotNil(t, result)
	assert.Equal(t, []byte("<html>done</html>"), result.HTML)
}

func TestWaitForRenderRequestBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	key := "0000aaaaccccdddd"

	// Budget already nearly spent: the wait loop must bail out fast
	rc := f.newRCWithBudget("https://example.com/expired", key, 100*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	start := time.Now()
	waitResult, result := f.lock.WaitForRender(rc)
	assert.Equal(t, WaitTimeout, waitResult)
	assert.Nil(t, result)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFailureCacheRoundTrip(t *testing.T) {
	f := newFixture(t)
	key := "0000aaaaccccffff"
	rc := f.newRC("https://example.com/failed", key)

	found, _ := f.failures.Check(rc)
	assert.False(t, found)

	f.failures.Record(rc, types.ErrorTypeRenderTimeout)

	found, category := f.failures.Check(rc)
	assert.True(t, found)
	assert.Equal(t, types.ErrorTypeRenderTimeout, category)
	assert.InDelta(t, testFailureTTL.Seconds(), f.mr.TTL("fail:"+key).Seconds(), 1.0)

	f.mr.FastForward(testFailureTTL + time.Second)
	found, _ = f.failures.Check(rc)
	assert.False(t, found)
}

func TestFailureCacheFailsOpen(t *testing.T) {
	f := newFixture(t)
	rc := f.newRC("https://example.com/redis-down", "0000aaaaddddeeee")
	f.mr.SetError("connection refused")

	// Check reports not-found, Record is a no-op; neither errors out
	found, category := f.failures.Check(rc)
	assert.False(t, found)
	assert.Empty(t, category)

	f.failures.Record(rc, types.ErrorTypeInternal)
}
