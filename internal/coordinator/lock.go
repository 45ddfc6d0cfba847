package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/cache"
	"github.com/rendercove/prerender/internal/common/redis"
	"github.com/rendercove/prerender/internal/coordinator/reqctx"
	"github.com/rendercove/prerender/internal/metrics"
	"github.com/rendercove/prerender/pkg/types"
)

const (
	// Lock TTL calculation
	lockTTLBuffer = 3 * time.Second
	minLockTTL    = 30 * time.Second

	// Concurrent render wait budget calculation
	concurrentWaitPercent = 0.8 // 80% of the render budget
	minConcurrentWait     = 5 * time.Second
	maxConcurrentWait     = 60 * time.Second

	// Poll interval while waiting on a concurrent render
	concurrentPollInterval = 200 * time.Millisecond

	// Redis operation timeouts (independent of request context to prevent
	// race conditions)
	redisLockOperationTimeout  = 3 * time.Second // Lock acquire/release, result markers
	redisCacheOperationTimeout = 5 * time.Second // Cache body/metadata storage

	lockValue = "locked"
)

// Result marker values observed by lock waiters
const (
	MarkerComplete = "complete"
	MarkerPartial  = "partial"
)

// WaitResult represents the outcome of waiting for a concurrent render
type WaitResult int

const (
	WaitReady   WaitResult = iota // result became available
	WaitFailed                    // the concurrent render recorded a failure
	WaitTimeout                   // wait budget exhausted
)

// SingleFlightLock enforces one render per cache key across the fleet via
// Redis SETNX, and owns the result markers that let lock waiters observe
// a finished render even when its body was not cacheable. There is no TTL
// renewal: an overrunning render risks a duplicate, which is accepted
// because both converge on the same key.
type SingleFlightLock struct {
	client    *redis.Client
	hot       *cache.HotCache
	failures  *FailureCache
	metrics   *metrics.MetricsCollector
	resultTTL time.Duration
	logger    *zap.Logger
}

// NewSingleFlightLock creates a SingleFlightLock. resultTTL bounds how long
// finished-render markers stay visible to waiters.
func NewSingleFlightLock(
	client *redis.Client,
	hot *cache.HotCache,
	failures *FailureCache,
	collector *metrics.MetricsCollector,
	resultTTL time.Duration,
	logger *zap.Logger,
) *SingleFlightLock {
	return &SingleFlightLock{
		client:    client,
		hot:       hot,
		failures:  failures,
		metrics:   collector,
		resultTTL: resultTTL,
		logger:    logger,
	}
}

// Acquire attempts to take the render lock for the request's cache key.
// Runs on an independent timeout so request cancellation cannot leave the
// lock state ambiguous.
func (l *SingleFlightLock) Acquire(rc *reqctx.Context) (bool, error) {
	lockCtx, cancel := context.WithTimeout(context.Background(), redisLockOperationTimeout)
	defer cancel()

	lockTTL := l.CalculateLockTTL(rc.Budget())

	rc.Logger.Debug("Attempting to acquire render lock",
		zap.Duration("lock_ttl", lockTTL),
		zap.Duration("render_budget", rc.Budget()))

	acquired, err := l.client.SetNX(lockCtx, redis.LockKey(rc.CacheKey), lockValue, lockTTL)
	if err != nil {
		l.metrics.RecordStoreError(metrics.TierLock)
		rc.Logger.Error("Failed to acquire render lock", zap.Error(err))
		return false, fmt.Errorf("failed to acquire render lock: %w", err)
	}

	if acquired {
		rc.Logger.Debug("Render lock acquired")
	}

	return acquired, nil
}

// Release deletes the render lock using a background context so cleanup
// survives request cancellation. Idempotent; safe after TTL expiry.
func (l *SingleFlightLock) Release(rc *reqctx.Context) {
	if err := l.client.Del(context.Background(), redis.LockKey(rc.CacheKey)); err != nil {
		l.metrics.RecordStoreError(metrics.TierLock)
		rc.Logger.Error("Failed to release render lock", zap.Error(err))
	}
}

// PublishResult writes the short-TTL result marker after a render finishes
// so lock waiters observe the outcome even when the body itself was not
// cacheable. Best-effort.
func (l *SingleFlightLock) PublishResult(rc *reqctx.Context, complete bool) {
	opCtx, cancel := context.WithTimeout(context.Background(), redisLockOperationTimeout)
	defer cancel()

	marker := MarkerPartial
	if complete {
		marker = MarkerComplete
	}

	if err := l.client.Set(opCtx, redis.ResultKey(rc.CacheKey), marker, l.resultTTL); err != nil {
		l.metrics.RecordStoreError(metrics.TierMarker)
		rc.Logger.Warn("Failed to publish result marker",
			zap.String("marker", marker),
			zap.Error(err))
		return
	}

	rc.Logger.Debug("Result marker published",
		zap.String("marker", marker),
		zap.Duration("ttl", l.resultTTL))
}

// WaitForRender polls for the outcome of a concurrent render holding the
// lock: the page body appearing in the hot tier, a failure record, or a
// bare result marker (body finished but not hot-cacheable - the caller
// re-checks the durable tier in that case, signalled by a nil result).
// The wait budget is 80% of the render budget clamped to [5s, 60s]; on
// exhaustion the caller proceeds with an independent render rather than
// blocking indefinitely.
func (l *SingleFlightLock) WaitForRender(rc *reqctx.Context) (WaitResult, *types.RenderResult) {
	waitBudget := l.CalculateWaitBudget(rc.Budget())

	rc.Logger.Info("Lock not acquired, waiting for concurrent render to complete",
		zap.Duration("wait_budget", waitBudget),
		zap.Duration("render_budget", rc.Budget()),
		zap.Duration("poll_interval", concurrentPollInterval))

	startTime := time.Now().UTC()
	deadline := startTime.Add(waitBudget)
	pollAttempt := 0

	for time.Now().UTC().Before(deadline) {
		// Check if the request has timed out before continuing
		if rc.IsTimedOut() {
			waitTime := time.Now().UTC().Sub(startTime)
			rc.Logger.Warn("Request budget exhausted during concurrent render wait",
				zap.Int("poll_attempts", pollAttempt),
				zap.Duration("wait_time", waitTime))
			l.metrics.RecordWaitTimeout(waitTime)
			return WaitTimeout, nil
		}

		time.Sleep(concurrentPollInterval)
		pollAttempt++

		// Body first: a served result beats every other signal
		if result, found := l.pollHotCache(rc); found {
			waitTime := time.Now().UTC().Sub(startTime)
			rc.Logger.Info("Result became available after waiting",
				zap.Int("poll_attempts", pollAttempt),
				zap.Duration("wait_time", waitTime))
			l.metrics.RecordWaitReady(waitTime)
			return WaitReady, result
		}

		// Failure record: the concurrent render failed
		if found, category := l.failures.Check(rc); found {
			waitTime := time.Now().UTC().Sub(startTime)
			rc.Logger.Info("Concurrent render failed while waiting",
				zap.String("category", category),
				zap.Int("poll_attempts", pollAttempt),
				zap.Duration("wait_time", waitTime))
			l.metrics.RecordWaitFailed(waitTime)
			return WaitFailed, nil
		}

		// Bare result marker: render finished but the body is not in the
		// hot tier
		if marker := l.pollResultMarker(rc); marker != "" {
			waitTime := time.Now().UTC().Sub(startTime)
			rc.Logger.Info("Result marker observed without hot body",
				zap.String("marker", marker),
				zap.Int("poll_attempts", pollAttempt),
				zap.Duration("wait_time", waitTime))
			l.metrics.RecordWaitReady(waitTime)
			return WaitReady, nil
		}
	}

	waitTime := time.Now().UTC().Sub(startTime)
	rc.Logger.Warn("Timeout waiting for concurrent render, proceeding independently",
		zap.Int("poll_attempts", pollAttempt),
		zap.Duration("wait_time", waitTime))
	l.metrics.RecordWaitTimeout(waitTime)
	return WaitTimeout, nil
}

func (l *SingleFlightLock) pollHotCache(rc *reqctx.Context) (*types.RenderResult, bool) {
	opCtx, cancel := context.WithTimeout(context.Background(), redisCacheOperationTimeout)
	defer cancel()

	result, found, err := l.hot.Get(opCtx, rc.CacheKey)
	if err != nil {
		l.metrics.RecordStoreError(metrics.TierHot)
		rc.Logger.Debug("Hot cache poll failed", zap.Error(err))
		return nil, false
	}
	return result, found
}

func (l *SingleFlightLock) pollResultMarker(rc *reqctx.Context) string {
	opCtx, cancel := context.WithTimeout(context.Background(), redisLockOperationTimeout)
	defer cancel()

	marker, err := l.client.Get(opCtx, redis.ResultKey(rc.CacheKey))
	if err != nil {
		l.metrics.RecordStoreError(metrics.TierMarker)
		rc.Logger.Debug("Result marker poll failed", zap.Error(err))
		return ""
	}
	return marker
}

// CalculateLockTTL calculates the lock TTL from the render budget: the
// budget plus a buffer, never below the minimum.
func (l *SingleFlightLock) CalculateLockTTL(renderBudget time.Duration) time.Duration {
	lockTTL := renderBudget + lockTTLBuffer
	if lockTTL < minLockTTL {
		lockTTL = minLockTTL
	}
	return lockTTL
}

// CalculateWaitBudget calculates how long a lock waiter polls before
// falling back to an independent render.
func (l *SingleFlightLock) CalculateWaitBudget(renderBudget time.Duration) time.Duration {
	waitBudget := time.Duration(float64(renderBudget) * concurrentWaitPercent)
	if waitBudget < minConcurrentWait {
		waitBudget = minConcurrentWait
	}
	if waitBudget > maxConcurrentWait {
		waitBudget = maxConcurrentWait
	}
	return waitBudget
}
