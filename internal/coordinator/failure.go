package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/common/redis"
	"github.com/rendercove/prerender/internal/coordinator/reqctx"
	"github.com/rendercove/prerender/internal/metrics"
)

// FailureCache suppresses repeated render attempts for URLs that just
// failed. Entries are a category string under a fixed TTL; there is no
// explicit deletion, the window simply expires. Redis errors never block
// a resolve: Check fails open and Record is a logged no-op.
type FailureCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

// NewFailureCache creates a FailureCache with the given suppression window
func NewFailureCache(client *redis.Client, ttl time.Duration, collector *metrics.MetricsCollector, logger *zap.Logger) *FailureCache {
	return &FailureCache{
		client:  client,
		ttl:     ttl,
		metrics: collector,
		logger:  logger,
	}
}

// Record stores the failure category for the key. Best-effort: the write
// runs on a detached context because the request that triggered it is
// usually already failing or cancelled.
func (f *FailureCache) Record(rc *reqctx.Context, category string) {
	opCtx, cancel := context.WithTimeout(context.Background(), redisCacheOperationTimeout)
	defer cancel()

	if err := f.client.Set(opCtx, redis.FailureKey(rc.CacheKey), category, f.ttl); err != nil {
		f.metrics.RecordStoreError(metrics.TierFailure)
		rc.Logger.Warn("Failed to record render failure",
			zap.String("category", category),
			zap.Error(err))
		return
	}

	rc.Logger.Debug("Render failure recorded",
		zap.String("category", category),
		zap.Duration("ttl", f.ttl))
}

// Check reports whether the key is inside a failure suppression window and
// the recorded category. Redis errors report "not found" so an unhealthy
// failure tier cannot reject traffic.
func (f *FailureCache) Check(rc *reqctx.Context) (bool, string) {
	opCtx, cancel := context.WithTimeout(context.Background(), redisCacheOperationTimeout)
	defer cancel()

	category, err := f.client.Get(opCtx, redis.FailureKey(rc.CacheKey))
	if err != nil {
		f.metrics.RecordStoreError(metrics.TierFailure)
		rc.Logger.Warn("Failure cache check failed, treating as not found",
			zap.Error(err))
		return false, ""
	}

	if category == "" {
		return false, ""
	}

	return true, category
}
