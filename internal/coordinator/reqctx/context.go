package reqctx

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Context carries the state of one resolve through the pipeline.
// The budget fields (startTime, budget) are immutable after creation,
// making TimeRemaining() safe to call from multiple goroutines.
type Context struct {
	// Request metadata
	RequestID string
	Logger    *zap.Logger

	// Budget management (immutable after creation)
	startTime time.Time
	budget    time.Duration

	// Request data
	TargetURL     string // URL as received
	NormalizedURL string // canonical form, set after normalization
	CacheKey      string
}

// New creates a resolve context with the given request ID and time budget.
func New(requestID string, baseLogger *zap.Logger, budget time.Duration) *Context {
	logger := baseLogger.With(zap.String("request_id", requestID))

	return &Context{
		RequestID: requestID,
		Logger:    logger,
		startTime: time.Now().UTC(),
		budget:    budget,
	}
}

// WithTargetURL enriches the context with the URL as received.
func (rc *Context) WithTargetURL(targetURL string) *Context {
	rc.TargetURL = targetURL
	rc.Logger = rc.Logger.With(zap.String("url", targetURL))
	return rc
}

// WithNormalizedURL enriches the context with the canonical URL and its
// cache key.
func (rc *Context) WithNormalizedURL(normalizedURL, cacheKey string) *Context {
	rc.NormalizedURL = normalizedURL
	rc.CacheKey = cacheKey
	rc.Logger = rc.Logger.With(
		zap.String("normalized_url", normalizedURL),
		zap.String("cache_key", cacheKey))
	return rc
}

// Budget returns the total time budget this resolve was created with.
func (rc *Context) Budget() time.Duration {
	return rc.budget
}

// TimeRemaining returns how much of the budget is left.
// Safe to call from multiple goroutines since it only reads immutable
// fields.
func (rc *Context) TimeRemaining() time.Duration {
	elapsed := time.Now().UTC().Sub(rc.startTime)
	remaining := rc.budget - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsTimedOut returns true if the resolve has exhausted its budget.
func (rc *Context) IsTimedOut() bool {
	return rc.TimeRemaining() == 0
}

// Elapsed returns how long the resolve has been running.
func (rc *Context) Elapsed() time.Duration {
	return time.Now().UTC().Sub(rc.startTime)
}

// GetContext creates a context carrying the remaining budget.
func (rc *Context) GetContext() (context.Context, context.CancelFunc) {
	remaining := rc.TimeRemaining()
	if remaining <= 0 {
		// Already timed out, return cancelled context
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx, cancel
	}
	return context.WithTimeout(context.Background(), remaining)
}

// ContextWithTimeout creates a context with a specific timeout, capped by
// the remaining budget.
func (rc *Context) ContextWithTimeout(operationTimeout time.Duration) (context.Context, context.CancelFunc) {
	remaining := rc.TimeRemaining()
	if remaining <= 0 {
		// Already timed out, return cancelled context
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx, cancel
	}

	// Use the smaller of the operation timeout or remaining budget
	timeout := operationTimeout
	if remaining < timeout {
		timeout = remaining
	}

	return context.WithTimeout(context.Background(), timeout)
}
