package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/cache"
	"github.com/rendercove/prerender/internal/chrome"
	"github.com/rendercove/prerender/internal/common/htmlinspect"
	"github.com/rendercove/prerender/internal/coordinator/reqctx"
	"github.com/rendercove/prerender/internal/metrics"
	"github.com/rendercove/prerender/pkg/types"
)

// Durable store operations get more headroom than Redis: an S3 round trip
// for a full page body is slower than a cache check.
const durableOperationTimeout = 10 * time.Second

var (
	// ErrRecentFailure means the URL is inside a failure suppression window
	// and no render was attempted.
	ErrRecentFailure = errors.New("recent render failure for this URL")

	// ErrRenderFailed wraps the underlying cause when a render attempt
	// itself failed.
	ErrRenderFailed = errors.New("render failed")
)

// LeasePool is the slice of the render pool the coordinator uses.
// *chrome.Pool implements it; tests swap in fakes.
type LeasePool interface {
	Acquire(ctx context.Context) (*chrome.Lease, error)
	Release(lease *chrome.Lease)
}

// Renderer renders one page on a leased Chrome instance.
// *chrome.Renderer implements it; tests swap in fakes.
type Renderer interface {
	Render(ctx context.Context, lease *chrome.Lease, url string, loadTimeout, markerTimeout time.Duration) (*types.RenderResult, error)
}

// Config captures the resolve-pipeline tunables.
type Config struct {
	HotTTL          time.Duration
	PartialTTL      time.Duration
	PageLoadTimeout time.Duration
	MarkerTimeout   time.Duration
	StripScripts    bool
}

// Coordinator runs the tiered resolve pipeline: failure window, hot tier,
// durable tier, then a single-flight render. Cache tiers degrade on store
// errors; only render failures fail a resolve.
type Coordinator struct {
	cfg      Config
	hot      *cache.HotCache
	durable  cache.PageStore
	failures *FailureCache
	lock     *SingleFlightLock
	pool     LeasePool
	renderer Renderer
	metrics  *metrics.MetricsCollector
	logger   *zap.Logger
}

// NewCoordinator wires the resolve pipeline. durable is the shared
// cache-tier client; render-time durable writes go through the per-lease
// clients instead.
func NewCoordinator(
	cfg Config,
	hot *cache.HotCache,
	durable cache.PageStore,
	failures *FailureCache,
	lock *SingleFlightLock,
	pool LeasePool,
	renderer Renderer,
	collector *metrics.MetricsCollector,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		hot:      hot,
		durable:  durable,
		failures: failures,
		lock:     lock,
		pool:     pool,
		renderer: renderer,
		metrics:  collector,
		logger:   logger,
	}
}

// Resolve serves the request's URL from the first tier that has it, or
// renders it under single-flight coordination. The returned Source names
// the tier that produced the result.
func (c *Coordinator) Resolve(rc *reqctx.Context) (*types.RenderResult, types.Source, error) {
	c.metrics.IncActiveResolves()
	defer c.metrics.DecActiveResolves()

	// Step 1: failure suppression window
	if found, category := c.failures.Check(rc); found {
		c.metrics.RecordFailureRejection()
		rc.Logger.Debug("Resolve rejected by failure window",
			zap.String("category", category))
		return nil, "", fmt.Errorf("%w: %s", ErrRecentFailure, category)
	}

	// Step 2: hot tier
	if result, found := c.lookupHot(rc); found {
		c.metrics.RecordCacheHit(metrics.TierHot)
		return result, types.SourceHot, nil
	}
	c.metrics.RecordCacheMiss(metrics.TierHot)

	// Step 3: durable tier, repopulating the hot tier on the way out
	if result, found := c.lookupDurable(rc); found {
		c.metrics.RecordCacheHit(metrics.TierDurable)
		c.repopulateHot(rc, result)
		return result, types.SourceDurable, nil
	}
	c.metrics.RecordCacheMiss(metrics.TierDurable)

	// Step 4: single-flight coordination
	acquired, err := c.lock.Acquire(rc)
	if err != nil {
		// Lock tier unavailable: render without coordination rather than
		// fail the request. Duplicate renders converge on the same key.
		rc.Logger.Warn("Lock unavailable, rendering without coordination",
			zap.Error(err))
	} else if acquired {
		defer c.lock.Release(rc)
	} else {
		waitResult, result := c.lock.WaitForRender(rc)
		switch waitResult {
		case WaitReady:
			if result != nil {
				return result, types.SourceConcurrent, nil
			}
			// Marker seen but no hot body: the render finished partial or
			// the body was evicted. The durable tier may still have it.
			if result, found := c.lookupDurable(rc); found {
				c.metrics.RecordCacheHit(metrics.TierDurable)
				c.repopulateHot(rc, result)
				return result, types.SourceDurable, nil
			}
			// Fall through to an independent render
		case WaitFailed:
			c.metrics.RecordFailureRejection()
			return nil, "", fmt.Errorf("%w: concurrent render failed", ErrRecentFailure)
		case WaitTimeout:
			// Fall through to an independent render; never block forever
		}
	}

	// Step 5: re-check the hot tier once. Covers a render finishing
	// between the step-2 miss and the lock acquisition.
	if result, found := c.lookupHot(rc); found {
		c.metrics.RecordCacheHit(metrics.TierHot)
		return result, types.SourceHot, nil
	}

	// Step 6: render and populate the tiers
	result, err := c.renderAndStore(rc)
	if err != nil {
		return nil, "", err
	}

	return result, types.SourceRender, nil
}

// ResolveLive renders the URL directly: no failure window, no cache reads
// or writes, no locks. Pool admission still applies so live traffic cannot
// starve coordinated renders.
func (c *Coordinator) ResolveLive(rc *reqctx.Context) (*types.RenderResult, error) {
	c.metrics.IncActiveResolves()
	defer c.metrics.DecActiveResolves()

	ctx, cancel := rc.GetContext()
	defer cancel()

	lease, err := c.acquireLease(ctx, rc)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(lease)

	result, err := c.render(ctx, rc, lease)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	if c.cfg.StripScripts {
		result.HTML = htmlinspect.StripScripts(result.HTML)
	}

	return result, nil
}

// lookupHot reads the hot tier, treating errors as misses.
func (c *Coordinator) lookupHot(rc *reqctx.Context) (*types.RenderResult, bool) {
	opCtx, cancel := rc.ContextWithTimeout(redisCacheOperationTimeout)
	defer cancel()

	result, found, err := c.hot.Get(opCtx, rc.CacheKey)
	if err != nil {
		c.metrics.RecordStoreError(metrics.TierHot)
		rc.Logger.Warn("Hot tier lookup failed, continuing", zap.Error(err))
		return nil, false
	}
	return result, found
}

// lookupDurable reads the durable tier: existence check first, then the
// body. Only complete renders are ever written there, so a hit is always
// Complete. Errors are misses.
func (c *Coordinator) lookupDurable(rc *reqctx.Context) (*types.RenderResult, bool) {
	opCtx, cancel := rc.ContextWithTimeout(durableOperationTimeout)
	defer cancel()

	exists, err := c.durable.PageExists(opCtx, rc.CacheKey)
	if err != nil {
		c.metrics.RecordStoreError(metrics.TierDurable)
		rc.Logger.Warn("Durable tier existence check failed, continuing",
			zap.Error(err))
		return nil, false
	}
	if !exists {
		return nil, false
	}

	html, found, err := c.durable.GetPage(opCtx, rc.CacheKey)
	if err != nil {
		c.metrics.RecordStoreError(metrics.TierDurable)
		rc.Logger.Warn("Durable tier read failed, continuing", zap.Error(err))
		return nil, false
	}
	if !found {
		// Deleted between the existence check and the read
		return nil, false
	}

	return &types.RenderResult{
		HTML:     html,
		Complete: true,
		FinalURL: rc.NormalizedURL,
	}, true
}

// repopulateHot writes a durable-tier hit back to the hot tier with the
// complete TTL. Best-effort on a detached context.
func (c *Coordinator) repopulateHot(rc *reqctx.Context, result *types.RenderResult) {
	opCtx, cancel := context.WithTimeout(context.Background(), redisCacheOperationTimeout)
	defer cancel()

	if err := c.hot.Set(opCtx, rc.CacheKey, rc.NormalizedURL, result, c.cfg.HotTTL); err != nil {
		c.metrics.RecordStoreError(metrics.TierHot)
		rc.Logger.Warn("Failed to repopulate hot tier", zap.Error(err))
		return
	}

	rc.Logger.Debug("Hot tier repopulated from durable store")
}

// renderAndStore leases a browser, renders, then populates the tiers.
// Render failures are recorded in the failure cache; lease acquisition
// failures are not (nothing about the URL itself failed).
func (c *Coordinator) renderAndStore(rc *reqctx.Context) (*types.RenderResult, error) {
	ctx, cancel := rc.GetContext()
	defer cancel()

	lease, err := c.acquireLease(ctx, rc)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(lease)

	result, err := c.render(ctx, rc, lease)
	if err != nil {
		category := categorizeRenderError(err)
		c.failures.Record(rc, category)
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	if c.cfg.StripScripts {
		result.HTML = htmlinspect.StripScripts(result.HTML)
	}

	c.storeResult(rc, lease, result)

	return result, nil
}

// acquireLease blocks on pool admission within the remaining budget.
func (c *Coordinator) acquireLease(ctx context.Context, rc *reqctx.Context) (*chrome.Lease, error) {
	leaseStart := time.Now()
	lease, err := c.pool.Acquire(ctx)
	c.metrics.RecordLeaseWait(time.Since(leaseStart))
	if err != nil {
		rc.Logger.Error("Failed to acquire render lease", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	rc.Logger.Debug("Render lease acquired",
		zap.Int("lease_id", lease.ID),
		zap.Duration("lease_wait", time.Since(leaseStart)))
	return lease, nil
}

// render runs the two-phase render on the lease and records the outcome.
func (c *Coordinator) render(ctx context.Context, rc *reqctx.Context, lease *chrome.Lease) (*types.RenderResult, error) {
	renderStart := time.Now()
	result, err := c.renderer.Render(ctx, lease, rc.NormalizedURL, c.cfg.PageLoadTimeout, c.cfg.MarkerTimeout)
	renderTime := time.Since(renderStart)

	if err != nil {
		c.metrics.RecordRender(metrics.RenderFailed, renderTime)
		rc.Logger.Error("Render failed",
			zap.String("category", categorizeRenderError(err)),
			zap.Duration("render_time", renderTime),
			zap.Error(err))
		return nil, err
	}

	outcome := metrics.RenderPartial
	if result.Complete {
		outcome = metrics.RenderComplete
	}
	c.metrics.RecordRender(outcome, renderTime)

	rc.Logger.Info("Render succeeded",
		zap.String("chrome_id", result.ChromeID),
		zap.Bool("complete", result.Complete),
		zap.Int("html_size", len(result.HTML)),
		zap.Duration("render_time", renderTime))

	return result, nil
}

// storeResult populates the tiers after a successful render: durable store
// (complete renders only, via the lease's own client), hot tier with a
// completeness-dependent TTL, then the result marker for lock waiters.
// All writes are best-effort on detached contexts - the render already
// succeeded and the result is served regardless.
func (c *Coordinator) storeResult(rc *reqctx.Context, lease *chrome.Lease, result *types.RenderResult) {
	if result.Complete {
		putCtx, cancel := context.WithTimeout(context.Background(), durableOperationTimeout)
		if err := lease.Store.PutPage(putCtx, rc.CacheKey, result.HTML); err != nil {
			c.metrics.RecordStoreError(metrics.TierDurable)
			rc.Logger.Warn("Failed to write durable tier", zap.Error(err))
		}
		cancel()
	}

	ttl := c.cfg.PartialTTL
	if result.Complete {
		ttl = c.cfg.HotTTL
	}

	setCtx, cancel := context.WithTimeout(context.Background(), redisCacheOperationTimeout)
	if err := c.hot.Set(setCtx, rc.CacheKey, rc.NormalizedURL, result, ttl); err != nil {
		c.metrics.RecordStoreError(metrics.TierHot)
		rc.Logger.Warn("Failed to write hot tier", zap.Error(err))
	}
	cancel()

	c.lock.PublishResult(rc, result.Complete)
}

// CategorizeError maps a Resolve/ResolveLive error to its error-type
// label for events and metrics.
func CategorizeError(err error) string {
	if errors.Is(err, ErrRecentFailure) {
		return types.ErrorTypeRecentFailure
	}
	return categorizeRenderError(err)
}

// categorizeRenderError maps a render error chain to its failure category.
func categorizeRenderError(err error) string {
	switch {
	case errors.Is(err, chrome.ErrRenderTimeout):
		return types.ErrorTypeRenderTimeout
	case errors.Is(err, chrome.ErrNavigateFailed):
		return types.ErrorTypeNavigationFailed
	case errors.Is(err, chrome.ErrExtractHTML):
		return types.ErrorTypeExtractionFailed
	case errors.Is(err, chrome.ErrPoolShutdown), errors.Is(err, chrome.ErrInstanceDead):
		return types.ErrorTypePoolUnavailable
	default:
		return types.ErrorTypeInternal
	}
}
