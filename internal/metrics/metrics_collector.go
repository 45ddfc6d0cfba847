package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Cache tier labels used across hit/miss/error metrics
const (
	TierHot     = "hot"
	TierDurable = "durable"
	TierLock    = "lock"
	TierFailure = "failure"
	TierMarker  = "marker"
)

// Render outcome labels
const (
	RenderComplete = "complete"
	RenderPartial  = "partial"
	RenderFailed   = "failed"
)

// Batch URL outcome labels
const (
	BatchURLCompleted = "completed"
	BatchURLFailed    = "failed"
)

// Resolve status labels
const (
	ResolveSuccess = "success"
	ResolveError   = "error"
)

// MetricsCollector centralizes all metrics recording with proper labeling
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry creates a MetricsCollector backed by a
// custom registry. Tests use this to avoid default-registry collisions.
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// RecordResolve records a completed resolve with source, status, and timing
func (mc *MetricsCollector) RecordResolve(source, status string, duration time.Duration) {
	mc.prometheus.RecordResolve(source, status, duration)

	mc.logger.Debug("Recorded resolve metric",
		zap.String("source", source),
		zap.String("status", status),
		zap.Duration("duration", duration))
}

// IncActiveResolves increments the active resolve counter
func (mc *MetricsCollector) IncActiveResolves() {
	mc.prometheus.IncActiveResolves()
}

// DecActiveResolves decrements the active resolve counter
func (mc *MetricsCollector) DecActiveResolves() {
	mc.prometheus.DecActiveResolves()
}

// RecordCacheHit records a cache hit on the given tier
func (mc *MetricsCollector) RecordCacheHit(tier string) {
	mc.prometheus.RecordCacheHit(tier)

	mc.logger.Debug("Recorded cache hit metric", zap.String("tier", tier))
}

// RecordCacheMiss records a cache miss on the given tier
func (mc *MetricsCollector) RecordCacheMiss(tier string) {
	mc.prometheus.RecordCacheMiss(tier)

	mc.logger.Debug("Recorded cache miss metric", zap.String("tier", tier))
}

// RecordFailureRejection records a fast rejection inside the failure window
func (mc *MetricsCollector) RecordFailureRejection() {
	mc.prometheus.RecordFailureRejection()

	mc.logger.Debug("Recorded failure rejection metric")
}

// RecordStoreError records a store backend error that degraded a tier
func (mc *MetricsCollector) RecordStoreError(tier string) {
	mc.prometheus.RecordStoreError(tier)

	mc.logger.Debug("Recorded store error metric", zap.String("tier", tier))
}

// RecordWaitReady records a wait that ended with a concurrent result
func (mc *MetricsCollector) RecordWaitReady(duration time.Duration) {
	mc.prometheus.RecordWait("ready", duration)
}

// RecordWaitFailed records a wait that ended with a failure record
func (mc *MetricsCollector) RecordWaitFailed(duration time.Duration) {
	mc.prometheus.RecordWait("failed", duration)
}

// RecordWaitTimeout records a wait that exhausted its budget
func (mc *MetricsCollector) RecordWaitTimeout(duration time.Duration) {
	mc.prometheus.RecordWait("timeout", duration)
}

// RecordRender records a render outcome (complete, partial, failed)
func (mc *MetricsCollector) RecordRender(outcome string, duration time.Duration) {
	mc.prometheus.RecordRender(outcome, duration)

	mc.logger.Debug("Recorded render metric",
		zap.String("outcome", outcome),
		zap.Duration("duration", duration))
}

// UpdatePoolSize updates the lease pool size gauge
func (mc *MetricsCollector) UpdatePoolSize(size int) {
	mc.prometheus.UpdatePoolSize(float64(size))
}

// UpdateLeasesInUse updates the in-use lease gauge
func (mc *MetricsCollector) UpdateLeasesInUse(n int) {
	mc.prometheus.UpdateLeasesInUse(float64(n))
}

// RecordLeaseWait records how long a caller waited for a lease
func (mc *MetricsCollector) RecordLeaseWait(duration time.Duration) {
	mc.prometheus.RecordLeaseWait(duration)
}

// RecordInstanceRestart records a Chrome instance restart
func (mc *MetricsCollector) RecordInstanceRestart() {
	mc.prometheus.RecordInstanceRestart()

	mc.logger.Debug("Recorded instance restart metric")
}

// RecordBatchJob records a submitted batch job by source (sitemap, list)
func (mc *MetricsCollector) RecordBatchJob(source string) {
	mc.prometheus.RecordBatchJob(source)

	mc.logger.Debug("Recorded batch job metric", zap.String("source", source))
}

// RecordBatchURL records one processed batch URL by result (completed, failed)
func (mc *MetricsCollector) RecordBatchURL(result string) {
	mc.prometheus.RecordBatchURL(result)
}

// IncActiveBatchJobs increments the running batch job gauge
func (mc *MetricsCollector) IncActiveBatchJobs() {
	mc.prometheus.IncActiveBatchJobs()
}

// DecActiveBatchJobs decrements the running batch job gauge
func (mc *MetricsCollector) DecActiveBatchJobs() {
	mc.prometheus.DecActiveBatchJobs()
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(endpoint, status string) {
	mc.prometheus.RecordHTTPRequest(endpoint, status)
}

// RecordError records an error by type
func (mc *MetricsCollector) RecordError(errorType string) {
	mc.prometheus.RecordError(errorType)

	mc.logger.Debug("Recorded error metric", zap.String("error_type", errorType))
}

// RecordCompressionRatio records the compression ratio for a cached page
func (mc *MetricsCollector) RecordCompressionRatio(algorithm string, ratio float64) {
	mc.prometheus.RecordCompressionRatio(algorithm, ratio)
}

// RecordBytesSaved records bytes saved by compression
func (mc *MetricsCollector) RecordBytesSaved(algorithm string, bytesSaved int64) {
	mc.prometheus.RecordBytesSaved(algorithm, bytesSaved)
}

// RecordDecompressionError records a decompression failure
func (mc *MetricsCollector) RecordDecompressionError(algorithm string) {
	mc.prometheus.RecordDecompressionError(algorithm)

	mc.logger.Debug("Recorded decompression error metric", zap.String("algorithm", algorithm))
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
