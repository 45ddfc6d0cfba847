package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides high-performance metrics collection using Prometheus
type PrometheusMetrics struct {
	// Resolve pipeline metrics
	resolvesTotal   *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	activeResolves  prometheus.Gauge

	// Cache tier metrics
	cacheHitsTotal    *prometheus.CounterVec
	cacheMissesTotal  *prometheus.CounterVec
	cacheHitRatio     *prometheus.GaugeVec
	failureRejections prometheus.Counter
	storeErrorsTotal  *prometheus.CounterVec

	// Lock wait metrics (concurrent render coordination)
	waitTotal    *prometheus.CounterVec
	waitDuration *prometheus.HistogramVec

	// Render metrics
	rendersTotal   *prometheus.CounterVec
	renderDuration prometheus.Histogram

	// Lease pool metrics
	poolSize        prometheus.Gauge
	leasesInUse     prometheus.Gauge
	leaseWait       prometheus.Histogram
	instanceRestart prometheus.Counter

	// Batch metrics
	batchJobsTotal  *prometheus.CounterVec
	batchURLsTotal  *prometheus.CounterVec
	batchJobsActive prometheus.Gauge

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	// Compression metrics
	cacheCompressionRatio        *prometheus.HistogramVec
	cacheBytesSavedTotal         *prometheus.CounterVec
	cacheDecompressionErrorTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	// Resolve pipeline metrics
	pm.resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "requests_total",
			Help:      "Total number of resolve requests processed",
		},
		[]string{"source", "status"}, // source: hot, durable, concurrent, render, live; status: success, error
	)

	pm.resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "duration_seconds",
			Help:      "Time taken to resolve a URL across all tiers",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"source"},
	)

	pm.activeResolves = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "active",
			Help:      "Number of currently active resolve requests",
		},
	)

	// Cache tier metrics
	pm.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits by tier",
		},
		[]string{"tier"}, // tier: hot, durable
	)

	pm.cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses by tier",
		},
		[]string{"tier"},
	)

	pm.cacheHitRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Cache hit ratio (0-1) for each tier",
		},
		[]string{"tier"},
	)

	pm.failureRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "failure_rejections_total",
			Help:      "Total number of requests rejected by the failure suppression window",
		},
	)

	pm.storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "store_errors_total",
			Help:      "Total number of store backend errors that degraded a tier",
		},
		[]string{"tier"}, // tier: hot, durable, lock, failure, marker
	)

	// Lock wait metrics
	pm.waitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_total",
			Help:      "Total number of requests that waited on a concurrent render",
		},
		[]string{"outcome"}, // outcome: ready, failed, timeout
	)

	pm.waitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for concurrent renders to complete",
			Buckets:   []float64{0.2, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"outcome"},
	)

	// Render metrics
	pm.rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "total",
			Help:      "Total number of renders by outcome",
		},
		[]string{"outcome"}, // outcome: complete, partial, failed
	)

	pm.renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Time spent rendering pages",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
	)

	// Lease pool metrics
	pm.poolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "size",
			Help:      "Total number of leases in the pool",
		},
	)

	pm.leasesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "leases_in_use",
			Help:      "Number of leases currently held by renders",
		},
	)

	pm.leaseWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "lease_wait_seconds",
			Help:      "Time callers spent waiting for a lease",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
	)

	pm.instanceRestart = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "instance_restarts_total",
			Help:      "Total number of Chrome instance restarts",
		},
	)

	// Batch metrics
	pm.batchJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "jobs_total",
			Help:      "Total number of batch jobs submitted",
		},
		[]string{"source"}, // source: sitemap, list
	)

	pm.batchURLsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "urls_total",
			Help:      "Total number of batch URLs processed by result",
		},
		[]string{"result"}, // result: completed, failed
	)

	pm.batchJobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "jobs_active",
			Help:      "Number of batch jobs currently running",
		},
	)

	// HTTP metrics
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// Error metrics
	pm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		},
		[]string{"error_type"},
	)

	// Compression metrics
	pm.cacheCompressionRatio = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "compression_ratio",
			Help:      "Compression ratio (compressed_size / original_size)",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"algorithm"},
	)

	pm.cacheBytesSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "bytes_saved_total",
			Help:      "Total bytes saved by compression",
		},
		[]string{"algorithm"},
	)

	pm.cacheDecompressionErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "decompression_errors_total",
			Help:      "Total decompression failures (triggers re-render)",
		},
		[]string{"algorithm"},
	)

	// Register all metrics
	registerer.MustRegister(
		pm.resolvesTotal,
		pm.resolveDuration,
		pm.activeResolves,
		pm.cacheHitsTotal,
		pm.cacheMissesTotal,
		pm.cacheHitRatio,
		pm.failureRejections,
		pm.storeErrorsTotal,
		pm.waitTotal,
		pm.waitDuration,
		pm.rendersTotal,
		pm.renderDuration,
		pm.poolSize,
		pm.leasesInUse,
		pm.leaseWait,
		pm.instanceRestart,
		pm.batchJobsTotal,
		pm.batchURLsTotal,
		pm.batchJobsActive,
		pm.httpRequests,
		pm.errorsTotal,
		pm.cacheCompressionRatio,
		pm.cacheBytesSavedTotal,
		pm.cacheDecompressionErrorTotal,
	)

	// Create HTTP handler - registerer implements Gatherer interface
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		// Fallback to default gatherer if registerer doesn't implement Gatherer
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Prometheus metrics initialized")
	return pm
}

// RecordResolve records a completed resolve with its source and timing
func (pm *PrometheusMetrics) RecordResolve(source, status string, duration time.Duration) {
	pm.resolvesTotal.WithLabelValues(source, status).Inc()
	pm.resolveDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActiveResolves increments the active resolve gauge
func (pm *PrometheusMetrics) IncActiveResolves() {
	pm.activeResolves.Inc()
}

// DecActiveResolves decrements the active resolve gauge
func (pm *PrometheusMetrics) DecActiveResolves() {
	pm.activeResolves.Dec()
}

// RecordCacheHit records a cache hit for a tier and updates its hit ratio
func (pm *PrometheusMetrics) RecordCacheHit(tier string) {
	pm.cacheHitsTotal.WithLabelValues(tier).Inc()
	pm.updateCacheHitRatio(tier)
}

// RecordCacheMiss records a cache miss for a tier and updates its hit ratio
func (pm *PrometheusMetrics) RecordCacheMiss(tier string) {
	pm.cacheMissesTotal.WithLabelValues(tier).Inc()
	pm.updateCacheHitRatio(tier)
}

// RecordFailureRejection records a fast rejection from the failure window
func (pm *PrometheusMetrics) RecordFailureRejection() {
	pm.failureRejections.Inc()
}

// RecordStoreError records a degraded store backend call
func (pm *PrometheusMetrics) RecordStoreError(tier string) {
	pm.storeErrorsTotal.WithLabelValues(tier).Inc()
}

// RecordWait records a concurrent-render wait outcome with its duration
func (pm *PrometheusMetrics) RecordWait(outcome string, duration time.Duration) {
	pm.waitTotal.WithLabelValues(outcome).Inc()
	pm.waitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRender records a render outcome with its duration
func (pm *PrometheusMetrics) RecordRender(outcome string, duration time.Duration) {
	pm.rendersTotal.WithLabelValues(outcome).Inc()
	pm.renderDuration.Observe(duration.Seconds())
}

// UpdatePoolSize updates the lease pool size gauge
func (pm *PrometheusMetrics) UpdatePoolSize(size float64) {
	pm.poolSize.Set(size)
}

// UpdateLeasesInUse updates the in-use lease gauge
func (pm *PrometheusMetrics) UpdateLeasesInUse(n float64) {
	pm.leasesInUse.Set(n)
}

// RecordLeaseWait records how long a caller waited for a lease
func (pm *PrometheusMetrics) RecordLeaseWait(duration time.Duration) {
	pm.leaseWait.Observe(duration.Seconds())
}

// RecordInstanceRestart records a Chrome instance restart
func (pm *PrometheusMetrics) RecordInstanceRestart() {
	pm.instanceRestart.Inc()
}

// RecordBatchJob records a submitted batch job by source
func (pm *PrometheusMetrics) RecordBatchJob(source string) {
	pm.batchJobsTotal.WithLabelValues(source).Inc()
}

// RecordBatchURL records one processed batch URL by result
func (pm *PrometheusMetrics) RecordBatchURL(result string) {
	pm.batchURLsTotal.WithLabelValues(result).Inc()
}

// IncActiveBatchJobs increments the running batch job gauge
func (pm *PrometheusMetrics) IncActiveBatchJobs() {
	pm.batchJobsActive.Inc()
}

// DecActiveBatchJobs decrements the running batch job gauge
func (pm *PrometheusMetrics) DecActiveBatchJobs() {
	pm.batchJobsActive.Dec()
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordError records an error by type
func (pm *PrometheusMetrics) RecordError(errorType string) {
	pm.errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCompressionRatio records the compression ratio for a cached page
func (pm *PrometheusMetrics) RecordCompressionRatio(algorithm string, ratio float64) {
	pm.cacheCompressionRatio.WithLabelValues(algorithm).Observe(ratio)
}

// RecordBytesSaved records bytes saved by compression
func (pm *PrometheusMetrics) RecordBytesSaved(algorithm string, bytesSaved int64) {
	if bytesSaved > 0 {
		pm.cacheBytesSavedTotal.WithLabelValues(algorithm).Add(float64(bytesSaved))
	}
}

// RecordDecompressionError records a decompression failure
func (pm *PrometheusMetrics) RecordDecompressionError(algorithm string) {
	pm.cacheDecompressionErrorTotal.WithLabelValues(algorithm).Inc()
}

// updateCacheHitRatio recalculates the hit ratio for a tier from its counters
func (pm *PrometheusMetrics) updateCacheHitRatio(tier string) {
	hits := pm.getCounterValue(pm.cacheHitsTotal.WithLabelValues(tier))
	misses := pm.getCounterValue(pm.cacheMissesTotal.WithLabelValues(tier))

	total := hits + misses
	if total > 0 {
		pm.cacheHitRatio.WithLabelValues(tier).Set(hits / total)
	}
}

// getCounterValue extracts the current value from a counter
func (pm *PrometheusMetrics) getCounterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		pm.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
