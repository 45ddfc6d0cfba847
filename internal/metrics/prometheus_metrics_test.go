package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func TestPrometheusMetrics_Recording(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("prerender", registry, logger)

	// Resolve metrics
	pm.RecordResolve("hot", "success", time.Millisecond*5)
	pm.RecordResolve("render", "success", time.Second*3)
	pm.RecordResolve("render", "error", time.Second*8)

	// Cache tier metrics
	pm.RecordCacheHit("hot")
	pm.RecordCacheMiss("hot")
	pm.RecordCacheHit("durable")
	pm.RecordFailureRejection()
	pm.RecordStoreError("durable")

	// Wait metrics
	pm.RecordWait("ready", time.Millisecond*600)
	pm.RecordWait("timeout", time.Second*12)

	// Render metrics
	pm.RecordRender("complete", time.Second*2)
	pm.RecordRender("partial", time.Second*5)
	pm.RecordRender("failed", time.Second*8)

	// Pool metrics
	pm.UpdatePoolSize(10)
	pm.UpdateLeasesInUse(3)
	pm.RecordLeaseWait(time.Millisecond * 40)
	pm.RecordInstanceRestart()

	// Batch metrics
	pm.RecordBatchJob("sitemap")
	pm.RecordBatchURL("completed")
	pm.RecordBatchURL("failed")

	// Active resolves
	pm.IncActiveResolves()
	pm.IncActiveResolves()
	pm.DecActiveResolves()

	// Error metrics
	pm.RecordError("render_timeout")

	// If we got here without panicking, metrics recording works
	assert.NotNil(t, pm)
}

func TestPrometheusMetrics_HTTPEndpoint(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("prerender", registry, logger)

	// Record some test metrics
	pm.RecordResolve("hot", "success", time.Millisecond*100)
	pm.RecordCacheHit("hot")

	// Create a test HTTP context
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")

	// Serve metrics
	pm.ServeHTTP(ctx)

	// Check response
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.Peek("Content-Type")), "text/plain")

	body := string(ctx.Response.Body())
	assert.Contains(t, body, "prerender_resolve_requests_total")
	assert.Contains(t, body, "prerender_cache_hits_total")
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
}

func TestPrometheusMetrics_CacheHitRatio(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("prerender", registry, logger)

	pm.RecordCacheHit("hot")
	pm.RecordCacheHit("hot")
	pm.RecordCacheHit("hot")
	pm.RecordCacheMiss("hot")
	pm.RecordCacheMiss("durable")

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")
	pm.ServeHTTP(ctx)

	body := string(ctx.Response.Body())
	assert.Contains(t, body, `prerender_cache_hit_ratio{tier="hot"} 0.75`)
	assert.Contains(t, body, `prerender_cache_hit_ratio{tier="durable"} 0`)
}

func TestMetricsCollector_CompressionRecorder(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry("prerender", registry, logger)

	mc.RecordCompressionRatio("snappy", 0.42)
	mc.RecordBytesSaved("snappy", 2048)
	mc.RecordBytesSaved("snappy", -10) // negative deltas are dropped
	mc.RecordDecompressionError("lz4")

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")
	mc.ServeHTTP(ctx)

	body := string(ctx.Response.Body())
	assert.Contains(t, body, `prerender_cache_bytes_saved_total{algorithm="snappy"} 2048`)
	assert.Contains(t, body, `prerender_cache_decompression_errors_total{algorithm="lz4"} 1`)
}
