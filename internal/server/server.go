// Package server is the HTTP surface of the prerender service: render and
// live-render endpoints, batch job submission and status, health and
// readiness probes. Handlers validate and route; all cache and render
// semantics live in the coordinator.
package server

import (
	"strings"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/batch"
	"github.com/rendercove/prerender/internal/chrome"
	"github.com/rendercove/prerender/internal/common/config"
	"github.com/rendercove/prerender/internal/common/requestid"
	"github.com/rendercove/prerender/internal/coordinator/reqctx"
	"github.com/rendercove/prerender/internal/events"
	"github.com/rendercove/prerender/internal/metrics"
	"github.com/rendercove/prerender/pkg/types"
)

// Endpoint paths, also used as the HTTP metrics endpoint label.
const (
	pathRender       = "/render"
	pathRenderLive   = "/render/live"
	pathBatchSitemap = "/batch/sitemap"
	pathBatchList    = "/batch/list"
	pathBatchStatus  = "/batch/status"
	pathBatchJobs    = "/batch/jobs"
	pathHealth       = "/health"
	pathReady        = "/ready"
)

// Resolver is the coordination pipeline the server serves from.
// *coordinator.Coordinator implements it; tests swap in fakes.
type Resolver interface {
	Resolve(rc *reqctx.Context) (*types.RenderResult, types.Source, error)
	ResolveLive(rc *reqctx.Context) (*types.RenderResult, error)
}

// StatsProvider reports render pool occupancy for the health endpoint.
// *chrome.Pool implements it.
type StatsProvider interface {
	Stats() chrome.PoolStats
}

// SitemapSource expands a sitemap URL into page URLs.
// *batch.SitemapFetcher implements it; tests swap in fakes.
type SitemapSource interface {
	Fetch(sitemapURL string) ([]string, error)
}

type Server struct {
	cfg      *config.Config
	resolver Resolver
	pool     StatsProvider
	batch    *batch.Manager
	sitemaps SitemapSource
	emitter  events.EventEmitter
	metrics  *metrics.MetricsCollector
	logger   *zap.Logger

	// ready gates /ready: false until startup completes and again once
	// shutdown begins, so load balancers drain before the pool dies.
	ready atomic.Bool
}

func NewServer(
	cfg *config.Config,
	resolver Resolver,
	pool StatsProvider,
	batchManager *batch.Manager,
	sitemaps SitemapSource,
	emitter events.EventEmitter,
	metricsCollector *metrics.MetricsCollector,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		pool:     pool,
		batch:    batchManager,
		sitemaps: sitemaps,
		emitter:  emitter,
		metrics:  metricsCollector,
		logger:   logger,
	}
}

// SetReady marks startup complete; /ready starts answering 200.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

// Shutdown flips /ready to 503 so load balancers stop routing here.
// In-flight requests keep running; the caller drains them via the
// fasthttp server's own shutdown.
func (s *Server) Shutdown() {
	s.ready.Store(false)
}

func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	// Honor a caller-supplied request ID, generate one otherwise
	customRequestID := string(ctx.Request.Header.Peek("X-Request-ID"))
	requestID := requestid.GenerateRequestID(customRequestID)
	ctx.Response.Header.Set("X-Request-ID", requestID)

	logger := s.logger.With(zap.String("request_id", requestID))

	path := string(ctx.Path())
	switch path {
	case pathHealth:
		s.handleHealth(ctx)
	case pathReady:
		s.handleReady(ctx)
	case pathRender:
		if !ctx.IsGet() && !ctx.IsHead() {
			s.writeMethodNotAllowed(ctx, pathRender, logger)
			return
		}
		s.handleRender(ctx, requestID)
	case pathRenderLive:
		if !ctx.IsGet() && !ctx.IsHead() {
			s.writeMethodNotAllowed(ctx, pathRenderLive, logger)
			return
		}
		s.handleRenderLive(ctx, requestID)
	case pathBatchSitemap:
		if !ctx.IsPost() {
			s.writeMethodNotAllowed(ctx, pathBatchSitemap, logger)
			return
		}
		s.handleBatchSitemap(ctx, logger)
	case pathBatchList:
		if !ctx.IsPost() {
			s.writeMethodNotAllowed(ctx, pathBatchList, logger)
			return
		}
		s.handleBatchList(ctx, logger)
	case pathBatchJobs:
		if !ctx.IsGet() {
			s.writeMethodNotAllowed(ctx, pathBatchJobs, logger)
			return
		}
		s.handleBatchJobs(ctx, logger)
	default:
		if jobID, ok := strings.CutPrefix(path, pathBatchStatus+"/"); ok && jobID != "" {
			if !ctx.IsGet() {
				s.writeMethodNotAllowed(ctx, pathBatchStatus, logger)
				return
			}
			s.handleBatchStatus(ctx, jobID, logger)
			return
		}
		logger.Warn("Not found", zap.String("path", path))
		s.writeError(ctx, path, fasthttp.StatusNotFound, "endpoint not found")
	}
}

func (s *Server) writeMethodNotAllowed(ctx *fasthttp.RequestCtx, path string, logger *zap.Logger) {
	logger.Warn("Method not allowed",
		zap.String("method", string(ctx.Method())),
		zap.String("path", path))
	s.writeError(ctx, path, fasthttp.StatusMethodNotAllowed, "method not allowed")
}
