package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/batch"
	"github.com/rendercove/prerender/internal/batch/jobindex"
	"github.com/rendercove/prerender/internal/cache"
	"github.com/rendercove/prerender/internal/common/httputil"
	"github.com/rendercove/prerender/internal/common/urlutil"
	"github.com/rendercove/prerender/internal/coordinator"
	"github.com/rendercove/prerender/internal/coordinator/reqctx"
	"github.com/rendercove/prerender/internal/events"
	"github.com/rendercove/prerender/internal/metrics"
	"github.com/rendercove/prerender/pkg/types"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 100
)

// HealthResponse is the health check payload: service status plus pool
// and queue occupancy.
type HealthResponse struct {
	Status             string  `json:"status"`
	PoolSize           int     `json:"pool_size"`
	AvailableInstances int     `json:"available_instances"`
	ActiveInstances    int     `json:"active_instances"`
	WaitingRequests    int     `json:"waiting_requests"`
	TotalRenders       int64   `json:"total_renders"`
	TotalRestarts      int64   `json:"total_restarts"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

type sitemapRequest struct {
	SitemapURL string `json:"sitemap_url"`
}

type submitResponse struct {
	JobID    string `json:"job_id"`
	URLCount int    `json:"url_count"`
}

type jobListResponse struct {
	Jobs []jobindex.Record `json:"jobs"`
}

// handleRender serves a URL through the full resolve pipeline. Render and
// recent-failure errors fall back to a redirect to the original URL so the
// crawler still gets a page, just not a prerendered one.
func (s *Server) handleRender(ctx *fasthttp.RequestCtx, requestID string) {
	rawURL := string(ctx.QueryArgs().Peek("url"))
	if rawURL == "" {
		s.writeError(ctx, pathRender, fasthttp.StatusBadRequest, "url parameter is required")
		return
	}

	rc := reqctx.New(requestID, s.logger, time.Duration(s.cfg.Server.Timeout)).
		WithTargetURL(rawURL)

	if err := urlutil.Validate(rawURL); err != nil {
		rc.Logger.Warn("Render request rejected", zap.Error(err))
		s.emitFailure(events.EventTypeResolve, rc, types.ErrorTypeValidation, err, fasthttp.StatusBadRequest)
		s.writeError(ctx, pathRender, fasthttp.StatusBadRequest, fmt.Sprintf("invalid url: %v", err))
		return
	}

	key, normalized, err := cache.KeyForURL(rawURL)
	if err != nil {
		rc.Logger.Warn("URL normalization failed", zap.Error(err))
		s.emitFailure(events.EventTypeResolve, rc, types.ErrorTypeValidation, err, fasthttp.StatusBadRequest)
		s.writeError(ctx, pathRender, fasthttp.StatusBadRequest, fmt.Sprintf("invalid url: %v", err))
		return
	}
	rc.WithNormalizedURL(normalized, key)

	result, source, err := s.resolver.Resolve(rc)
	if err != nil {
		errorType := coordinator.CategorizeError(err)
		rc.Logger.Warn("Resolve failed, redirecting to origin",
			zap.String("error_type", errorType),
			zap.Error(err))
		s.metrics.RecordResolve(string(types.SourceRender), metrics.ResolveError, rc.Elapsed())
		s.metrics.RecordError(errorType)
		s.emitFailure(events.EventTypeResolve, rc, errorType, err, fasthttp.StatusFound)
		ctx.Redirect(rawURL, fasthttp.StatusFound)
		s.metrics.RecordHTTPRequest(pathRender, "302")
		return
	}

	s.writeHTML(ctx, pathRender, result, source)
	s.metrics.RecordResolve(string(source), metrics.ResolveSuccess, rc.Elapsed())
	s.emitResult(events.EventTypeResolve, rc, source, result)

	rc.Logger.Info("Render request served",
		zap.String("source", string(source)),
		zap.Bool("complete", result.Complete),
		zap.Int("bytes", len(result.HTML)),
		zap.Duration("elapsed", rc.Elapsed()))
}

// handleRenderLive renders the URL directly, bypassing every cache tier.
// There is no origin fallback here: the caller asked for a fresh render
// and gets the failure instead of a stale or redirected answer.
func (s *Server) handleRenderLive(ctx *fasthttp.RequestCtx, requestID string) {
	rawURL := string(ctx.QueryArgs().Peek("url"))
	if rawURL == "" {
		s.writeError(ctx, pathRenderLive, fasthttp.StatusBadRequest, "url parameter is required")
		return
	}

	rc := reqctx.New(requestID, s.logger, time.Duration(s.cfg.Server.Timeout)).
		WithTargetURL(rawURL)

	if err := urlutil.Validate(rawURL); err != nil {
		rc.Logger.Warn("Live render request rejected", zap.Error(err))
		s.emitFailure(events.EventTypeLive, rc, types.ErrorTypeValidation, err, fasthttp.StatusBadRequest)
		s.writeError(ctx, pathRenderLive, fasthttp.StatusBadRequest, fmt.Sprintf("invalid url: %v", err))
		return
	}

	result, err := s.resolver.ResolveLive(rc)
	if err != nil {
		errorType := coordinator.CategorizeError(err)
		rc.Logger.Error("Live render failed",
			zap.String("error_type", errorType),
			zap.Error(err))
		s.metrics.RecordResolve(string(types.SourceLive), metrics.ResolveError, rc.Elapsed())
		s.metrics.RecordError(errorType)
		s.emitFailure(events.EventTypeLive, rc, errorType, err, fasthttp.StatusBadGateway)
		s.writeError(ctx, pathRenderLive, fasthttp.StatusBadGateway, "render failed")
		return
	}

	s.writeHTML(ctx, pathRenderLive, result, types.SourceLive)
	s.metrics.RecordResolve(string(types.SourceLive), metrics.ResolveSuccess, rc.Elapsed())
	s.emitResult(events.EventTypeLive, rc, types.SourceLive, result)

	rc.Logger.Info("Live render served",
		zap.Bool("complete", result.Complete),
		zap.Int("bytes", len(result.HTML)),
		zap.Duration("elapsed", rc.Elapsed()))
}

// handleBatchSitemap expands a sitemap (recursively, bounded) and submits
// the discovered URLs as one batch job. The fetch happens inline so the
// response can carry the URL count; the job itself runs in the background.
func (s *Server) handleBatchSitemap(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req sitemapRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, pathBatchSitemap, fasthttp.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	if req.SitemapURL == "" {
		s.writeError(ctx, pathBatchSitemap, fasthttp.StatusBadRequest, "sitemap_url is required")
		return
	}

	if err := urlutil.Validate(req.SitemapURL); err != nil {
		s.writeError(ctx, pathBatchSitemap, fasthttp.StatusBadRequest, fmt.Sprintf("invalid sitemap_url: %v", err))
		return
	}

	urls, err := s.sitemaps.Fetch(req.SitemapURL)
	if err != nil {
		logger.Warn("Sitemap fetch failed",
			zap.String("sitemap_url", req.SitemapURL),
			zap.Error(err))
		s.writeError(ctx, pathBatchSitemap, fasthttp.StatusBadRequest, fmt.Sprintf("sitemap fetch failed: %v", err))
		return
	}

	if len(urls) == 0 {
		s.writeError(ctx, pathBatchSitemap, fasthttp.StatusBadRequest, "sitemap contains no URLs")
		return
	}

	s.submitBatch(ctx, logger, pathBatchSitemap, batch.SourceSitemap, urls)
}

// handleBatchList submits a newline-delimited URL list as one batch job.
func (s *Server) handleBatchList(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	urls := batch.ParseURLList(string(ctx.PostBody()))
	if len(urls) == 0 {
		s.writeError(ctx, pathBatchList, fasthttp.StatusBadRequest, "no valid URLs in request body")
		return
	}

	s.submitBatch(ctx, logger, pathBatchList, batch.SourceList, urls)
}

func (s *Server) submitBatch(ctx *fasthttp.RequestCtx, logger *zap.Logger, path, source string, urls []string) {
	jobID := batch.NewJobID()
	s.batch.Submit(jobID, source, urls)

	logger.Info("Batch job accepted",
		zap.String("job_id", jobID),
		zap.String("source", source),
		zap.Int("url_count", len(urls)))

	s.writeJSON(ctx, path, fasthttp.StatusAccepted, submitResponse{
		JobID:    jobID,
		URLCount: len(urls),
	})
}

func (s *Server) handleBatchStatus(ctx *fasthttp.RequestCtx, jobID string, logger *zap.Logger) {
	job, found := s.batch.Status(jobID)
	if !found {
		logger.Debug("Batch job not found", zap.String("job_id", jobID))
		s.writeError(ctx, pathBatchStatus, fasthttp.StatusNotFound, "job not found")
		return
	}

	s.writeJSON(ctx, pathBatchStatus, fasthttp.StatusOK, job)
}

func (s *Server) handleBatchJobs(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	if !s.batch.IndexEnabled() {
		s.writeError(ctx, pathBatchJobs, fasthttp.StatusNotFound, "job index is not enabled")
		return
	}

	limit := ctx.QueryArgs().GetUintOrZero("limit")
	if limit <= 0 || limit > maxJobListLimit {
		limit = defaultJobListLimit
	}

	records, err := s.batch.RecentJobs(ctx, limit)
	if err != nil {
		logger.Error("Job index query failed", zap.Error(err))
		s.writeError(ctx, pathBatchJobs, fasthttp.StatusInternalServerError, "job index query failed")
		return
	}

	if records == nil {
		records = []jobindex.Record{}
	}

	s.writeJSON(ctx, pathBatchJobs, fasthttp.StatusOK, jobListResponse{Jobs: records})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	stats := s.pool.Stats()

	resp := HealthResponse{
		Status:             "ok",
		PoolSize:           stats.PoolSize,
		AvailableInstances: stats.Available,
		ActiveInstances:    stats.Active,
		WaitingRequests:    stats.Waiting,
		TotalRenders:       stats.TotalRenders,
		TotalRestarts:      stats.TotalRestarts,
		UptimeSeconds:      stats.Uptime.Seconds(),
	}

	s.writeJSON(ctx, pathHealth, fasthttp.StatusOK, resp)
}

func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if !s.ready.Load() {
		s.writeError(ctx, pathReady, fasthttp.StatusServiceUnavailable, "service is not ready")
		return
	}

	httputil.JSONSuccess(ctx, "ready", fasthttp.StatusOK)
	s.metrics.RecordHTTPRequest(pathReady, "200")
}

// writeHTML writes a successful render result with the source and
// completeness exposed as headers for the caller.
func (s *Server) writeHTML(ctx *fasthttp.RequestCtx, path string, result *types.RenderResult, source types.Source) {
	ctx.Response.Header.Set("X-Prerender-Source", string(source))
	ctx.Response.Header.Set("X-Prerender-Complete", strconv.FormatBool(result.Complete))
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBody(result.HTML)
	s.metrics.RecordHTTPRequest(path, "200")
}

// writeJSON writes a bare JSON body and records the HTTP metric.
func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, path string, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"success":false,"message":"failed to marshal response"}`)
		s.metrics.RecordHTTPRequest(path, "500")
		s.logger.Error("Failed to marshal JSON response",
			zap.String("path", path),
			zap.Error(err))
		return
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	s.metrics.RecordHTTPRequest(path, fmt.Sprintf("%d", statusCode))
}

// writeError writes a JSON error body and records the HTTP metric.
func (s *Server) writeError(ctx *fasthttp.RequestCtx, path string, statusCode int, message string) {
	httputil.JSONError(ctx, message, statusCode)
	s.metrics.RecordHTTPRequest(path, fmt.Sprintf("%d", statusCode))
}

func (s *Server) emitResult(eventType string, rc *reqctx.Context, source types.Source, result *types.RenderResult) {
	s.emitter.Emit(&events.ResolveEvent{
		RequestID:  rc.RequestID,
		EventType:  eventType,
		URL:        rc.TargetURL,
		CacheKey:   rc.CacheKey,
		Source:     string(source),
		Complete:   result.Complete,
		StatusCode: fasthttp.StatusOK,
		PageSize:   len(result.HTML),
		ServeTime:  rc.Elapsed().Seconds(),
		RenderTime: result.RenderTime.Seconds(),
		ChromeID:   result.ChromeID,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *Server) emitFailure(eventType string, rc *reqctx.Context, errorType string, err error, statusCode int) {
	s.emitter.Emit(&events.ResolveEvent{
		RequestID:    rc.RequestID,
		EventType:    eventType,
		URL:          rc.TargetURL,
		CacheKey:     rc.CacheKey,
		StatusCode:   statusCode,
		ServeTime:    rc.Elapsed().Seconds(),
		ErrorType:    errorType,
		ErrorMessage: err.Error(),
		CreatedAt:    time.Now().UTC(),
	})
}
