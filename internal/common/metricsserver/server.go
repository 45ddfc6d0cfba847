// Package metricsserver exposes the Prometheus scrape endpoint on its own
// listener, kept off the public render port.
package metricsserver

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Scrape traffic is tiny and periodic; the listener is tuned down
// accordingly.
const (
	scrapeTimeout      = 10 * time.Second
	maxScrapeBodySize  = 1024
	keepalivePeriod    = 30 * time.Second
	maxConnsPerIP      = 100
	maxRequestsPerConn = 1000
	concurrency        = 100
)

// MetricsHandler is implemented by the metrics collector.
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// StartMetricsServer starts the scrape listener and returns it for
// shutdown. Returns nil when metrics are disabled. The listen address is
// validated against the main server port at config load.
func StartMetricsServer(
	enabled bool,
	listen string,
	path string,
	handler MetricsHandler,
	logger *zap.Logger,
) (*fasthttp.Server, error) {
	if !enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	srv := &fasthttp.Server{
		Handler:            scrapeHandler(path, handler),
		Name:               "Prerender-Metrics",
		ReadTimeout:        scrapeTimeout,
		WriteTimeout:       scrapeTimeout,
		MaxRequestBodySize: maxScrapeBodySize,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: keepalivePeriod,
		MaxConnsPerIP:      maxConnsPerIP,
		MaxRequestsPerConn: maxRequestsPerConn,
		Concurrency:        concurrency,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", listen),
			zap.String("path", path))

		if err := srv.ListenAndServe(listen); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", listen),
				zap.Error(err))
		}
	}()

	// Let an immediate bind failure surface in the log before startup
	// continues
	time.Sleep(100 * time.Millisecond)

	return srv, nil
}

// scrapeHandler serves the collector on the configured path and nothing
// else.
func scrapeHandler(path string, handler MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != path {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			return
		}
		handler.ServeHTTP(ctx)
	}
}
