package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/batch"
	"github.com/rendercove/prerender/internal/batch/jobindex"
	"github.com/rendercove/prerender/internal/cache"
	"github.com/rendercove/prerender/internal/chrome"
	"github.com/rendercove/prerender/internal/common/config"
	"github.com/rendercove/prerender/internal/common/logger"
	"github.com/rendercove/prerender/internal/common/metricsserver"
	"github.com/rendercove/prerender/internal/common/redis"
	"github.com/rendercove/prerender/internal/coordinator"
	"github.com/rendercove/prerender/internal/events"
	"github.com/rendercove/prerender/internal/metrics"
	"github.com/rendercove/prerender/internal/server"
)

const (
	// storeInitTimeout bounds S3 client construction (credential/config load).
	storeInitTimeout = 30 * time.Second

	// batchDrainTimeout bounds how long shutdown waits for running batch
	// jobs. Jobs still running afterwards fail their remaining URLs against
	// the closed pool and finalize anyway.
	batchDrainTimeout = 30 * time.Second

	shutdownStepTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("c", "",
		"path to configuration file (falls back to $PRERENDER_CONFIG, then /etc/prerender/config.yaml)")
	flag.Parse()

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	initialLogger.Info("Loading configuration", zap.String("path", absPath))

	configMgr, err := config.NewManager(absPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	cfg := configMgr.GetConfig()

	// Reconfigure logging from config; startup stays at INFO even when the
	// configured level is quieter
	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	appLogger := dynamicLogger.Logger

	appLogger.Info("Prerender service starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("pool_size", cfg.Chrome.PoolSize),
		zap.String("s3_bucket", cfg.S3.Bucket))

	redisClient, err := redis.NewClient(&cfg.Redis, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, appLogger)

	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector,
		appLogger,
	)
	if err != nil {
		appLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	// Shared durable-store client for the cache tiers. Render-time writes
	// use per-lease clients built by the pool instead.
	storeCtx, storeCancel := context.WithTimeout(context.Background(), storeInitTimeout)
	durableStore, err := cache.NewDurableStore(storeCtx, &cfg.S3, appLogger)
	storeCancel()
	if err != nil {
		appLogger.Fatal("Failed to create durable store", zap.Error(err))
	}

	hotCache := cache.NewHotCache(redisClient, cfg.Cache.Compression, metricsCollector, appLogger)
	failureCache := coordinator.NewFailureCache(redisClient, time.Duration(cfg.Cache.FailureTTL), metricsCollector, appLogger)
	singleFlight := coordinator.NewSingleFlightLock(redisClient, hotCache, failureCache, metricsCollector, time.Duration(cfg.Cache.ResultTTL), appLogger)

	chromeConfig := chrome.NewConfigFromYAML(
		cfg.Chrome.PoolSize,
		time.Duration(cfg.Chrome.PageLoadTimeout),
		time.Duration(cfg.Chrome.MarkerTimeout),
		cfg.Chrome.MarkerSelector,
		cfg.Chrome.Warmup.URL,
		time.Duration(cfg.Chrome.Warmup.Timeout),
		cfg.Chrome.Restart.AfterCount,
		time.Duration(cfg.Chrome.Restart.AfterTime),
		time.Duration(cfg.Chrome.ShutdownTimeout),
	)

	renderer, err := chrome.NewRenderer(cfg.Chrome.MarkerSelector, appLogger)
	if err != nil {
		appLogger.Fatal("Invalid marker selector", zap.Error(err))
	}

	storeFactory := func(leaseID int) (cache.PageStore, error) {
		ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
		defer cancel()
		return cache.NewDurableStore(ctx, &cfg.S3, appLogger.With(zap.Int("lease_id", leaseID)))
	}

	appLogger.Info("Initializing render lease pool")
	pool, err := chrome.NewPool(chromeConfig, storeFactory, metricsCollector, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create render lease pool", zap.Error(err))
	}

	coord := coordinator.NewCoordinator(
		coordinator.Config{
			HotTTL:          time.Duration(cfg.Cache.HotTTL),
			PartialTTL:      time.Duration(cfg.Cache.PartialTTL),
			PageLoadTimeout: time.Duration(cfg.Chrome.PageLoadTimeout),
			MarkerTimeout:   time.Duration(cfg.Chrome.MarkerTimeout),
			StripScripts:    cfg.Cache.StripScripts,
		},
		hotCache,
		durableStore,
		failureCache,
		singleFlight,
		pool,
		renderer,
		metricsCollector,
		appLogger,
	)

	eventEmitter := buildEventEmitter(cfg, appLogger)

	var jobIndex *jobindex.Index
	if cfg.JobIndex.Enabled {
		jobIndex, err = jobindex.NewIndex(cfg.JobIndex.DSN, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to job index", zap.Error(err))
		}
	}

	batchManager := batch.NewManager(
		coord,
		durableStore,
		jobIndex,
		eventEmitter,
		cfg.Batch.CheckpointEvery,
		time.Duration(cfg.Server.Timeout),
		metricsCollector,
		appLogger,
	)

	sitemapFetcher := batch.NewSitemapFetcher(&cfg.Batch, appLogger)

	srv := server.NewServer(cfg, coord, pool, batchManager, sitemapFetcher, eventEmitter, metricsCollector, appLogger)

	// Server timeouts cover the worst-case resolve (render budget + margin)
	serverTimeout := time.Duration(cfg.Server.Timeout)
	httpServer := &fasthttp.Server{
		Handler:      srv.HandleRequest,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
		Name:         "Prerender",
	}

	serverErrCh := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server", zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	// Give the listener a moment to fail fast on bind errors
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrCh:
		appLogger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
	}

	srv.SetReady()
	dynamicLogger.SwitchToConfiguredLevel()

	appLogger.Info("Prerender service ready",
		zap.String("listen", cfg.Server.Listen),
		zap.Int("pool_size", pool.PoolSize()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		appLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		appLogger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	appLogger.Info("Shutting down gracefully...")

	// Stop routing first, then drain in-flight HTTP requests
	srv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverTimeout)
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown error", zap.Error(err))
	}
	shutdownCancel()

	// Batch jobs run detached from HTTP requests; give them a bounded
	// window before the pool goes away
	if !batchManager.Wait(batchDrainTimeout) {
		appLogger.Warn("Batch jobs still running at shutdown",
			zap.Duration("waited", batchDrainTimeout))
	}

	if err := pool.Shutdown(); err != nil {
		appLogger.Error("Render pool shutdown error", zap.Error(err))
	}

	// Emitter closes after the batch drain so late failure events flush
	if err := eventEmitter.Close(); err != nil {
		appLogger.Error("Event emitter shutdown error", zap.Error(err))
	}

	if jobIndex != nil {
		if err := jobIndex.Close(); err != nil {
			appLogger.Error("Job index shutdown error", zap.Error(err))
		}
	}

	if metricsServer != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), shutdownStepTimeout)
		if err := metricsServer.ShutdownWithContext(metricsCtx); err != nil {
			appLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsCancel()
	}

	appLogger.Info("Prerender service stopped")
}

// buildEventEmitter assembles the configured event sinks. With none
// enabled a no-op emitter keeps the call sites unconditional.
func buildEventEmitter(cfg *config.Config, appLogger *zap.Logger) events.EventEmitter {
	var emitters []events.EventEmitter

	if cfg.Events.File.Enabled {
		fileEmitter, err := events.NewFileEmitter(cfg.Events.File, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to create file event emitter", zap.Error(err))
		}
		emitters = append(emitters, fileEmitter)
		appLogger.Info("File event logging initialized", zap.String("path", cfg.Events.File.Path))
	}

	if cfg.Events.ClickHouse.Enabled {
		chEmitter, err := events.NewClickHouseEmitter(cfg.Events.ClickHouse, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to create ClickHouse event emitter", zap.Error(err))
		}
		emitters = append(emitters, chEmitter)
		appLogger.Info("ClickHouse event logging initialized",
			zap.String("addr", cfg.Events.ClickHouse.Addr),
			zap.String("table", cfg.Events.ClickHouse.Table))
	}

	if len(emitters) == 0 {
		return &events.NoopEmitter{}
	}

	return events.NewMultiEmitter(emitters, appLogger)
}
