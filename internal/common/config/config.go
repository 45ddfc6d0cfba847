package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/common/configtypes"
	"github.com/rendercove/prerender/internal/common/yamlutil"
	"github.com/rendercove/prerender/pkg/types"
)

// Config represents the prerender service configuration
type Config struct {
	Server   configtypes.ServerConfig         `yaml:"server"`
	Redis    configtypes.RedisConfig          `yaml:"redis"`
	S3       configtypes.S3Config             `yaml:"s3"`
	Chrome   ChromeConfig                     `yaml:"chrome"`
	Cache    CacheConfig                      `yaml:"cache"`
	Batch    BatchConfig                      `yaml:"batch"`
	Events   configtypes.EventLoggingConfig   `yaml:"events"`
	JobIndex configtypes.JobIndexConfig       `yaml:"job_index"`
	Log      configtypes.LogConfig            `yaml:"log"`
	Metrics  configtypes.MetricsConfig        `yaml:"metrics"`
}

// ChromeConfig represents the Chrome pool and render timing configuration
type ChromeConfig struct {
	PoolSize        string         `yaml:"pool_size"` // "auto" or positive integer
	PageLoadTimeout types.Duration `yaml:"page_load_timeout"`
	MarkerTimeout   types.Duration `yaml:"marker_timeout"`
	MarkerSelector  string         `yaml:"marker_selector"`
	Warmup          WarmupConfig   `yaml:"warmup"`
	Restart         RestartConfig  `yaml:"restart"`
	ShutdownTimeout types.Duration `yaml:"shutdown_timeout"`
}

// WarmupConfig represents Chrome warmup configuration
type WarmupConfig struct {
	URL     string         `yaml:"url"`
	Timeout types.Duration `yaml:"timeout"`
}

// RestartConfig represents Chrome restart policy configuration
type RestartConfig struct {
	AfterCount int            `yaml:"after_count"`
	AfterTime  types.Duration `yaml:"after_time"`
}

// CacheConfig represents cache TTL and encoding configuration
type CacheConfig struct {
	HotTTL       types.Duration `yaml:"hot_ttl"`     // complete pages in Redis
	PartialTTL   types.Duration `yaml:"partial_ttl"` // incomplete pages in Redis
	FailureTTL   types.Duration `yaml:"failure_ttl"` // failure suppression window
	ResultTTL    types.Duration `yaml:"result_ttl"`  // render-done markers for waiters
	Compression  string         `yaml:"compression"` // none, snappy, or lz4
	StripScripts bool           `yaml:"strip_scripts"`
}

// BatchConfig represents batch job processing configuration
type BatchConfig struct {
	CheckpointEvery int            `yaml:"checkpoint_every"`
	SitemapTimeout  types.Duration `yaml:"sitemap_timeout"`
	MaxSitemapDepth int            `yaml:"max_sitemap_depth"`
	MaxURLs         int            `yaml:"max_urls"`
}

// RenderBudget returns the total per-URL render time budget:
// page load plus marker wait plus extraction headroom.
func (c *ChromeConfig) RenderBudget() time.Duration {
	return time.Duration(c.PageLoadTimeout) + time.Duration(c.MarkerTimeout) + extractionHeadroom
}

const (
	// SafetyMargin is the buffer added to the render budget for the server
	// timeout so FastHTTP doesn't kill connections before a render completes.
	SafetyMargin = 10 * time.Second

	// extractionHeadroom covers HTML extraction after the marker wait ends.
	extractionHeadroom = 3 * time.Second

	defaultListen          = ":3081"
	defaultPoolSize        = "10"
	defaultPageLoadTimeout = 5 * time.Second
	defaultMarkerTimeout   = 2 * time.Second
	defaultMarkerSelector  = "meta[data-gen-source='meta-loader']"
	defaultWarmupURL       = "about:blank"
	defaultWarmupTimeout   = 10 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	defaultRestartAfterCount = 100
	defaultRestartAfterTime  = 60 * time.Minute

	defaultHotTTL     = 1 * time.Hour
	defaultPartialTTL = 2 * time.Minute
	defaultFailureTTL = 5 * time.Minute
	defaultResultTTL  = 60 * time.Second

	defaultCheckpointEvery = 10
	defaultSitemapTimeout  = 30 * time.Second
	defaultSitemapDepth    = 3
	defaultMaxURLs         = 50000

	defaultS3Region = "ap-northeast-2"
	defaultS3Prefix = "prerender"

	defaultMetricsPath      = "/metrics"
	defaultMetricsNamespace = "prerender"

	defaultEventBatchSize     = 500
	defaultEventFlushInterval = 5 * time.Second
	defaultEventDatabase      = "default"
	defaultEventTable         = "resolve_events"
)

// Manager handles service configuration
type Manager struct {
	config     *Config
	configPath string
	logger     *zap.Logger
}

// NewManager creates a config manager and loads the file at configPath
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	cm := &Manager{
		configPath: configPath,
		logger:     logger,
	}

	if err := cm.LoadConfig(); err != nil {
		return nil, err
	}

	return cm, nil
}

// LoadConfig loads configuration from file
func (cm *Manager) LoadConfig() error {
	cfg, err := Load(cm.configPath)
	if err != nil {
		return err
	}

	cm.config = cfg
	return nil
}

// GetConfig returns the current configuration
func (cm *Manager) GetConfig() *Config {
	return cm.config
}

// Load loads and validates configuration from a file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults applies default values to configuration fields
func (cfg *Config) applyDefaults() {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}

	// Log defaults: if both outputs are disabled (zero values), enable
	// console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}

	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}

	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	// Chrome defaults
	if cfg.Chrome.PoolSize == "" {
		cfg.Chrome.PoolSize = defaultPoolSize
	}

	if cfg.Chrome.PageLoadTimeout == 0 {
		cfg.Chrome.PageLoadTimeout = types.Duration(defaultPageLoadTimeout)
	}

	if cfg.Chrome.MarkerTimeout == 0 {
		cfg.Chrome.MarkerTimeout = types.Duration(defaultMarkerTimeout)
	}

	if cfg.Chrome.MarkerSelector == "" {
		cfg.Chrome.MarkerSelector = defaultMarkerSelector
	}

	if cfg.Chrome.Warmup.URL == "" {
		cfg.Chrome.Warmup.URL = defaultWarmupURL
	}

	if cfg.Chrome.Warmup.Timeout == 0 {
		cfg.Chrome.Warmup.Timeout = types.Duration(defaultWarmupTimeout)
	}

	if cfg.Chrome.Restart.AfterCount == 0 {
		cfg.Chrome.Restart.AfterCount = defaultRestartAfterCount
	}

	if cfg.Chrome.Restart.AfterTime == 0 {
		cfg.Chrome.Restart.AfterTime = types.Duration(defaultRestartAfterTime)
	}

	if cfg.Chrome.ShutdownTimeout == 0 {
		cfg.Chrome.ShutdownTimeout = types.Duration(defaultShutdownTimeout)
	}

	// Server timeout covers the worst-case resolve: render budget plus margin
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = types.Duration(cfg.Chrome.RenderBudget() + SafetyMargin)
	}

	// Cache defaults
	if cfg.Cache.HotTTL == 0 {
		cfg.Cache.HotTTL = types.Duration(defaultHotTTL)
	}

	if cfg.Cache.PartialTTL == 0 {
		cfg.Cache.PartialTTL = types.Duration(defaultPartialTTL)
	}

	if cfg.Cache.FailureTTL == 0 {
		cfg.Cache.FailureTTL = types.Duration(defaultFailureTTL)
	}

	if cfg.Cache.ResultTTL == 0 {
		cfg.Cache.ResultTTL = types.Duration(defaultResultTTL)
	}

	if cfg.Cache.Compression == "" {
		cfg.Cache.Compression = types.CompressionSnappy
	}

	// Batch defaults
	if cfg.Batch.CheckpointEvery == 0 {
		cfg.Batch.CheckpointEvery = defaultCheckpointEvery
	}

	if cfg.Batch.SitemapTimeout == 0 {
		cfg.Batch.SitemapTimeout = types.Duration(defaultSitemapTimeout)
	}

	if cfg.Batch.MaxSitemapDepth == 0 {
		cfg.Batch.MaxSitemapDepth = defaultSitemapDepth
	}

	if cfg.Batch.MaxURLs == 0 {
		cfg.Batch.MaxURLs = defaultMaxURLs
	}

	// S3 defaults
	if cfg.S3.Region == "" {
		cfg.S3.Region = defaultS3Region
	}

	if cfg.S3.Prefix == "" {
		cfg.S3.Prefix = defaultS3Prefix
	}

	// Metrics defaults
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultMetricsNamespace
	}

	// Event emission defaults
	if cfg.Events.ClickHouse.BatchSize == 0 {
		cfg.Events.ClickHouse.BatchSize = defaultEventBatchSize
	}

	if cfg.Events.ClickHouse.FlushInterval == 0 {
		cfg.Events.ClickHouse.FlushInterval = types.Duration(defaultEventFlushInterval)
	}

	if cfg.Events.ClickHouse.Database == "" {
		cfg.Events.ClickHouse.Database = defaultEventDatabase
	}

	if cfg.Events.ClickHouse.Table == "" {
		cfg.Events.ClickHouse.Table = defaultEventTable
	}
}

// Validate checks configuration validity
func (cfg *Config) Validate() error {
	// Server validation
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	} else if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}

	// Redis validation
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	// S3 validation
	if cfg.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}

	if cfg.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}

	// Chrome validation
	if cfg.Chrome.PoolSize != "auto" {
		size, err := strconv.Atoi(cfg.Chrome.PoolSize)
		if err != nil || size <= 0 {
			return fmt.Errorf("chrome.pool_size must be 'auto' or positive integer")
		}
	}

	if cfg.Chrome.PageLoadTimeout <= 0 {
		return fmt.Errorf("chrome.page_load_timeout must be positive")
	}

	if cfg.Chrome.MarkerTimeout <= 0 {
		return fmt.Errorf("chrome.marker_timeout must be positive")
	}

	if cfg.Chrome.MarkerSelector == "" {
		return fmt.Errorf("chrome.marker_selector is required")
	}

	if cfg.Chrome.Warmup.Timeout <= 0 {
		return fmt.Errorf("chrome.warmup.timeout must be positive")
	}

	if cfg.Chrome.Restart.AfterCount <= 0 {
		return fmt.Errorf("chrome.restart.after_count must be positive")
	}

	if cfg.Chrome.Restart.AfterTime <= 0 {
		return fmt.Errorf("chrome.restart.after_time must be positive")
	}

	if cfg.Chrome.ShutdownTimeout <= 0 {
		return fmt.Errorf("chrome.shutdown_timeout must be positive")
	}

	// Cache validation
	if cfg.Cache.HotTTL <= 0 {
		return fmt.Errorf("cache.hot_ttl must be positive")
	}

	if cfg.Cache.PartialTTL <= 0 {
		return fmt.Errorf("cache.partial_ttl must be positive")
	}

	if cfg.Cache.PartialTTL > cfg.Cache.HotTTL {
		return fmt.Errorf("cache.partial_ttl (%s) must not exceed cache.hot_ttl (%s)",
			cfg.Cache.PartialTTL, cfg.Cache.HotTTL)
	}

	if cfg.Cache.FailureTTL <= 0 {
		return fmt.Errorf("cache.failure_ttl must be positive")
	}

	if cfg.Cache.ResultTTL <= 0 {
		return fmt.Errorf("cache.result_ttl must be positive")
	}

	validCompressions := map[string]bool{
		types.CompressionNone:   true,
		types.CompressionSnappy: true,
		types.CompressionLZ4:    true,
	}
	if !validCompressions[cfg.Cache.Compression] {
		return fmt.Errorf("invalid cache.compression: %s (must be none, snappy, or lz4)", cfg.Cache.Compression)
	}

	// Batch validation
	if cfg.Batch.CheckpointEvery <= 0 {
		return fmt.Errorf("batch.checkpoint_every must be positive")
	}

	if cfg.Batch.SitemapTimeout <= 0 {
		return fmt.Errorf("batch.sitemap_timeout must be positive")
	}

	if cfg.Batch.MaxSitemapDepth <= 0 {
		return fmt.Errorf("batch.max_sitemap_depth must be positive")
	}

	if cfg.Batch.MaxURLs <= 0 {
		return fmt.Errorf("batch.max_urls must be positive")
	}

	// Event emission validation
	if cfg.Events.File.Enabled && cfg.Events.File.Path == "" {
		return fmt.Errorf("events.file.path is required when file event logging enabled")
	}

	if cfg.Events.ClickHouse.Enabled {
		if cfg.Events.ClickHouse.Addr == "" {
			return fmt.Errorf("events.clickhouse.addr is required when ClickHouse event logging enabled")
		}
		if cfg.Events.ClickHouse.BatchSize <= 0 {
			return fmt.Errorf("events.clickhouse.batch_size must be positive")
		}
		if cfg.Events.ClickHouse.FlushInterval <= 0 {
			return fmt.Errorf("events.clickhouse.flush_interval must be positive")
		}
	}

	// Job index validation
	if cfg.JobIndex.Enabled && cfg.JobIndex.DSN == "" {
		return fmt.Errorf("job_index.dsn is required when job index enabled")
	}

	// Log validation
	validLogLevels := map[string]bool{
		configtypes.LogLevelDebug: true,
		configtypes.LogLevelInfo:  true,
		configtypes.LogLevelWarn:  true,
		configtypes.LogLevelError: true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validConsoleFormats := map[string]bool{
		configtypes.LogFormatJSON:    true,
		configtypes.LogFormatConsole: true,
	}
	if cfg.Log.Console.Enabled && cfg.Log.Console.Format != "" && !validConsoleFormats[cfg.Log.Console.Format] {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
	}

	if cfg.Log.File.Enabled {
		if cfg.Log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}

		validFileFormats := map[string]bool{
			configtypes.LogFormatJSON: true,
			configtypes.LogFormatText: true,
		}
		if cfg.Log.File.Format != "" && !validFileFormats[cfg.Log.File.Format] {
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
		}

		if cfg.Log.File.Rotation.MaxSize < 0 {
			return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", cfg.Log.File.Rotation.MaxSize)
		}
		if cfg.Log.File.Rotation.MaxAge < 0 {
			return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", cfg.Log.File.Rotation.MaxAge)
		}
		if cfg.Log.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", cfg.Log.File.Rotation.MaxBackups)
		}
	}

	// Metrics validation
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics enabled")
		} else if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}

		metricsPort, err1 := configtypes.GetPortFromListen(cfg.Metrics.Listen)
		serverPort, err2 := configtypes.GetPortFromListen(cfg.Server.Listen)
		if err1 == nil && err2 == nil && metricsPort == serverPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsPort, serverPort)
		}
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}

	if cfg.Metrics.Namespace != "" {
		// Prometheus namespace must match: [a-zA-Z_][a-zA-Z0-9_]*
		if matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_]*$`, cfg.Metrics.Namespace); !matched {
			return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
		}
	}

	return nil
}

const (
	// ConfigPathEnv overrides the config location when the -c flag is not
	// given.
	ConfigPathEnv = "PRERENDER_CONFIG"

	defaultConfigPath = "/etc/prerender/config.yaml"
)

// GetConfigPath resolves the config file path: the explicit path wins,
// then the PRERENDER_CONFIG environment variable, then the packaged
// default location.
func GetConfigPath(path string) (string, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}

	if path == "" {
		path = defaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}
