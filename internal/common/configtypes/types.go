package configtypes

import (
	"github.com/rendercove/prerender/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Listen  string         `yaml:"listen"`
	Timeout types.Duration `yaml:"timeout"`
}

// RedisConfig configures the HotCache / coordination backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// S3Config configures the DurableStore backend. Endpoint is optional and
// enables S3-compatible targets (R2, MinIO); UsePathStyle is usually
// required for those.
type S3Config struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// LogConfig configures the process logger outputs.
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig is shared by the file logger and the file event emitter.
// Sizes are megabytes, ages are days.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// MetricsConfig configures the dedicated Prometheus listener.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// EventLoggingConfig configures resolve/batch event emission.
type EventLoggingConfig struct {
	File       EventFileConfig       `yaml:"file"`
	ClickHouse EventClickHouseConfig `yaml:"clickhouse"`
}

// EventFileConfig configures the JSONL file emitter.
type EventFileConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// EventClickHouseConfig configures the ClickHouse emitter.
type EventClickHouseConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Addr          string         `yaml:"addr"`
	Database      string         `yaml:"database"`
	Table         string         `yaml:"table"`
	Username      string         `yaml:"username"`
	Password      string         `yaml:"password"`
	BatchSize     int            `yaml:"batch_size"`
	FlushInterval types.Duration `yaml:"flush_interval"`
}

// JobIndexConfig configures the optional MySQL batch-job index.
type JobIndexConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}
