package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rendercove/prerender/internal/common/configtypes"
)

// DynamicLogger wraps zap.Logger with runtime-switchable levels. The
// startup override lets the boot sequence log at INFO even when the
// configured level is quieter; SwitchToConfiguredLevel restores it once
// startup completes.
type DynamicLogger struct {
	*zap.Logger
	consoleLevel *zap.AtomicLevel
	fileLevel    *zap.AtomicLevel
	configured   configtypes.LogConfig
}

// NewLogger builds a logger from config. At least one output must be
// enabled.
func NewLogger(config configtypes.LogConfig) (*DynamicLogger, error) {
	globalLevel := parseLevel(config.Level)

	var cores []zapcore.Core
	var consoleLevel, fileLevel *zap.AtomicLevel

	if config.Console.Enabled {
		level := zap.NewAtomicLevelAt(effectiveLevel(config.Console.Level, globalLevel))
		consoleLevel = &level
		cores = append(cores, zapcore.NewCore(
			newEncoder(config.Console.Format),
			zapcore.Lock(os.Stdout),
			consoleLevel,
		))
	}

	if config.File.Enabled {
		if config.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}
		level := zap.NewAtomicLevelAt(effectiveLevel(config.File.Level, globalLevel))
		fileLevel = &level
		cores = append(cores, zapcore.NewCore(
			newEncoder(config.File.Format),
			newRotatingWriter(config.File.Path, config.File.Rotation),
			fileLevel,
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return &DynamicLogger{
		Logger:       zap.New(core),
		consoleLevel: consoleLevel,
		fileLevel:    fileLevel,
		configured:   config,
	}, nil
}

// NewLoggerWithStartupOverride builds a logger that starts at INFO when the
// configured level is quieter, so startup logs are always visible.
func NewLoggerWithStartupOverride(config configtypes.LogConfig) (*DynamicLogger, error) {
	if parseLevel(config.Level) <= zap.InfoLevel {
		return NewLogger(config)
	}

	startup := config
	startup.Level = configtypes.LogLevelInfo
	if startup.Console.Enabled && startup.Console.Level == "" {
		startup.Console.Level = configtypes.LogLevelInfo
	}
	if startup.File.Enabled && startup.File.Level == "" {
		startup.File.Level = configtypes.LogLevelInfo
	}

	dl, err := NewLogger(startup)
	if err != nil {
		return nil, err
	}
	dl.configured = config
	return dl, nil
}

// NewDefaultLogger is the console-only debug logger used before config is
// loaded.
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
}

// SwitchToConfiguredLevel restores the levels from the loaded config after
// the startup override.
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	globalLevel := parseLevel(dl.configured.Level)

	dl.Info("Switching logger to configured level", zap.String("level", dl.configured.Level))

	if dl.consoleLevel != nil {
		dl.consoleLevel.SetLevel(effectiveLevel(dl.configured.Console.Level, globalLevel))
	}
	if dl.fileLevel != nil {
		dl.fileLevel.SetLevel(effectiveLevel(dl.configured.File.Level, globalLevel))
	}
}

// EnsureInfoLevelForShutdown raises quiet outputs to INFO so the shutdown
// sequence is visible.
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	changed := false
	if dl.consoleLevel != nil && dl.consoleLevel.Level() > zap.InfoLevel {
		dl.consoleLevel.SetLevel(zap.InfoLevel)
		changed = true
	}
	if dl.fileLevel != nil && dl.fileLevel.Level() > zap.InfoLevel {
		dl.fileLevel.SetLevel(zap.InfoLevel)
		changed = true
	}
	if changed {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// effectiveLevel prefers the per-output level over the global one.
func effectiveLevel(outputLevel string, globalLevel zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLevel(outputLevel)
	}
	return globalLevel
}

func newEncoder(format string) zapcore.Encoder {
	if format == configtypes.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	cfg := zap.NewDevelopmentEncoderConfig()
	if format == configtypes.LogFormatText {
		// Plain text without color codes, for files
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func newRotatingWriter(path string, rotation configtypes.RotationConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	})
}
