package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rendercove/prerender/internal/common/configtypes"
)

// Rotation defaults applied when the config leaves them zero.
const (
	DefaultMaxSize    = 100 // MB
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10  // files
)

// FileEmitter writes events as JSON lines to a rotating log file. It
// covers the failure-trail role a plain errors/failed-URLs file would:
// every event is one greppable line.
type FileEmitter struct {
	writer *lumberjack.Logger
	logger *zap.Logger
}

// NewFileEmitter creates a JSONL file emitter, creating the parent
// directory when needed.
func NewFileEmitter(config configtypes.EventFileConfig, logger *zap.Logger) (*FileEmitter, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory %s: %w", dir, err)
	}

	maxSize := config.Rotation.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	maxAge := config.Rotation.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}

	maxBackups := config.Rotation.MaxBackups
	if maxBackups == 0 {
		maxBackups = DefaultMaxBackups
	}

	writer := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    maxSize,
		MaxAge:     maxAge,
		MaxBackups: maxBackups,
		Compress:   config.Rotation.Compress,
	}

	return &FileEmitter{
		writer: writer,
		logger: logger,
	}, nil
}

// Emit marshals the event and appends it as one line.
// Fire-and-forget: errors are logged but not returned.
func (f *FileEmitter) Emit(event *ResolveEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		f.logger.Warn("Failed to marshal event",
			zap.Error(err),
			zap.String("request_id", event.RequestID))
		return
	}

	if _, err := f.writer.Write(append(line, '\n')); err != nil {
		f.logger.Warn("Failed to write event to log file",
			zap.Error(err),
			zap.String("request_id", event.RequestID))
	}
}

// Close closes the underlying file handle.
func (f *FileEmitter) Close() error {
	return f.writer.Close()
}
