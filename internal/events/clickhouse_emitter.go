package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/common/configtypes"
)

const (
	chDialTimeout   = 5 * time.Second
	chSetupTimeout  = 10 * time.Second
	chInsertTimeout = 30 * time.Second

	// eventQueueSize bounds the in-flight buffer between Emit and the
	// flush loop. Overflow drops events rather than blocking a resolve.
	eventQueueSize = 10000
)

// createEventsTable must keep its column order in sync with
// ResolveEvent.row().
const createEventsTable = `CREATE TABLE IF NOT EXISTS %s (
	request_id    String,
	event_type    LowCardinality(String),
	url           String,
	cache_key     String,
	source        LowCardinality(String),
	complete      Bool,
	status_code   Int32,
	page_size     Int64,
	serve_time    Float64,
	render_time   Float64,
	chrome_id     String,
	job_id        String,
	error_type    LowCardinality(String),
	error_message String,
	created_at    DateTime64(3)
) ENGINE = MergeTree
ORDER BY (created_at)`

// ClickHouseEmitter batches events into async inserts. Events queue on a
// channel; a background loop flushes when the batch fills or the flush
// interval elapses. Insert failures drop the batch — the event trail is
// best-effort by contract.
type ClickHouseEmitter struct {
	conn          driver.Conn
	table         string
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	events chan *ResolveEvent
	stop   chan struct{}
	done   chan struct{}
}

// NewClickHouseEmitter connects, ensures the events table exists, and
// starts the flush loop.
func NewClickHouseEmitter(config configtypes.EventClickHouseConfig, logger *zap.Logger) (*ClickHouseEmitter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		DialTimeout: chDialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), chSetupTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ClickHouse unreachable: %w", err)
	}

	if err := conn.Exec(ctx, fmt.Sprintf(createEventsTable, config.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure events table: %w", err)
	}

	e := &ClickHouseEmitter{
		conn:          conn,
		table:         config.Table,
		batchSize:     config.BatchSize,
		flushInterval: time.Duration(config.FlushInterval),
		logger:        logger,
		events:        make(chan *ResolveEvent, eventQueueSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	logger.Info("ClickHouse event emitter started",
		zap.String("addr", config.Addr),
		zap.String("table", config.Table),
		zap.Int("batch_size", e.batchSize),
		zap.Duration("flush_interval", e.flushInterval))

	go e.run()
	return e, nil
}

// Emit queues the event. A full queue drops it.
func (e *ClickHouseEmitter) Emit(event *ResolveEvent) {
	select {
	case e.events <- event:
	default:
		e.logger.Debug("Event queue full, dropping event",
			zap.String("request_id", event.RequestID))
	}
}

// Close stops the flush loop, flushes queued events, and closes the
// connection.
func (e *ClickHouseEmitter) Close() error {
	close(e.stop)
	<-e.done
	return e.conn.Close()
}

func (e *ClickHouseEmitter) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	buf := make([]*ResolveEvent, 0, e.batchSize)
	for {
		select {
		case event := <-e.events:
			buf = append(buf, event)
			if len(buf) >= e.batchSize {
				e.flush(buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				e.flush(buf)
				buf = buf[:0]
			}

		case <-e.stop:
			// Drain the queue, then flush what is left.
			for {
				select {
				case event := <-e.events:
					buf = append(buf, event)
				default:
					if len(buf) > 0 {
						e.flush(buf)
					}
					return
				}
			}
		}
	}
}

func (e *ClickHouseEmitter) flush(buf []*ResolveEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), chInsertTimeout)
	defer cancel()

	batch, err := e.conn.PrepareBatch(ctx, "INSERT INTO "+e.table)
	if err != nil {
		e.logger.Warn("Failed to prepare event batch",
			zap.Int("events", len(buf)),
			zap.Error(err))
		return
	}

	for _, event := range buf {
		if err := batch.Append(event.row()...); err != nil {
			e.logger.Warn("Failed to append event to batch",
				zap.String("request_id", event.RequestID),
				zap.Error(err))
			batch.Abort()
			return
		}
	}

	if err := batch.Send(); err != nil {
		e.logger.Warn("Failed to send event batch",
			zap.Int("events", len(buf)),
			zap.Error(err))
		return
	}

	e.logger.Debug("Event batch sent", zap.Int("events", len(buf)))
}
