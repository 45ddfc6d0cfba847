// Package jobindex maintains an optional MySQL index of batch jobs for
// operator queries ("what ran recently") that the durable store's
// per-job JSON objects cannot answer without a full listing. The durable
// store stays the source of truth; index writes are best-effort and the
// caller decides whether a failure matters.
package jobindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

const (
	pingTimeout = 5 * time.Second

	createTableStmt = `CREATE TABLE IF NOT EXISTS batch_jobs (
		id           VARCHAR(16)  NOT NULL,
		source       VARCHAR(16)  NOT NULL,
		total        INT          NOT NULL,
		completed    INT          NOT NULL,
		failed       INT          NOT NULL,
		status       VARCHAR(16)  NOT NULL,
		started_at   DATETIME     NOT NULL,
		completed_at DATETIME     NULL,
		PRIMARY KEY (id)
	)`

	upsertStmt = `INSERT INTO batch_jobs
		(id, source, total, completed, failed, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		total = VALUES(total),
		completed = VALUES(completed),
		failed = VALUES(failed),
		status = VALUES(status),
		completed_at = VALUES(completed_at)`

	recentStmt = `SELECT id, source, total, completed, failed, status, started_at, completed_at
		FROM batch_jobs
		ORDER BY started_at DESC, id
		LIMIT ?`
)

// Record is one indexed job row.
type Record struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Index wraps the MySQL connection pool for the batch_jobs table.
type Index struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIndex connects to MySQL with the given DSN and ensures the
// batch_jobs table exists. ParseTime is forced on so DATETIME columns
// scan into time.Time regardless of how the DSN was written.
func NewIndex(dsn string, logger *zap.Logger) (*Index, error) {
	dsnCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid job index DSN: %w", err)
	}
	dsnCfg.ParseTime = true

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open job index connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("job index unreachable: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure batch_jobs table: %w", err)
	}

	logger.Info("Batch job index connected",
		zap.String("addr", dsnCfg.Addr),
		zap.String("database", dsnCfg.DBName))

	return &Index{db: db, logger: logger}, nil
}

// Upsert inserts or updates one job row.
func (ix *Index) Upsert(ctx context.Context, rec Record) error {
	_, err := ix.db.ExecContext(ctx, upsertStmt,
		rec.ID, rec.Source, rec.Total, rec.Completed, rec.Failed,
		rec.Status, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("job index upsert failed: %w", err)
	}
	return nil
}

// Recent returns up to limit jobs, most recently started first.
func (ix *Index) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := ix.db.QueryContext(ctx, recentStmt, limit)
	if err != nil {
		return nil, fmt.Errorf("job index query failed: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var completedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Total, &rec.Completed,
			&rec.Failed, &rec.Status, &rec.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("job index scan failed: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job index rows failed: %w", err)
	}
	return records, nil
}

// Close releases the connection pool.
func (ix *Index) Close() error {
	return ix.db.Close()
}
