package events

import "time"

// Event types
const (
	EventTypeResolve  = "resolve"   // cache pipeline resolve (any tier)
	EventTypeLive     = "live"      // live render, caches untouched
	EventTypeBatchURL = "batch_url" // failed URL inside a batch job
)

// ResolveEvent is one emitted record of a resolve, live render, or batch
// step. Fields that do not apply to a given event type stay zero-valued;
// the JSONL and ClickHouse sinks both take the full row.
type ResolveEvent struct {
	RequestID string `json:"request_id"`
	EventType string `json:"event_type"`
	URL       string `json:"url"`
	CacheKey  string `json:"cache_key,omitempty"`

	// Outcome
	Source     string  `json:"source,omitempty"` // hot, durable, concurrent, render, live
	Complete   bool    `json:"complete"`
	StatusCode int     `json:"status_code"`
	PageSize   int     `json:"page_size"`
	ServeTime  float64 `json:"serve_time"`  // seconds, full request
	RenderTime float64 `json:"render_time"` // seconds, render only
	ChromeID   string  `json:"chrome_id,omitempty"`

	// Batch context
	JobID string `json:"job_id,omitempty"`

	// Failure context
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// row returns the event as a ClickHouse column tuple. Order must match
// the insert table's column order in clickhouse_emitter.go.
func (e *ResolveEvent) row() []any {
	return []any{
		e.RequestID,
		e.EventType,
		e.URL,
		e.CacheKey,
		e.Source,
		e.Complete,
		int32(e.StatusCode),
		int64(e.PageSize),
		e.ServeTime,
		e.RenderTime,
		e.ChromeID,
		e.JobID,
		e.ErrorType,
		e.ErrorMessage,
		e.CreatedAt,
	}
}
