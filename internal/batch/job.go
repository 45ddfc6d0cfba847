package batch

import (
	"time"

	"github.com/google/uuid"
)

// Job status values. A job is "running" from submission until the last
// URL has been processed, then "completed" — there is no failed terminal
// state; per-URL failures only move the counters.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Job is the persisted progress record of one batch prerender job.
// It is written to the durable store as JSON under batch/{id}.json and
// mutated by the batch loop as each URL resolves.
type Job struct {
	ID          string     `json:"id"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// NewJob creates a running job record for a URL list of the given size.
func NewJob(id string, total int) *Job {
	return &Job{
		ID:        id,
		Total:     total,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// NewJobID returns a short, externally shareable job identifier.
// Eight hex-ish chars of a UUIDv4 keep collisions negligible at the
// volumes a single deployment submits.
func NewJobID() string {
	return uuid.New().String()[:8]
}
