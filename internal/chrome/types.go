package chrome

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/cache"
)

// InstanceStatus represents the current state of a Chrome instance
type InstanceStatus int

const (
	// StatusIdle indicates the instance is ready for rendering
	StatusIdle InstanceStatus = iota
	// StatusRendering indicates the instance is currently processing a request
	StatusRendering
	// StatusRestarting indicates the instance is being restarted
	StatusRestarting
	// StatusDead indicates the instance has crashed or been terminated
	StatusDead
)

// String returns the string representation of InstanceStatus
func (s InstanceStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRendering:
		return "rendering"
	case StatusRestarting:
		return "restarting"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Instance represents a single Chrome browser instance
type Instance struct {
	ID              int                // Immutable
	ctx             context.Context    // Immutable after creation
	cancel          context.CancelFunc // Immutable after creation
	allocatorCtx    context.Context    // Immutable after creation
	allocatorCancel context.CancelFunc // Immutable after creation
	createdAt       time.Time          // Reset on restart
	logger          *zap.Logger        // Immutable
	browserVersion  string             // Immutable after creation (e.g., "Chrome/120.0.6099.109")

	// Mutable fields - protected by atomic operations
	status       int32 // InstanceStatus as int32
	requestsDone int32
	lastUsedNano int64 // Unix nanoseconds
}

// Lease is one pooled render slot: a browser instance paired with its own
// durable store client. Exactly pool-size leases exist for the life of the
// process; Acquire hands them out and Release returns them.
type Lease struct {
	ID     int
	Chrome *Instance
	Store  cache.PageStore
}

// PoolStats represents statistics about the lease pool
type PoolStats struct {
	PoolSize      int
	Available     int
	Active        int
	Waiting       int
	TotalRenders  int64
	TotalRestarts int64
	Uptime        time.Duration
}
