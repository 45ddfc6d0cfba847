package events

// EventEmitter is the interface event sinks implement.
// Implementations must be fire-and-forget, non-blocking: errors are
// logged internally, never returned to the caller.
type EventEmitter interface {
	// Emit sends an event. Fire-and-forget, non-blocking.
	Emit(event *ResolveEvent)

	// Close gracefully shuts down the emitter.
	Close() error
}

// NoopEmitter is a no-op implementation for tests and disabled logging.
type NoopEmitter struct{}

// Emit does nothing.
func (n *NoopEmitter) Emit(event *ResolveEvent) {}

// Close returns nil.
func (n *NoopEmitter) Close() error { return nil }
