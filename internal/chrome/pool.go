package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/cache"
)

// StoreFactory builds the durable-store client paired with one lease. Each
// lease owns its own client so a render blocked on upload never starves the
// shared cache-tier client.
type StoreFactory func(leaseID int) (cache.PageStore, error)

// PoolObserver receives pool occupancy and restart observations. The
// metrics collector implements it; a nil observer disables reporting.
type PoolObserver interface {
	UpdatePoolSize(size int)
	UpdateLeasesInUse(n int)
	RecordInstanceRestart()
}

// Pool hands out render leases from a fixed arena with a simple FIFO queue.
// An admission slot gates entry before the lease queue; both have capacity
// equal to the pool size, so concurrency is bounded and callers park when
// the pool is exhausted instead of failing.
type Pool struct {
	config   *Config
	logger   *zap.Logger
	observer PoolObserver

	leases    []*Lease      // Arena, index == lease ID, never resized
	queue     chan int      // FIFO queue of available lease IDs
	admission chan struct{} // Admission slots, acquired before the queue

	mu            sync.RWMutex // Protects leases during shutdown
	activeLeases  atomic.Int32 // Number of currently held leases
	waiting       atomic.Int32 // Callers parked in Acquire
	totalRenders  atomic.Int64 // Total leases released
	totalRestarts atomic.Int64 // Total instance restarts
	createdAt     time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	poolSize      int
}

// NewPool creates the lease arena: pool-size Chrome instances, each paired
// with its own durable-store client from storeFactory.
func NewPool(config *Config, storeFactory StoreFactory, observer PoolObserver, logger *zap.Logger) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolSize := config.CalculatePoolSize()
	logger.Info("Initializing render lease pool",
		zap.Int("pool_size", poolSize))

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:    config,
		logger:    logger,
		observer:  observer,
		leases:    make([]*Lease, poolSize),
		queue:     make(chan int, poolSize),
		admission: make(chan struct{}, poolSize),
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		poolSize:  poolSize,
	}

	for i := 0; i < poolSize; i++ {
		instance, err := NewInstance(i, config, logger)
		if err != nil {
			// Cleanup already created leases
			pool.Shutdown()
			return nil, fmt.Errorf("failed to create lease %d: %w", i, err)
		}

		store, err := storeFactory(i)
		if err != nil {
			instance.Terminate()
			pool.Shutdown()
			return nil, fmt.Errorf("failed to create store client for lease %d: %w", i, err)
		}

		pool.leases[i] = &Lease{ID: i, Chrome: instance, Store: store}
		pool.queue <- i // Add to available queue
	}

	if observer != nil {
		observer.UpdatePoolSize(poolSize)
		observer.UpdateLeasesInUse(0)
	}

	logger.Info("Render lease pool initialized",
		zap.Int("leases", poolSize))

	return pool, nil
}

// Acquire blocks until a lease is available, the context ends, or the pool
// shuts down. Admission comes first so callers queue outside the lease
// arena; pool exhaustion parks the caller, it is not an error.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	select {
	case <-p.ctx.Done():
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.admission <- struct{}{}:
	}

	select {
	case <-p.ctx.Done():
		<-p.admission
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		<-p.admission
		return nil, ctx.Err()
	case leaseID := <-p.queue:
		// Double-check if shutdown happened while we were waiting on queue
		select {
		case <-p.ctx.Done():
			p.returnToQueue(leaseID)
			<-p.admission
			return nil, ErrPoolShutdown
		default:
		}

		p.mu.RLock()
		lease := p.leases[leaseID]
		p.mu.RUnlock()

		if err := p.ensureHealthy(lease); err != nil {
			p.returnToQueue(leaseID)
			<-p.admission
			return nil, err
		}

		lease.Chrome.SetStatus(StatusRendering)
		active := p.activeLeases.Add(1)
		if p.observer != nil {
			p.observer.UpdateLeasesInUse(int(active))
		}

		p.logger.Debug("Lease acquired",
			zap.Int("lease_id", leaseID),
			zap.Int32("active_leases", active),
			zap.Int("pool_size", p.poolSize))

		return lease, nil
	}
}

// ensureHealthy restarts the lease's Chrome instance when it is dead or its
// restart policy fires. A dead instance that cannot be restarted fails the
// acquire; a policy restart failure keeps the current instance.
func (p *Pool) ensureHealthy(lease *Lease) error {
	instance := lease.Chrome

	if !instance.IsAlive() {
		p.logger.Warn("Chrome instance is dead, restarting",
			zap.Int("lease_id", lease.ID),
			zap.Int32("requests_done", instance.GetRequestsDone()))

		if err := instance.Restart(p.config); err != nil {
			p.logger.Error("Failed to restart dead instance",
				zap.Int("lease_id", lease.ID),
				zap.Error(err))
			return fmt.Errorf("%w: lease %d", ErrInstanceDead, lease.ID)
		}
		p.recordRestart()
		return nil
	}

	if instance.ShouldRestart(p.config) {
		p.logger.Info("Chrome instance needs restart based on policy",
			zap.Int("lease_id", lease.ID),
			zap.Int32("requests_done", instance.GetRequestsDone()),
			zap.Duration("age", instance.Age()))

		if err := instance.Restart(p.config); err != nil {
			p.logger.Error("Failed to restart instance",
				zap.Int("lease_id", lease.ID),
				zap.Error(err))
			// Continue with current instance despite restart failure
		} else {
			p.recordRestart()
		}
	}

	return nil
}

func (p *Pool) recordRestart() {
	p.totalRestarts.Add(1)
	if p.observer != nil {
		p.observer.RecordInstanceRestart()
	}
}

// Release returns a lease to the pool: slot back to the queue first, then
// the admission slot frees. Must be called on every render exit path.
func (p *Pool) Release(lease *Lease) {
	lease.Chrome.SetStatus(StatusIdle)
	lease.Chrome.IncrementRequests()
	p.totalRenders.Add(1)

	active := p.activeLeases.Add(-1)
	if p.observer != nil {
		p.observer.UpdateLeasesInUse(int(active))
	}

	p.returnToQueue(lease.ID)

	select {
	case <-p.admission:
	default:
		// Unpaired release - should never happen, indicates bug
		p.logger.Error("Admission slot already free on release",
			zap.Int("lease_id", lease.ID))
	}

	p.logger.Debug("Lease released",
		zap.Int("lease_id", lease.ID),
		zap.Int32("requests_done", lease.Chrome.GetRequestsDone()),
		zap.Int32("active_leases", active))
}

// returnToQueue puts a lease ID back with a select to avoid panic if
// shutting down
func (p *Pool) returnToQueue(leaseID int) {
	select {
	case p.queue <- leaseID:
	case <-p.ctx.Done():
		// Pool shutting down, discard
	default:
		// Queue full - should never happen, indicates a double release
		p.logger.Error("Queue full when returning lease - possible leak",
			zap.Int("lease_id", leaseID),
			zap.Int("queue_len", len(p.queue)))
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		PoolSize:      p.poolSize,
		Available:     len(p.queue),
		Active:        int(p.activeLeases.Load()),
		Waiting:       int(p.waiting.Load()),
		TotalRenders:  p.totalRenders.Load(),
		TotalRestarts: p.totalRestarts.Load(),
		Uptime:        time.Since(p.createdAt),
	}
}

// PoolSize returns the configured pool capacity
func (p *Pool) PoolSize() int {
	return p.poolSize
}

// Shutdown stops the pool using the configured shutdown timeout
func (p *Pool) Shutdown() error {
	return p.ShutdownWithTimeout(p.config.ShutdownTimeout)
}

// ShutdownWithTimeout drains active renders up to timeout, then terminates
// every Chrome instance
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	p.logger.Info("Initiating lease pool shutdown",
		zap.Duration("timeout", timeout),
		zap.Int32("active_leases", p.activeLeases.Load()))

	p.cancel()

	if p.waitForActiveRenders(timeout) {
		p.logger.Info("All active renders completed gracefully")
	} else {
		p.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_renders", p.activeLeases.Load()))
	}

	p.mu.Lock()
	var errs []error
	for i, lease := range p.leases {
		if lease == nil {
			continue
		}

		if err := lease.Chrome.Terminate(); err != nil {
			p.logger.Error("Error terminating instance",
				zap.Int("lease_id", i),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	p.mu.Unlock()

	// Note: the queue is not closed to avoid panics on send; it becomes
	// irrelevant after context cancellation

	finalStats := p.Stats()
	p.logger.Info("Lease pool shut down",
		zap.Int64("total_renders", finalStats.TotalRenders),
		zap.Int64("total_restarts", finalStats.TotalRestarts),
		zap.Duration("uptime", finalStats.Uptime))

	if len(errs) > 0 {
		return fmt.Errorf("encountered %d errors during shutdown", len(errs))
	}

	return nil
}

// waitForActiveRenders polls until all leases are back or the timeout
// expires
func (p *Pool) waitForActiveRenders(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.activeLeases.Load() == 0 {
			return true
		}

		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}
