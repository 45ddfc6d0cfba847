package batch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/batch/jobindex"
	"github.com/rendercove/prerender/internal/cache"
	"github.com/rendercove/prerender/internal/common/requestid"
	"github.com/rendercove/prerender/internal/common/urlutil"
	"github.com/rendercove/prerender/internal/coordinator"
	"github.com/rendercove/prerender/internal/coordinator/reqctx"
	"github.com/rendercove/prerender/internal/events"
	"github.com/rendercove/prerender/internal/metrics"
	"github.com/rendercove/prerender/pkg/types"
)

// Job source labels, also used as the batch metrics source dimension.
const (
	SourceSitemap = "sitemap"
	SourceList    = "list"
)

const (
	// jobPersistTimeout caps durable-store writes of job snapshots, same
	// headroom as page writes.
	jobPersistTimeout = 10 * time.Second

	// indexTimeout caps best-effort MySQL index writes and reads.
	indexTimeout = 5 * time.Second
)

// Resolver is the slice of the coordinator the batch loop drives.
type Resolver interface {
	Resolve(rc *reqctx.Context) (*types.RenderResult, types.Source, error)
}

// Manager runs batch prerender jobs. Each job processes its URL list
// strictly sequentially through the coordinator — a deliberate throttle
// so a batch does not starve interactive traffic competing for the same
// render pool. Progress is checkpointed to the durable store every
// checkpointEvery items and on the final item; a failed URL never aborts
// the batch.
type Manager struct {
	resolver        Resolver
	store           cache.PageStore
	index           *jobindex.Index // nil when the MySQL index is disabled
	emitter         events.EventEmitter
	checkpointEvery int
	renderBudget    time.Duration
	metrics         *metrics.MetricsCollector
	logger          *zap.Logger

	mu   sync.Mutex
	jobs map[string]*Job

	wg sync.WaitGroup
}

// NewManager creates a batch manager. index may be nil to disable the
// MySQL job index; the durable store remains the source of truth either
// way. renderBudget is the per-URL time budget handed to each resolve.
func NewManager(
	resolver Resolver,
	store cache.PageStore,
	index *jobindex.Index,
	emitter events.EventEmitter,
	checkpointEvery int,
	renderBudget time.Duration,
	collector *metrics.MetricsCollector,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		resolver:        resolver,
		store:           store,
		index:           index,
		emitter:         emitter,
		checkpointEvery: checkpointEvery,
		renderBudget:    renderBudget,
		metrics:         collector,
		logger:          logger,
		jobs:            make(map[string]*Job),
	}
}

// Submit registers a job and starts processing it in the background.
// The job is visible to Status immediately; callers do not wait for any
// URL to resolve.
func (m *Manager) Submit(id string, source string, urls []string) {
	job := NewJob(id, len(urls))

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	m.metrics.RecordBatchJob(source)

	m.wg.Add(1)
	go m.run(job, source, urls)
}

func (m *Manager) run(job *Job, source string, urls []string) {
	defer m.wg.Done()

	m.metrics.IncActiveBatchJobs()
	defer m.metrics.DecActiveBatchJobs()

	logger := m.logger.With(
		zap.String("job_id", job.ID),
		zap.String("source", source))
	logger.Info("Batch job started", zap.Int("url_count", len(urls)))

	// Initial snapshot so other instances can answer Status right away.
	m.persist(job)
	m.upsertIndex(job, source)

	for i, rawURL := range urls {
		m.resolveOne(job, rawURL)

		if (i+1)%m.checkpointEvery == 0 || i+1 == len(urls) {
			m.persist(job)
			m.upsertIndex(job, source)
		}
	}

	now := time.Now().UTC()
	m.mu.Lock()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	completed, failed := job.Completed, job.Failed
	m.mu.Unlock()

	m.persist(job)
	m.upsertIndex(job, source)

	logger.Info("Batch job completed",
		zap.Int("completed", completed),
		zap.Int("failed", failed),
		zap.Duration("duration", now.Sub(job.StartedAt)))
}

// resolveOne drives a single URL through the coordinator and moves
// exactly one of the job counters.
func (m *Manager) resolveOne(job *Job, rawURL string) {
	rc := reqctx.New(requestid.GenerateRequestID(""), m.logger, m.renderBudget).
		WithTargetURL(rawURL)

	if err := urlutil.Validate(rawURL); err != nil {
		m.fail(job, rc, types.ErrorTypeValidation, err)
		return
	}

	key, normalized, err := cache.KeyForURL(rawURL)
	if err != nil {
		m.fail(job, rc, types.ErrorTypeValidation, err)
		return
	}
	rc = rc.WithNormalizedURL(normalized, key)

	_, source, err := m.resolver.Resolve(rc)
	if err != nil {
		m.fail(job, rc, coordinator.CategorizeError(err), err)
		return
	}

	m.mu.Lock()
	job.Completed++
	m.mu.Unlock()
	m.metrics.RecordBatchURL(metrics.BatchURLCompleted)

	rc.Logger.Debug("Batch URL resolved",
		zap.String("job_id", job.ID),
		zap.String("result_source", string(source)))
}

func (m *Manager) fail(job *Job, rc *reqctx.Context, errorType string, err error) {
	m.mu.Lock()
	job.Failed++
	m.mu.Unlock()
	m.metrics.RecordBatchURL(metrics.BatchURLFailed)

	m.emitter.Emit(&events.ResolveEvent{
		RequestID:    rc.RequestID,
		EventType:    events.EventTypeBatchURL,
		URL:          rc.TargetURL,
		CacheKey:     rc.CacheKey,
		JobID:        job.ID,
		ServeTime:    rc.Elapsed().Seconds(),
		ErrorType:    errorType,
		ErrorMessage: err.Error(),
		CreatedAt:    time.Now().UTC(),
	})

	rc.Logger.Warn("Batch URL failed",
		zap.String("job_id", job.ID),
		zap.String("error_type", errorType),
		zap.Error(err))
}

// Status returns the current job state: the in-memory registry first,
// then a durable-store read-through so restarts and other instances can
// still answer for jobs they do not own.
func (m *Manager) Status(id string) (*Job, bool) {
	m.mu.Lock()
	if job, ok := m.jobs[id]; ok {
		snapshot := *job
		m.mu.Unlock()
		return &snapshot, true
	}
	m.mu.Unlock()

	opCtx, cancel := context.WithTimeout(context.Background(), jobPersistTimeout)
	defer cancel()

	data, found, err := m.store.GetJob(opCtx, id)
	if err != nil {
		m.logger.Warn("Job status read-through failed",
			zap.String("job_id", id),
			zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		m.logger.Warn("Corrupt job record in durable store",
			zap.String("job_id", id),
			zap.Error(err))
		return nil, false
	}
	return &job, true
}

// IndexEnabled reports whether the MySQL job index is configured.
func (m *Manager) IndexEnabled() bool {
	return m.index != nil
}

// RecentJobs lists recently started jobs from the MySQL index.
func (m *Manager) RecentJobs(ctx context.Context, limit int) ([]jobindex.Record, error) {
	opCtx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()
	return m.index.Recent(opCtx, limit)
}

// Wait blocks until all running jobs finish or the timeout elapses.
// Returns true when everything drained.
func (m *Manager) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// persist writes the current job snapshot to the durable store. Failures
// are logged; the in-memory copy keeps the loop going.
func (m *Manager) persist(job *Job) {
	m.mu.Lock()
	snapshot := *job
	m.mu.Unlock()

	data, err := json.Marshal(&snapshot)
	if err != nil {
		m.logger.Error("Failed to marshal job snapshot",
			zap.String("job_id", snapshot.ID),
			zap.Error(err))
		return
	}

	opCtx, cancel := context.WithTimeout(context.Background(), jobPersistTimeout)
	defer cancel()

	if err := m.store.PutJob(opCtx, snapshot.ID, data); err != nil {
		m.metrics.RecordStoreError(metrics.TierDurable)
		m.logger.Warn("Failed to persist job snapshot",
			zap.String("job_id", snapshot.ID),
			zap.Error(err))
	}
}

// upsertIndex mirrors the snapshot into the MySQL index when enabled.
// Index failures are logged and ignored.
func (m *Manager) upsertIndex(job *Job, source string) {
	if m.index == nil {
		return
	}

	m.mu.Lock()
	snapshot := *job
	m.mu.Unlock()

	opCtx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()

	err := m.index.Upsert(opCtx, jobindex.Record{
		ID:          snapshot.ID,
		Source:      source,
		Total:       snapshot.Total,
		Completed:   snapshot.Completed,
		Failed:      snapshot.Failed,
		Status:      snapshot.Status,
		StartedAt:   snapshot.StartedAt,
		CompletedAt: snapshot.CompletedAt,
	})
	if err != nil {
		m.logger.Warn("Job index upsert failed",
			zap.String("job_id", snapshot.ID),
			zap.Error(err))
	}
}
