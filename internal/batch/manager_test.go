package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/batch"
	"github.com/rendercove/prerender/internal/coordinator/reqctx"
	"github.com/rendercove/prerender/internal/events"
	"github.com/rendercove/prerender/internal/metrics"
	"github.com/rendercove/prerender/pkg/types"
)

const (
	testCheckpointEvery = 10
	testRenderBudget    = 5 * time.Second
)

// memJobStore is an in-memory PageStore standing in for S3 in manager
// specs. Only the job methods matter here; page methods exist to satisfy
// the interface.
type memJobStore struct {
	mu        sync.Mutex
	jobs      map[string][]byte
	jobPuts   int
	putJobErr error
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string][]byte)}
}

func (s *memJobStore) PutPage(ctx context.Context, cacheKey string, html []byte) error {
	return nil
}

func (s *memJobStore) GetPage(ctx context.Context, cacheKey string) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *memJobStore) PageExists(ctx context.Context, cacheKey string) (bool, error) {
	return false, nil
}

func (s *memJobStore) PutJob(ctx context.Context, jobID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putJobErr != nil {
		return s.putJobErr
	}
	s.jobPuts++
	buf := make([]byte, len(data))
	copy(buf, data)
	s.jobs[jobID] = buf
	return nil
}

func (s *memJobStore) GetJob(ctx context.Context, jobID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.jobs[jobID]
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *memJobStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobPuts
}

func (s *memJobStore) storedJob(jobID string) (*batch.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	var job batch.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, false
	}
	return &job, true
}

// fakeResolver records call order and verifies the batch loop never
// overlaps resolves. failFor marks URLs whose resolve should error.
type fakeResolver struct {
	mu        sync.Mutex
	calls     []string
	active    int
	maxActive int
	failFor   map[string]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{failFor: make(map[string]bool)}
}

func (r *fakeResolver) Resolve(rc *reqctx.Context) (*types.RenderResult, types.Source, error) {
	r.mu.Lock()
	r.calls = append(r.calls, rc.TargetURL)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	shouldFail := r.failFor[rc.TargetURL]
	r.mu.Unlock()

	// Give overlapping calls a chance to show up in maxActive.
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	if shouldFail {
		return nil, "", errors.New("render failed")
	}
	return &types.RenderResult{
		HTML:     []byte("<html><body>ok</body></html>"),
		Complete: true,
	}, types.SourceRender, nil
}

func (r *fakeResolver) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *fakeResolver) peakConcurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

// captureEmitter records emitted events for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []*events.ResolveEvent
}

func (c *captureEmitter) Emit(event *events.ResolveEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEmitter) Close() error { return nil }

func (c *captureEmitter) emitted() []*events.ResolveEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*events.ResolveEvent, len(c.events))
	copy(out, c.events)
	return out
}

func newTestManager(resolver *fakeResolver, store *memJobStore, emitter events.EventEmitter) *batch.Manager {
	collector := metrics.NewMetricsCollectorWithRegistry(
		"prerender", prometheus.NewRegistry(), zap.NewNop())
	return batch.NewManager(resolver, store, nil, emitter,
		testCheckpointEvery, testRenderBudget, collector, zap.NewNop())
}

func waitForCompletion(m *batch.Manager, jobID string) *batch.Job {
	var job *batch.Job
	Eventually(func() string {
		j, ok := m.Status(jobID)
		if !ok {
			return ""
		}
		job = j
		return j.Status
	}, 5*time.Second, 10*time.Millisecond).Should(Equal(batch.StatusCompleted))
	return job
}

var _ = Describe("Manager", func() {
	var (
		resolver *fakeResolver
		store    *memJobStore
		emitter  *captureEmitter
		manager  *batch.Manager
	)

	BeforeEach(func() {
		resolver = newFakeResolver()
		store = newMemJobStore()
		emitter = &captureEmitter{}
		manager = newTestManager(resolver, store, emitter)
	})

	Context("when every URL resolves", func() {
		It("processes the list in order, one URL at a time", func() {
			urls := []string{
				"http://example.com/a",
				"http://example.com/b",
				"http://example.com/c",
			}
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, urls)

			job := waitForCompletion(manager, jobID)
			Expect(job.Total).To(Equal(3))
			Expect(job.Completed).To(Equal(3))
			Expect(job.Failed).To(Equal(0))
			Expect(job.CompletedAt).NotTo(BeNil())

			Expect(resolver.callOrder()).To(Equal(urls))
			Expect(resolver.peakConcurrency()).To(Equal(1))
		})

		It("reports status for a three-URL sitemap batch", func() {
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceSitemap, []string{
				"http://example.com/",
				"http://example.com/about",
				"http://example.com/contact",
			})

			job := waitForCompletion(manager, jobID)
			Expect(job.Total).To(Equal(3))
			Expect(job.Completed).To(Equal(3))
			Expect(job.Failed).To(Equal(0))
			Expect(job.Status).To(Equal("completed"))
		})
	})

	Context("when some URLs fail", func() {
		It("counts failures and keeps going", func() {
			resolver.failFor["http://example.com/2"] = true
			resolver.failFor["http://example.com/4"] = true

			urls := make([]string, 5)
			for i := range urls {
				urls[i] = fmt.Sprintf("http://example.com/%d", i)
			}
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, urls)

			job := waitForCompletion(manager, jobID)
			Expect(job.Completed).To(Equal(3))
			Expect(job.Failed).To(Equal(2))
			Expect(job.Completed + job.Failed).To(Equal(job.Total))
			Expect(resolver.callOrder()).To(HaveLen(5))

			failures := emitter.emitted()
			Expect(failures).To(HaveLen(2))
			Expect(failures[0].EventType).To(Equal(events.EventTypeBatchURL))
			Expect(failures[0].JobID).To(Equal(jobID))
			Expect(failures[0].URL).To(Equal("http://example.com/2"))
			Expect(failures[0].ErrorMessage).NotTo(BeEmpty())
		})

		It("terminates normally when every render fails", func() {
			urls := make([]string, 4)
			for i := range urls {
				urls[i] = fmt.Sprintf("http://example.com/%d", i)
				resolver.failFor[urls[i]] = true
			}
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, urls)

			job := waitForCompletion(manager, jobID)
			Expect(job.Completed).To(Equal(0))
			Expect(job.Failed).To(Equal(4))
			Expect(job.Status).To(Equal(batch.StatusCompleted))
		})

		It("rejects unsafe URLs without calling the coordinator", func() {
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, []string{
				"http://example.com/ok",
				"ftp://example.com/file",
				"http://localhost/admin",
			})

			job := waitForCompletion(manager, jobID)
			Expect(job.Completed).To(Equal(1))
			Expect(job.Failed).To(Equal(2))
			Expect(resolver.callOrder()).To(Equal([]string{"http://example.com/ok"}))

			for _, event := range emitter.emitted() {
				Expect(event.ErrorType).To(Equal(types.ErrorTypeValidation))
			}
		})
	})

	Context("checkpointing", func() {
		It("persists every ten items plus start and finish", func() {
			urls := make([]string, 25)
			for i := range urls {
				urls[i] = fmt.Sprintf("http://example.com/page/%d", i)
			}
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, urls)

			waitForCompletion(manager, jobID)

			// Initial write, checkpoints at 10 and 20, final-item write
			// at 25, terminal write after the loop.
			Eventually(store.putCount, time.Second, 10*time.Millisecond).Should(Equal(5))

			stored, ok := store.storedJob(jobID)
			Expect(ok).To(BeTrue())
			Expect(stored.Status).To(Equal(batch.StatusCompleted))
			Expect(stored.Completed).To(Equal(25))
		})

		It("survives durable-store write failures", func() {
			store.putJobErr = errors.New("s3 unavailable")

			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, []string{
				"http://example.com/a",
				"http://example.com/b",
			})

			job := waitForCompletion(manager, jobID)
			Expect(job.Completed).To(Equal(2))
			Expect(store.putCount()).To(Equal(0))
		})
	})

	Context("status lookups", func() {
		It("reads through to the durable store for jobs it does not own", func() {
			finished := time.Now().UTC()
			foreign := &batch.Job{
				ID:          "deadbeef",
				Total:       7,
				Completed:   6,
				Failed:      1,
				Status:      batch.StatusCompleted,
				StartedAt:   finished.Add(-time.Minute),
				CompletedAt: &finished,
			}
			data, err := json.Marshal(foreign)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.PutJob(context.Background(), foreign.ID, data)).To(Succeed())

			job, ok := manager.Status("deadbeef")
			Expect(ok).To(BeTrue())
			Expect(job.Total).To(Equal(7))
			Expect(job.Completed).To(Equal(6))
			Expect(job.Status).To(Equal(batch.StatusCompleted))
		})

		It("misses for unknown job ids", func() {
			_, ok := manager.Status("00000000")
			Expect(ok).To(BeFalse())
		})
	})

	Context("edge cases", func() {
		It("finalizes an empty submission immediately", func() {
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, nil)

			job := waitForCompletion(manager, jobID)
			Expect(job.Total).To(Equal(0))
			Expect(job.Completed).To(Equal(0))
			Expect(job.Failed).To(Equal(0))
		})

		It("reports the index as disabled when none is configured", func() {
			Expect(manager.IndexEnabled()).To(BeFalse())
		})

		It("drains running jobs within the wait timeout", func() {
			jobID := batch.NewJobID()
			manager.Submit(jobID, batch.SourceList, []string{"http://example.com/a"})
			Expect(manager.Wait(5 * time.Second)).To(BeTrue())
		})
	})
})

var _ = Describe("NewJobID", func() {
	It("returns short unique ids", func() {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := batch.NewJobID()
			Expect(id).To(HaveLen(8))
			Expect(seen[id]).To(BeFalse())
			seen[id] = true
		}
	})
})
