package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/interfaces"
	"github.com/ternarybob/fabula/internal/models"
	"github.com/ternarybob/fabula/internal/pipeline"
)

// Manager runs one job's worker pool. Pending tasks are claimed from the
// store and fed through a bounded channel; when the channel is full the
// enqueuer blocks, which is the backpressure. The enqueue cycle can run
// repeatedly on the same job: the store stamps each task at most once, so
// tasks created after the first cycle (late identification, resumed
// suspensions) are picked up without re-dispatching earlier ones.
type Manager struct {
	jobID   string
	storage interfaces.StorageManager
	pipe    *pipeline.Pipeline
	opts    *models.Options
	logger  arbor.ILogger

	tasks   chan *models.Task
	workers int
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopping  atomic.Bool
}

// NewManager creates a worker pool for a job. The options are the job's
// persisted snapshot, not the live configuration.
func NewManager(jobID string, storage interfaces.StorageManager, pipe *pipeline.Pipeline,
	opts *models.Options, channelSize int, logger arbor.ILogger) *Manager {
	if channelSize <= 0 {
		channelSize = 256
	}
	return &Manager{
		jobID:   jobID,
		storage: storage,
		pipe:    pipe,
		opts:    opts,
		logger:  logger,
		tasks:   make(chan *models.Task, channelSize),
		workers: opts.WorkerCount(),
	}
}

// Start launches the worker goroutines. Idempotent.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.logger.Info().
			Str("job_id", m.jobID).
			Int("workers", m.workers).
			Msg("Starting worker pool")

		for i := 0; i < m.workers; i++ {
			workerID := fmt.Sprintf("worker-%d", i)
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.workerLoop(ctx, workerID)
			}()
		}
	})
}

// EnqueuePending claims every unstamped pending task of the job and pushes it
// onto the dispatch channel, blocking when the channel is full. Returns the
// number of tasks enqueued.
func (m *Manager) EnqueuePending(ctx context.Context) (int, error) {
	claimed, err := m.storage.TaskStorage().ClaimForDispatch(ctx, m.jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to claim tasks for dispatch: %w", err)
	}

	for i, task := range claimed {
		select {
		case m.tasks <- task:
		case <-ctx.Done():
			return i, ctx.Err()
		}
	}

	if len(claimed) > 0 {
		m.logger.Debug().Str("job_id", m.jobID).Int("count", len(claimed)).Msg("Tasks enqueued")
	}
	return len(claimed), nil
}

// RequestStop makes the workers stop picking up new work: tasks still
// buffered in the dispatch channel are returned to the store with their
// enqueue stamp cleared instead of being processed. Tasks already in flight
// finish normally. Call before Stop when the remaining work should be
// preserved for a later resume.
func (m *Manager) RequestStop() {
	m.stopping.Store(true)
}

// Stop closes the dispatch channel and waits for the workers to drain it.
// Idempotent; must not be called concurrently with EnqueuePending.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.tasks)
	})
	m.wg.Wait()
	m.logger.Info().Str("job_id", m.jobID).Msg("Worker pool stopped")
}
