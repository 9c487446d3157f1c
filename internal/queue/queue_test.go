package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/audio"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/genres"
	"github.com/ternarybob/fabula/internal/interfaces"
	"github.com/ternarybob/fabula/internal/locks"
	"github.com/ternarybob/fabula/internal/models"
	"github.com/ternarybob/fabula/internal/opf"
	"github.com/ternarybob/fabula/internal/pipeline"
	"github.com/ternarybob/fabula/internal/ratelimit"
	"github.com/ternarybob/fabula/internal/scrapers"
	"github.com/ternarybob/fabula/internal/storage/sqlite"
)

type queueEnv struct {
	storage interfaces.StorageManager
	locks   *locks.Manager
	pipe    *pipeline.Pipeline
	logger  arbor.ILogger
}

func newQueueEnv(t *testing.T) *queueEnv {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := sqlite.NewManager(logger, &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "queue.db"),
		CacheSizeMB:   4,
		BusyTimeoutMS: 2000,
		WALMode:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	lockMgr, err := locks.NewManager(locks.ModeDatabase, storage.LockStorage(), logger,
		200*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	httpConfig := &common.HTTPConfig{
		RequestTimeout: time.Second,
		DomainDelay:    time.Millisecond,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		UserAgent:      "fabula-test",
	}
	fetcher := scrapers.NewFetcher(httpConfig, ratelimit.NewDomainLimiter(httpConfig.DomainDelay), logger)

	normalizer, err := genres.NewNormalizer(filepath.Join(t.TempDir(), "genres.json"), nil, logger)
	require.NoError(t, err)

	cancelled := func(ctx context.Context, jobID string) bool {
		job, err := storage.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return false
		}
		return job.Status == models.JobStatusCancelled
	}

	pipe := pipeline.New(lockMgr, fetcher, scrapers.NewRegistry(), normalizer,
		audio.NewTagger(logger), opf.DefaultTemplate, logger, cancelled)

	return &queueEnv{storage: storage, locks: lockMgr, pipe: pipe, logger: logger}
}

// bookFolder lays down a minimal audiobook folder with a metadata.opf
func bookFolder(t *testing.T, m *models.BookMetadata) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.mp3"), []byte("audio-1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.mp3"), []byte("audio-2"), 0644))
	require.NoError(t, opf.Write(dir, opf.DefaultTemplate, m))
	return dir
}

func (e *queueEnv) createJob(t *testing.T, opts *models.Options) string {
	t.Helper()
	jobID, err := e.storage.JobStorage().CreateJob(context.Background(), opts, "")
	require.NoError(t, err)
	return jobID
}

func waitForTaskStatus(t *testing.T, store interfaces.TaskStorage, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := store.GetTask(context.Background(), taskID)
	t.Fatalf("task %s never reached %s (last: %s, error: %s)", taskID, want, task.Status, task.Error)
	return nil
}

// waitForRequeue waits until the retry policy has returned the task to
// pending with its retry counter bumped
func waitForRequeue(t *testing.T, store interfaces.TaskStorage, taskID string) *models.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status == models.TaskStatusPending && task.RetryCount > 0 {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s was never requeued", taskID)
	return nil
}

func TestManager_CompletesTaskFromOPF(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	folder := bookFolder(t, &models.BookMetadata{
		Title:  "Dune",
		Author: "Frank Herbert",
	})
	output := t.TempDir()

	opts := &models.Options{Output: output, Copy: true, FromOPF: true, OPF: true, Workers: 1}
	jobID := env.createJob(t, opts)
	taskID, err := env.storage.TaskStorage().CreateTask(ctx, jobID, folder, "", 1)
	require.NoError(t, err)

	qm := NewManager(jobID, env.storage, env.pipe, opts, 8, env.logger)
	qm.Start(ctx)
	n, err := qm.EnqueuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task := waitForTaskStatus(t, env.storage.TaskStorage(), taskID, models.TaskStatusCompleted)
	qm.Stop()

	assert.Equal(t, models.OPFSourceMarker, task.URL, "discovered OPF source persisted")
	require.NotNil(t, task.Result)
	assert.Equal(t, "Dune", task.Result.Title)

	target := filepath.Join(output, "Frank Herbert", "Dune")
	assert.Equal(t, target, task.Result.FinalOutputPath)
	assert.FileExists(t, filepath.Join(target, "01.mp3"))
	assert.FileExists(t, filepath.Join(target, opf.Filename))

	count, err := env.storage.LockStorage().CountLocks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "no locks left behind")
}

func TestManager_FailsTaskWithoutMetadata(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	opts := &models.Options{Workers: 1}
	jobID := env.createJob(t, opts)
	taskID, err := env.storage.TaskStorage().CreateTask(ctx, jobID, t.TempDir(), models.OPFSourceMarker, 1)
	require.NoError(t, err)

	qm := NewManager(jobID, env.storage, env.pipe, opts, 8, env.logger)
	qm.Start(ctx)
	_, err = qm.EnqueuePending(ctx)
	require.NoError(t, err)

	task := waitForTaskStatus(t, env.storage.TaskStorage(), taskID, models.TaskStatusFailed)
	qm.Stop()

	assert.Contains(t, task.Error, opf.Filename)
	assert.Zero(t, task.RetryCount, "a missing source is not retried")
}

func TestManager_RetriesLockTimeoutThenFails(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	folder := bookFolder(t, &models.BookMetadata{Title: "Dune", Author: "Frank Herbert"})
	output := t.TempDir()

	opts := &models.Options{Output: output, Copy: true, FromOPF: true, Workers: 1}
	jobID := env.createJob(t, opts)
	taskID, err := env.storage.TaskStorage().CreateTask(ctx, jobID, folder, "", 1)
	require.NoError(t, err)

	// Another task of the same job holds the author directory for the whole test
	blockerID, err := env.storage.TaskStorage().CreateTask(ctx, jobID, t.TempDir(), models.OPFSourceMarker, 1)
	require.NoError(t, err)
	require.NoError(t, env.storage.TaskStorage().UpdateTaskStatus(ctx, blockerID, models.TaskStatusSkipped, map[string]interface{}{
		"completed_at": time.Now(),
	}))
	release, err := env.locks.LockDirectory(ctx, filepath.Join(output, "Frank Herbert"), blockerID)
	require.NoError(t, err)
	defer release()

	qm := NewManager(jobID, env.storage, env.pipe, opts, 8, env.logger)
	qm.Start(ctx)

	_, err = qm.EnqueuePending(ctx)
	require.NoError(t, err)
	task := waitForRequeue(t, env.storage.TaskStorage(), taskID)
	assert.Equal(t, 1, task.RetryCount)
	assert.True(t, task.EnqueuedAt.IsZero(), "requeued task is reclaimable")

	// Retry budget is spent on the second timeout
	n, err := qm.EnqueuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitForTaskStatus(t, env.storage.TaskStorage(), taskID, models.TaskStatusFailed)
	qm.Stop()
}

func TestManager_CancelledJobCancelsTasks(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	opts := &models.Options{FromOPF: true, Workers: 1}
	jobID := env.createJob(t, opts)
	taskID, err := env.storage.TaskStorage().CreateTask(ctx, jobID, t.TempDir(), "", 1)
	require.NoError(t, err)

	require.NoError(t, env.storage.JobStorage().UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, nil))

	qm := NewManager(jobID, env.storage, env.pipe, opts, 8, env.logger)
	qm.Start(ctx)
	_, err = qm.EnqueuePending(ctx)
	require.NoError(t, err)

	waitForTaskStatus(t, env.storage.TaskStorage(), taskID, models.TaskStatusCancelled)
	qm.Stop()
}

func TestManager_StopRequeuesUndispatchedTasks(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	opts := &models.Options{FromOPF: true, Workers: 1}
	jobID := env.createJob(t, opts)
	first, err := env.storage.TaskStorage().CreateTask(ctx, jobID, t.TempDir(), "", 1)
	require.NoError(t, err)
	second, err := env.storage.TaskStorage().CreateTask(ctx, jobID, t.TempDir(), "", 1)
	require.NoError(t, err)

	qm := NewManager(jobID, env.storage, env.pipe, opts, 8, env.logger)

	// Stop already requested when the workers start: everything buffered must
	// go back to the store instead of being processed
	qm.RequestStop()
	n, err := qm.EnqueuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	qm.Start(ctx)
	qm.Stop()

	for _, id := range []string{first, second} {
		task, err := env.storage.TaskStorage().GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.True(t, task.EnqueuedAt.IsZero(), "requeued task is reclaimable")
	}

	// A later run claims the preserved tasks again
	claimed, err := env.storage.TaskStorage().ClaimForDispatch(ctx, jobID)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestManager_SuspendsTaskWithoutSource(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	// No from_opf and no URL: the worker has nowhere to get metadata from
	opts := &models.Options{Workers: 1}
	jobID := env.createJob(t, opts)
	folder := t.TempDir()
	taskID, err := env.storage.TaskStorage().CreateTask(ctx, jobID, folder, "", 1)
	require.NoError(t, err)

	qm := NewManager(jobID, env.storage, env.pipe, opts, 8, env.logger)
	qm.Start(ctx)
	_, err = qm.EnqueuePending(ctx)
	require.NoError(t, err)

	task := waitForTaskStatus(t, env.storage.TaskStorage(), taskID, models.TaskStatusWaitingForUser)

	require.NotNil(t, task.UserInput)
	assert.Equal(t, "source_url", task.UserInput.Type)
	assert.Contains(t, task.UserInput.Prompt, filepath.Base(folder))
	assert.Equal(t, folder, task.UserInput.Context["folder"])

	// A suspended task is not re-claimed by later enqueue cycles
	n, err := qm.EnqueuePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	qm.Stop()
}
