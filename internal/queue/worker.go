package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/models"
	"github.com/ternarybob/fabula/internal/opf"
	"github.com/ternarybob/fabula/internal/pipeline"
)

// workerLoop pulls tasks off the dispatch channel until it closes. After a
// stop request, buffered tasks are requeued instead of processed so remaining
// work survives for resume. A hard abort (context cancellation) leaves claimed
// tasks stamped in the store; the resume path recovers them.
func (m *Manager) workerLoop(ctx context.Context, workerID string) {
	log := m.logger.WithCorrelationId(workerID)
	log.Debug().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Worker stopped by context")
			return
		case task, ok := <-m.tasks:
			if !ok {
				log.Debug().Msg("Worker stopped, channel closed")
				return
			}
			if m.stopping.Load() {
				m.requeue(task, log)
				continue
			}
			m.processTask(ctx, task, workerID)
		}
	}
}

// requeue returns an undispatched task to the store with the enqueue stamp
// cleared so a resumed run can claim it again. Background context: the run
// context may already be cancelled when the drain happens.
func (m *Manager) requeue(task *models.Task, log arbor.ILogger) {
	err := m.storage.TaskStorage().UpdateTaskStatus(context.Background(), task.ID, models.TaskStatusPending, map[string]interface{}{
		"enqueued_at": nil,
	})
	if err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to requeue undispatched task")
		return
	}
	log.Debug().Str("task_id", task.ID).Msg("Undispatched task returned to pending")
}

// processTask runs one task through the pipeline and records its terminal
// state. Every exit path releases the directory locks the task may still
// hold.
func (m *Manager) processTask(ctx context.Context, task *models.Task, workerID string) {
	log := m.logger.WithCorrelationId(workerID)
	taskStore := m.storage.TaskStorage()

	defer func() {
		if released, err := m.storage.LockStorage().ReleaseTaskLocks(context.Background(), task.ID); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to release task locks")
		} else if released > 0 {
			log.Debug().Str("task_id", task.ID).Int("count", released).Msg("Released leftover task locks")
		}
	}()

	if m.jobCancelled(ctx) {
		m.finish(task, models.TaskStatusCancelled, "job cancelled", nil, log)
		return
	}

	err := taskStore.UpdateTaskStatus(ctx, task.ID, models.TaskStatusRunning, map[string]interface{}{
		"worker_id":  workerID,
		"started_at": time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("Could not claim task, skipping")
		return
	}

	if task.URL == "" && !m.discoverSource(ctx, task, log) {
		return
	}

	log.Info().Str("task_id", task.ID).Str("folder", task.FolderPath).Msg("Processing task")

	result, runErr := m.pipe.Run(ctx, task, m.opts)
	if runErr != nil {
		m.handleFailure(ctx, task, runErr, log)
		return
	}

	if result.Skip {
		m.finish(task, models.TaskStatusSkipped, "", result, log)
		return
	}
	m.finish(task, models.TaskStatusCompleted, "", result, log)
}

// discoverSource fills the task URL when identification deferred it: an
// existing metadata.opf serves as the source when from_opf is set, otherwise
// the task suspends and asks for a catalog URL. Returns true when the
// pipeline should run.
func (m *Manager) discoverSource(ctx context.Context, task *models.Task, log arbor.ILogger) bool {
	taskStore := m.storage.TaskStorage()

	if m.opts.FromOPF {
		opfPath := filepath.Join(task.FolderPath, opf.Filename)
		if _, err := os.Stat(opfPath); err == nil {
			task.URL = models.OPFSourceMarker
			if err := taskStore.UpdateTaskStatus(ctx, task.ID, models.TaskStatusRunning, map[string]interface{}{
				"url": task.URL,
			}); err != nil {
				log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to record OPF source")
			}
			return true
		}
	}

	req := &models.UserInputRequest{
		Type:   "source_url",
		Prompt: fmt.Sprintf("Enter the catalog URL for %s", filepath.Base(task.FolderPath)),
		Context: map[string]string{
			"folder": task.FolderPath,
		},
	}
	if err := taskStore.SetTaskWaitingForUser(ctx, task.ID, req); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to suspend task for user input")
		m.finish(task, models.TaskStatusFailed, fmt.Sprintf("failed to suspend for input: %v", err), nil, log)
		return false
	}

	log.Info().Str("task_id", task.ID).Str("folder", task.FolderPath).Msg("Task waiting for source URL")
	return false
}

// handleFailure applies the retry policy. Retriable failures with budget left
// return the task to pending with the enqueue stamp cleared so the next
// enqueue cycle re-dispatches it; everything else is terminal.
func (m *Manager) handleFailure(ctx context.Context, task *models.Task, runErr error, log arbor.ILogger) {
	kind := pipeline.KindOf(runErr)

	if kind == pipeline.KindCancelled {
		m.finish(task, models.TaskStatusCancelled, runErr.Error(), nil, log)
		return
	}
	if kind == pipeline.KindSkippedByUser {
		m.finish(task, models.TaskStatusSkipped, runErr.Error(), nil, log)
		return
	}

	if pipeline.IsRetriable(kind) && task.RetryCount < task.MaxRetries {
		err := m.storage.TaskStorage().UpdateTaskStatus(ctx, task.ID, models.TaskStatusPending, map[string]interface{}{
			"retry_count": task.RetryCount + 1,
			"error":       runErr.Error(),
			"worker_id":   nil,
			"started_at":  nil,
			"enqueued_at": nil,
		})
		if err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to requeue task for retry")
			return
		}
		log.Warn().
			Str("task_id", task.ID).
			Str("kind", string(kind)).
			Int("retry", task.RetryCount+1).
			Int("max_retries", task.MaxRetries).
			Err(runErr).
			Msg("Task failed, will retry")
		return
	}

	m.finish(task, models.TaskStatusFailed, runErr.Error(), nil, log)
}

// finish writes a task's terminal status with its completion stamp and, when
// present, the result metadata
func (m *Manager) finish(task *models.Task, status models.TaskStatus, errMsg string, result *models.BookMetadata, log arbor.ILogger) {
	fields := map[string]interface{}{
		"completed_at": time.Now(),
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if result != nil {
		if resultJSON, err := result.ToJSON(); err == nil {
			fields["result_json"] = resultJSON
		} else {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to serialize task result")
		}
	}

	// Background context: terminal states must be recorded even when the run
	// context is already cancelled
	err := m.storage.TaskStorage().UpdateTaskStatus(context.Background(), task.ID, status, fields)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Str("status", string(status)).Msg("Failed to record task status")
		return
	}

	log.Info().Str("task_id", task.ID).Str("status", string(status)).Msg("Task finished")
}

// jobCancelled reports whether the owning job reached cancelled. Store errors
// read as not-cancelled; the next boundary checks again.
func (m *Manager) jobCancelled(ctx context.Context) bool {
	job, err := m.storage.JobStorage().GetJob(ctx, m.jobID)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}
