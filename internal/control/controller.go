package control

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/interfaces"
	"github.com/ternarybob/fabula/internal/models"
	"github.com/ternarybob/fabula/internal/pipeline"
	"github.com/ternarybob/fabula/internal/queue"
)

// Prompter satisfies a suspended task's input request. The CLI wires an
// interactive terminal prompt; tests wire a canned responder.
type Prompter interface {
	// Prompt returns the user's response for a suspended task, or skip=true
	// when the user declines the task
	Prompt(task *models.Task) (response string, skip bool, err error)
}

// Controller drives the two-phase job lifecycle. Identification discovers
// folders and creates tasks; processing runs the worker pool until every task
// is terminal. An interrupt during identification deletes the job, during
// processing it preserves the job for resume.
type Controller struct {
	config   *common.Config
	storage  interfaces.StorageManager
	pipe     *pipeline.Pipeline
	prompter Prompter
	logger   arbor.ILogger

	pollInterval time.Duration
	interrupted  atomic.Bool
}

// NewController creates a controller. prompter may be nil for non-interactive
// runs; suspended tasks are then skipped once no other work remains.
func NewController(config *common.Config, storage interfaces.StorageManager, pipe *pipeline.Pipeline,
	prompter Prompter, logger arbor.ILogger) *Controller {
	return &Controller{
		config:       config,
		storage:      storage,
		pipe:         pipe,
		prompter:     prompter,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
	}
}

// RequestStop asks for a graceful stop at the next safe point. During
// identification the job is deleted; during processing it is preserved so a
// later run can resume it.
func (c *Controller) RequestStop() {
	c.interrupted.Store(true)
}

// Run executes one organize request end to end and returns the job ID
func (c *Controller) Run(ctx context.Context, opts *models.Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	job, err := c.resolveJob(ctx, opts)
	if err != nil {
		return "", err
	}
	if job == nil {
		// Interrupted during identification; nothing persisted
		return "", nil
	}

	if err := c.process(ctx, job); err != nil {
		return job.ID, err
	}
	return job.ID, nil
}

// resolveJob either resumes the most recent incomplete job or runs the
// identification phase for a fresh one
func (c *Controller) resolveJob(ctx context.Context, opts *models.Options) (*models.Job, error) {
	if opts.Resume {
		job, err := c.resumeLatest(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		c.logger.Info().Msg("No incomplete job to resume, starting fresh")
	}

	return c.identify(ctx, opts)
}

// resumeLatest picks the most recent incomplete job, resets its interrupted
// running tasks to pending, and returns it. Returns nil when there is nothing
// to resume.
func (c *Controller) resumeLatest(ctx context.Context) (*models.Job, error) {
	jobs, err := c.storage.JobStorage().GetIncompleteJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up incomplete jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	job := jobs[0]
	reset, err := c.storage.TaskStorage().ResetInterruptedTasks(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reset interrupted tasks: %w", err)
	}

	c.logger.Info().
		Str("job_id", job.ID).
		Int("reset_tasks", reset).
		Msg("Resuming incomplete job")
	return job, nil
}

// identify creates the job and one task per discovered folder. An interrupt
// mid-phase deletes the partially built job and returns nil.
func (c *Controller) identify(ctx context.Context, opts *models.Options) (*models.Job, error) {
	folders, err := DiscoverFolders(opts)
	if err != nil {
		return nil, err
	}

	jobStore := c.storage.JobStorage()
	taskStore := c.storage.TaskStorage()

	jobID, err := jobStore.CreateJob(ctx, opts, "")
	if err != nil {
		return nil, err
	}

	if err := jobStore.UpdateJobStatus(ctx, jobID, models.JobStatusPlanning, nil); err != nil {
		return nil, err
	}

	c.logger.Info().Str("job_id", jobID).Int("folders", len(folders)).Msg("Identifying audiobook folders")

	for _, folder := range folders {
		if c.interrupted.Load() || ctx.Err() != nil {
			c.logger.Warn().Str("job_id", jobID).Msg("Interrupted during identification, deleting job")
			if delErr := jobStore.DeleteJob(context.Background(), jobID); delErr != nil {
				c.logger.Error().Err(delErr).Str("job_id", jobID).Msg("Failed to delete abandoned job")
			}
			return nil, ctx.Err()
		}

		if _, err := taskStore.CreateTask(ctx, jobID, folder, "", c.config.Queue.MaxRetries); err != nil {
			return nil, err
		}
	}

	if err := jobStore.UpdateJobStatus(ctx, jobID, models.JobStatusPlanning, map[string]interface{}{
		"total_tasks": len(folders),
	}); err != nil {
		return nil, err
	}

	return jobStore.GetJob(ctx, jobID)
}

// process runs the worker pool until every task is terminal, the job is
// cancelled, or a stop is requested
func (c *Controller) process(ctx context.Context, job *models.Job) error {
	jobStore := c.storage.JobStorage()

	if err := jobStore.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, map[string]interface{}{
		"started_at": time.Now(),
	}); err != nil {
		return err
	}

	qm := queue.NewManager(job.ID, c.storage, c.pipe, job.Options, c.config.Queue.ChannelSize, c.logger)
	qm.Start(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var progress *models.JobProgress
	preserved := false

poll:
	for {
		if _, err := qm.EnqueuePending(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Enqueue cycle failed")
		}

		var err error
		progress, err = jobStore.GetJobProgress(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				preserved = true
				break poll
			}
			return err
		}

		if progress.Done() {
			break poll
		}

		if c.interrupted.Load() || ctx.Err() != nil {
			preserved = true
			break poll
		}

		if c.jobCancelled(ctx, job.ID) {
			break poll
		}

		if progress.WaitingForUser > 0 && progress.Pending == 0 && progress.Running == 0 {
			if err := c.satisfyWaitingTasks(ctx, job.ID); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			preserved = true
			break poll
		}
	}

	if preserved {
		// Keep the remaining work: buffered tasks go back to the store instead
		// of being processed during the drain
		qm.RequestStop()
	}
	qm.Stop()

	if preserved {
		c.logger.Info().Str("job_id", job.ID).Msg("Stopped; job preserved for resume")
		return nil
	}

	return c.finalize(job.ID, progress)
}

// satisfyWaitingTasks resolves suspended tasks when they are the only work
// left: prompt interactively when a prompter is wired, otherwise skip them so
// the job can terminate
func (c *Controller) satisfyWaitingTasks(ctx context.Context, jobID string) error {
	taskStore := c.storage.TaskStorage()

	waiting, err := taskStore.GetTasksWaitingForUser(ctx, jobID)
	if err != nil {
		return err
	}

	for _, task := range waiting {
		if c.interrupted.Load() || ctx.Err() != nil {
			return nil
		}

		if c.prompter == nil {
			c.logger.Warn().Str("task_id", task.ID).Msg("No prompter for suspended task, skipping")
			if err := taskStore.UpdateTaskStatus(ctx, task.ID, models.TaskStatusSkipped, map[string]interface{}{
				"completed_at": time.Now(),
				"error":        "required user input in a non-interactive run",
			}); err != nil {
				return err
			}
			continue
		}

		response, skip, err := c.prompter.Prompt(task)
		if err != nil {
			return fmt.Errorf("prompt failed for task %s: %w", task.ID, err)
		}
		if skip {
			if err := taskStore.UpdateTaskStatus(ctx, task.ID, models.TaskStatusSkipped, map[string]interface{}{
				"completed_at": time.Now(),
			}); err != nil {
				return err
			}
			continue
		}

		if err := taskStore.ResumeTaskFromUserInput(ctx, task.ID, response, true); err != nil {
			return err
		}
	}
	return nil
}

// finalize rolls the task counters up into the job row and marks the job
// completed. A job whose tasks were cancelled by a cancel request keeps the
// cancelled status set by the canceller.
func (c *Controller) finalize(jobID string, progress *models.JobProgress) error {
	if progress == nil {
		return nil
	}

	jobStore := c.storage.JobStorage()
	ctx := context.Background()

	if c.jobCancelled(ctx, jobID) {
		c.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
		return nil
	}

	err := jobStore.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, map[string]interface{}{
		"completed_at":    time.Now(),
		"completed_tasks": progress.Completed,
		"failed_tasks":    progress.Failed,
		"skipped_tasks":   progress.Skipped,
	})
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("job_id", jobID).
		Int("completed", progress.Completed).
		Int("failed", progress.Failed).
		Int("skipped", progress.Skipped).
		Msg("Job completed")
	return nil
}

// Cancel transitions a job to cancelled; workers observe it at their next
// stage boundary
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	return c.storage.JobStorage().UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, map[string]interface{}{
		"completed_at": time.Now(),
	})
}

// Progress returns the job's live task counters
func (c *Controller) Progress(ctx context.Context, jobID string) (*models.JobProgress, error) {
	return c.storage.JobStorage().GetJobProgress(ctx, jobID)
}

func (c *Controller) jobCancelled(ctx context.Context, jobID string) bool {
	job, err := c.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}
