package interfaces

import (
	"context"

	"github.com/ternarybob/fabula/internal/models"
)

// JobStorage defines the interface for job persistence
type JobStorage interface {
	CreateJob(ctx context.Context, opts *models.Options, userID string) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	GetIncompleteJobs(ctx context.Context) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, fields map[string]interface{}) error
	GetJobProgress(ctx context.Context, jobID string) (*models.JobProgress, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// TaskStorage defines the interface for task persistence
type TaskStorage interface {
	CreateTask(ctx context.Context, jobID, folderPath, url string, maxRetries int) (string, error)
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	GetPendingTasks(ctx context.Context, jobID string) ([]*models.Task, error)
	GetTasksForJob(ctx context.Context, jobID string, status models.TaskStatus) ([]*models.Task, error)
	GetTasksWaitingForUser(ctx context.Context, jobID string) ([]*models.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, fields map[string]interface{}) error
	SetTaskWaitingForUser(ctx context.Context, taskID string, req *models.UserInputRequest) error
	ResumeTaskFromUserInput(ctx context.Context, taskID, response string, clearInputFields bool) error
	ClaimForDispatch(ctx context.Context, jobID string) ([]*models.Task, error)
	ResetInterruptedTasks(ctx context.Context, jobID string) (int, error)
}

// LockStorage defines the interface for database-backed directory locks
type LockStorage interface {
	AcquireLock(ctx context.Context, lockPath, taskID string) error
	ReleaseLock(ctx context.Context, lockPath, taskID string) error
	ReleaseTaskLocks(ctx context.Context, taskID string) (int, error)
	GetLockHolder(ctx context.Context, lockPath string) (string, error)
	CountLocks(ctx context.Context) (int, error)
}

// StorageManager bundles the storage interfaces behind one lifecycle
type StorageManager interface {
	JobStorage() JobStorage
	TaskStorage() TaskStorage
	LockStorage() LockStorage
	Close() error
}
