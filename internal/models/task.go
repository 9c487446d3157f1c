package models

import (
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending        TaskStatus = "pending"
	TaskStatusRunning        TaskStatus = "running"
	TaskStatusWaitingForUser TaskStatus = "waiting_for_user"
	TaskStatusCompleted      TaskStatus = "completed"
	TaskStatusFailed         TaskStatus = "failed"
	TaskStatusSkipped        TaskStatus = "skipped"
	TaskStatusCancelled      TaskStatus = "cancelled"
)

// IsTerminal returns true when the status permits no further transitions
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	}
	return false
}

// IsValid checks whether the status is one of the known values
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusWaitingForUser,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	}
	return false
}

// OPFSourceMarker in Task.URL means the folder's existing metadata.opf is the
// metadata source instead of a catalog page.
const OPFSourceMarker = "OPF"

// UserInputRequest describes what a suspended task is waiting for.
// Options and Context are JSON-encoded by the store.
type UserInputRequest struct {
	Type    string            `json:"type"`
	Prompt  string            `json:"prompt"`
	Options []string          `json:"options,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// Task is one audiobook folder's end-to-end processing unit. URL may be empty
// until a worker (or the user) discovers the catalog source.
type Task struct {
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	FolderPath  string            `json:"folder_path"`
	URL         string            `json:"url,omitempty"`
	Status      TaskStatus        `json:"status"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	Error       string            `json:"error,omitempty"`
	Result      *BookMetadata     `json:"result,omitempty"`
	WorkerID    string            `json:"worker_id,omitempty"`
	UserInput   *UserInputRequest `json:"user_input,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at,omitempty"`
}
