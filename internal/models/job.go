package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusPlanning   JobStatus = "planning"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal returns true when the status permits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid checks whether the status is one of the known values
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusPlanning, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is a single organize request: a set of tasks sharing one Options snapshot.
// The Options blob is persisted so an interrupted job can be resumed with the
// exact configuration it started with.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Options     *Options  `json:"options"`
	UserID      string    `json:"user_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	TotalTasks  int       `json:"total_tasks"`
	Completed   int       `json:"completed_tasks"`
	Failed      int       `json:"failed_tasks"`
	Skipped     int       `json:"skipped_tasks"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// JobProgress holds aggregate task counters for a job, computed by the store
// in a single query
type JobProgress struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	Running        int `json:"running"`
	Pending        int `json:"pending"`
	WaitingForUser int `json:"waiting_for_user"`
	Cancelled      int `json:"cancelled"`
}

// Done reports whether every task has reached a terminal state
func (p *JobProgress) Done() bool {
	return p.Completed+p.Failed+p.Skipped+p.Cancelled >= p.Total
}
