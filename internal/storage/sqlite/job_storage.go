package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/models"
)

var (
	// ErrJobNotFound is returned when a job ID matches no row
	ErrJobNotFound = errors.New("job not found")
	// ErrTaskNotFound is returned when a task ID matches no row
	ErrTaskNotFound = errors.New("task not found")
	// ErrLockHeld is returned when a file lock insert hits an existing holder
	ErrLockHeld = errors.New("lock already held")
	// ErrInvalidStatus is returned for a status outside the schema CHECK set
	ErrInvalidStatus = errors.New("invalid status")
)

// unixToTime converts a Unix timestamp to time.Time
func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}

// nullUnix converts a time to a nullable Unix timestamp, zero time meaning NULL
func nullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Valid: true, Int64: t.Unix()}
}

// jobColumns is the SELECT list shared by every job query
const jobColumns = `id, status, config_json, user_id, error,
	total_tasks, completed_tasks, failed_tasks, skipped_tasks,
	created_at, started_at, completed_at`

// jobUpdateColumns whitelists the columns UpdateJobStatus may set alongside
// the status. Anything else is a caller bug, not a quoting exercise.
var jobUpdateColumns = map[string]bool{
	"error":           true,
	"total_tasks":     true,
	"completed_tasks": true,
	"failed_tasks":    true,
	"skipped_tasks":   true,
	"started_at":      true,
	"completed_at":    true,
	"user_id":         true,
}

// JobStorage implements SQLite storage for organize jobs
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a new pending job with its serialized options snapshot
func (s *JobStorage) CreateJob(ctx context.Context, opts *models.Options, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := opts.Validate(); err != nil {
		return "", err
	}

	configJSON, err := opts.ToJSON()
	if err != nil {
		return "", err
	}

	jobID := common.NewJobID()

	var user sql.NullString
	if userID != "" {
		user = sql.NullString{Valid: true, String: userID}
	}

	query := `
		INSERT INTO jobs (id, status, config_json, user_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.db.ExecContext(ctx, query,
		jobID, string(models.JobStatusPending), configJSON, user, time.Now().Unix())
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to create job")
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().Str("job_id", jobID).Msg("Job created")
	return jobID, nil
}

// GetJob retrieves a job by ID
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = ?`, jobColumns)
	row := s.db.db.QueryRowContext(ctx, query, jobID)
	return s.scanJob(row)
}

// GetIncompleteJobs returns jobs still in a non-terminal status, newest first
func (s *JobStorage) GetIncompleteJobs(ctx context.Context) ([]*models.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE status IN ('pending', 'planning', 'processing')
		ORDER BY created_at DESC
	`, jobColumns)

	rows, err := s.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := s.scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus sets the job status plus any whitelisted columns in a single
// statement. Time values are stored as Unix seconds.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	setClauses := []string{"status = ?"}
	args := []interface{}{string(status)}

	// Deterministic column order keeps statements stable for logs and tests
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !jobUpdateColumns[name] {
			return fmt.Errorf("column %q is not updatable", name)
		}
		setClauses = append(setClauses, name+" = ?")
		if t, ok := fields[name].(time.Time); ok {
			args = append(args, nullUnix(t))
		} else {
			args = append(args, fields[name])
		}
	}
	args = append(args, jobID)

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	result, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotFound
	}

	s.logger.Debug().Str("job_id", jobID).Str("status", string(status)).Msg("Job status updated")
	return nil
}

// GetJobProgress computes aggregate task counters for a job in one query.
// NULL sums (no tasks yet) coerce to zero.
func (s *JobStorage) GetJobProgress(ctx context.Context, jobID string) (*models.JobProgress, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'completed'), 0),
			COALESCE(SUM(status = 'failed'), 0),
			COALESCE(SUM(status = 'skipped'), 0),
			COALESCE(SUM(status = 'running'), 0),
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(status = 'waiting_for_user'), 0),
			COALESCE(SUM(status = 'cancelled'), 0)
		FROM tasks
		WHERE job_id = ?
	`

	var p models.JobProgress
	err := s.db.db.QueryRowContext(ctx, query, jobID).Scan(
		&p.Total, &p.Completed, &p.Failed, &p.Skipped,
		&p.Running, &p.Pending, &p.WaitingForUser, &p.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job progress: %w", err)
	}
	return &p, nil
}

// DeleteJob deletes a job; tasks and their file locks cascade
func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotFound
	}

	s.logger.Debug().Str("job_id", jobID).Msg("Job deleted")
	return nil
}

// scanJob scans a single row into a Job
func (s *JobStorage) scanJob(row *sql.Row) (*models.Job, error) {
	var (
		id, status, configJSON                             string
		userID, errorMsg                                   sql.NullString
		totalTasks, completedTasks, failedTasks, skipTasks int
		createdAt                                          int64
		startedAt, completedAt                             sql.NullInt64
	)

	err := row.Scan(
		&id, &status, &configJSON, &userID, &errorMsg,
		&totalTasks, &completedTasks, &failedTasks, &skipTasks,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return s.buildJob(id, status, configJSON, userID, errorMsg,
		totalTasks, completedTasks, failedTasks, skipTasks,
		createdAt, startedAt, completedAt)
}

// scanJobRow scans the current row of a multi-row result into a Job
func (s *JobStorage) scanJobRow(rows *sql.Rows) (*models.Job, error) {
	var (
		id, status, configJSON                             string
		userID, errorMsg                                   sql.NullString
		totalTasks, completedTasks, failedTasks, skipTasks int
		createdAt                                          int64
		startedAt, completedAt                             sql.NullInt64
	)

	err := rows.Scan(
		&id, &status, &configJSON, &userID, &errorMsg,
		&totalTasks, &completedTasks, &failedTasks, &skipTasks,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return s.buildJob(id, status, configJSON, userID, errorMsg,
		totalTasks, completedTasks, failedTasks, skipTasks,
		createdAt, startedAt, completedAt)
}

func (s *JobStorage) buildJob(id, status, configJSON string, userID, errorMsg sql.NullString,
	totalTasks, completedTasks, failedTasks, skipTasks int,
	createdAt int64, startedAt, completedAt sql.NullInt64) (*models.Job, error) {

	opts, err := models.OptionsFromJSON(configJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize job options: %w", err)
	}

	job := &models.Job{
		ID:         id,
		Status:     models.JobStatus(status),
		Options:    opts,
		TotalTasks: totalTasks,
		Completed:  completedTasks,
		Failed:     failedTasks,
		Skipped:    skipTasks,
		CreatedAt:  unixToTime(createdAt),
	}

	if userID.Valid {
		job.UserID = userID.String
	}
	if errorMsg.Valid {
		job.Error = errorMsg.String
	}
	if startedAt.Valid {
		job.StartedAt = unixToTime(startedAt.Int64)
	}
	if completedAt.Valid {
		job.CompletedAt = unixToTime(completedAt.Int64)
	}

	return job, nil
}
