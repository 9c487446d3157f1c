package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/models"
)

// taskColumns is the SELECT list shared by every task query
const taskColumns = `id, job_id, folder_path, url, status, retry_count, max_retries,
	error, result_json, worker_id,
	user_input_type, user_input_prompt, user_input_options, user_input_context,
	created_at, started_at, completed_at, enqueued_at`

// taskUpdateColumns whitelists the columns UpdateTaskStatus may set alongside
// the status
var taskUpdateColumns = map[string]bool{
	"url":          true,
	"retry_count":  true,
	"error":        true,
	"result_json":  true,
	"worker_id":    true,
	"started_at":   true,
	"completed_at": true,
	"enqueued_at":  true,
}

// TaskStorage implements SQLite storage for pipeline tasks
type TaskStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewTaskStorage creates a new task storage instance
func NewTaskStorage(db *SQLiteDB, logger arbor.ILogger) *TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

// CreateTask inserts a pending task for a folder. URL may be empty when the
// catalog source is not yet known (identification phase).
func (s *TaskStorage) CreateTask(ctx context.Context, jobID, folderPath, url string, maxRetries int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID := common.NewTaskID()

	var urlVal sql.NullString
	if url != "" {
		urlVal = sql.NullString{Valid: true, String: url}
	}

	query := `
		INSERT INTO tasks (id, job_id, folder_path, url, status, max_retries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.db.ExecContext(ctx, query,
		taskID, jobID, folderPath, urlVal, string(models.TaskStatusPending), maxRetries, time.Now().Unix())
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Str("folder", folderPath).Msg("Failed to create task")
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	return taskID, nil
}

// GetTask retrieves a task by ID
func (s *TaskStorage) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ?`, taskColumns)
	rows, err := s.db.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrTaskNotFound
	}
	return s.scanTask(rows)
}

// GetPendingTasks returns pending tasks for a job in creation order
func (s *TaskStorage) GetPendingTasks(ctx context.Context, jobID string) ([]*models.Task, error) {
	return s.GetTasksForJob(ctx, jobID, models.TaskStatusPending)
}

// GetTasksWaitingForUser returns suspended tasks for a job
func (s *TaskStorage) GetTasksWaitingForUser(ctx context.Context, jobID string) ([]*models.Task, error) {
	return s.GetTasksForJob(ctx, jobID, models.TaskStatusWaitingForUser)
}

// GetTasksForJob returns a job's tasks, optionally filtered by status.
// Pass an empty status for all tasks.
func (s *TaskStorage) GetTasksForJob(ctx context.Context, jobID string, status models.TaskStatus) ([]*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE job_id = ?`, taskColumns)
	args := []interface{}{jobID}

	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus sets the task status plus any whitelisted columns in one
// statement. A task that already reached a terminal status is never modified;
// the attempt returns ErrTaskNotFound semantics via affected-row count.
func (s *TaskStorage) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	setClauses := []string{"status = ?"}
	args := []interface{}{string(status)}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !taskUpdateColumns[name] {
			return fmt.Errorf("column %q is not updatable", name)
		}
		setClauses = append(setClauses, name+" = ?")
		if t, ok := fields[name].(time.Time); ok {
			args = append(args, nullUnix(t))
		} else {
			args = append(args, fields[name])
		}
	}
	args = append(args, taskID)

	query := fmt.Sprintf(`
		UPDATE tasks SET %s
		WHERE id = ? AND status NOT IN ('completed','failed','skipped','cancelled')
	`, strings.Join(setClauses, ", "))

	result, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}

	s.logger.Debug().Str("task_id", taskID).Str("status", string(status)).Msg("Task status updated")
	return nil
}

// SetTaskWaitingForUser suspends a task pending external input. Options and
// context payloads are stored JSON-encoded.
func (s *TaskStorage) SetTaskWaitingForUser(ctx context.Context, taskID string, req *models.UserInputRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	optionsJSON, err := json.Marshal(req.Options)
	if err != nil {
		return fmt.Errorf("failed to serialize input options: %w", err)
	}
	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return fmt.Errorf("failed to serialize input context: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = ?, user_input_type = ?, user_input_prompt = ?,
		    user_input_options = ?, user_input_context = ?, enqueued_at = NULL
		WHERE id = ? AND status NOT IN ('completed','failed','skipped','cancelled')
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.TaskStatusWaitingForUser), req.Type, req.Prompt,
		string(optionsJSON), string(contextJSON), taskID)
	if err != nil {
		return fmt.Errorf("failed to suspend task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}

	s.logger.Info().Str("task_id", taskID).Str("type", req.Type).Msg("Task waiting for user input")
	return nil
}

// ResumeTaskFromUserInput applies a user response (typically a URL) to a
// suspended task and returns it to pending so it can be re-dispatched.
func (s *TaskStorage) ResumeTaskFromUserInput(ctx context.Context, taskID, response string, clearInputFields bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE tasks
		SET status = ?, url = ?, enqueued_at = NULL
	`
	if clearInputFields {
		query += `, user_input_type = NULL, user_input_prompt = NULL,
		    user_input_options = NULL, user_input_context = NULL`
	}
	query += ` WHERE id = ? AND status = ?`

	result, err := s.db.db.ExecContext(ctx, query,
		string(models.TaskStatusPending), response, taskID, string(models.TaskStatusWaitingForUser))
	if err != nil {
		return fmt.Errorf("failed to resume task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}

	s.logger.Info().Str("task_id", taskID).Msg("Task resumed from user input")
	return nil
}

// ClaimForDispatch stamps enqueued_at on every pending, unstamped task of a
// job and returns the claimed tasks. Repeated calls are safe: a task is
// stamped at most once per enqueue cycle, so late-arriving tasks from a
// still-running identification phase can be picked up without re-dispatching
// earlier ones.
func (s *TaskStorage) ClaimForDispatch(ctx context.Context, jobID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dispatch claim: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE job_id = ? AND status = ? AND enqueued_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, taskColumns)

	rows, err := tx.QueryContext(ctx, query, jobID, string(models.TaskStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to scan for dispatchable tasks: %w", err)
	}

	var tasks []*models.Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now()
	for _, task := range tasks {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET enqueued_at = ? WHERE id = ?`, now.Unix(), task.ID); err != nil {
			return nil, fmt.Errorf("failed to stamp enqueued_at: %w", err)
		}
		task.EnqueuedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dispatch claim: %w", err)
	}

	return tasks, nil
}

// ResetInterruptedTasks returns a job's interrupted tasks to a dispatchable
// state: running tasks go back to pending, and pending tasks still carrying an
// enqueue stamp have the stamp cleared. Called on resume: the workers and the
// dispatch channel that held them are gone, so a stale stamp would hide the
// task from ClaimForDispatch forever.
func (s *TaskStorage) ResetInterruptedTasks(ctx context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE tasks
		SET status = ?, worker_id = NULL, started_at = NULL, enqueued_at = NULL
		WHERE job_id = ? AND (status = ? OR (status = ? AND enqueued_at IS NOT NULL))
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.TaskStatusPending), jobID,
		string(models.TaskStatusRunning), string(models.TaskStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to reset running tasks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.logger.Info().Str("job_id", jobID).Int64("count", affected).Msg("Reset interrupted tasks to pending")
	}
	return int(affected), nil
}

// scanTask scans the current row of a task result set
func (s *TaskStorage) scanTask(rows *sql.Rows) (*models.Task, error) {
	var (
		id, jobID, folderPath, status string
		url, errorMsg, resultJSON     sql.NullString
		workerID                      sql.NullString
		inputType, inputPrompt        sql.NullString
		inputOptions, inputContext    sql.NullString
		retryCount, maxRetries        int
		createdAt                     int64
		startedAt, completedAt        sql.NullInt64
		enqueuedAt                    sql.NullInt64
	)

	err := rows.Scan(
		&id, &jobID, &folderPath, &url, &status, &retryCount, &maxRetries,
		&errorMsg, &resultJSON, &workerID,
		&inputType, &inputPrompt, &inputOptions, &inputContext,
		&createdAt, &startedAt, &completedAt, &enqueuedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task := &models.Task{
		ID:         id,
		JobID:      jobID,
		FolderPath: folderPath,
		Status:     models.TaskStatus(status),
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		CreatedAt:  unixToTime(createdAt),
	}

	if url.Valid {
		task.URL = url.String
	}
	if errorMsg.Valid {
		task.Error = errorMsg.String
	}
	if workerID.Valid {
		task.WorkerID = workerID.String
	}
	if startedAt.Valid {
		task.StartedAt = unixToTime(startedAt.Int64)
	}
	if completedAt.Valid {
		task.CompletedAt = unixToTime(completedAt.Int64)
	}
	if enqueuedAt.Valid {
		task.EnqueuedAt = unixToTime(enqueuedAt.Int64)
	}

	if resultJSON.Valid && resultJSON.String != "" {
		result, err := models.MetadataFromJSON(resultJSON.String)
		if err != nil {
			s.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to deserialize task result")
		} else {
			task.Result = result
		}
	}

	if inputType.Valid {
		req := &models.UserInputRequest{
			Type: inputType.String,
		}
		if inputPrompt.Valid {
			req.Prompt = inputPrompt.String
		}
		if inputOptions.Valid && inputOptions.String != "" {
			if err := json.Unmarshal([]byte(inputOptions.String), &req.Options); err != nil {
				s.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to deserialize input options")
			}
		}
		if inputContext.Valid && inputContext.String != "" {
			if err := json.Unmarshal([]byte(inputContext.String), &req.Context); err != nil {
				s.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to deserialize input context")
			}
		}
		task.UserInput = req
	}

	return task, nil
}
