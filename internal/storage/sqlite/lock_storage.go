package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// LockStorage implements the database-backed mode of the file lock manager.
// The file_locks primary key on lock_path is the mutual exclusion: the first
// INSERT wins, everyone else sees a constraint violation.
type LockStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewLockStorage creates a new lock storage instance
func NewLockStorage(db *SQLiteDB, logger arbor.ILogger) *LockStorage {
	return &LockStorage{
		db:     db,
		logger: logger,
	}
}

// AcquireLock inserts a lock row for the path. Returns ErrLockHeld when
// another task already holds it.
func (s *LockStorage) AcquireLock(ctx context.Context, lockPath, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO file_locks (lock_path, locked_by_task, acquired_at) VALUES (?, ?, ?)`
	_, err := s.db.db.ExecContext(ctx, query, lockPath, taskID, time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "constraint failed") {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	s.logger.Debug().Str("lock_path", lockPath).Str("task_id", taskID).Msg("Lock acquired")
	return nil
}

// ReleaseLock removes a lock row, but only for the task that holds it
func (s *LockStorage) ReleaseLock(ctx context.Context, lockPath, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM file_locks WHERE lock_path = ? AND locked_by_task = ?`
	result, err := s.db.db.ExecContext(ctx, query, lockPath, taskID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		s.logger.Debug().Str("lock_path", lockPath).Str("task_id", taskID).Msg("Lock released")
	}
	return nil
}

// ReleaseTaskLocks removes every lock held by a task. Workers call this on
// every task exit path so a failed task never strands a directory lock.
func (s *LockStorage) ReleaseTaskLocks(ctx context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx, `DELETE FROM file_locks WHERE locked_by_task = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to release task locks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// GetLockHolder returns the task holding a lock, or empty when unlocked
func (s *LockStorage) GetLockHolder(ctx context.Context, lockPath string) (string, error) {
	var taskID string
	err := s.db.db.QueryRowContext(ctx,
		`SELECT locked_by_task FROM file_locks WHERE lock_path = ?`, lockPath).Scan(&taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query lock holder: %w", err)
	}
	return taskID, nil
}

// CountLocks returns the number of held locks
func (s *LockStorage) CountLocks(ctx context.Context) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_locks`).Scan(&count)
	return count, err
}
