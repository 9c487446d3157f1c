package locks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/interfaces"
	"github.com/ternarybob/fabula/internal/storage/sqlite"
)

// Mode selects the mutual exclusion backend
type Mode string

const (
	// ModeDatabase uses rows in file_locks; the primary key is the lock
	ModeDatabase Mode = "database"
	// ModeFile holds an exclusive OS lock on a sibling .NAME.lock file
	ModeFile Mode = "file"
)

// ErrLockTimeout is returned when acquisition exceeded the timeout. Distinct
// from context cancellation so a lock timeout can fail just the task.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Manager serializes creation of shared directories (author/, series/) across
// concurrent pipeline workers. Locks are keyed by the canonical absolute path.
// Callers must take locks in a fixed order (author before series) so workers
// never deadlock on each other.
type Manager struct {
	mode         Mode
	store        interfaces.LockStorage
	logger       arbor.ILogger
	timeout      time.Duration
	pollInterval time.Duration
}

// ReleaseFunc releases a held lock. Safe to call exactly once on every exit path.
type ReleaseFunc func()

// NewManager creates a lock manager. store may be nil for ModeFile.
func NewManager(mode Mode, store interfaces.LockStorage, logger arbor.ILogger, timeout, pollInterval time.Duration) (*Manager, error) {
	if mode == ModeDatabase && store == nil {
		return nil, fmt.Errorf("database lock mode requires a lock store")
	}
	if mode != ModeDatabase && mode != ModeFile {
		return nil, fmt.Errorf("unknown lock mode: %s", mode)
	}
	return &Manager{
		mode:         mode,
		store:        store,
		logger:       logger,
		timeout:      timeout,
		pollInterval: pollInterval,
	}, nil
}

// LockDirectory acquires the lock for a directory path, blocking up to the
// configured timeout. The returned release function must be deferred so the
// lock is freed on every exit path.
func (m *Manager) LockDirectory(ctx context.Context, path, taskID string) (ReleaseFunc, error) {
	resolved := CanonicalPath(path)

	deadline := time.Now().Add(m.timeout)

	switch m.mode {
	case ModeDatabase:
		return m.lockDatabase(ctx, resolved, taskID, deadline)
	default:
		return m.lockFile(ctx, resolved, deadline)
	}
}

// lockDatabase polls an INSERT into file_locks until it wins or times out
func (m *Manager) lockDatabase(ctx context.Context, resolved, taskID string, deadline time.Time) (ReleaseFunc, error) {
	for {
		err := m.store.AcquireLock(ctx, resolved, taskID)
		if err == nil {
			release := func() {
				if relErr := m.store.ReleaseLock(context.Background(), resolved, taskID); relErr != nil {
					m.logger.Warn().Err(relErr).Str("lock_path", resolved).Msg("Failed to release directory lock")
				}
			}
			return release, nil
		}
		if !errors.Is(err, sqlite.ErrLockHeld) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, resolved)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// lockFile holds an exclusive flock on a sibling dotfile for the scope.
// The lock file itself is removed best-effort on release.
func (m *Manager) lockFile(ctx context.Context, resolved string, deadline time.Time) (ReleaseFunc, error) {
	lockPath := filepath.Join(filepath.Dir(resolved), "."+filepath.Base(resolved)+".lock")

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock parent directory: %w", err)
	}

	fl := flock.New(lockPath)

	lockCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, m.pollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, resolved)
		}
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, resolved)
	}

	release := func() {
		if unlockErr := fl.Unlock(); unlockErr != nil {
			m.logger.Warn().Err(unlockErr).Str("lock_path", lockPath).Msg("Failed to release file lock")
		}
		_ = os.Remove(lockPath)
	}
	return release, nil
}

// CanonicalPath resolves a path to its canonical absolute form so that two
// spellings of the same directory contend on one lock. Symlinks are resolved
// when the path exists; a not-yet-created directory falls back to the cleaned
// absolute path.
func CanonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return filepath.Clean(abs)
}
