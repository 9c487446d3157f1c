package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestLockStorage_AcquireAndRelease(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLockStorage(db, logger)
	tasks := NewTaskStorage(db, logger)
	ctx := context.Background()

	jobID := createTestJob(t, db)
	taskID, err := tasks.CreateTask(ctx, jobID, "/books/a/title", "", 2)
	require.NoError(t, err)

	require.NoError(t, storage.AcquireLock(ctx, "/library/Author", taskID))

	holder, err := storage.GetLockHolder(ctx, "/library/Author")
	require.NoError(t, err)
	assert.Equal(t, taskID, holder)

	require.NoError(t, storage.ReleaseLock(ctx, "/library/Author", taskID))

	holder, err = storage.GetLockHolder(ctx, "/library/Author")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestLockStorage_SecondAcquireFails(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLockStorage(db, logger)
	tasks := NewTaskStorage(db, logger)
	ctx := context.Background()

	jobID := createTestJob(t, db)
	first, err := tasks.CreateTask(ctx, jobID, "/books/a/one", "", 2)
	require.NoError(t, err)
	second, err := tasks.CreateTask(ctx, jobID, "/books/a/two", "", 2)
	require.NoError(t, err)

	require.NoError(t, storage.AcquireLock(ctx, "/library/Author", first))

	err = storage.AcquireLock(ctx, "/library/Author", second)
	assert.ErrorIs(t, err, ErrLockHeld)

	// Holder unchanged
	holder, err := storage.GetLockHolder(ctx, "/library/Author")
	require.NoError(t, err)
	assert.Equal(t, first, holder)
}

func TestLockStorage_ConcurrentAcquireHasOneWinner(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLockStorage(db, logger)
	tasks := NewTaskStorage(db, logger)
	ctx := context.Background()

	jobID := createTestJob(t, db)

	const contenders = 8
	taskIDs := make([]string, contenders)
	for i := range taskIDs {
		id, err := tasks.CreateTask(ctx, jobID, "/books/a/title", "", 2)
		require.NoError(t, err)
		taskIDs[i] = id
	}

	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = storage.AcquireLock(ctx, "/library/Author", taskIDs[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrLockHeld)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestLockStorage_ReleaseRequiresHolder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLockStorage(db, logger)
	tasks := NewTaskStorage(db, logger)
	ctx := context.Background()

	jobID := createTestJob(t, db)
	holder, err := tasks.CreateTask(ctx, jobID, "/books/a/one", "", 2)
	require.NoError(t, err)
	other, err := tasks.CreateTask(ctx, jobID, "/books/a/two", "", 2)
	require.NoError(t, err)

	require.NoError(t, storage.AcquireLock(ctx, "/library/Author", holder))

	// Release by a non-holder is a no-op
	require.NoError(t, storage.ReleaseLock(ctx, "/library/Author", other))

	current, err := storage.GetLockHolder(ctx, "/library/Author")
	require.NoError(t, err)
	assert.Equal(t, holder, current)
}

func TestLockStorage_ReleaseTaskLocks(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLockStorage(db, logger)
	tasks := NewTaskStorage(db, logger)
	ctx := context.Background()

	jobID := createTestJob(t, db)
	taskID, err := tasks.CreateTask(ctx, jobID, "/books/a/title", "", 2)
	require.NoError(t, err)

	require.NoError(t, storage.AcquireLock(ctx, "/library/Author", taskID))
	require.NoError(t, storage.AcquireLock(ctx, "/library/Author/Series", taskID))

	released, err := storage.ReleaseTaskLocks(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	count, err := storage.CountLocks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
