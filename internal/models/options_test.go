package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, (&Options{}).Validate(), "in-place run needs nothing")
	assert.NoError(t, (&Options{Copy: true, Output: "/library"}).Validate())
	assert.NoError(t, (&Options{Move: true, Output: "/library"}).Validate())

	assert.Error(t, (&Options{Copy: true, Move: true, Output: "/library"}).Validate())
	assert.Error(t, (&Options{Copy: true}).Validate(), "copy needs an output")
	assert.Error(t, (&Options{Move: true}).Validate(), "move needs an output")
	assert.Error(t, (&Options{Resume: true, NoResume: true}).Validate())
	assert.Error(t, (&Options{Workers: -1}).Validate())
}

func TestOptionsWorkerCount(t *testing.T) {
	assert.Equal(t, 4, (&Options{}).WorkerCount())
	assert.Equal(t, 8, (&Options{Workers: 8}).WorkerCount())
}

func TestOptionsJSONRoundTrip(t *testing.T) {
	opts := &Options{
		Folders: []string{"/books/dune"},
		Output:  "/library",
		Copy:    true,
		FromOPF: true,
		Site:    "audible",
		Workers: 2,
	}

	blob, err := opts.ToJSON()
	require.NoError(t, err)

	loaded, err := OptionsFromJSON(blob)
	require.NoError(t, err)
	assert.Equal(t, opts, loaded)

	_, err = OptionsFromJSON("{broken")
	assert.Error(t, err)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusSkipped.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusRunning.IsTerminal())
	assert.False(t, TaskStatusWaitingForUser.IsTerminal())
}

func TestJobProgressDone(t *testing.T) {
	assert.True(t, (&JobProgress{Total: 3, Completed: 1, Failed: 1, Skipped: 1}).Done())
	assert.True(t, (&JobProgress{Total: 2, Completed: 1, Cancelled: 1}).Done())
	assert.False(t, (&JobProgress{Total: 3, Completed: 2, Running: 1}).Done())
	assert.False(t, (&JobProgress{Total: 1, WaitingForUser: 1}).Done())
	assert.True(t, (&JobProgress{}).Done(), "an empty job has nothing left to do")
}
