package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTask(name string) *Task {
	return &Task{
		ID:       newID(),
		Name:     name,
		Kind:     KindBatch,
		CronExpr: "*/5 * * * *",
		Config:   TaskConfig{InputPath: "/data/frames"},
	}
}

func TestStoreTaskRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	task := testTask("cameras")
	require.NoError(t, store.SaveTask(task))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "cameras", got.Name)

	// Mutating the copy must not leak into the store.
	got.Name = "mutated"
	again, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "cameras", again.Name)

	task.Name = "renamed"
	require.NoError(t, store.SaveTask(task))
	assert.Len(t, store.ListTasks(), 1)

	require.NoError(t, store.DeleteTask(task.ID))
	_, err = store.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteTask(task.ID), ErrNotFound)
}

func TestStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	task := testTask("persisted")
	require.NoError(t, store.SaveTask(task))
	require.NoError(t, store.AddExecution(&Execution{ID: "e1", TaskID: task.ID, Status: ExecCompleted, StartedAt: time.Now()}))

	reloaded, err := NewStore(dir)
	require.NoError(t, err)
	got, err := reloaded.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
	assert.Len(t, reloaded.ListExecutions("", 0), 1)
}

func TestStoreExecutionHistoryNewestFirstAndCapped(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < maxExecutions+5; i++ {
		require.NoError(t, store.AddExecution(&Execution{
			ID:     fmt.Sprintf("e%d", i),
			TaskID: "t1",
			Status: ExecCompleted,
		}))
	}

	all := store.ListExecutions("", 0)
	require.Len(t, all, maxExecutions)
	assert.Equal(t, fmt.Sprintf("e%d", maxExecutions+4), all[0].ID)

	limited := store.ListExecutions("", 3)
	assert.Len(t, limited, 3)
}

func TestStoreExecutionFilterAndUpdate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.AddExecution(&Execution{ID: "a", TaskID: "t1", Status: ExecRunning}))
	require.NoError(t, store.AddExecution(&Execution{ID: "b", TaskID: "t2", Status: ExecRunning}))

	only := store.ListExecutions("t2", 0)
	require.Len(t, only, 1)
	assert.Equal(t, "b", only[0].ID)

	require.NoError(t, store.UpdateExecution(&Execution{ID: "a", TaskID: "t1", Status: ExecCompleted}))
	got, err := store.GetExecution("a")
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, got.Status)

	assert.ErrorIs(t, store.UpdateExecution(&Execution{ID: "ghost"}), ErrNotFound)
}
