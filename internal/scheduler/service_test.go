package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vqd/internal/detect"
	"vqd/internal/detect/detectors"
)

func testService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	registry := detect.NewRegistry()
	require.NoError(t, detectors.RegisterAll(registry))

	svc, err := NewService(store, registry, filepath.Join(dir, "reports"), zerolog.Nop())
	require.NoError(t, err)
	return svc, dir
}

func TestCreateTaskValidation(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.CreateTask(&Task{Kind: KindBatch, CronExpr: "* * * * *", Config: TaskConfig{InputPath: "/x"}})
	assert.Error(t, err, "missing name")

	_, err = svc.CreateTask(&Task{Name: "t", Kind: "weird", CronExpr: "* * * * *", Config: TaskConfig{InputPath: "/x"}})
	assert.Error(t, err, "bad kind")

	_, err = svc.CreateTask(&Task{Name: "t", Kind: KindBatch, CronExpr: "not cron", Config: TaskConfig{InputPath: "/x"}})
	assert.Error(t, err, "bad cron")

	_, err = svc.CreateTask(&Task{Name: "t", Kind: KindBatch, CronExpr: "* * * * *"})
	assert.Error(t, err, "missing input path")

	task, err := svc.CreateTask(&Task{Name: "t", Kind: KindBatch, CronExpr: "0 3 * * *", Config: TaskConfig{InputPath: "/x"}})
	require.NoError(t, err)
	assert.Len(t, task.ID, 8)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestEnableDisableTask(t *testing.T) {
	svc, _ := testService(t)
	svc.Start()
	defer svc.Stop()

	task, err := svc.CreateTask(&Task{
		Name: "t", Kind: KindBatch, CronExpr: "0 3 * * *", Enabled: true,
		Config: TaskConfig{InputPath: "/x"},
	})
	require.NoError(t, err)
	got, err := svc.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)

	disabled, err := svc.DisableTask(task.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Nil(t, disabled.NextRunAt)

	enabled, err := svc.EnableTask(task.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
}

func TestRunTaskNowBatch(t *testing.T) {
	svc, _ := testService(t)

	input := t.TempDir()
	// Not a decodable image: the job must count it as an error, not fail.
	require.NoError(t, os.WriteFile(filepath.Join(input, "broken.jpg"), []byte("not an image"), 0o644))

	task, err := svc.CreateTask(&Task{
		Name: "batch", Kind: KindBatch, CronExpr: "0 3 * * *",
		Config: TaskConfig{InputPath: input},
	})
	require.NoError(t, err)

	execID, err := svc.RunTaskNow(task.ID)
	require.NoError(t, err)

	var exec *Execution
	require.Eventually(t, func() bool {
		var gerr error
		exec, gerr = svc.GetExecution(execID)
		if gerr != nil {
			return false
		}
		return exec.Status == ExecCompleted || exec.Status == ExecFailed
	}, 10*time.Second, 50*time.Millisecond)

	require.Equal(t, ExecCompleted, exec.Status)
	assert.Equal(t, 1, exec.TotalItems)
	assert.Equal(t, 1, exec.ErrorCount)
	assert.Equal(t, exec.TotalItems, exec.NormalCount+exec.AbnormalCount+exec.ErrorCount)
	assert.FileExists(t, exec.ReportPath)

	history := svc.GetExecutions(task.ID, 0)
	require.NotEmpty(t, history)
	assert.Equal(t, execID, history[0].ID)
}

func TestRunTaskNowUnknownTask(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.RunTaskNow("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
