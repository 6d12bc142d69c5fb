package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleFilesCountFormula(t *testing.T) {
	files := make([]string, 100)
	for i := range files {
		files[i] = filepath.Join("dir", "f", "x")
	}

	assert.Len(t, sampleFiles(files, 0.1, 100), 10)
	// Bounded by max_samples.
	assert.Len(t, sampleFiles(files, 0.5, 20), 20)
	// At least one file when any matched.
	assert.Len(t, sampleFiles(files[:3], 0.01, 100), 1)
	// Full rate returns everything untouched.
	assert.Len(t, sampleFiles(files, 1.0, 200), 100)
	assert.Empty(t, sampleFiles(nil, 0.5, 10))
}

func TestSampleFilesPreservesOrder(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	picked := sampleFiles(files, 0.5, 10)
	require.Len(t, picked, 5)
	for i := 1; i < len(picked); i++ {
		assert.Less(t, picked[i-1], picked[i])
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	for _, name := range []string{"a.jpg", "b.png", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(sub, "d.jpeg"), []byte("x"), 0o644))

	flat, err := collectFiles(dir, "", false, imageExtensions)
	require.NoError(t, err)
	assert.Len(t, flat, 2) // c.txt filtered, nested skipped

	deep, err := collectFiles(dir, "", true, imageExtensions)
	require.NoError(t, err)
	assert.Len(t, deep, 3)

	patterned, err := collectFiles(dir, "a.*", false, imageExtensions)
	require.NoError(t, err)
	require.Len(t, patterned, 1)
	assert.Equal(t, "a.jpg", filepath.Base(patterned[0]))

	single, err := collectFiles(filepath.Join(dir, "c.txt"), "", false, imageExtensions)
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = collectFiles(filepath.Join(dir, "missing"), "", false, nil)
	assert.Error(t, err)
}

func TestTaskLevelFallback(t *testing.T) {
	assert.Equal(t, "deep", string(taskLevel(&Task{Config: TaskConfig{Level: "deep"}})))
	assert.Equal(t, "standard", string(taskLevel(&Task{Config: TaskConfig{Level: "bogus"}})))
	assert.Equal(t, "standard", string(taskLevel(&Task{})))
}
