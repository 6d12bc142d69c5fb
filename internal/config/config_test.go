package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileConfigsFallback(t *testing.T) {
	strict := ProfileConfigs("strict")
	assert.Equal(t, 50.0, strict["blur"]["threshold"])

	unknown := ProfileConfigs("bogus")
	assert.Equal(t, 100.0, unknown["blur"]["threshold"], "unknown profiles fall back to normal")
}

func TestProfileConfigsReturnsCopy(t *testing.T) {
	a := ProfileConfigs("normal")
	a["blur"]["threshold"] = 999.0

	b := ProfileConfigs("normal")
	assert.Equal(t, 100.0, b["blur"]["threshold"])
}

func TestValidProfile(t *testing.T) {
	for _, name := range Profiles() {
		assert.True(t, ValidProfile(name))
	}
	assert.False(t, ValidProfile("bogus"))
}

func TestMergeOverrides(t *testing.T) {
	base := ProfileConfigs("normal")
	merged := MergeOverrides(base, map[string]map[string]any{
		"blur":   {"threshold": 42.0},
		"custom": {"knob": 1},
	})

	assert.Equal(t, 42.0, merged["blur"]["threshold"])
	assert.Equal(t, 30.0, merged["contrast"]["min_contrast"], "untouched keys survive")
	assert.Equal(t, 1, merged["custom"]["knob"])

	fromNil := MergeOverrides(nil, map[string]map[string]any{"x": {"y": 2}})
	assert.Equal(t, 2, fromNil["x"]["y"])
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "normal", cfg.Profile)
	assert.Equal(t, "standard", cfg.DetectionLevel)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vqd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: strict\nserver:\n  port: 9000\n"), 0o644))

	t.Setenv("VQD_PORT", "9100")
	t.Setenv("VQD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Profile)
	assert.Equal(t, 9100, cfg.Server.Port, "env wins over the file")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsUnknownProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vqd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: nonsense\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDetectorConfigsLayering(t *testing.T) {
	cfg := Default()
	cfg.Profile = "loose"
	cfg.CustomThresholds = map[string]map[string]any{"noise": {"threshold": 7.0}}

	eff := cfg.DetectorConfigs()
	assert.Equal(t, 7.0, eff["noise"]["threshold"])
	assert.Equal(t, 150.0, eff["blur"]["threshold"])
}
