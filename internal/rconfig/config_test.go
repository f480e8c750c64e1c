package rconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "rule-engine-go", cfg.Name)
	assert.Equal(t, 10000, cfg.Engine.MaxCycles)
	assert.Equal(t, "depth-first", cfg.Backward.Strategy)
	assert.Equal(t, 10, cfg.Backward.MaxDepth)
	assert.True(t, cfg.Backward.EnableMemoization)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("RULEENGINE_MAX_CYCLES", "")
	t.Setenv("RULEENGINE_LOG_LEVEL", "")
	t.Setenv("RULEENGINE_DEBUG", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "ruleengine.yaml")

	cfg := DefaultConfig()
	cfg.Backward.MaxDepth = 25
	cfg.Logging.Level = "debug"
	cfg.Rules.Paths = []string{"rules/core.grl"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Backward.MaxDepth)
	assert.Equal(t, "debug", loaded.Logging.Level)
	assert.Equal(t, []string{"rules/core.grl"}, loaded.Rules.Paths)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "does-not-exist.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.MaxCycles, cfg.Engine.MaxCycles)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RULEENGINE_MAX_CYCLES", "500")
	t.Setenv("RULEENGINE_LOG_LEVEL", "warn")
	t.Setenv("RULEENGINE_DEBUG", "true")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 500, cfg.Engine.MaxCycles)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestConfig_EnvOverrides_InvalidMaxCyclesIgnored(t *testing.T) {
	t.Setenv("RULEENGINE_MAX_CYCLES", "not-a-number")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, DefaultConfig().Engine.MaxCycles, cfg.Engine.MaxCycles)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Engine.MaxCycles = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backward.MaxSolutions = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backward.Strategy = "nonsense"
	assert.Error(t, cfg.Validate())
}

func TestLoggingConfig_ToRlogConfig(t *testing.T) {
	lc := LoggingConfig{
		Level:      "debug",
		DebugMode:  true,
		JSONFormat: true,
		Categories: map[string]bool{"agenda": false},
	}
	rc := lc.ToRlogConfig()
	assert.Equal(t, "debug", rc.Level)
	assert.True(t, rc.DebugMode)
	assert.True(t, rc.JSONFormat)
	assert.False(t, rc.Categories["agenda"])
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{DebugMode: false}
	assert.False(t, lc.IsCategoryEnabled("agenda"))

	lc = LoggingConfig{DebugMode: true}
	assert.True(t, lc.IsCategoryEnabled("agenda"))

	lc = LoggingConfig{DebugMode: true, Categories: map[string]bool{"agenda": false}}
	assert.False(t, lc.IsCategoryEnabled("agenda"))
	assert.True(t, lc.IsCategoryEnabled("rete"))
}

func TestGetCycleTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, int(cfg.GetCycleTimeout()))

	cfg.Engine.CycleTimeout = "2s"
	assert.Equal(t, int64(2e9), cfg.GetCycleTimeout().Nanoseconds())

	cfg.Engine.CycleTimeout = "not-a-duration"
	assert.Equal(t, 0, int(cfg.GetCycleTimeout()))
}
