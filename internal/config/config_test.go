package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "http://localhost:8001", cfg.Hardware.StageURL)
	assert.Equal(t, 60*time.Second, cfg.Measurement.MotionTimeout)
	assert.Equal(t, 180*time.Second, cfg.Measurement.AlignmentTimeout)
	assert.Equal(t, 300*time.Second, cfg.Measurement.SweepTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Measurement.MotionPollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Measurement.SweepPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Measurement.StatusRetention)
	assert.Equal(t, -30.0, cfg.Measurement.MinPowerDBM)
	assert.Equal(t, []string{"plans"}, cfg.Plans.SearchPaths)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  shutdown_timeout: 10s
hardware:
  stage_url: "http://stage.lab:9000"
  analyzer_url: "http://osa.lab:9001"
measurement:
  sweep_timeout: 600s
  min_power_dbm: -40.0
plans:
  search_paths:
    - "/srv/plans"
    - "plans"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "http://stage.lab:9000", cfg.Hardware.StageURL)
	assert.Equal(t, "http://osa.lab:9001", cfg.Hardware.AnalyzerURL)
	assert.Equal(t, 600*time.Second, cfg.Measurement.SweepTimeout)
	assert.Equal(t, -40.0, cfg.Measurement.MinPowerDBM)
	assert.Equal(t, []string{"/srv/plans", "plans"}, cfg.Plans.SearchPaths)

	// Untouched keys keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Measurement.MotionTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}
