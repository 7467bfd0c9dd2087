package plans

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlanJSON = `{
  "plan_id": "wafer7-ring-bank",
  "devices": [
    {
      "name": "ring_a",
      "position_x_um": 1250.0,
      "position_y_um": 830.5,
      "sweep": {
        "start_wavelength_nm": 1540,
        "stop_wavelength_nm": 1560,
        "sweep_speed_nm_per_s": 5,
        "laser_power_dbm": 0
      }
    }
  ],
  "alignment": {
    "search_window_um": 20,
    "step_um": 0.5,
    "threshold_dbm": -45
  },
  "min_power_dbm": -30,
  "speed_um_per_s": 500
}`

const validPlanYAML = `plan_id: wafer7-yaml
devices:
  - name: mzi_b
    position_x_um: 220.0
    position_y_um: 410.0
    sweep:
      start_wavelength_nm: 1530
      stop_wavelength_nm: 1570
      sweep_speed_nm_per_s: 10
min_power_dbm: -25
`

func writePlan(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	loader, err := NewLoader([]string{dir})
	require.NoError(t, err)
	return loader
}

func TestLoaderLoadsJSONPlan(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "bank.json", validPlanJSON)

	plan, err := newTestLoader(t, dir).Load("bank")
	require.NoError(t, err)

	assert.Equal(t, "wafer7-ring-bank", plan.PlanID)
	require.Len(t, plan.Devices, 1)
	assert.Equal(t, "ring_a", plan.Devices[0].Name)
	assert.Equal(t, 1250.0, plan.Devices[0].PositionXUM)
	assert.Equal(t, 1540.0, plan.Devices[0].Sweep.StartWavelengthNM)
	assert.Equal(t, 20.0, plan.Alignment.SearchWindowUM)
	assert.Equal(t, -30.0, plan.MinPowerDBM)
	assert.Equal(t, 500.0, plan.SpeedUMPerS)
}

func TestLoaderLoadsYAMLPlan(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "bank.yaml", validPlanYAML)

	plan, err := newTestLoader(t, dir).Load("bank")
	require.NoError(t, err)

	assert.Equal(t, "wafer7-yaml", plan.PlanID)
	require.Len(t, plan.Devices, 1)
	assert.Equal(t, "mzi_b", plan.Devices[0].Name)
	assert.Equal(t, 1570.0, plan.Devices[0].Sweep.StopWavelengthNM)
	assert.Equal(t, -25.0, plan.MinPowerDBM)
}

func TestLoaderSearchPathOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writePlan(t, second, "bank.json", validPlanJSON)

	loader, err := NewLoader([]string{first, second})
	require.NoError(t, err)

	plan, err := loader.Load("bank")
	require.NoError(t, err)
	assert.Equal(t, "wafer7-ring-bank", plan.PlanID)
}

func TestLoaderRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing plan_id", `{"devices": [{"name": "d", "position_x_um": 0, "position_y_um": 0, "sweep": {"start_wavelength_nm": 1540, "stop_wavelength_nm": 1560}}]}`},
		{"empty device list", `{"plan_id": "p", "devices": []}`},
		{"device without sweep", `{"plan_id": "p", "devices": [{"name": "d", "position_x_um": 0, "position_y_um": 0}]}`},
		{"wavelength below band", `{"plan_id": "p", "devices": [{"name": "d", "position_x_um": 0, "position_y_um": 0, "sweep": {"start_wavelength_nm": 500, "stop_wavelength_nm": 1560}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writePlan(t, dir, "bad.json", tt.content)

			_, err := newTestLoader(t, dir).Load("bad")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed")
		})
	}
}

func TestLoaderPlanNotFound(t *testing.T) {
	_, err := newTestLoader(t, t.TempDir()).Load("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan not found")
}

func TestLoaderCachesByName(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "bank.json", validPlanJSON)
	loader := newTestLoader(t, dir)

	first, err := loader.Load("bank")
	require.NoError(t, err)

	// The file is gone but the cached plan still resolves.
	require.NoError(t, os.Remove(filepath.Join(dir, "bank.json")))
	second, err := loader.Load("bank")
	require.NoError(t, err)
	assert.Same(t, first, second)

	loader.ClearCache()
	_, err = loader.Load("bank")
	require.Error(t, err)
}

func TestValidatorRejectsMalformedJSON(t *testing.T) {
	validator, err := NewValidator()
	require.NoError(t, err)

	err = validator.ValidatePlan([]byte("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}
