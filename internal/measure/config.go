package measure

import (
	"fmt"
	"time"

	"github.com/lumenfab/probeflow/internal/hardware"
)

// DeviceSpec identifies one device under test: where it sits on the stage
// and how its sweep is parameterized.
type DeviceSpec struct {
	Name        string               `json:"name"`
	PositionXUM float64              `json:"position_x_um"`
	PositionYUM float64              `json:"position_y_um"`
	Sweep       hardware.SweepConfig `json:"sweep"`
}

// Timeouts are the per-operation budgets. Sweeps get the largest budget,
// motion the smallest.
type Timeouts struct {
	Motion    time.Duration `json:"motion"`
	Alignment time.Duration `json:"alignment"`
	Sweep     time.Duration `json:"sweep"`
}

// PollIntervals are the fixed poll periods for task-shaped operations.
type PollIntervals struct {
	Motion time.Duration `json:"motion"`
	Sweep  time.Duration `json:"sweep"`
}

// RunConfig describes one measurement run. Created once at start and
// read-only for the run's lifetime.
type RunConfig struct {
	PlanID      string                    `json:"plan_id"`
	Devices     []DeviceSpec              `json:"devices"`
	StageURL    string                    `json:"stage_url"`
	AnalyzerURL string                    `json:"analyzer_url"`
	Alignment   hardware.AlignmentRequest `json:"alignment"`
	MinPowerDBM float64                   `json:"min_power_dbm"`
	Timeouts    Timeouts                  `json:"timeouts"`
	Intervals   PollIntervals             `json:"intervals"`
	SpeedUMPerS float64                   `json:"speed_um_per_s"`
}

func (c *RunConfig) Validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("run config has no devices")
	}
	if c.StageURL == "" || c.AnalyzerURL == "" {
		return fmt.Errorf("both instrument endpoints are required")
	}
	if c.Timeouts.Motion <= 0 || c.Timeouts.Alignment <= 0 || c.Timeouts.Sweep <= 0 {
		return fmt.Errorf("timeout budgets must be positive")
	}
	if c.Intervals.Motion <= 0 || c.Intervals.Sweep <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	return nil
}

// DeviceOutcome records how a single device fared.
type DeviceOutcome struct {
	Index     int    `json:"index"`
	Name      string `json:"name,omitempty"`
	Succeeded bool   `json:"succeeded"`
	Operation string `json:"operation,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RunSummary aggregates per-device outcomes for the terminal event and the
// status snapshot.
type RunSummary struct {
	Total           int             `json:"total"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Devices         []DeviceOutcome `json:"devices"`
	DurationSeconds float64         `json:"duration_seconds"`
}
