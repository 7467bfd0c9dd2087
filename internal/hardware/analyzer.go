package hardware

import (
	"context"
	"time"

	"github.com/lumenfab/probeflow/internal/types"
	"go.uber.org/zap"
)

// AnalyzerClient talks to the sweep/detector analyzer service. Configuration
// and trace readout are synchronous; the sweep itself is asynchronous and is
// adapted onto the generic task shape so one poller drives both instruments.
type AnalyzerClient struct {
	*Client
}

func NewAnalyzerClient(baseURL string, timeout time.Duration, logger *zap.Logger) *AnalyzerClient {
	return &AnalyzerClient{Client: NewClient("analyzer", baseURL, timeout, logger)}
}

// SweepConfig holds the per-device sweep parameters.
type SweepConfig struct {
	StartWavelengthNM float64 `json:"start_wavelength_nm"`
	StopWavelengthNM  float64 `json:"stop_wavelength_nm"`
	SweepSpeedNMPerS  float64 `json:"sweep_speed_nm_per_s"`
	LaserPowerDBM     float64 `json:"laser_power_dbm"`
}

// Configure applies sweep parameters. Synchronous.
func (a *AnalyzerClient) Configure(ctx context.Context, cfg SweepConfig) types.Result[types.Unit] {
	res := a.postJSON(ctx, "/configure", map[string]any{
		"wavelength_range": map[string]float64{
			"start_nm": cfg.StartWavelengthNM,
			"stop_nm":  cfg.StopWavelengthNM,
		},
		"speed": cfg.SweepSpeedNMPerS,
		"power": cfg.LaserPowerDBM,
	}, nil)
	if res.IsErr() {
		return res.Wrap("configure sweep")
	}
	return types.Ok(types.Unit{})
}

// Calibrate runs the analyzer's channel calibration. Part of the one-time
// setup at the start of a run.
func (a *AnalyzerClient) Calibrate(ctx context.Context) types.Result[types.Unit] {
	res := a.postJSON(ctx, "/calibrate", map[string]any{"channels": []string{"S11", "S21"}}, nil)
	if res.IsErr() {
		return res.Wrap("calibrate")
	}
	return types.Ok(types.Unit{})
}

// StartSweep begins a sweep and returns its task id.
func (a *AnalyzerClient) StartSweep(ctx context.Context) types.Result[string] {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	res := a.postJSON(ctx, "/sweep/start", nil, &resp)
	if res.IsErr() {
		return types.ErrFrom[string](res).Wrap("start sweep")
	}
	return types.Ok(resp.TaskID)
}

// Sweep exposes the sweep as a pollable task. The analyzer reports only
// {is_sweeping, is_complete} on the wire, with no task id, because it runs a
// single sweep at a time; the adapter folds that into a Task snapshot.
func (a *AnalyzerClient) Sweep() TaskAPI {
	return sweepEndpoint{client: a.Client}
}

type sweepEndpoint struct {
	client *Client
}

func (s sweepEndpoint) Poll(ctx context.Context, taskID string) types.Result[Task] {
	var resp struct {
		IsSweeping bool   `json:"is_sweeping"`
		IsComplete bool   `json:"is_complete"`
		Error      string `json:"error"`
	}
	res := s.client.getJSON(ctx, "/sweep/status", &resp)
	if res.IsErr() {
		return types.ErrFrom[Task](res).Wrap("poll sweep")
	}

	task := Task{ID: taskID, Status: TaskRunning}
	switch {
	case resp.Error != "":
		task.Status = TaskFailed
		task.Error = resp.Error
	case resp.IsComplete:
		task.Status = TaskCompleted
		task.ProgressPercent = 100
	case !resp.IsSweeping:
		task.Status = TaskPending
	}
	return types.Ok(task)
}

func (s sweepEndpoint) Cancel(ctx context.Context, taskID string) types.Result[types.Unit] {
	res := s.client.postJSON(ctx, "/sweep/abort", nil, nil)
	if res.IsErr() {
		return res.Wrap("abort sweep")
	}
	return types.Ok(types.Unit{})
}

// TraceSummary condenses a measured trace for progress events. Full traces
// stay with the caller that fetched them; the orchestration core only
// forwards summaries.
type TraceSummary struct {
	Points           int     `json:"points"`
	PeakDB           float64 `json:"peak_db"`
	MinDB            float64 `json:"min_db"`
	PeakWavelengthNM float64 `json:"peak_wavelength_nm"`
}

// FetchTrace reads the completed sweep's trace and summarizes the
// transmission channel.
func (a *AnalyzerClient) FetchTrace(ctx context.Context) types.Result[TraceSummary] {
	var resp struct {
		WavelengthNM []float64 `json:"wavelength_nm"`
		S21DB        []float64 `json:"s21_db"`
		S11DB        []float64 `json:"s11_db"`
	}
	res := a.getJSON(ctx, "/trace", &resp)
	if res.IsErr() {
		return types.ErrFrom[TraceSummary](res).Wrap("fetch trace")
	}
	if len(resp.S21DB) == 0 {
		return types.Err[TraceSummary]("fetch trace: empty trace payload")
	}

	summary := TraceSummary{
		Points: len(resp.S21DB),
		PeakDB: resp.S21DB[0],
		MinDB:  resp.S21DB[0],
	}
	if len(resp.WavelengthNM) > 0 {
		summary.PeakWavelengthNM = resp.WavelengthNM[0]
	}
	for i, v := range resp.S21DB {
		if v > summary.PeakDB {
			summary.PeakDB = v
			if i < len(resp.WavelengthNM) {
				summary.PeakWavelengthNM = resp.WavelengthNM[i]
			}
		}
		if v < summary.MinDB {
			summary.MinDB = v
		}
	}
	return types.Ok(summary)
}
