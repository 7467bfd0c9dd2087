package hardware

import (
	"context"
	"time"

	"github.com/lumenfab/probeflow/internal/types"
	"go.uber.org/zap"
)

// StageClient talks to the probe-station stage controller service. Axis
// motion and optical alignment are asynchronous tasks; power readout is an
// instantaneous scalar read. The instrument's command stream is serial, so
// callers issue at most one outstanding task at a time.
type StageClient struct {
	*Client
}

func NewStageClient(baseURL string, timeout time.Duration, logger *zap.Logger) *StageClient {
	return &StageClient{Client: NewClient("stage", baseURL, timeout, logger)}
}

// SubmitMove starts an axis move and returns the task id immediately.
func (s *StageClient) SubmitMove(ctx context.Context, axis string, targetUM, speedUMPerS float64) types.Result[string] {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	res := s.postJSON(ctx, "/move", map[string]any{
		"axis":   axis,
		"target": targetUM,
		"speed":  speedUMPerS,
	}, &resp)
	if res.IsErr() {
		return types.ErrFrom[string](res).Wrap("submit move")
	}
	return types.Ok(resp.TaskID)
}

// Move exposes the move task's poll/cancel operations.
func (s *StageClient) Move() TaskAPI {
	return taskEndpoint{client: s.Client, statusPrefix: "/move/status/", stopPrefix: "/move/stop/"}
}

// AlignmentRequest parameterizes the optical alignment search executed by
// the stage controller.
type AlignmentRequest struct {
	SearchWindowUM float64 `json:"search_window_um"`
	StepUM         float64 `json:"step_um"`
	ThresholdDBM   float64 `json:"threshold_dbm"`
}

// SubmitAlignment starts an optical alignment and returns the task id.
func (s *StageClient) SubmitAlignment(ctx context.Context, req AlignmentRequest) types.Result[string] {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	res := s.postJSON(ctx, "/alignment/execute", req, &resp)
	if res.IsErr() {
		return types.ErrFrom[string](res).Wrap("submit alignment")
	}
	return types.Ok(resp.TaskID)
}

// Alignment exposes the alignment task's poll/cancel operations.
func (s *StageClient) Alignment() TaskAPI {
	return taskEndpoint{client: s.Client, statusPrefix: "/alignment/status/", stopPrefix: "/alignment/stop/"}
}

// ReadPower reads the optical power meter in dBm. Safe to call at any time,
// no task indirection.
func (s *StageClient) ReadPower(ctx context.Context) types.Result[float64] {
	var resp struct {
		PowerDBM float64 `json:"power_dbm"`
	}
	res := s.getJSON(ctx, "/power", &resp)
	if res.IsErr() {
		return types.ErrFrom[float64](res).Wrap("read power")
	}
	return types.Ok(resp.PowerDBM)
}

// taskEndpoint implements TaskAPI for the stage controller's task-shaped
// endpoints, which share the status/stop URL layout.
type taskEndpoint struct {
	client       *Client
	statusPrefix string
	stopPrefix   string
}

func (t taskEndpoint) Poll(ctx context.Context, taskID string) types.Result[Task] {
	var resp struct {
		Status          TaskStatus `json:"status"`
		ProgressPercent float64    `json:"progress_percent"`
		Phase           string     `json:"phase"`
		Error           string     `json:"error"`
	}
	res := t.client.getJSON(ctx, t.statusPrefix+taskID, &resp)
	if res.IsErr() {
		return types.ErrFrom[Task](res).Wrap("poll task " + taskID)
	}
	return types.Ok(Task{
		ID:              taskID,
		Status:          resp.Status,
		ProgressPercent: resp.ProgressPercent,
		Phase:           resp.Phase,
		Error:           resp.Error,
	})
}

func (t taskEndpoint) Cancel(ctx context.Context, taskID string) types.Result[types.Unit] {
	res := t.client.postJSON(ctx, t.stopPrefix+taskID, nil, nil)
	if res.IsErr() {
		return res.Wrap("cancel task " + taskID)
	}
	return types.Ok(types.Unit{})
}
