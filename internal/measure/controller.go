package measure

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lumenfab/probeflow/internal/hardware"
	"github.com/lumenfab/probeflow/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const eventBufferSize = 256

// controlSignals carries pause/cancel requests from the manager to the
// running controller. Written only by the manager, read at checkpoints by
// the controller. Cancel is monotonic within a run.
type controlSignals struct {
	cancelOnce sync.Once
	cancel     chan struct{}

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newControlSignals() *controlSignals {
	return &controlSignals{cancel: make(chan struct{})}
}

func (s *controlSignals) requestCancel() {
	s.cancelOnce.Do(func() { close(s.cancel) })
}

func (s *controlSignals) isCancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

func (s *controlSignals) requestPause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return false
	}
	s.paused = true
	s.resume = make(chan struct{})
	return true
}

func (s *controlSignals) requestResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return false
	}
	s.paused = false
	close(s.resume)
	return true
}

func (s *controlSignals) pausePoint() (bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.resume
}

// StatusSnapshot is the queryable view of a run, readable without blocking
// the running controller.
type StatusSnapshot struct {
	RunID           string        `json:"run_id,omitempty"`
	State           RunState      `json:"state"`
	CurrentDevice   int           `json:"current_device"`
	TotalDevices    int           `json:"total_devices"`
	Operation       string        `json:"operation,omitempty"`
	Error           string        `json:"error,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`
	Summary         *RunSummary   `json:"summary,omitempty"`
	LastEvent       ProgressEvent `json:"last_event,omitempty"`
}

// Controller drives one measurement run across both instrument services,
// emitting strictly ordered progress events on its channel. It runs as a
// single worker; the two instruments never see concurrent commands.
type Controller struct {
	runID    string
	cfg      RunConfig
	logger   *zap.Logger
	stage    *hardware.StageClient
	analyzer *hardware.AnalyzerClient
	signals  *controlSignals
	events   chan ProgressEvent

	mu            sync.RWMutex
	state         RunState
	currentDevice int
	operation     string
	lastError     string
	startedAt     time.Time
	endedAt       time.Time
	outcomes      []DeviceOutcome
}

func NewController(runID string, cfg RunConfig, logger *zap.Logger) *Controller {
	return &Controller{
		runID:    runID,
		cfg:      cfg,
		logger:   logger.With(zap.String("run_id", runID)),
		stage:    hardware.NewStageClient(cfg.StageURL, cfg.Timeouts.Alignment, logger),
		analyzer: hardware.NewAnalyzerClient(cfg.AnalyzerURL, cfg.Timeouts.Sweep, logger),
		signals:  newControlSignals(),
		events:   make(chan ProgressEvent, eventBufferSize),
		state:    StateIdle,
	}
}

// Events returns the run's ordered progress stream. The channel is closed
// when the run reaches a terminal state.
func (c *Controller) Events() <-chan ProgressEvent { return c.events }

func (c *Controller) Pause() bool  { return c.signals.requestPause() }
func (c *Controller) Resume() bool { return c.signals.requestResume() }
func (c *Controller) Cancel()      { c.signals.requestCancel() }

// State returns the current run state.
func (c *Controller) State() RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns the current status without blocking the run.
func (c *Controller) Snapshot() StatusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := StatusSnapshot{
		RunID:         c.runID,
		State:         c.state,
		CurrentDevice: c.currentDevice,
		TotalDevices:  len(c.cfg.Devices),
		Operation:     c.operation,
		Error:         c.lastError,
	}
	if !c.startedAt.IsZero() {
		end := c.endedAt
		if end.IsZero() {
			end = time.Now()
		}
		snap.DurationSeconds = end.Sub(c.startedAt).Seconds()
	}
	if c.state.IsTerminal() {
		summary := c.summaryLocked()
		snap.Summary = &summary
	}
	return snap
}

// Run executes the workflow to a terminal state. Intended to be spawned as
// a goroutine by the manager; the events channel is closed on return.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.events)
	defer func() {
		c.mu.Lock()
		c.endedAt = time.Now()
		c.mu.Unlock()
	}()

	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()

	if !c.apply(EventStartMeasurement) {
		return
	}
	c.emit(newRunStarted(c.runID, len(c.cfg.Devices)))

	if res := c.calibrate(ctx); res.IsErr() {
		if c.signals.isCancelled() {
			c.terminateCancelled(0)
			return
		}
		c.failRun(res.Error())
		return
	}
	if !c.apply(EventCalibrationComplete) {
		return
	}

	for i, dev := range c.cfg.Devices {
		if !c.checkpoint(ctx, i) {
			return
		}

		c.mu.Lock()
		c.currentDevice = i
		c.mu.Unlock()

		fatal, cancelled := c.measureDevice(ctx, i, dev)
		if cancelled {
			c.terminateCancelled(i)
			return
		}
		if fatal != "" {
			c.failRun(fatal)
			return
		}
	}

	// A cancel requested during the last device must not complete the run.
	if c.signals.isCancelled() {
		c.terminateCancelled(len(c.cfg.Devices) - 1)
		return
	}

	if !c.apply(EventComplete) {
		return
	}
	c.emit(newRunCompleted(c.summary()))
	c.logger.Info("Run completed",
		zap.Int("devices", len(c.cfg.Devices)),
		zap.Int("failed", c.summary().Failed))
}

// calibrate is the one-time hardware setup: both health checks in parallel
// (different instruments, so the serial-command rule is not violated), then
// the analyzer's channel calibration. Calibration failure is not retried,
// it usually indicates unsafe hardware state.
func (c *Controller) calibrate(ctx context.Context) types.Result[types.Unit] {
	c.setOperation("calibrating")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if res := c.stage.Connect(gctx); res.IsErr() {
			return errors.New(res.Error())
		}
		return nil
	})
	g.Go(func() error {
		if res := c.analyzer.Connect(gctx); res.IsErr() {
			return errors.New(res.Error())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.Err[types.Unit](err.Error())
	}

	if res := c.analyzer.Calibrate(ctx); res.IsErr() {
		return res
	}
	return types.Ok(types.Unit{})
}

// checkpoint consults the control signals before starting device i. Returns
// false when the run terminated (cancelled or invariant violation) and the
// caller must unwind.
func (c *Controller) checkpoint(ctx context.Context, deviceIndex int) bool {
	if c.signals.isCancelled() {
		c.terminateCancelled(deviceIndex)
		return false
	}

	paused, resume := c.signals.pausePoint()
	if !paused {
		return true
	}

	if !c.apply(EventPause) {
		return false
	}
	c.emit(newRunPaused(deviceIndex))
	c.setOperation("paused")
	c.logger.Info("Run paused", zap.Int("device_index", deviceIndex))

	select {
	case <-resume:
		if !c.apply(EventResume) {
			return false
		}
		c.emit(newRunResumed(deviceIndex))
		c.logger.Info("Run resumed", zap.Int("device_index", deviceIndex))
		return true
	case <-c.signals.cancel:
		c.terminateCancelled(deviceIndex)
		return false
	case <-ctx.Done():
		c.terminateCancelled(deviceIndex)
		return false
	}
}

// measureDevice runs the per-device workflow: move, align, check power,
// configure, sweep, read trace. Stage-side failures skip the device;
// analyzer-side failures are fatal to the run since they indicate a
// systemic fault rather than a per-device condition.
func (c *Controller) measureDevice(ctx context.Context, index int, dev DeviceSpec) (fatal string, cancelled bool) {
	c.emit(newDeviceStarted(index, dev.Name))

	// Stage motion, one serial task per axis.
	c.setOperation("move")
	for _, axis := range []struct {
		name   string
		target float64
	}{{"x", dev.PositionXUM}, {"y", dev.PositionYUM}} {
		res := c.stage.SubmitMove(ctx, axis.name, axis.target, c.cfg.SpeedUMPerS)
		if res.IsOk() {
			await := hardware.AwaitCompletion(ctx, c.stage.Move(), res.Value(), hardware.PollOptions{
				Interval: c.cfg.Intervals.Motion,
				Timeout:  c.cfg.Timeouts.Motion,
				Cancel:   c.signals.cancel,
			}, c.logger)
			if await.IsOk() {
				continue
			}
			if c.signals.isCancelled() {
				return "", true
			}
			c.skipDevice(index, dev, "move", await.Error())
			return "", false
		}
		if c.signals.isCancelled() {
			return "", true
		}
		c.skipDevice(index, dev, "move", res.Error())
		return "", false
	}

	// Optical alignment with live progress.
	c.setOperation("alignment")
	alignRes := c.stage.SubmitAlignment(ctx, c.cfg.Alignment)
	if alignRes.IsErr() {
		if c.signals.isCancelled() {
			return "", true
		}
		c.skipDevice(index, dev, "alignment", alignRes.Error())
		return "", false
	}
	await := hardware.AwaitCompletion(ctx, c.stage.Alignment(), alignRes.Value(), hardware.PollOptions{
		Interval: c.cfg.Intervals.Motion,
		Timeout:  c.cfg.Timeouts.Alignment,
		Cancel:   c.signals.cancel,
		OnProgress: func(task hardware.Task) {
			phase := task.Phase
			if phase == "" {
				phase = "search"
			}
			c.emit(newAlignmentProgress(index, phase, task.ProgressPercent))
		},
	}, c.logger)
	if await.IsErr() {
		if c.signals.isCancelled() {
			return "", true
		}
		c.skipDevice(index, dev, "alignment", await.Error())
		return "", false
	}

	// Power sanity check. Recoverable per device, like alignment.
	c.setOperation("power_read")
	power := c.stage.ReadPower(ctx)
	if power.IsErr() {
		if c.signals.isCancelled() {
			return "", true
		}
		c.skipDevice(index, dev, "power_read", power.Error())
		return "", false
	}
	if power.Value() < c.cfg.MinPowerDBM {
		c.logger.Warn("Coupled power below threshold",
			zap.Int("device_index", index),
			zap.Float64("power_dbm", power.Value()),
			zap.Float64("threshold_dbm", c.cfg.MinPowerDBM))
	}

	// Analyzer path: any failure from here invalidates the rest of the run.
	c.setOperation("configure")
	if res := c.analyzer.Configure(ctx, dev.Sweep); res.IsErr() {
		if c.signals.isCancelled() {
			return "", true
		}
		c.emit(newErrorOccurred(index, "configure", res.Error()))
		return res.Error(), false
	}

	c.setOperation("sweep")
	sweep := c.analyzer.StartSweep(ctx)
	if sweep.IsErr() {
		if c.signals.isCancelled() {
			return "", true
		}
		c.emit(newErrorOccurred(index, "sweep", sweep.Error()))
		return sweep.Error(), false
	}
	swept := hardware.AwaitCompletion(ctx, c.analyzer.Sweep(), sweep.Value(), hardware.PollOptions{
		Interval: c.cfg.Intervals.Sweep,
		Timeout:  c.cfg.Timeouts.Sweep,
		Cancel:   c.signals.cancel,
	}, c.logger)
	if swept.IsErr() {
		if c.signals.isCancelled() {
			return "", true
		}
		c.emit(newErrorOccurred(index, "sweep", swept.Error()))
		return swept.Error(), false
	}

	c.setOperation("trace")
	trace := c.analyzer.FetchTrace(ctx)
	if trace.IsErr() {
		if c.signals.isCancelled() {
			return "", true
		}
		c.emit(newErrorOccurred(index, "trace", trace.Error()))
		return trace.Error(), false
	}

	c.recordOutcome(DeviceOutcome{Index: index, Name: dev.Name, Succeeded: true})
	c.emit(newMeasurementCompleted(index, trace.Value()))
	return "", false
}

// skipDevice records a per-device recoverable failure and moves on.
func (c *Controller) skipDevice(index int, dev DeviceSpec, operation, reason string) {
	c.logger.Warn("Device skipped",
		zap.Int("device_index", index),
		zap.String("operation", operation),
		zap.String("reason", reason))
	c.recordOutcome(DeviceOutcome{Index: index, Name: dev.Name, Operation: operation, Reason: reason})
	c.emit(newErrorOccurred(index, operation, reason))
	c.emit(newDeviceSkipped(index, reason))
}

// apply mediates every state change through the transition table. A
// rejected transition is a logic bug: the run is failed loudly with a
// distinguishable error, never ignored.
func (c *Controller) apply(event WorkflowEvent) bool {
	c.mu.Lock()
	res := Transition(c.state, event)
	if res.IsErr() {
		c.state = StateFailed
		c.lastError = "invariant violation: " + res.Error()
		c.mu.Unlock()
		c.logger.Error("State transition rejected",
			zap.String("event", string(event)),
			zap.String("reason", res.Error()))
		c.emit(newRunFailed("invariant violation: " + res.Error()))
		return false
	}
	c.state = res.Value()
	c.mu.Unlock()
	return true
}

func (c *Controller) terminateCancelled(deviceIndex int) {
	if !c.apply(EventCancel) {
		return
	}
	c.setOperation("")
	c.emit(newRunCancelled(deviceIndex))
	c.logger.Info("Run cancelled", zap.Int("device_index", deviceIndex))
}

func (c *Controller) failRun(reason string) {
	if !c.apply(EventFail) {
		return
	}
	c.mu.Lock()
	c.lastError = reason
	c.mu.Unlock()
	c.setOperation("")
	c.emit(newRunFailed(reason))
	c.logger.Error("Run failed", zap.String("reason", reason))
}

func (c *Controller) emit(event ProgressEvent) {
	c.events <- event
}

func (c *Controller) setOperation(op string) {
	c.mu.Lock()
	c.operation = op
	c.mu.Unlock()
}

func (c *Controller) recordOutcome(outcome DeviceOutcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, outcome)
	c.mu.Unlock()
}

func (c *Controller) summary() RunSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summaryLocked()
}

func (c *Controller) summaryLocked() RunSummary {
	summary := RunSummary{
		Total:   len(c.cfg.Devices),
		Devices: append([]DeviceOutcome(nil), c.outcomes...),
	}
	for _, o := range c.outcomes {
		if o.Succeeded {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	end := c.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	if !c.startedAt.IsZero() {
		summary.DurationSeconds = end.Sub(c.startedAt).Seconds()
	}
	return summary
}
