package measure

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenfab/probeflow/internal/types"
	"go.uber.org/zap"
)

const subscriberBufferSize = 64

// EventSink receives every progress event in emission order, typically the
// WebSocket hub.
type EventSink interface {
	PublishEvent(event ProgressEvent)
}

// RunHandle identifies a started run.
type RunHandle struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

type subscriber struct {
	ch chan ProgressEvent
}

// Manager supervises at most one active measurement run per process: one
// physical setup, one run at a time, no queuing. It owns the control
// signals, fans progress events out to subscribers and the sink, and keeps
// a queryable status snapshot with a retention window after terminal runs.
type Manager struct {
	logger    *zap.Logger
	sink      EventSink
	retention time.Duration

	mu          sync.Mutex
	controller  *Controller
	done        chan struct{}
	lastEvent   ProgressEvent
	retainTimer *time.Timer
	subscribers map[uuid.UUID]*subscriber
}

func NewManager(logger *zap.Logger, retention time.Duration) *Manager {
	return &Manager{
		logger:      logger,
		retention:   retention,
		subscribers: make(map[uuid.UUID]*subscriber),
	}
}

// SetEventSink attaches the broadcast sink. Must be called before Start.
func (m *Manager) SetEventSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Start spawns a controller for the config as a background task and returns
// immediately. Errs when a run is already active.
func (m *Manager) Start(cfg RunConfig) types.Result[RunHandle] {
	if err := cfg.Validate(); err != nil {
		return types.Errf[RunHandle]("invalid run config: %s", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeLocked() {
		return types.Err[RunHandle]("a measurement run is already active")
	}
	if m.retainTimer != nil {
		m.retainTimer.Stop()
		m.retainTimer = nil
	}

	runID := uuid.NewString()
	ctrl := NewController(runID, cfg, m.logger)
	m.controller = ctrl
	m.lastEvent = nil
	m.done = make(chan struct{})

	go ctrl.Run(context.Background())
	go m.forward(ctrl, m.done)

	m.logger.Info("Run started",
		zap.String("run_id", runID),
		zap.String("plan_id", cfg.PlanID),
		zap.Int("devices", len(cfg.Devices)))

	return types.Ok(RunHandle{RunID: runID, StartedAt: time.Now()})
}

// Pause requests suspension at the controller's next checkpoint.
func (m *Manager) Pause() types.Result[types.Unit] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return types.Err[types.Unit]("no active measurement run")
	}
	if m.controller.State() != StateRunning {
		return types.Errf[types.Unit]("cannot pause from %s state", m.controller.State())
	}
	if !m.controller.Pause() {
		return types.Err[types.Unit]("pause already requested")
	}
	return types.Ok(types.Unit{})
}

// Resume releases a paused run.
func (m *Manager) Resume() types.Result[types.Unit] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return types.Err[types.Unit]("no active measurement run")
	}
	if !m.controller.Resume() {
		return types.Err[types.Unit]("run is not paused")
	}
	return types.Ok(types.Unit{})
}

// Cancel requests cooperative termination. The controller reaches a
// terminal state within one operation timeout plus one poll interval.
func (m *Manager) Cancel() types.Result[types.Unit] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return types.Err[types.Unit]("no active measurement run")
	}
	m.controller.Cancel()
	return types.Ok(types.Unit{})
}

// Status returns the current state and last progress event without blocking
// the running task. With no run (or after retention) it reports Idle.
func (m *Manager) Status() StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controller == nil {
		return StatusSnapshot{State: StateIdle}
	}
	snap := m.controller.Snapshot()
	snap.LastEvent = m.lastEvent
	return snap
}

// Subscribe registers a listener receiving every event from this point
// forward. Late subscribers do not receive history. A subscriber that stops
// draining its buffer is dropped silently.
func (m *Manager) Subscribe() (uuid.UUID, <-chan ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	sub := &subscriber{ch: make(chan ProgressEvent, subscriberBufferSize)}
	m.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a listener and closes its channel.
func (m *Manager) Unsubscribe(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropSubscriberLocked(id)
}

// Wait blocks until the current run's event stream is fully drained.
// Intended for shutdown and tests.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Manager) activeLocked() bool {
	if m.controller == nil || m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// forward drains the controller's event stream, preserving FIFO order per
// subscriber, and arms the retention timer once the run terminates.
func (m *Manager) forward(ctrl *Controller, done chan struct{}) {
	for event := range ctrl.Events() {
		m.dispatch(event)
	}
	close(done)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controller != ctrl || m.retention <= 0 {
		return
	}
	m.retainTimer = time.AfterFunc(m.retention, func() { m.expire(ctrl) })
}

func (m *Manager) dispatch(event ProgressEvent) {
	m.mu.Lock()
	m.lastEvent = event
	sink := m.sink
	var full []uuid.UUID
	for id, sub := range m.subscribers {
		select {
		case sub.ch <- event:
		default:
			full = append(full, id)
		}
	}
	for _, id := range full {
		m.dropSubscriberLocked(id)
		m.logger.Warn("Subscriber buffer full, dropping", zap.String("subscriber_id", id.String()))
	}
	m.mu.Unlock()

	if sink != nil {
		sink.PublishEvent(event)
	}
}

func (m *Manager) dropSubscriberLocked(id uuid.UUID) {
	if sub, ok := m.subscribers[id]; ok {
		delete(m.subscribers, id)
		close(sub.ch)
	}
}

// expire drops a terminal run's snapshot after the retention window.
func (m *Manager) expire(ctrl *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controller == ctrl {
		m.controller = nil
		m.lastEvent = nil
		m.done = nil
	}
}
