package measure

import (
	"github.com/lumenfab/probeflow/internal/types"
)

// RunState is the workflow-level state of a measurement run. States are
// replaced wholesale on transition, never mutated in place.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateCalibrating RunState = "calibrating"
	StateRunning     RunState = "running"
	StatePaused      RunState = "paused"
	StateCompleted   RunState = "completed"
	StateFailed      RunState = "failed"
	StateCancelled   RunState = "cancelled"
)

// IsTerminal reports whether the state has no outgoing transitions.
func (s RunState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// WorkflowEvent drives the run state machine.
type WorkflowEvent string

const (
	EventStartMeasurement    WorkflowEvent = "start_measurement"
	EventCalibrationComplete WorkflowEvent = "calibration_complete"
	EventPause               WorkflowEvent = "pause"
	EventResume              WorkflowEvent = "resume"
	EventComplete            WorkflowEvent = "complete"
	EventCancel              WorkflowEvent = "cancel"
	EventFail                WorkflowEvent = "fail"
)

// transitions is the complete table of legal state changes. Anything not
// listed here is rejected.
var transitions = map[RunState]map[WorkflowEvent]RunState{
	StateIdle: {
		EventStartMeasurement: StateCalibrating,
	},
	StateCalibrating: {
		EventCalibrationComplete: StateRunning,
		EventCancel:              StateCancelled,
		EventFail:                StateFailed,
	},
	StateRunning: {
		EventPause:    StatePaused,
		EventComplete: StateCompleted,
		EventCancel:   StateCancelled,
		EventFail:     StateFailed,
	},
	StatePaused: {
		EventResume: StateRunning,
		EventCancel: StateCancelled,
	},
}

// Transition validates and applies a workflow event to a state. It is a pure
// function: an illegal pair returns Err and the caller's state is untouched.
func Transition(current RunState, event WorkflowEvent) types.Result[RunState] {
	next, ok := transitions[current][event]
	if !ok {
		return types.Errf[RunState]("invalid transition: %s + %s", current, event)
	}
	return types.Ok(next)
}
