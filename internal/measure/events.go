package measure

import (
	"time"

	"github.com/lumenfab/probeflow/internal/hardware"
)

// EventKind discriminates progress event variants on the wire.
type EventKind string

const (
	KindRunStarted           EventKind = "run_started"
	KindDeviceStarted        EventKind = "device_started"
	KindAlignmentProgress    EventKind = "alignment_progress"
	KindMeasurementCompleted EventKind = "measurement_completed"
	KindErrorOccurred        EventKind = "error_occurred"
	KindDeviceSkipped        EventKind = "device_skipped"
	KindRunPaused            EventKind = "run_paused"
	KindRunResumed           EventKind = "run_resumed"
	KindRunCompleted         EventKind = "run_completed"
	KindRunCancelled         EventKind = "run_cancelled"
	KindRunFailed            EventKind = "run_failed"
)

// ProgressEvent is an immutable, timestamped record describing workflow
// progress or failure. Events are emitted in strict order by the controller
// and carry enough context to reconstruct the run's history.
type ProgressEvent interface {
	Kind() EventKind
	At() time.Time
}

// Header carries the discriminant and emission time shared by all variants.
// Embedding it flattens "type" and "timestamp" into each variant's JSON.
type Header struct {
	Type      EventKind `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (h Header) Kind() EventKind { return h.Type }
func (h Header) At() time.Time   { return h.Timestamp }

func newHeader(kind EventKind) Header {
	return Header{Type: kind, Timestamp: time.Now()}
}

type RunStarted struct {
	Header
	RunID        string `json:"run_id"`
	TotalDevices int    `json:"total_devices"`
}

type DeviceStarted struct {
	Header
	DeviceIndex int    `json:"device_index"`
	DeviceName  string `json:"device_name,omitempty"`
}

type AlignmentProgress struct {
	Header
	DeviceIndex int     `json:"device_index"`
	Phase       string  `json:"phase"`
	Percent     float64 `json:"percent"`
}

type MeasurementCompleted struct {
	Header
	DeviceIndex  int                   `json:"device_index"`
	TraceSummary hardware.TraceSummary `json:"trace_summary"`
}

type ErrorOccurred struct {
	Header
	DeviceIndex int    `json:"device_index"`
	Operation   string `json:"operation"`
	Reason      string `json:"reason"`
}

type DeviceSkipped struct {
	Header
	DeviceIndex int    `json:"device_index"`
	Reason      string `json:"reason"`
}

type RunPaused struct {
	Header
	DeviceIndex int `json:"device_index"`
}

type RunResumed struct {
	Header
	DeviceIndex int `json:"device_index"`
}

type RunCompleted struct {
	Header
	Summary RunSummary `json:"summary"`
}

type RunCancelled struct {
	Header
	DeviceIndex int `json:"device_index"`
}

type RunFailed struct {
	Header
	Reason string `json:"reason"`
}

func newRunStarted(runID string, total int) RunStarted {
	return RunStarted{Header: newHeader(KindRunStarted), RunID: runID, TotalDevices: total}
}

func newDeviceStarted(index int, name string) DeviceStarted {
	return DeviceStarted{Header: newHeader(KindDeviceStarted), DeviceIndex: index, DeviceName: name}
}

func newAlignmentProgress(index int, phase string, percent float64) AlignmentProgress {
	return AlignmentProgress{Header: newHeader(KindAlignmentProgress), DeviceIndex: index, Phase: phase, Percent: percent}
}

func newMeasurementCompleted(index int, summary hardware.TraceSummary) MeasurementCompleted {
	return MeasurementCompleted{Header: newHeader(KindMeasurementCompleted), DeviceIndex: index, TraceSummary: summary}
}

func newErrorOccurred(index int, operation, reason string) ErrorOccurred {
	return ErrorOccurred{Header: newHeader(KindErrorOccurred), DeviceIndex: index, Operation: operation, Reason: reason}
}

func newDeviceSkipped(index int, reason string) DeviceSkipped {
	return DeviceSkipped{Header: newHeader(KindDeviceSkipped), DeviceIndex: index, Reason: reason}
}

func newRunPaused(index int) RunPaused {
	return RunPaused{Header: newHeader(KindRunPaused), DeviceIndex: index}
}

func newRunResumed(index int) RunResumed {
	return RunResumed{Header: newHeader(KindRunResumed), DeviceIndex: index}
}

func newRunCompleted(summary RunSummary) RunCompleted {
	return RunCompleted{Header: newHeader(KindRunCompleted), Summary: summary}
}

func newRunCancelled(index int) RunCancelled {
	return RunCancelled{Header: newHeader(KindRunCancelled), DeviceIndex: index}
}

func newRunFailed(reason string) RunFailed {
	return RunFailed{Header: newHeader(KindRunFailed), Reason: reason}
}
