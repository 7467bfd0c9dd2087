package hardware

// TaskStatus is the lifecycle state reported by an instrument service for an
// asynchronous operation.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the task will make no further progress.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a read-only snapshot of an asynchronous hardware operation. The
// orchestration core never mutates tasks, it only observes snapshots
// returned by polling.
type Task struct {
	ID              string     `json:"task_id"`
	Status          TaskStatus `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	Phase           string     `json:"phase,omitempty"`
	Error           string     `json:"error,omitempty"`
}
