package hardware

import (
	"context"
	"time"

	"github.com/lumenfab/probeflow/internal/types"
	"go.uber.org/zap"
)

// TaskAPI is the submit-side contract a pollable hardware operation exposes:
// an idempotent status read and a best-effort abort.
type TaskAPI interface {
	Poll(ctx context.Context, taskID string) types.Result[Task]
	Cancel(ctx context.Context, taskID string) types.Result[types.Unit]
}

// PollOptions controls a single AwaitCompletion call. The interval is fixed,
// no backoff: these are short-lived, latency-sensitive hardware operations.
type PollOptions struct {
	Interval   time.Duration
	Timeout    time.Duration
	Cancel     <-chan struct{} // closed when the caller wants to abort
	OnProgress func(Task)      // invoked on every successful poll
}

// AwaitCompletion drives a submitted hardware task to a terminal status.
// Timeout and caller cancellation both issue a best-effort hardware cancel
// before unwinding, and are observed within one poll interval. A failing
// status endpoint propagates immediately, it must not stall the run.
func AwaitCompletion(ctx context.Context, api TaskAPI, taskID string, opts PollOptions, logger *zap.Logger) types.Result[Task] {
	deadline := time.Now().Add(opts.Timeout)

	for {
		if time.Now().After(deadline) {
			logger.Warn("Hardware task timed out",
				zap.String("task_id", taskID),
				zap.Duration("timeout", opts.Timeout))
			abort(ctx, api, taskID, logger)
			return types.Errf[Task]("timeout after %s waiting for task %s", opts.Timeout, taskID)
		}

		select {
		case <-opts.Cancel:
			abort(ctx, api, taskID, logger)
			return types.Errf[Task]("cancelled by caller")
		case <-ctx.Done():
			abort(context.Background(), api, taskID, logger)
			return types.Errf[Task]("cancelled by caller")
		default:
		}

		res := api.Poll(ctx, taskID)
		if res.IsErr() {
			return res
		}

		task := res.Value()
		if opts.OnProgress != nil {
			opts.OnProgress(task)
		}

		switch task.Status {
		case TaskCompleted:
			return types.Ok(task)
		case TaskFailed:
			return types.Errf[Task]("task %s failed: %s", taskID, task.Error)
		case TaskCancelled:
			return types.Errf[Task]("task %s cancelled by hardware", taskID)
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-timer.C:
		case <-opts.Cancel:
			timer.Stop()
			abort(ctx, api, taskID, logger)
			return types.Errf[Task]("cancelled by caller")
		case <-ctx.Done():
			timer.Stop()
			abort(context.Background(), api, taskID, logger)
			return types.Errf[Task]("cancelled by caller")
		}
	}
}

// abort issues a best-effort hardware cancel. Failure is logged only: the
// task may already have reached a terminal state.
func abort(ctx context.Context, api TaskAPI, taskID string, logger *zap.Logger) {
	if res := api.Cancel(ctx, taskID); res.IsErr() {
		logger.Warn("Hardware cancel rejected",
			zap.String("task_id", taskID),
			zap.String("reason", res.Error()))
	}
}
