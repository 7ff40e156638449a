// Package tasklog records one lifecycle operation's step-by-step progress
// as an append-only log with a monotonic terminal status (§4.G).
package tasklog

import (
	"time"

	"github.com/cuemby/tarantoolctl/pkg/log"
	"github.com/cuemby/tarantoolctl/pkg/metrics"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Task wraps a types.Task with the logging and metrics side effects of
// recording its progress. The discriminant (types.TaskType) replaces a
// class hierarchy per the task taxonomy the corpus already uses.
type Task struct {
	record *types.Task
	logger zerolog.Logger
	op     string
	timer  *metrics.Timer
	done   bool
}

// New starts a task of the given type for groupID, status RUNNING.
func New(taskType types.TaskType, groupID string) *Task {
	record := &types.Task{
		ID:      uuid.New().String(),
		Type:    taskType,
		GroupID: groupID,
		Status:  types.TaskRunning,
	}

	op := string(taskType)
	return &Task{
		record: record,
		logger: log.WithGroupID(groupID).With().Str("task_id", record.ID).Str("op", op).Logger(),
		op:     op,
		timer:  metrics.NewTimer(),
	}
}

// Step appends a timestamped message and logs it before the caller
// performs the corresponding side effect, per §4.G ("every lifecycle step
// appends a human-readable message ... before performing its side
// effect").
func (t *Task) Step(message string) {
	t.record.Messages = append(t.record.Messages, types.TaskMessage{
		At:      time.Now(),
		Message: message,
	})
	t.logger.Info().Msg(message)
}

// Succeed marks the task SUCCESS. Calling it more than once, or after
// Fail, is a programming error the caller should avoid; the status
// transition is monotonic (RUNNING -> {SUCCESS|CRITICAL}).
func (t *Task) Succeed() *types.Task {
	t.finish(types.TaskSuccess, "")
	return t.record
}

// Fail marks the task CRITICAL with err's message as the terminal error.
func (t *Task) Fail(err error) *types.Task {
	t.finish(types.TaskCritical, err.Error())
	return t.record
}

func (t *Task) finish(status types.TaskStatus, errMsg string) {
	if t.done {
		return
	}
	t.done = true
	t.record.Status = status
	t.record.Error = errMsg

	t.timer.ObserveDurationVec(metrics.LifecycleOperationDuration, t.op)
	metrics.LifecycleOperationsTotal.WithLabelValues(t.op, string(status)).Inc()

	ev := t.logger.Info()
	if status == types.TaskCritical {
		ev = t.logger.Error()
	}
	ev.Str("status", string(status)).Msg("task finished")
}

// Record returns the underlying types.Task as it stands so far, without
// finishing it. Useful for progress reporting while an operation is still
// running.
func (t *Task) Record() *types.Task {
	return t.record
}
