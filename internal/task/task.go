// Package task defines the row representation of a queued unit of work.
//
// A Task has no persisted state machine: its existence as a row in the
// table is the only state that matters. Once a worker has run it (or
// decided not to), the row is deleted unconditionally. This mirrors
// aintq.task.Task from the source project rather than the teacher's
// Redis-backed Task, which tracked attempts/results/timeouts across a
// multi-state lifecycle that this system does not have.
package task

import (
	"errors"
	"time"
)

// ErrInvalidRow describes a dequeued row that cannot be scanned into a Task.
// No function in this module returns it: store.Dequeue wraps scan errors
// itself, and payloads the codec rejects are reported by codec.Decode.
var ErrInvalidRow = errors.New("task: invalid row")

// Task is a single queued unit of work as read back from the database.
type Task struct {
	// CTID is the physical row identifier of this task, valid only for the
	// lifetime of the transaction that dequeued it. It is used to target
	// the DELETE that retires the row after execution.
	CTID string

	// ID breaks ties between tasks that share the same Schedule so dequeue
	// order is deterministic. Assigned by the database on insert.
	ID int64

	// Schedule is when the task becomes eligible to run. A nil Schedule
	// means "eligible immediately".
	Schedule *time.Time

	// Name identifies the registered handler that should run this task.
	Name string

	// Params is the codec-encoded argument envelope.
	Params []byte

	// Delay is seconds until Schedule, as computed by the dequeue query's
	// EXTRACT(EPOCH FROM ...) expression. Negative or zero means due now;
	// positive means the task was returned only so the caller can arm a
	// timer for it, not so it can run yet.
	Delay *float64
}

// Due reports whether the task is eligible to run now.
func (t *Task) Due() bool {
	return t.Delay == nil || *t.Delay <= 0
}
