// Package worker implements the per-goroutine dequeue-execute-delete loop
// that pulls tasks off the queue and runs them.
//
// A Worker spends most of its life idle, parked on a semaphore acquire. Once
// woken, it drains the queue until it is either empty or the next row is not
// yet due, then goes back to sleep. The outer loop and its accounting
// (semaphore, ticker, break-flag race guard) are adapted from
// AintQConsumer.worker/_work in the source project; the panic recovery and
// context-deadline translation around the actual handler call are adapted
// from the teacher's Executor.Execute.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/decentfox/aintq/internal/metrics"
	"github.com/decentfox/aintq/internal/registry"
	"github.com/decentfox/aintq/internal/task"
)

// Tx is the narrow slice of *pgx.Tx the outer drain loop needs directly.
// Worker never imports pgx itself; the coordinator's Handle implementation
// hands back its real *pgx.Tx, which satisfies this interface, and
// type-asserts it back on the way into store calls.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// State describes where a Worker is in its lifecycle.
type State int

const (
	// StateIdle is parked waiting for a semaphore slot.
	StateIdle State = iota
	// StateAwakened has acquired a slot and is about to start draining.
	StateAwakened
	// StateWorking is actively dequeuing and running tasks.
	StateWorking
	// StateExited has permanently stopped, either on shutdown or because
	// the live worker count exceeds the pool size.
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwakened:
		return "awakened"
	case StateWorking:
		return "working"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Errors returned by invoke, translated from context cancellation the same
// way the teacher's Executor does.
var (
	ErrTaskTimeout  = errors.New("task execution timed out")
	ErrTaskCanceled = errors.New("task execution canceled")
)

// Handle is the coordinator-side surface a Worker needs. It is implemented
// by *consumer.Coordinator; defining it here (rather than importing the
// consumer package) keeps worker free of a dependency on its own caller.
type Handle interface {
	AcquireSlot(ctx context.Context) error
	ReleaseSlot()
	ShouldExit() bool
	MarkAwakened()
	MarkIdle()
	MarkExited()

	BeginAttempt(ctx context.Context) (Tx, error)
	Dequeue(ctx context.Context, tx Tx) (*task.Task, error)
	DeleteTask(ctx context.Context, tx Tx, ctid string) error
	RunInSavepoint(ctx context.Context, tx Tx, fn func(context.Context) error) error
	MaybeVacuum(ctx context.Context) error

	Lookup(name string) (registry.Entry, error)
	Decode(data []byte) (args []any, kwargs map[string]any, err error)

	ArmTicker(delay time.Duration)
	WakeUpOne()
	SetBreakFlag(v bool)
	BreakFlag() bool

	Logger() *zerolog.Logger
}

// Worker runs the outer acquire/drain/sleep loop against a Handle.
type Worker struct {
	id     string
	handle Handle
}

// New returns a Worker identified by id, used only for logging.
func New(id string, handle Handle) *Worker {
	return &Worker{id: id, handle: handle}
}

// Run blocks until ctx is canceled or the worker is told to exit. It is
// meant to be launched in its own goroutine by the coordinator.
func (w *Worker) Run(ctx context.Context) {
	log := w.handle.Logger().With().Str("worker", w.id).Logger()
	log.Info().Msg("worker started")
	defer w.handle.MarkExited()

	for {
		if err := w.handle.AcquireSlot(ctx); err != nil {
			log.Debug().Msg("worker stopping: context done while idle")
			return
		}
		if w.handle.ShouldExit() {
			w.handle.ReleaseSlot()
			return
		}

		w.handle.MarkAwakened()
		log.Debug().Msg("awoken")

		w.drain(ctx, &log)

		w.handle.MarkIdle()
		log.Debug().Msg("sleep")
	}
}

// signal is the per-attempt break/continue decision a step hands back to
// drain, mirroring the truthy/falsy return of the source project's _work:
// a due task always continues the drain regardless of the race-guard flag,
// while an empty or not-yet-due queue defers to the flag.
type signal int

const (
	signalContinue signal = iota
	signalBreak
)

// drain repeatedly runs one dequeue-execute-delete attempt until a step
// returns signalBreak or the worker is told to stop.
func (w *Worker) drain(ctx context.Context, log *zerolog.Logger) {
	for {
		if w.handle.ShouldExit() {
			return
		}

		tx, err := w.handle.BeginAttempt(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to begin attempt")
			return
		}

		sig, err := w.step(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			log.Error().Err(err).Msg("step failed")
			continue
		}

		if err := tx.Commit(ctx); err != nil {
			log.Error().Err(err).Msg("failed to commit attempt")
			return
		}

		if sig == signalBreak {
			return
		}

		if err := w.handle.MaybeVacuum(ctx); err != nil {
			log.Warn().Err(err).Msg("periodic vacuum failed")
		}
	}
}

// step is the single dequeue-execute-delete attempt, equivalent to _work in
// the source project. Dequeuing and locking the row happens first to avoid
// deadlocking with other workers.
func (w *Worker) step(ctx context.Context, tx Tx) (signal, error) {
	w.handle.SetBreakFlag(true)

	t, err := w.handle.Dequeue(ctx, tx)
	if err != nil {
		return signalBreak, fmt.Errorf("dequeue: %w", err)
	}
	if t == nil {
		return w.raceGuardSignal(), nil
	}

	if !t.Due() {
		w.handle.ArmTicker(time.Duration(*t.Delay * float64(time.Second)))
		return w.raceGuardSignal(), nil
	}

	w.handle.WakeUpOne()
	w.runTask(ctx, tx, t)

	if err := w.handle.DeleteTask(ctx, tx, t.CTID); err != nil {
		return signalBreak, fmt.Errorf("delete task: %w", err)
	}
	// A due task always keeps the worker draining: there may be more due
	// rows behind it, and the race-guard flag only decides whether an
	// *empty* or *not-yet-due* queue is really quiet.
	return signalContinue, nil
}

// raceGuardSignal translates the current break-flag into a signal, for the
// empty-queue and not-yet-due branches of step.
func (w *Worker) raceGuardSignal() signal {
	if w.handle.BreakFlag() {
		return signalBreak
	}
	return signalContinue
}

// runTask looks up and invokes the handler registered for t.Name. Any
// failure is logged but never propagated: the row is always deleted
// afterward so a bad task cannot wedge the queue.
func (w *Worker) runTask(ctx context.Context, tx Tx, t *task.Task) {
	log := w.handle.Logger()
	start := time.Now()

	entry, err := w.handle.Lookup(t.Name)
	if err != nil {
		log.Warn().Str("name", t.Name).Msg("no handler registered for task")
		metrics.RecordHandlerNotFound(t.Name)
		return
	}

	args, kwargs, err := w.handle.Decode(t.Params)
	if err != nil {
		log.Error().Err(err).Str("name", t.Name).Msg("failed to decode task params")
		metrics.RecordTaskCompletion(t.Name, "decode_error", time.Since(start).Seconds())
		return
	}

	var runErr error
	switch entry.Kind {
	case registry.KindSync:
		runErr = w.handle.RunInSavepoint(ctx, tx, func(ctx context.Context) error {
			return w.invoke(ctx, t, func(ctx context.Context) error {
				return entry.Sync(ctx, args, kwargs)
			})
		})
	case registry.KindAsync:
		runErr = w.invoke(ctx, t, func(ctx context.Context) error {
			return entry.Async(ctx, args, kwargs)
		})
	}

	outcome := "success"
	if runErr != nil {
		outcome = "error"
		log.Error().Err(runErr).Str("name", t.Name).Str("ctid", t.CTID).Msg("task failed")
	} else {
		log.Debug().Str("name", t.Name).Str("ctid", t.CTID).Msg("task succeeded")
	}
	metrics.RecordTaskCompletion(t.Name, outcome, time.Since(start).Seconds())
}

// invoke calls fn with panic recovery and translates context cancellation
// into sentinel errors, the same shape as the teacher's Executor.Execute.
func (w *Worker) invoke(ctx context.Context, t *task.Task, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.handle.Logger().Error().
				Str("name", t.Name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	err = fn(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTaskTimeout
		}
		if errors.Is(err, context.Canceled) {
			return ErrTaskCanceled
		}
		return err
	}
	return nil
}
