// Package consumer wires the store, registry, codec, ticker, and worker
// pool together into the running engine: AintQConsumer's Go counterpart.
//
// Coordinator owns every piece of state the workers share: how many slots
// are idle vs busy, whether the engine is still running, the single
// deferred-task ticker, and the anti-starvation break-flag race guard. In
// the source project all of this lives on a single event loop and needs no
// locking; here, because workers are real goroutines, it is guarded by one
// mutex exactly as the translation note in the expanded spec calls for.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/decentfox/aintq/internal/codec"
	"github.com/decentfox/aintq/internal/metrics"
	"github.com/decentfox/aintq/internal/registry"
	"github.com/decentfox/aintq/internal/store"
	"github.com/decentfox/aintq/internal/task"
	"github.com/decentfox/aintq/internal/ticker"
	"github.com/decentfox/aintq/internal/worker"
)

// vacuumEvery mirrors the source project's `% 256 == 0` deletion-sequence
// check that triggers a VACUUM ANALYZE.
const vacuumEvery = 256

// Coordinator runs a fixed-size pool of workers against a Store.
type Coordinator struct {
	id    string
	store *store.Store
	reg   *registry.Registry
	log   zerolog.Logger

	maxsize int
	sem     *semaphore.Weighted

	mu        sync.Mutex
	free      int
	size      int
	running   bool
	breakFlag bool
	tick      *ticker.Ticker

	workers []*worker.Worker
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// New returns a Coordinator that will run up to size concurrent workers
// against st, dispatching to handlers registered in reg.
func New(st *store.Store, reg *registry.Registry, size int, log zerolog.Logger) *Coordinator {
	if size <= 0 {
		size = 1
	}
	id := uuid.New().String()[:8]
	sem := semaphore.NewWeighted(int64(size))
	// NewWeighted starts with all size permits available, but the
	// wake-up protocol needs a Release-driven signal semaphore that
	// starts at zero (SPEC_FULL §3: "initial permits = 0"), since a
	// Release here has no matching prior Acquire — it is a wake-up
	// signal, not a lock handoff. Draining it immediately models that:
	// every worker then blocks in AcquireSlot until WakeUpOne or the
	// ticker releases a permit.
	if !sem.TryAcquire(int64(size)) {
		panic("consumer: failed to drain freshly created semaphore")
	}
	c := &Coordinator{
		id:      id,
		store:   st,
		reg:     reg,
		log:     log.With().Str("consumer_id", id).Logger(),
		maxsize: size,
		sem:     sem,
		running: true,
		free:    size,
		size:    size,
	}
	c.tick = ticker.New(c.onTick)
	c.workers = make([]*worker.Worker, 0, size)
	for i := 0; i < size; i++ {
		c.workers = append(c.workers, worker.New(fmt.Sprintf("worker-%d", i+1), c))
	}
	return c
}

// Run bootstraps the schema, spawns the worker pool, and blocks listening
// for new-task notifications until ctx is canceled or Stop is called. A
// failure of the LISTEN connection is fatal: the workers are stopped and the
// error is returned. Mirrors AintQConsumer.run: schema/trigger bootstrap, worker spawn, then
// a LISTEN loop that wakes a worker per notification.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("consumer: bootstrap: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	c.group = group

	for _, w := range c.workers {
		w := w
		group.Go(func() error {
			w.Run(groupCtx)
			return nil
		})
	}

	listener, err := c.store.Listen(runCtx, store.EnqueueChannel)
	if err != nil {
		cancel()
		_ = group.Wait()
		return fmt.Errorf("consumer: listen: %w", err)
	}
	defer listener.Close()

	c.log.Info().Int("workers", c.maxsize).Msg("consumer running")

	for {
		_, err := listener.WaitForNotification(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				break
			}
			c.log.Error().Err(err).Msg("notification wait failed")
			cancel()
			_ = group.Wait()
			return fmt.Errorf("consumer: listen: %w", err)
		}
		metrics.RecordNotification()
		c.sampleQueueDepth(runCtx)

		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			break
		}
		c.WakeUpOne()
	}

	return group.Wait()
}

// Stop signals every worker to exit after its current attempt, cancels the
// LISTEN loop, and waits for the pool to drain or ctx to expire.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.tick.Stop()

	// Canceling the run context unblocks any worker parked in
	// AcquireSlot, which treats a canceled context the same as a
	// shutdown signal.
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan error, 1)
	go func() { done <- c.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sampleQueueDepth refreshes the queue-depth gauge. Errors are logged and
// ignored; a failed sample just leaves the gauge at its last known value
// until the next notification.
func (c *Coordinator) sampleQueueDepth(ctx context.Context) {
	n, err := c.store.CountTasks(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to sample queue depth")
		return
	}
	metrics.SetQueueDepth(float64(n))
}

// onTick is called by the shared ticker when its armed timer fires.
func (c *Coordinator) onTick() {
	c.WakeUpOne()
}

// WakeUpOne wakes a single idle worker, or — if none are idle — flips the
// break-flag guard so that a worker already mid-step does not go back to
// sleep without noticing the new task. Mirrors _wake_up_one.
func (c *Coordinator) WakeUpOne() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.free > 0 {
		c.sem.Release(1)
		return
	}
	c.breakFlag = false
}

// --- worker.Handle implementation ---

// AcquireSlot blocks until a semaphore slot is available or ctx is done.
func (c *Coordinator) AcquireSlot(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

// ReleaseSlot returns a slot acquired via AcquireSlot without having run.
func (c *Coordinator) ReleaseSlot() {
	c.sem.Release(1)
}

// ShouldExit reports whether a worker should stop instead of continuing to
// drain, because the engine is shutting down or the live worker count
// exceeds the pool size.
func (c *Coordinator) ShouldExit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running || c.size > c.maxsize
}

// MarkAwakened records that a worker has left the idle pool.
func (c *Coordinator) MarkAwakened() {
	c.mu.Lock()
	if c.free > 0 {
		c.free--
	}
	free, size := c.free, c.size
	c.mu.Unlock()
	metrics.SetWorkerCounts(float64(free), float64(size))
}

// MarkIdle records that a worker has finished draining and gone back to
// sleep.
func (c *Coordinator) MarkIdle() {
	c.mu.Lock()
	c.free++
	free, size := c.free, c.size
	c.mu.Unlock()
	metrics.SetWorkerCounts(float64(free), float64(size))
}

// MarkExited records that a worker has permanently stopped. A worker only
// exits from the idle state, so it leaves both the live and idle counts.
func (c *Coordinator) MarkExited() {
	c.mu.Lock()
	c.size--
	if c.free > 0 {
		c.free--
	}
	free, size := c.free, c.size
	c.mu.Unlock()
	metrics.SetWorkerCounts(float64(free), float64(size))
}

// BeginAttempt starts the outer per-attempt transaction.
func (c *Coordinator) BeginAttempt(ctx context.Context) (worker.Tx, error) {
	return c.store.BeginAttempt(ctx)
}

// Dequeue runs the dequeue query against the attempt transaction.
func (c *Coordinator) Dequeue(ctx context.Context, tx worker.Tx) (*task.Task, error) {
	t, err := store.Dequeue(ctx, tx.(pgx.Tx))
	if err == nil && t != nil {
		metrics.RecordDequeue()
	}
	return t, err
}

// DeleteTask deletes the dequeued row within the attempt transaction.
func (c *Coordinator) DeleteTask(ctx context.Context, tx worker.Tx, ctid string) error {
	return store.DeleteTask(ctx, tx.(pgx.Tx), ctid)
}

// RunInSavepoint runs fn inside a nested savepoint transaction.
func (c *Coordinator) RunInSavepoint(ctx context.Context, tx worker.Tx, fn func(context.Context) error) error {
	return store.RunInSavepoint(ctx, tx.(pgx.Tx), fn)
}

// MaybeVacuum advances the deletion sequence and runs VACUUM ANALYZE every
// vacuumEvery deletions, in its own short-lived transaction since the
// attempt transaction has already committed by the time this is called.
func (c *Coordinator) MaybeVacuum(ctx context.Context) error {
	tx, err := c.store.BeginAttempt(ctx)
	if err != nil {
		return err
	}
	seq, err := store.NextDeleteSeq(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if seq%vacuumEvery != 0 {
		return nil
	}
	metrics.RecordVacuum()
	return c.store.Vacuum(ctx)
}

// Lookup resolves a task name to its registered handler.
func (c *Coordinator) Lookup(name string) (registry.Entry, error) {
	return c.reg.Lookup(name)
}

// Decode reverses the wire envelope produced by the producer package.
func (c *Coordinator) Decode(data []byte) ([]any, map[string]any, error) {
	return codec.Decode(data)
}

// ArmTicker schedules the shared ticker to fire after delay.
func (c *Coordinator) ArmTicker(delay time.Duration) {
	metrics.RecordTickerArmed()
	c.tick.Arm(delay)
}

// SetBreakFlag sets the race-guard flag a worker checks after each step.
func (c *Coordinator) SetBreakFlag(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakFlag = v
}

// BreakFlag reads the race-guard flag.
func (c *Coordinator) BreakFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakFlag
}

// Logger returns the coordinator's logger for worker use.
func (c *Coordinator) Logger() *zerolog.Logger {
	return &c.log
}
