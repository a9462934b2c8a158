// Package ticker implements the single shared deferred-task timer used by
// the consumer engine.
//
// Exactly one timer is armed at a time for the earliest known not-yet-due
// task. Workers that dequeue a not-due task call Arm; if a not-due task with
// an earlier due time is discovered later, Arm replaces the existing timer
// rather than letting both fire. This mirrors _tick/_ticker/_next_tick in
// the source project's AintQConsumer, translated from asyncio's
// loop.call_at (monotonic loop-time deadlines) to time.Timer durations and
// time.Now deadlines, both of which run off Go's monotonic clock, since Go
// has no direct equivalent of asyncio's event-loop clock.
package ticker

import (
	"sync"
	"time"
)

// Ticker holds at most one pending timer and invokes fire when it expires.
type Ticker struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	fire     func()
}

// New returns a Ticker that calls fire when its armed timer expires. fire
// is invoked from the timer's own goroutine and must not block.
func New(fire func()) *Ticker {
	return &Ticker{fire: fire}
}

// Arm schedules fire to run after delay, unless a timer is already armed
// for an earlier deadline, in which case the request is ignored. If a timer
// is armed for a later deadline, it is replaced.
func (t *Ticker) Arm(delay time.Duration) {
	deadline := time.Now().Add(delay)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		if !deadline.Before(t.deadline) {
			return
		}
		t.timer.Stop()
		t.timer = nil
	}

	t.deadline = deadline
	t.timer = time.AfterFunc(delay, t.onFire)
}

// onFire clears the armed timer before invoking the caller's callback, so
// that a fire triggered concurrently with a new Arm call does not race on
// stale state.
func (t *Ticker) onFire() {
	t.mu.Lock()
	t.timer = nil
	t.mu.Unlock()
	t.fire()
}

// Stop cancels any pending timer without firing it.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
