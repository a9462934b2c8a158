package consumer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/decentfox/aintq/internal/registry"
)

func newTestCoordinator(size int) *Coordinator {
	return New(nil, registry.New(), size, zerolog.Nop())
}

func TestCoordinator_New_DefaultsSizeToOne(t *testing.T) {
	c := New(nil, registry.New(), 0, zerolog.Nop())
	assert.Equal(t, 1, c.maxsize)
	assert.Len(t, c.workers, 1)
}

func TestCoordinator_WakeUpOne_ReleasesWhenFree(t *testing.T) {
	c := newTestCoordinator(2)
	c.free = 1

	c.WakeUpOne()

	acquired := c.sem.TryAcquire(1)
	assert.True(t, acquired, "expected the permit released by WakeUpOne to be available")
}

func TestCoordinator_WakeUpOne_SetsBreakFlagFalseWhenNoneFree(t *testing.T) {
	c := newTestCoordinator(2)
	c.free = 0
	c.breakFlag = true

	c.WakeUpOne()

	assert.False(t, c.BreakFlag())
}

func TestCoordinator_MarkAwakenedAndIdle(t *testing.T) {
	c := newTestCoordinator(2)
	assert.Equal(t, 2, c.free)

	c.MarkAwakened()
	assert.Equal(t, 1, c.free)

	c.MarkIdle()
	assert.Equal(t, 2, c.free)
}

func TestCoordinator_MarkExited(t *testing.T) {
	c := newTestCoordinator(2)
	c.MarkExited()
	assert.Equal(t, 1, c.size)
}

func TestCoordinator_ShouldExit(t *testing.T) {
	c := newTestCoordinator(2)
	assert.False(t, c.ShouldExit())

	c.running = false
	assert.True(t, c.ShouldExit())
}

func TestCoordinator_ArmTicker_TriggersWakeUp(t *testing.T) {
	c := newTestCoordinator(2)
	c.free = 1

	c.ArmTicker(5 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.sem.TryAcquire(1)
	}, time.Second, time.Millisecond)
}

func TestCoordinator_BreakFlag_SetAndRead(t *testing.T) {
	c := newTestCoordinator(1)
	c.SetBreakFlag(true)
	assert.True(t, c.BreakFlag())
	c.SetBreakFlag(false)
	assert.False(t, c.BreakFlag())
}
