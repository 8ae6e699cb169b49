package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstRunsOnlyLastTask(t *testing.T) {
	clock := NewManualClock()
	d := New(800*time.Millisecond, WithTimers(clock.AfterFunc))

	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, d.Schedule(func() { ran = append(ran, i) }))
		clock.Advance(100 * time.Millisecond)
	}

	assert.Empty(t, ran, "nothing runs while edits keep arriving")
	assert.True(t, d.Pending())

	// The last task was scheduled at 400ms, so it is due at 1200ms.
	clock.Advance(699 * time.Millisecond)
	assert.Empty(t, ran)

	clock.Advance(time.Millisecond)
	assert.Equal(t, []int{4}, ran)
	assert.False(t, d.Pending())
}

func TestSeparatedCallsEachRun(t *testing.T) {
	clock := NewManualClock()
	d := New(800*time.Millisecond, WithTimers(clock.AfterFunc))

	count := 0
	d.Schedule(func() { count++ })
	clock.Advance(time.Second)
	d.Schedule(func() { count++ })
	clock.Advance(time.Second)

	assert.Equal(t, 2, count)
	assert.Equal(t, 0, clock.Active())
}

func TestZeroDelayRunsSynchronously(t *testing.T) {
	d := New(0)

	count := 0
	d.Schedule(func() { count++ })
	d.Schedule(func() { count++ })

	assert.Equal(t, 2, count)
	assert.False(t, d.Pending())
}

func TestFlushAndCancel(t *testing.T) {
	clock := NewManualClock()
	d := New(time.Second, WithTimers(clock.AfterFunc))

	count := 0
	assert.False(t, d.Flush())

	d.Schedule(func() { count++ })
	assert.True(t, d.Flush())
	assert.Equal(t, 1, count)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, count, "flushed task must not run again")

	d.Schedule(func() { count++ })
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, count)
}

func TestStopDisablesScheduling(t *testing.T) {
	clock := NewManualClock()
	d := New(time.Second, WithTimers(clock.AfterFunc))

	count := 0
	d.Schedule(func() { count++ })
	d.Stop()

	assert.False(t, d.Schedule(func() { count++ }))
	clock.Advance(5 * time.Second)
	assert.Equal(t, 0, count)
}

// A timer callback that lost the race with a newer Schedule must not run
// the superseded task.
func TestStaleFireIsIgnored(t *testing.T) {
	var fires []func()
	capture := func(_ time.Duration, f func()) Timer {
		fires = append(fires, f)
		return noopTimer{}
	}
	d := New(time.Second, WithTimers(capture))

	var ran []string
	d.Schedule(func() { ran = append(ran, "first") })
	d.Schedule(func() { ran = append(ran, "second") })
	require.Len(t, fires, 2)

	fires[0]()
	assert.Empty(t, ran)

	fires[1]()
	assert.Equal(t, []string{"second"}, ran)

	fires[1]()
	assert.Equal(t, []string{"second"}, ran, "a slot runs at most once")
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func TestRealTimersCoalesce(t *testing.T) {
	d := New(20 * time.Millisecond)

	var count int32
	var wg sync.WaitGroup
	wg.Add(1)
	for i := 0; i < 10; i++ {
		d.Schedule(func() {
			atomic.AddInt32(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestManualClockOrdering(t *testing.T) {
	clock := NewManualClock()

	var order []string
	clock.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	clock.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "a")
		clock.AfterFunc(5*time.Millisecond, func() { order = append(order, "a2") })
	})
	stopped := clock.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a", "a2"}, order)
	assert.Equal(t, 25*time.Millisecond, clock.Elapsed())

	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "a2", "c"}, order)
	assert.Equal(t, 0, clock.Active())
}
