// Package scheduler provides a latest-wins debouncer with a single task slot.
//
// Each Schedule replaces whatever task is pending and restarts the quiet
// period, so a burst of calls runs only the last task, once, after the burst
// ends. Timers come from an injectable factory so tests can drive time by
// hand with ManualClock.
package scheduler

import (
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a timer that calls f once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// RealTimers uses the runtime timer.
func RealTimers(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer holds at most one pending task.
type Debouncer struct {
	mu        sync.Mutex
	delay     time.Duration
	afterFunc AfterFunc
	timer     Timer
	pending   func()
	seq       uint64
	stopped   bool

	// runMu serializes task execution so two tasks never overlap.
	runMu sync.Mutex
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithTimers replaces the timer factory.
func WithTimers(af AfterFunc) Option {
	return func(d *Debouncer) {
		if af != nil {
			d.afterFunc = af
		}
	}
}

// New creates a debouncer with the given quiet period. A delay of zero or less
// runs every scheduled task synchronously.
func New(delay time.Duration, opts ...Option) *Debouncer {
	d := &Debouncer{
		delay:     delay,
		afterFunc: RealTimers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Delay returns the quiet period.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Schedule replaces the pending task with task and restarts the quiet period.
// It returns false if the debouncer has been stopped.
func (d *Debouncer) Schedule(task func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}

	d.cancelLocked()

	if d.delay <= 0 {
		d.mu.Unlock()
		d.run(task)
		return true
	}

	d.pending = task
	seq := d.seq
	d.timer = d.afterFunc(d.delay, func() {
		d.fire(seq)
	})
	d.mu.Unlock()

	return true
}

// Flush runs the pending task now, if any, and reports whether one ran.
// It must not be called from inside a scheduled task.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	task := d.pending
	if task == nil {
		d.mu.Unlock()
		return false
	}
	d.cancelLocked()
	d.mu.Unlock()

	d.run(task)
	return true
}

// Cancel drops the pending task without running it.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	had := d.pending != nil
	d.cancelLocked()
	return had
}

// Stop cancels the pending task and disables further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.stopped = true
}

// Pending reports whether a task is waiting for its timer.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// cancelLocked invalidates the current slot. The sequence bump makes a timer
// that already fired and is blocked on mu find nothing to run.
func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.seq++
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq || d.pending == nil || d.stopped {
		d.mu.Unlock()
		return
	}
	task := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	d.run(task)
}

func (d *Debouncer) run(task func()) {
	if task == nil {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	task()
}
