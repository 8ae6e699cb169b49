package scheduler

import (
	"sync"
	"time"
)

// ManualClock is a timer factory whose time only moves when Advance is
// called. Timers fire synchronously on the goroutine calling Advance, in
// deadline order, ties broken by creation order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock  *ManualClock
	at     time.Duration
	f      func()
	active bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	was := t.active
	t.active = false
	return was
}

// NewManualClock returns a clock at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// AfterFunc satisfies the AfterFunc signature.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, at: c.now + d, f: f, active: true}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing every timer that comes due.
// Timers created by callbacks are honored if they fall inside the window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.compactLocked()
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.active = false
		c.mu.Unlock()

		next.f()
	}
}

// Elapsed returns the total time advanced so far.
func (c *ManualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Active returns the number of timers that have neither fired nor been
// stopped.
func (c *ManualClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if t.active {
			n++
		}
	}
	return n
}

func (c *ManualClock) nextDueLocked(target time.Duration) *manualTimer {
	var next *manualTimer
	for _, t := range c.timers {
		if !t.active || t.at > target {
			continue
		}
		if next == nil || t.at < next.at {
			next = t
		}
	}
	return next
}

func (c *ManualClock) compactLocked() {
	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.active {
			kept = append(kept, t)
		}
	}
	c.timers = kept
}
