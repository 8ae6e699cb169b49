package sandbox

import (
	"context"
	"math"
	"time"

	"github.com/dop251/goja"
)

// minInterval keeps zero-delay intervals from spinning in place.
const minInterval = 4 * time.Millisecond

type timer struct {
	id       int64
	due      time.Duration
	seq      uint64
	interval time.Duration
	repeat   bool
	fn       goja.Value
	code     string
	args     []goja.Value
}

// timerQueue holds pending timers against a virtual clock that only moves
// when the context drains it.
type timerQueue struct {
	now    time.Duration
	nextID int64
	seq    uint64
	timers map[int64]*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{timers: make(map[int64]*timer)}
}

func (q *timerQueue) add(t *timer) int64 {
	q.nextID++
	q.seq++
	t.id = q.nextID
	t.seq = q.seq
	q.timers[t.id] = t
	return t.id
}

func (q *timerQueue) remove(id int64) {
	delete(q.timers, id)
}

// next returns the earliest timer due at or before limit. Timers due at the
// same instant run in the order they were scheduled.
func (q *timerQueue) next(limit time.Duration) *timer {
	var best *timer
	for _, t := range q.timers {
		if t.due > limit {
			continue
		}
		if best == nil || t.due < best.due || (t.due == best.due && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (q *timerQueue) reset() {
	q.timers = make(map[int64]*timer)
}

func (q *timerQueue) Len() int {
	return len(q.timers)
}

func delayOf(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	ms := v.ToFloat()
	if math.IsNaN(ms) || ms <= 0 {
		return 0
	}
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (c *Context) schedule(call goja.FunctionCall, repeat bool) goja.Value {
	delay := delayOf(call.Argument(1))
	t := &timer{repeat: repeat}
	if repeat {
		t.interval = max(delay, minInterval)
		delay = t.interval
	}
	t.due = c.timers.now + delay

	handler := call.Argument(0)
	if _, ok := goja.AssertFunction(handler); ok {
		t.fn = handler
	} else {
		t.code = handler.String()
	}
	if len(call.Arguments) > 2 {
		t.args = append([]goja.Value(nil), call.Arguments[2:]...)
	}
	return c.vm.ToValue(c.timers.add(t))
}

func (c *Context) installTimers(global *goja.Object) error {
	set := func(name string, fn func(goja.FunctionCall) goja.Value) error {
		return global.Set(name, fn)
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		c.timers.remove(call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	if err := set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return c.schedule(call, false)
	}); err != nil {
		return err
	}
	if err := set("setInterval", func(call goja.FunctionCall) goja.Value {
		return c.schedule(call, true)
	}); err != nil {
		return err
	}
	if err := set("clearTimeout", cancel); err != nil {
		return err
	}
	return set("clearInterval", cancel)
}

func (c *Context) runTimer(t *timer) error {
	if t.fn == nil {
		if t.code == "" {
			return nil
		}
		_, err := c.vm.RunScript(DocumentURL+"#timer", t.code)
		return err
	}
	call, ok := goja.AssertFunction(t.fn)
	if !ok {
		return nil
	}
	_, err := call(goja.Undefined(), t.args...)
	return err
}

// drain runs timers up to the configured horizon past the current time.
func (c *Context) drain() error {
	return c.drainUntil(c.timers.now + c.cfg.TimerHorizon)
}

// drainUntil runs every timer due at or before limit, each as its own task,
// and leaves the clock at limit. Timers an interval reschedules are picked up
// in the same pass. At most MaxTasks callbacks run; the clock then stops at
// the last one that ran.
func (c *Context) drainUntil(limit time.Duration) error {
	for ran := 0; ; ran++ {
		t := c.timers.next(limit)
		if t == nil {
			break
		}
		if ran >= c.cfg.MaxTasks {
			c.logger.Warn(context.Background(), nil, "Timer task limit reached",
				"limit", c.cfg.MaxTasks, "pending", c.timers.Len())
			return nil
		}

		if t.due > c.timers.now {
			c.timers.now = t.due
		}
		if t.repeat {
			t.due = c.timers.now + t.interval
			c.timers.seq++
			t.seq = c.timers.seq
		} else {
			c.timers.remove(t.id)
		}

		if err := c.task(func() error { return c.runTimer(t) }); err != nil {
			return err
		}
		if c.closed.Load() {
			return errClosed()
		}
	}

	if limit > c.timers.now {
		c.timers.now = limit
	}
	return nil
}
