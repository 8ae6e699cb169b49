package sandbox

import (
	"strings"

	"github.com/dop251/goja"
)

func isMouseEvent(typ string) bool {
	switch typ {
	case "click", "dblclick", "contextmenu":
		return true
	}
	return strings.HasPrefix(typ, "mouse") || strings.HasPrefix(typ, "pointer")
}

// newEvent constructs a cancelable event through the script-visible
// constructors, so handlers see the same prototype as events they create.
func (c *Context) newEvent(typ string, bubbles bool) *goja.Object {
	ctor := "Event"
	if isMouseEvent(typ) {
		ctor = "MouseEvent"
	}

	init := c.vm.NewObject()
	_ = init.Set("bubbles", bubbles)
	_ = init.Set("cancelable", true)

	evt, err := c.vm.New(c.vm.Get(ctor), c.vm.ToValue(typ), init)
	if err != nil {
		evt = c.vm.NewObject()
		_ = evt.Set("type", typ)
		_ = evt.Set("bubbles", bubbles)
		_ = evt.Set("defaultPrevented", false)
	}
	_ = evt.Set("isTrusted", true)
	return evt
}

// fire dispatches a fresh event of typ at target.
func (c *Context) fire(target *eventTarget, typ string, bubbles bool) error {
	return c.dispatch(target, c.newEvent(typ, bubbles))
}

// dispatch runs evt through target and, if it bubbles, every ancestor up to
// the window. Listeners run before the on<type> handler of each target.
func (c *Context) dispatch(target *eventTarget, evt *goja.Object) error {
	path := []*eventTarget{target}
	if evt.Get("bubbles").ToBoolean() && c.dom != nil {
		for p := c.dom.parentTarget(target); p != nil; p = c.dom.parentTarget(p) {
			path = append(path, p)
		}
	}

	typ := evt.Get("type").String()
	_ = evt.Set("target", target.obj)
	defer func() { _ = evt.Set("currentTarget", goja.Null()) }()

	for _, t := range path {
		_ = evt.Set("currentTarget", t.obj)

		stopped, err := c.invokeListeners(t, typ, evt)
		if err != nil {
			return err
		}
		if !stopped {
			if err := c.invokeHandler(t, typ, evt); err != nil {
				return err
			}
		}
		if flag(evt, "_stop") {
			break
		}
	}
	return nil
}

// dispatchListeners runs only the registered listeners of t, for events
// whose on<type> handler is invoked separately.
func (c *Context) dispatchListeners(t *eventTarget, evt *goja.Object) error {
	_ = evt.Set("target", t.obj)
	_ = evt.Set("currentTarget", t.obj)
	_, err := c.invokeListeners(t, evt.Get("type").String(), evt)
	return err
}

func (c *Context) invokeListeners(t *eventTarget, typ string, evt *goja.Object) (bool, error) {
	// Listeners added during dispatch wait for the next event.
	list := append([]goja.Value(nil), t.listeners[typ]...)
	for _, fn := range list {
		call, ok := goja.AssertFunction(fn)
		if !ok {
			continue
		}
		_, err := call(t.obj, evt)
		if err := c.absorb(err); err != nil {
			return true, err
		}
		if flag(evt, "_stopImmediate") {
			return true, nil
		}
	}
	return false, nil
}

func (c *Context) invokeHandler(t *eventTarget, typ string, evt *goja.Object) error {
	call, ok := goja.AssertFunction(t.obj.Get("on" + typ))
	if !ok {
		return nil
	}
	ret, err := call(t.obj, evt)
	if err != nil {
		return c.absorb(err)
	}
	if ret != nil && ret.SameAs(c.vm.ToValue(false)) {
		if prevent, ok := goja.AssertFunction(evt.Get("preventDefault")); ok {
			_, _ = prevent(evt)
		}
	}
	return nil
}

func flag(obj *goja.Object, name string) bool {
	v := obj.Get(name)
	return v != nil && v.ToBoolean()
}
