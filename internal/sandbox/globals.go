package sandbox

import (
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/conneroisu/fxlab/internal/console"
)

// bootstrap defines the script-level pieces of the host environment: error
// and event constructors, and animation frames on top of the timer queue.
const bootstrap = `(function (g) {
  class DOMException extends Error {
    constructor(message, name) {
      super(message === undefined ? '' : String(message));
      this.name = name === undefined ? 'Error' : String(name);
    }
  }

  class Event {
    constructor(type, init) {
      init = init || {};
      this.type = String(type);
      this.bubbles = !!init.bubbles;
      this.cancelable = !!init.cancelable;
      this.defaultPrevented = false;
      this.isTrusted = false;
      this.target = null;
      this.currentTarget = null;
      this.timeStamp = g.performance ? g.performance.now() : 0;
      this._stop = false;
      this._stopImmediate = false;
    }
    preventDefault() {
      if (this.cancelable) {
        this.defaultPrevented = true;
      }
    }
    stopPropagation() {
      this._stop = true;
    }
    stopImmediatePropagation() {
      this._stop = true;
      this._stopImmediate = true;
    }
  }

  class CustomEvent extends Event {
    constructor(type, init) {
      super(type, init);
      this.detail = init && init.detail !== undefined ? init.detail : null;
    }
  }

  class MouseEvent extends Event {
    constructor(type, init) {
      super(type, init);
      init = init || {};
      this.clientX = init.clientX || 0;
      this.clientY = init.clientY || 0;
      this.pageX = this.clientX;
      this.pageY = this.clientY;
      this.button = init.button || 0;
    }
  }

  g.DOMException = DOMException;
  g.Event = Event;
  g.CustomEvent = CustomEvent;
  g.MouseEvent = MouseEvent;
  g.PointerEvent = MouseEvent;

  g.requestAnimationFrame = function (cb) {
    return g.setTimeout(function () { cb(g.performance.now()); }, 16);
  };
  g.cancelAnimationFrame = function (id) {
    g.clearTimeout(id);
  };
  g.queueMicrotask = function (cb) {
    Promise.resolve().then(cb);
  };
})(this);
`

// unavailable are host facilities a sandboxed preview must not reach.
var unavailable = []string{
	"require", "process", "module", "exports",
	"fetch", "XMLHttpRequest", "WebSocket", "EventSource", "importScripts",
}

const (
	opaqueOriginMsg = "The document is sandboxed and lacks the 'allow-same-origin' flag."
	navigationMsg   = "The frame attempting navigation of the top-level window is sandboxed, but the 'allow-top-navigation' flag is not set."
)

func (c *Context) setupGlobals() error {
	vm := c.vm
	global := vm.GlobalObject()

	c.window = &eventTarget{obj: global, listeners: make(map[string][]goja.Value)}
	c.installTarget(c.window)
	vm.SetPromiseRejectionTracker(c.trackRejection)

	for _, name := range unavailable {
		_ = global.Delete(name)
	}

	if err := c.installTimers(global); err != nil {
		return err
	}

	steps := []func(*goja.Object) error{
		c.installConsole,
		c.installWindow,
		c.installHost,
		c.installStorage,
		c.installModals,
	}
	for _, step := range steps {
		if err := step(global); err != nil {
			return err
		}
	}

	_, err := vm.RunScript("bootstrap.js", bootstrap)
	return err
}

// domException builds a DOMException for a native function to panic with.
func (c *Context) domException(message, name string) *goja.Object {
	obj, err := c.vm.New(c.vm.Get("DOMException"), c.vm.ToValue(message), c.vm.ToValue(name))
	if err != nil {
		return c.vm.NewGoError(err)
	}
	return obj
}

func (c *Context) securityError(message string) *goja.Object {
	return c.domException(message, "SecurityError")
}

func (c *Context) installConsole(global *goja.Object) error {
	out := c.vm.NewObject()
	log := func(level console.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = valueString(arg)
			}
			c.record(level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	methods := map[string]console.Level{
		"log":   console.LevelLog,
		"info":  console.LevelLog,
		"debug": console.LevelLog,
		"warn":  console.LevelWarn,
		"error": console.LevelError,
	}
	for name, level := range methods {
		if err := out.Set(name, log(level)); err != nil {
			return err
		}
	}
	return global.Set("console", out)
}

func (c *Context) installWindow(global *goja.Object) error {
	vm := c.vm
	for _, name := range []string{"window", "self", "globalThis"} {
		if err := global.Set(name, global); err != nil {
			return err
		}
	}

	location := vm.NewObject()
	_ = location.Set("href", DocumentURL)
	_ = location.Set("protocol", "about:")
	_ = location.Set("origin", "null")
	_ = location.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(DocumentURL) })
	_ = location.Set("reload", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	if err := global.Set("location", location); err != nil {
		return err
	}
	_ = global.Set("origin", "null")
	_ = global.Set("isSecureContext", false)

	_ = global.Set("innerWidth", c.cfg.ViewportWidth)
	_ = global.Set("innerHeight", c.cfg.ViewportHeight)
	_ = global.Set("devicePixelRatio", 1)

	performance := vm.NewObject()
	_ = performance.Set("now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(float64(c.timers.now) / float64(time.Millisecond))
	})
	if err := global.Set("performance", performance); err != nil {
		return err
	}

	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", "fxlab-headless")
	_ = navigator.Set("language", "en-US")
	_ = navigator.Set("onLine", false)
	if err := global.Set("navigator", navigator); err != nil {
		return err
	}

	_ = global.Set("getComputedStyle", func(call goja.FunctionCall) goja.Value {
		if c.dom != nil {
			if el := c.dom.unwrap(call.Argument(0)); el != nil {
				return c.dom.styleOf(el)
			}
		}
		return vm.NewObject()
	})
	return global.Set("matchMedia", func(call goja.FunctionCall) goja.Value {
		mql := vm.NewObject()
		noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
		_ = mql.Set("matches", false)
		_ = mql.Set("media", call.Argument(0).String())
		for _, m := range []string{"addEventListener", "removeEventListener", "addListener", "removeListener"} {
			_ = mql.Set(m, noop)
		}
		return mql
	})
}

// installHost defines parent and top. Both are the embedding page seen from
// an opaque origin: postMessage works and everything else is refused.
func (c *Context) installHost(global *goja.Object) error {
	vm := c.vm
	host := vm.NewObject()

	_ = host.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		c.post(call.Argument(0))
		return goja.Undefined()
	})

	deny := func(msg string) goja.Value {
		return vm.ToValue(func(goja.FunctionCall) goja.Value {
			panic(c.securityError(msg))
		})
	}

	location := vm.NewObject()
	_ = location.DefineAccessorProperty("href", deny(opaqueOriginMsg), deny(navigationMsg), goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = location.Set("assign", deny(navigationMsg))
	_ = location.Set("replace", deny(navigationMsg))
	_ = location.Set("reload", deny(navigationMsg))

	if err := host.DefineAccessorProperty("location",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return location }),
		deny(navigationMsg), goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	for _, name := range []string{"document", "localStorage", "sessionStorage"} {
		if err := host.DefineAccessorProperty(name, deny(opaqueOriginMsg), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}

	for _, name := range []string{"parent", "top"} {
		if err := global.Set(name, host); err != nil {
			return err
		}
	}
	return global.Set("frameElement", goja.Null())
}

// installStorage makes every storage API throw, as it does for a document
// with an opaque origin.
func (c *Context) installStorage(global *goja.Object) error {
	getter := c.vm.ToValue(func(goja.FunctionCall) goja.Value {
		panic(c.securityError(opaqueOriginMsg))
	})
	for _, name := range []string{"localStorage", "sessionStorage", "indexedDB", "caches"} {
		if err := global.DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}
	return nil
}

// installModals ignores dialogs and popups, which the frame may not open.
func (c *Context) installModals(global *goja.Object) error {
	ignored := func(name string, ret goja.Value) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			c.record(console.LevelWarn, "Ignored call to '"+name+"()'. The document is sandboxed, and the 'allow-modals' keyword is not set.")
			return ret
		}
	}
	if err := global.Set("alert", ignored("alert", goja.Undefined())); err != nil {
		return err
	}
	if err := global.Set("confirm", ignored("confirm", c.vm.ToValue(false))); err != nil {
		return err
	}
	if err := global.Set("prompt", ignored("prompt", goja.Null())); err != nil {
		return err
	}
	return global.Set("open", func(goja.FunctionCall) goja.Value {
		c.record(console.LevelWarn, "Blocked opening a new window because the document is sandboxed and the 'allow-popups' keyword is not set.")
		return goja.Null()
	})
}
