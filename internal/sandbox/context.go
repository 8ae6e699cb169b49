package sandbox

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"

	"github.com/conneroisu/fxlab/internal/console"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/renderer"
)

// DocumentURL is the address scripts observe for srcdoc documents.
const DocumentURL = "about:srcdoc"

// Config controls a headless execution context.
type Config struct {
	Capabilities Capabilities

	// Timeout bounds each Load, Dispatch or Advance call in wall-clock time.
	// Zero disables the bound.
	Timeout time.Duration

	// TimerHorizon is how far the virtual clock runs after each call.
	TimerHorizon time.Duration

	// MaxTasks caps the timer callbacks run per call.
	MaxTasks int

	// MaxCallStackSize caps the JavaScript call depth. Exceeding it reports
	// a RangeError like a browser does.
	MaxCallStackSize int

	ViewportWidth  float64
	ViewportHeight float64

	Logger logging.Logger
	Now    func() time.Time
}

// DefaultConfig returns the configuration previews run with.
func DefaultConfig() Config {
	return Config{
		Capabilities:     Default(),
		Timeout:          2 * time.Second,
		TimerHorizon:     5 * time.Second,
		MaxTasks:         10000,
		MaxCallStackSize: 4096,
		ViewportWidth:    1280,
		ViewportHeight:   800,
	}
}

// Sink receives the serialized data of every parent.postMessage call.
type Sink func(data []byte)

type interruptReason string

const (
	reasonTimeout interruptReason = "execution timeout exceeded"
	reasonClosed  interruptReason = "execution context closed"
)

// Context is one headless execution context instance. It is safe for
// concurrent use; calls are serialized.
type Context struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	cfg    Config
	sink   Sink
	logger logging.Logger
	closed atomic.Bool

	dom    *dom
	timers *timerQueue
	window *eventTarget

	loaded     bool
	readyState string
	reporting  bool
	reentry    int

	rejections []*goja.Promise
	output     []console.Entry
}

// New creates a context. The capability set must pass Validate.
func New(cfg Config, sink Sink) (*Context, error) {
	if err := cfg.Capabilities.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultConfig().MaxTasks
	}
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = DefaultConfig().MaxCallStackSize
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = DefaultConfig().ViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = DefaultConfig().ViewportHeight
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(cfg.MaxCallStackSize)

	c := &Context{
		vm:         vm,
		cfg:        cfg,
		sink:       sink,
		logger:     logger.WithComponent("sandbox"),
		timers:     newTimerQueue(),
		readyState: "loading",
	}

	if err := c.setupGlobals(); err != nil {
		return nil, fxerrors.NewSandboxError(fxerrors.ErrCodeInternalError,
			"failed to initialize execution context", err)
	}

	return c, nil
}

// Load parses doc, runs its scripts in document order, fires
// DOMContentLoaded and load, and then drains timers up to the horizon.
// A Context loads exactly one document.
func (c *Context) Load(ctx context.Context, doc renderer.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return fxerrors.NewSandboxError(fxerrors.ErrCodeInternalError,
			"execution context already holds a document", nil)
	}

	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Content))
	if err != nil {
		return fxerrors.NewSandboxError(fxerrors.ErrCodeDocumentParse,
			"failed to parse document", err)
	}
	c.loaded = true

	return c.guard(ctx, func() error {
		c.dom = newDOM(c, parsed)
		if err := c.vm.Set("document", c.dom.document.obj); err != nil {
			return err
		}

		for i, src := range c.dom.scripts() {
			name := scriptName(i)
			if err := c.task(func() error {
				_, err := c.vm.RunScript(name, src)
				return err
			}); err != nil {
				return err
			}
		}

		c.readyState = "interactive"
		if err := c.task(func() error {
			return c.fire(c.dom.document, "DOMContentLoaded", true)
		}); err != nil {
			return err
		}

		c.readyState = "complete"
		if err := c.task(func() error {
			return c.fire(c.window, "load", false)
		}); err != nil {
			return err
		}

		return c.drain()
	})
}

// Dispatch fires a trusted-looking user event of type eventType at the first
// element matching selector, then drains timers. Handler errors are reported
// inside the context like any other uncaught error.
func (c *Context) Dispatch(ctx context.Context, selector, eventType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	el, err := c.dom.queryFirst(c.dom.root, selector)
	if err != nil {
		return fxerrors.NewValidationError(fxerrors.ErrCodeInvalidField, err.Error()).
			WithContext("selector", selector)
	}
	if el == nil {
		return fxerrors.NewNotFoundError(fxerrors.ErrCodeInvalidField,
			"no element matches "+selector).WithContext("selector", selector)
	}

	return c.guard(ctx, func() error {
		if err := c.task(func() error {
			return c.fire(&el.eventTarget, eventType, true)
		}); err != nil {
			return err
		}
		return c.drain()
	})
}

// Advance runs timers due within d of the current virtual time.
func (c *Context) Advance(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	return c.guard(ctx, func() error {
		return c.drainUntil(c.timers.now + d)
	})
}

// BodyHTML renders the current body content.
func (c *Context) BodyHTML() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dom == nil {
		return ""
	}
	return c.dom.innerHTML(c.dom.body())
}

// Text returns the text content of the first element matching selector.
func (c *Context) Text(selector string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dom == nil {
		return "", false
	}
	el, err := c.dom.queryFirst(c.dom.root, selector)
	if err != nil || el == nil {
		return "", false
	}
	return textContent(el.node), true
}

// Output returns what reached the context's own console, including errors
// no handler claimed.
func (c *Context) Output() []console.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]console.Entry, len(c.output))
	copy(out, c.output)
	return out
}

// Now returns the context's virtual time.
func (c *Context) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.now
}

// Close discards the runtime. A running call is interrupted, and messages
// posted after Close never reach the sink.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.vm.Interrupt(reasonClosed)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dom = nil
	c.timers.reset()
	c.rejections = nil
	return nil
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	return c.closed.Load()
}

func (c *Context) ready() error {
	if c.closed.Load() {
		return errClosed()
	}
	if c.dom == nil {
		return fxerrors.NewSandboxError(fxerrors.ErrCodeInternalError,
			"execution context has no document", nil)
	}
	return nil
}

func errClosed() error {
	return fxerrors.NewSandboxError(fxerrors.ErrCodeContextClosed, "execution context is closed", nil)
}

// guard runs fn with the wall-clock bound and cancellation wired to
// goja's interrupt, and translates interruption into host errors.
func (c *Context) guard(ctx context.Context, fn func() error) error {
	if c.closed.Load() {
		return errClosed()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var timeout <-chan time.Time
	if c.cfg.Timeout > 0 {
		t := time.NewTimer(c.cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timeout:
			c.vm.Interrupt(reasonTimeout)
		case <-ctx.Done():
			c.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	err := fn()
	close(done)
	<-exited

	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) {
		if !c.closed.Load() {
			c.vm.ClearInterrupt()
		}
		return err
	}
	if !c.closed.Load() {
		c.vm.ClearInterrupt()
	}

	switch reason := interrupted.Value().(type) {
	case interruptReason:
		if reason == reasonClosed {
			return errClosed()
		}
		c.logger.Warn(ctx, err, "Script run interrupted", "timeout", c.cfg.Timeout)
		return fxerrors.NewSandboxError(fxerrors.ErrCodeScriptTimeout,
			"script exceeded the run timeout", nil).
			WithContext("timeout", c.cfg.Timeout.String())
	case error:
		return fxerrors.NewSandboxError(fxerrors.ErrCodeScriptTimeout,
			"script run cancelled", reason)
	default:
		return fxerrors.NewSandboxError(fxerrors.ErrCodeScriptTimeout,
			"script run interrupted", err)
	}
}

// task runs one macrotask: author exceptions are absorbed and reported, and
// unhandled rejections are reported once the microtask queue is empty.
func (c *Context) task(run func() error) error {
	if err := c.absorb(run()); err != nil {
		return err
	}
	return c.flushRejections()
}

// absorb reports an author exception inside the context and swallows it.
// Interruptions and host failures pass through. A stack overflow keeps
// unwinding through host calls made from script and is reported once the
// outermost task sees it.
func (c *Context) absorb(err error) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return err
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		if c.reentry > 0 {
			return err
		}
		return c.reportException("Uncaught RangeError: "+stackOverflowMessage,
			c.rangeError(stackOverflowMessage), overflow.Stack())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return c.reportException("Uncaught "+valueString(ex.Value()), ex.Value(), ex.Stack())
	}
	return err
}

const stackOverflowMessage = "Maximum call stack size exceeded"

func (c *Context) rangeError(message string) goja.Value {
	obj, err := c.vm.New(c.vm.Get("RangeError"), c.vm.ToValue(message))
	if err != nil {
		return c.vm.ToValue(message)
	}
	return obj
}

// reentered runs fn for a host function that script called, such as
// element.click().
func (c *Context) reentered(fn func() error) error {
	c.reentry++
	defer func() { c.reentry-- }()
	return fn()
}

// reportException delivers an uncaught exception to window.onerror and
// "error" listeners. If none claims it, it goes to the context's own console.
func (c *Context) reportException(message string, value goja.Value, frames []goja.StackFrame) error {

	if c.reporting {
		// An error handler threw; report to the native console only.
		c.record(console.LevelError, message)
		return nil
	}
	c.reporting = true
	defer func() { c.reporting = false }()

	var line, column int64
	if len(frames) > 0 {
		pos := frames[0].Position()
		line, column = int64(pos.Line), int64(pos.Column)
	}

	handled := false
	if fn, ok := goja.AssertFunction(c.vm.GlobalObject().Get("onerror")); ok {
		ret, err := fn(c.vm.GlobalObject(),
			c.vm.ToValue(message),
			c.vm.ToValue(DocumentURL),
			c.vm.ToValue(line),
			c.vm.ToValue(column),
			value)
		if err != nil {
			if err := c.absorb(err); err != nil {
				return err
			}
		} else if ret != nil && ret.ToBoolean() {
			handled = true
		}
	}

	evt := c.newEvent("error", false)
	_ = evt.Set("message", message)
	_ = evt.Set("filename", DocumentURL)
	_ = evt.Set("lineno", line)
	_ = evt.Set("colno", column)
	_ = evt.Set("error", value)
	if err := c.dispatchListeners(c.window, evt); err != nil {
		return err
	}
	if evt.Get("defaultPrevented").ToBoolean() {
		handled = true
	}

	if !handled {
		c.record(console.LevelError, message)
	}
	return nil
}

func (c *Context) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		c.rejections = append(c.rejections, p)
	case goja.PromiseRejectionHandle:
		for i, pending := range c.rejections {
			if pending == p {
				c.rejections = append(c.rejections[:i], c.rejections[i+1:]...)
				break
			}
		}
	}
}

// flushRejections reports promises rejected during the last task that still
// have no handler.
func (c *Context) flushRejections() error {
	for len(c.rejections) > 0 {
		p := c.rejections[0]
		c.rejections = c.rejections[1:]

		reason := p.Result()
		handled := false

		evt := c.newEvent("unhandledrejection", false)
		_ = evt.Set("reason", reason)
		_ = evt.Set("promise", c.vm.ToValue(p))

		if fn, ok := goja.AssertFunction(c.vm.GlobalObject().Get("onunhandledrejection")); ok {
			handled = true
			if _, err := fn(c.vm.GlobalObject(), evt); err != nil {
				if err := c.absorb(err); err != nil {
					return err
				}
			}
		}
		if len(c.window.listeners["unhandledrejection"]) > 0 {
			handled = true
		}
		if err := c.dispatchListeners(c.window, evt); err != nil {
			return err
		}

		if !handled {
			c.record(console.LevelError, "Uncaught (in promise) "+valueString(reason))
		}
	}
	return nil
}

// record appends to the context's own console.
func (c *Context) record(level console.Level, text string) {
	c.output = append(c.output, console.Entry{Kind: level, Text: text, ObservedAt: c.cfg.Now()})
}

// post forwards parent.postMessage data to the sink.
func (c *Context) post(data goja.Value) {
	if c.closed.Load() || c.sink == nil {
		return
	}
	stringify, ok := goja.AssertFunction(c.vm.Get("JSON").ToObject(c.vm).Get("stringify"))
	if !ok {
		return
	}
	out, err := stringify(goja.Undefined(), data)
	if err != nil {
		// Uncloneable data throws in the caller, as a DataCloneError would.
		panic(err)
	}
	if out == nil || goja.IsUndefined(out) {
		return
	}
	c.sink([]byte(out.String()))
}

func scriptName(i int) string {
	return DocumentURL + "#script" + strconv.Itoa(i+1)
}

func valueString(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}
