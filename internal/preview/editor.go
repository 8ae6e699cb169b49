// Package preview holds the host side of live previews: editor sessions that
// turn source edits into debounced document reloads, the gallery, and a
// headless frame that runs documents without a browser.
package preview

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/fxlab/internal/console"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/layout"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/monitoring"
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/scheduler"
	"github.com/conneroisu/fxlab/internal/store"
)

// DefaultBufferSize is the event buffer of each subscriber.
const DefaultBufferSize = 256

const draftSaveTimeout = 5 * time.Second

// EventType is the kind of session event.
type EventType int

const (
	// EventReload carries a new document and its generation.
	EventReload EventType = iota
	// EventConsole carries the whole console log and panel visibility. It is
	// sent on subscribe and whenever entries are removed.
	EventConsole
	// EventLayout carries the split layout.
	EventLayout
	// EventSource carries the source bundle after it was replaced wholesale.
	EventSource
	// EventConsoleEntry carries one entry appended to the console log and the
	// panel visibility after it.
	EventConsoleEntry
)

func (t EventType) String() string {
	switch t {
	case EventReload:
		return "reload"
	case EventConsole:
		return "console"
	case EventLayout:
		return "layout"
	case EventSource:
		return "source"
	case EventConsoleEntry:
		return "console-entry"
	default:
		return "unknown"
	}
}

// Event is published to session subscribers. Only the fields of its Type are
// set.
type Event struct {
	Type       EventType
	Generation uint64
	Document   renderer.Document
	Entries    []console.Entry
	Entry      console.Entry
	Visible    bool
	Layout     layout.Snapshot
	Bundle     renderer.Bundle
}

// Option configures an Editor.
type Option func(*Editor)

// WithDebounce sets the quiet period between the last edit and the reload.
func WithDebounce(d time.Duration) Option {
	return func(e *Editor) {
		e.debounce = d
	}
}

// WithTimers replaces the debounce timer factory.
func WithTimers(af scheduler.AfterFunc) Option {
	return func(e *Editor) {
		e.timers = af
	}
}

// WithDrafts persists edited bundles to s and restores them on open.
func WithDrafts(s store.Drafts) Option {
	return func(e *Editor) {
		e.drafts = s
	}
}

// WithOwner scopes the editor's draft to one client. Editors of other owners
// never see or reset it.
func WithOwner(owner string) Option {
	return func(e *Editor) {
		e.owner = owner
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Editor) {
		e.metrics = m
	}
}

// WithClock sets the host clock used to stamp console entries.
func WithClock(now func() time.Time) Option {
	return func(e *Editor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithBufferSize sets the event buffer of each subscriber.
func WithBufferSize(n int) Option {
	return func(e *Editor) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// Editor is the session behind one effect's editor page. It owns the source
// bundle, the console log, the layout and the current document.
//
// Every reload bumps the generation. The console receiver only accepts
// messages tagged with the current generation, and the reload marker is
// logged under the same lock that bumps it, so output of a superseded
// document can never appear after the marker of its successor.
type Editor struct {
	mu sync.Mutex

	id       string
	owner    string
	title    string
	original renderer.Bundle
	bundle   renderer.Bundle
	dirty    bool
	restored bool

	document   renderer.Document
	generation uint64

	log      *console.Log
	receiver *console.Receiver
	layout   *layout.Controller

	debounce  time.Duration
	timers    scheduler.AfterFunc
	debouncer *scheduler.Debouncer

	drafts  store.Drafts
	logger  logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	bufferSize  int
	subscribers map[int]*subscriber
	nextSub     int
	closed      bool
}

// NewEditor opens a session for effect. A stored draft, if any, replaces the
// catalog source. The first document is synthesized before NewEditor returns.
func NewEditor(ctx context.Context, effect registry.Effect, opts ...Option) (*Editor, error) {
	if err := effect.Validate(); err != nil {
		return nil, err
	}

	e := &Editor{
		id:          effect.ID,
		title:       effect.Title,
		original:    effect.Code,
		bundle:      effect.Code,
		log:         console.NewLog(),
		layout:      layout.NewController(),
		debounce:    800 * time.Millisecond,
		timers:      scheduler.RealTimers,
		logger:      logging.NewNopLogger(),
		now:         time.Now,
		bufferSize:  DefaultBufferSize,
		subscribers: make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("editor").With("effect", e.id)
	e.receiver = console.NewReceiver(e.log, e.now)
	e.debouncer = scheduler.New(e.debounce, scheduler.WithTimers(e.timers))

	if e.drafts != nil {
		draft, err := e.drafts.Load(ctx, e.draftKey())
		switch {
		case err == nil:
			e.bundle = draft.Bundle
			e.restored = true
			e.logger.Debug(ctx, "Restored draft", "updated_at", draft.UpdatedAt)
		case fxerrors.IsNotFound(err):
		default:
			e.logger.Warn(ctx, err, "Failed to load draft, using catalog source")
		}
	}

	e.reload()
	if e.metrics != nil {
		e.metrics.SessionsActive.Inc()
	}
	return e, nil
}

func (e *Editor) ID() string {
	return e.id
}

func (e *Editor) draftKey() string {
	return store.Key(e.owner, e.id)
}

func (e *Editor) Title() string {
	return e.title
}

// Restored reports whether the session started from a stored draft.
func (e *Editor) Restored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restored
}

// Bundle returns the current source.
func (e *Editor) Bundle() renderer.Bundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bundle
}

// Document returns the current document and its generation.
func (e *Editor) Document() (renderer.Document, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.document, e.generation
}

func (e *Editor) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Edit replaces one source field and schedules a reload. Setting a field to
// its current value schedules nothing.
func (e *Editor) Edit(field renderer.Field, value string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fxerrors.ErrSessionClosed(e.id)
	}
	next := e.bundle.With(field, value)
	if next == e.bundle {
		e.mu.Unlock()
		return nil
	}
	e.bundle = next
	e.dirty = true
	e.mu.Unlock()

	// The lock is released first: a zero debounce runs reload right here.
	if !e.debouncer.Schedule(e.reload) {
		return fxerrors.ErrSessionClosed(e.id)
	}
	return nil
}

// Pending reports whether a reload is waiting for the debounce window.
func (e *Editor) Pending() bool {
	return e.debouncer.Pending()
}

// Flush runs a pending reload immediately.
func (e *Editor) Flush() bool {
	return e.debouncer.Flush()
}

// Reset discards edits and the stored draft and reloads the catalog source.
func (e *Editor) Reset(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fxerrors.ErrSessionClosed(e.id)
	}
	e.bundle = e.original
	e.dirty = false
	e.restored = false
	e.publishLocked(Event{Type: EventSource, Bundle: e.bundle})
	e.mu.Unlock()

	e.debouncer.Cancel()
	if e.drafts != nil {
		if err := e.drafts.Delete(ctx, e.draftKey()); err != nil {
			e.logger.Warn(ctx, err, "Failed to delete draft")
		}
	}
	e.reload()
	return nil
}

// reload synthesizes the current source and publishes it as a new
// generation.
func (e *Editor) reload() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.generation++
	e.receiver.Bind(e.generation)
	mark := e.log.Mark(e.now())
	e.document = renderer.Synthesize(e.bundle, renderer.VariantEditor)

	gen := e.generation
	doc := e.document
	bundle := e.bundle
	dirty := e.dirty

	e.publishLocked(e.entryEventLocked(mark))
	e.publishLocked(Event{Type: EventReload, Generation: gen, Document: doc})
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.Reloads.Inc()
		e.metrics.RecordConsole(string(console.LevelLog))
	}
	e.logger.Debug(context.Background(), "Preview reloaded",
		"generation", gen, "bytes", doc.Len())

	if dirty && e.drafts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), draftSaveTimeout)
		defer cancel()
		if err := e.drafts.Save(ctx, e.draftKey(), bundle); err != nil {
			e.logger.Warn(ctx, err, "Failed to save draft", "generation", gen)
		}
	}
}

// Receive is the relay receiver for the frame showing generation. Messages
// of any other generation are dropped and Receive reports false.
func (e *Editor) Receive(generation uint64, msg console.Message) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	entry, ok := e.receiver.Receive(generation, msg)
	if !ok {
		current := e.generation
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.StaleMessages.Inc()
		}
		e.logger.Debug(context.Background(), "Dropped console message",
			"generation", generation, "current", current)
		return false
	}
	e.publishLocked(e.entryEventLocked(entry))
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordConsole(string(entry.Kind))
	}
	return true
}

// Console returns the log entries and panel visibility.
func (e *Editor) Console() ([]console.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Entries(), e.log.Visible()
}

// ClearConsole empties the log.
func (e *Editor) ClearConsole() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Clear()
	e.publishLocked(e.consoleEventLocked())
}

// ToggleConsole shows or hides the panel and returns the new visibility.
func (e *Editor) ToggleConsole() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.log.Toggle()
	e.publishLocked(e.consoleEventLocked())
	return v
}

func (e *Editor) consoleEventLocked() Event {
	return Event{Type: EventConsole, Entries: e.log.Entries(), Visible: e.log.Visible()}
}

func (e *Editor) entryEventLocked(entry console.Entry) Event {
	return Event{Type: EventConsoleEntry, Entry: entry, Visible: e.log.Visible()}
}

// Layout returns the split layout.
func (e *Editor) Layout() layout.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layout.Snapshot()
}

// PointerDown starts dragging the divider.
func (e *Editor) PointerDown() layout.Snapshot {
	return e.updateLayout(func(c *layout.Controller) bool {
		return c.Down()
	})
}

// PointerMove moves the divider while dragging.
func (e *Editor) PointerMove(p layout.Point, container layout.Rect, viewportWidth float64) layout.Snapshot {
	return e.updateLayout(func(c *layout.Controller) bool {
		return c.Move(p, container, viewportWidth)
	})
}

// PointerUp ends a drag.
func (e *Editor) PointerUp() layout.Snapshot {
	return e.updateLayout(func(c *layout.Controller) bool {
		was := c.State() == layout.Dragging
		c.Up()
		return was
	})
}

// SetMode switches which panes are shown.
func (e *Editor) SetMode(m layout.Mode) layout.Snapshot {
	return e.updateLayout(func(c *layout.Controller) bool {
		was := c.Snapshot()
		c.SetMode(m)
		return c.Snapshot() != was
	})
}

// ToggleEditor flips between editor-only and split.
func (e *Editor) ToggleEditor() layout.Snapshot {
	return e.updateLayout(func(c *layout.Controller) bool {
		c.ToggleEditor()
		return true
	})
}

func (e *Editor) updateLayout(apply func(*layout.Controller) bool) layout.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if apply(e.layout) {
		e.publishLocked(Event{Type: EventLayout, Layout: e.layout.Snapshot()})
	}
	return e.layout.Snapshot()
}

// Export returns the standalone page for the current source and its
// download name.
func (e *Editor) Export(title string) (renderer.Document, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return renderer.Export(e.bundle, title), renderer.ExportFilename(e.id)
}

// Subscribe returns a channel of session events and a function that ends the
// subscription. With no types every event is delivered. The channel starts
// with the current source, console, layout and document, in that order,
// filtered the same way. A subscriber that falls a full buffer behind is
// dropped and its channel closed.
func (e *Editor) Subscribe(types ...EventType) (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, e.bufferSize)}
	for _, t := range types {
		sub.mask |= 1 << t
	}
	if e.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = sub

	e.publishToLocked(id, sub, Event{Type: EventSource, Bundle: e.bundle})
	e.publishToLocked(id, sub, e.consoleEventLocked())
	e.publishToLocked(id, sub, Event{Type: EventLayout, Layout: e.layout.Snapshot()})
	e.publishToLocked(id, sub, Event{Type: EventReload, Generation: e.generation, Document: e.document})

	return sub.ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			close(sub.ch)
			delete(e.subscribers, id)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (e *Editor) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

type subscriber struct {
	ch   chan Event
	mask uint
}

func (s *subscriber) wants(t EventType) bool {
	return s.mask == 0 || s.mask&(1<<t) != 0
}

func (e *Editor) publishLocked(ev Event) {
	for id, sub := range e.subscribers {
		e.publishToLocked(id, sub, ev)
	}
}

func (e *Editor) publishToLocked(id int, sub *subscriber, ev Event) {
	if !sub.wants(ev.Type) {
		return
	}
	select {
	case sub.ch <- ev:
	default:
		close(sub.ch)
		delete(e.subscribers, id)
		e.logger.Warn(context.Background(), nil, "Dropping slow subscriber",
			"subscriber", id, "event", ev.Type.String())
	}
}

// Close stops the debouncer and ends every subscription. Pending edits that
// were not reloaded are not saved.
func (e *Editor) Close() error {
	e.debouncer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for id, sub := range e.subscribers {
		close(sub.ch)
		delete(e.subscribers, id)
	}
	if e.metrics != nil {
		e.metrics.SessionsActive.Dec()
	}
	return nil
}
