package preview

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/fxlab/internal/console"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/sandbox"
)

// Frame shows an editor's documents in headless execution contexts, the way
// the editor page's iframe does in a browser. Each document gets a fresh
// context; the previous one is closed first.
type Frame struct {
	editor *Editor
	cfg    sandbox.Config
	logger logging.Logger

	mu         sync.Mutex
	current    *sandbox.Context
	generation uint64
	closed     bool
}

// NewFrame creates a frame for editor. Nothing is mounted until Mount or
// Run.
func NewFrame(editor *Editor, cfg sandbox.Config) *Frame {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Frame{
		editor: editor,
		cfg:    cfg,
		logger: logger.WithComponent("frame").With("effect", editor.ID()),
	}
}

// Mount discards the current context and loads doc into a new one whose
// console messages are relayed to the editor tagged with generation.
func (f *Frame) Mount(ctx context.Context, generation uint64, doc renderer.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fxerrors.ErrSessionClosed(f.editor.ID())
	}
	if f.current != nil {
		_ = f.current.Close()
		f.current = nil
	}

	sc, err := sandbox.New(f.cfg, f.sink(generation))
	if err != nil {
		return err
	}
	f.current = sc
	f.generation = generation

	return sc.Load(ctx, doc)
}

// sink decodes relayed frames and hands them to the editor. Undecodable
// frames are dropped.
func (f *Frame) sink(generation uint64) sandbox.Sink {
	return func(data []byte) {
		msg, err := console.Decode(data)
		if err != nil {
			f.logger.Debug(context.Background(), "Dropped relay frame",
				"error", err.Error(), "data", logging.Truncate(string(data), 200))
			return
		}
		f.editor.Receive(generation, msg)
	}
}

// Run mounts every document the editor publishes until ctx is done or the
// editor closes. Timed-out documents are logged and the frame keeps going.
func (f *Frame) Run(ctx context.Context) error {
	events, unsubscribe := f.editor.Subscribe(EventReload)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != EventReload {
				continue
			}
			if err := f.Mount(ctx, ev.Generation, ev.Document); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Warn(ctx, err, "Document did not finish loading",
					"generation", ev.Generation)
			}
		}
	}
}

// Dispatch simulates a user event on the mounted document.
func (f *Frame) Dispatch(ctx context.Context, selector, eventType string) error {
	sc, err := f.context()
	if err != nil {
		return err
	}
	return sc.Dispatch(ctx, selector, eventType)
}

// Advance runs the mounted document's timers for d of virtual time.
func (f *Frame) Advance(ctx context.Context, d time.Duration) error {
	sc, err := f.context()
	if err != nil {
		return err
	}
	return sc.Advance(ctx, d)
}

// Text returns the text of the first element matching selector in the
// mounted document.
func (f *Frame) Text(selector string) (string, bool) {
	sc, err := f.context()
	if err != nil {
		return "", false
	}
	return sc.Text(selector)
}

// Generation returns the generation of the mounted document.
func (f *Frame) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// Context returns the mounted execution context, or nil.
func (f *Frame) Context() *sandbox.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Frame) context() (*sandbox.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, fxerrors.NewSandboxError(fxerrors.ErrCodeInternalError,
			"no document is mounted", nil)
	}
	return f.current, nil
}

// Close discards the mounted context.
func (f *Frame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.current == nil {
		return nil
	}
	err := f.current.Close()
	f.current = nil
	return err
}
