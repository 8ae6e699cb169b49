package preview

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/fxlab/internal/console"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/layout"
	"github.com/conneroisu/fxlab/internal/monitoring"
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/scheduler"
	"github.com/conneroisu/fxlab/internal/store"
)

var epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return epoch }

func testEffect() registry.Effect {
	return registry.Effect{
		ID:    "counter",
		Title: "Counter",
		Code: renderer.Bundle{
			Markup:   `<button id="b">0</button>`,
			Style:    `button { color: red; }`,
			Behavior: `console.log('ready');`,
		},
	}
}

func newEditor(t *testing.T, opts ...Option) (*Editor, *scheduler.ManualClock) {
	t.Helper()
	clock := scheduler.NewManualClock()
	opts = append([]Option{WithTimers(clock.AfterFunc), WithClock(fixedClock)}, opts...)
	e, err := NewEditor(context.Background(), testEffect(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, clock
}

func texts(entries []console.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Kind) + ":" + e.Text
	}
	return out
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestNewEditor(t *testing.T) {
	e, _ := newEditor(t)

	doc, gen := e.Document()
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, renderer.Synthesize(testEffect().Code, renderer.VariantEditor), doc)
	assert.Equal(t, "counter", e.ID())
	assert.Equal(t, "Counter", e.Title())
	assert.False(t, e.Restored())

	entries, visible := e.Console()
	assert.Equal(t, []string{"log:" + console.ReloadMarker}, texts(entries))
	assert.Equal(t, epoch, entries[0].ObservedAt)
	assert.False(t, visible)
}

func TestNewEditor_InvalidEffect(t *testing.T) {
	_, err := NewEditor(context.Background(), registry.Effect{ID: "Bad Id", Title: "x"})
	require.Error(t, err)
}

func TestEditor_DebounceCoalescesEdits(t *testing.T) {
	e, clock := newEditor(t)

	require.NoError(t, e.Edit(renderer.FieldMarkup, "<p>a</p>"))
	clock.Advance(300 * time.Millisecond)
	require.NoError(t, e.Edit(renderer.FieldMarkup, "<p>ab</p>"))
	clock.Advance(300 * time.Millisecond)
	require.NoError(t, e.Edit(renderer.FieldMarkup, "<p>abc</p>"))

	clock.Advance(799 * time.Millisecond)
	assert.Equal(t, uint64(1), e.Generation())
	assert.True(t, e.Pending())

	clock.Advance(time.Millisecond)
	doc, gen := e.Document()
	assert.Equal(t, uint64(2), gen)
	assert.Contains(t, doc.Content, "<p>abc</p>")
	assert.NotContains(t, doc.Content, "<p>ab</p>")
	assert.False(t, e.Pending())

	entries, _ := e.Console()
	assert.Equal(t, []string{
		"log:" + console.ReloadMarker,
		"log:" + console.ReloadMarker,
	}, texts(entries))
}

func TestEditor_ZeroDebounceReloadsEveryEdit(t *testing.T) {
	e, _ := newEditor(t, WithDebounce(0))

	for i, v := range []string{"a", "b", "c"} {
		require.NoError(t, e.Edit(renderer.FieldStyle, v))
		assert.Equal(t, uint64(i+2), e.Generation())
	}
}

func TestEditor_UnchangedEditSchedulesNothing(t *testing.T) {
	e, clock := newEditor(t)

	require.NoError(t, e.Edit(renderer.FieldMarkup, testEffect().Code.Markup))
	assert.False(t, e.Pending())
	clock.Advance(time.Second)
	assert.Equal(t, uint64(1), e.Generation())
}

func TestEditor_Flush(t *testing.T) {
	e, clock := newEditor(t)

	require.NoError(t, e.Edit(renderer.FieldBehavior, "console.log(1)"))
	assert.True(t, e.Flush())
	assert.Equal(t, uint64(2), e.Generation())

	clock.Advance(time.Second)
	assert.Equal(t, uint64(2), e.Generation())
	assert.False(t, e.Flush())
}

func TestEditor_Receive(t *testing.T) {
	t.Run("appends in arrival order with host time", func(t *testing.T) {
		e, _ := newEditor(t)

		assert.True(t, e.Receive(1, console.NewMessage(console.LevelLog, "a", "b")))
		assert.True(t, e.Receive(1, console.NewMessage(console.LevelWarn, "careful")))

		entries, visible := e.Console()
		assert.Equal(t, []string{
			"log:" + console.ReloadMarker,
			"log:a b",
			"warn:careful",
		}, texts(entries))
		assert.Equal(t, epoch, entries[2].ObservedAt)
		assert.False(t, visible)
	})

	t.Run("error reveals the console", func(t *testing.T) {
		e, _ := newEditor(t)

		e.Receive(1, console.NewMessage(console.LevelError, "Error: boom"))
		_, visible := e.Console()
		assert.True(t, visible)
	})

	t.Run("superseded generation is dropped", func(t *testing.T) {
		m := monitoring.NewMetrics()
		e, _ := newEditor(t, WithDebounce(0), WithMetrics(m))
		require.NoError(t, e.Edit(renderer.FieldMarkup, "<i></i>"))

		assert.False(t, e.Receive(1, console.NewMessage(console.LevelError, "late")))
		assert.False(t, e.Receive(3, console.NewMessage(console.LevelLog, "early")))

		entries, visible := e.Console()
		assert.Equal(t, []string{
			"log:" + console.ReloadMarker,
			"log:" + console.ReloadMarker,
		}, texts(entries))
		assert.False(t, visible)
	})
}

func TestEditor_ReloadMarkerPrecedesNewDocumentOutput(t *testing.T) {
	e, clock := newEditor(t)
	events, unsubscribe := e.Subscribe(EventConsole, EventConsoleEntry, EventReload)
	defer unsubscribe()
	drain(events)

	e.Receive(1, console.NewMessage(console.LevelLog, "old"))
	require.NoError(t, e.Edit(renderer.FieldBehavior, "console.log('new')"))
	clock.Advance(800 * time.Millisecond)
	e.Receive(1, console.NewMessage(console.LevelLog, "old again"))
	e.Receive(2, console.NewMessage(console.LevelLog, "new"))

	got := drain(events)
	require.Len(t, got, 4)
	assert.Equal(t, EventConsoleEntry, got[0].Type)
	assert.Equal(t, "old", got[0].Entry.Text)
	assert.Equal(t, EventConsoleEntry, got[1].Type)
	assert.Equal(t, console.ReloadMarker, got[1].Entry.Text)
	assert.Equal(t, EventReload, got[2].Type)
	assert.Equal(t, uint64(2), got[2].Generation)
	assert.Equal(t, EventConsoleEntry, got[3].Type)
	assert.Equal(t, "new", got[3].Entry.Text)

	entries, _ := e.Console()
	assert.Equal(t, []string{
		"log:" + console.ReloadMarker,
		"log:old",
		"log:" + console.ReloadMarker,
		"log:new",
	}, texts(entries))
}

func TestEditor_ConsolePanel(t *testing.T) {
	e, _ := newEditor(t)
	e.Receive(1, console.NewMessage(console.LevelError, "x"))

	e.ClearConsole()
	entries, visible := e.Console()
	assert.Empty(t, entries)
	assert.True(t, visible)

	assert.False(t, e.ToggleConsole())
	assert.True(t, e.ToggleConsole())
}

func TestEditor_ConsoleEventsCarryOnlyNewEntries(t *testing.T) {
	e, _ := newEditor(t)
	for i := 0; i < 50; i++ {
		e.Receive(1, console.NewMessage(console.LevelLog, "backlog"))
	}

	events, unsubscribe := e.Subscribe(EventConsole, EventConsoleEntry)
	defer unsubscribe()

	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventConsole, got[0].Type)
	assert.Len(t, got[0].Entries, 51, "a new subscriber gets the whole log")

	e.Receive(1, console.NewMessage(console.LevelError, "boom"))
	got = drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventConsoleEntry, got[0].Type)
	assert.Nil(t, got[0].Entries)
	assert.Equal(t, console.LevelError, got[0].Entry.Kind)
	assert.Equal(t, "boom", got[0].Entry.Text)
	assert.True(t, got[0].Visible)

	e.ClearConsole()
	got = drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventConsole, got[0].Type)
	assert.Empty(t, got[0].Entries)
	assert.True(t, got[0].Visible)
}

func TestEditor_Subscribe(t *testing.T) {
	t.Run("starts with the current state", func(t *testing.T) {
		e, _ := newEditor(t)
		events, unsubscribe := e.Subscribe()
		defer unsubscribe()

		got := drain(events)
		require.Len(t, got, 4)
		assert.Equal(t, EventSource, got[0].Type)
		assert.Equal(t, testEffect().Code, got[0].Bundle)
		assert.Equal(t, EventConsole, got[1].Type)
		assert.Equal(t, EventLayout, got[2].Type)
		assert.Equal(t, layout.DefaultSplit, got[2].Layout.Split)
		assert.Equal(t, EventReload, got[3].Type)
		assert.Equal(t, uint64(1), got[3].Generation)
	})

	t.Run("filters by type", func(t *testing.T) {
		e, _ := newEditor(t)
		events, unsubscribe := e.Subscribe(EventLayout)
		defer unsubscribe()

		e.Receive(1, console.NewMessage(console.LevelLog, "ignored"))
		e.PointerDown()

		got := drain(events)
		require.Len(t, got, 2)
		assert.True(t, got[1].Layout.Dragging)
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		e, _ := newEditor(t)
		events, unsubscribe := e.Subscribe()
		assert.Equal(t, 1, e.Subscribers())

		unsubscribe()
		unsubscribe()
		assert.Equal(t, 0, e.Subscribers())
		drain(events)
		_, ok := <-events
		assert.False(t, ok)
	})

	t.Run("slow subscriber is dropped", func(t *testing.T) {
		e, _ := newEditor(t, WithBufferSize(4))
		events, unsubscribe := e.Subscribe()
		defer unsubscribe()

		e.Receive(1, console.NewMessage(console.LevelLog, "overflow"))
		assert.Equal(t, 0, e.Subscribers())

		got := drain(events)
		assert.Len(t, got, 4)
	})
}

func TestEditor_Layout(t *testing.T) {
	e, _ := newEditor(t)
	container := layout.Rect{Left: 0, Top: 0, Width: 1000, Height: 500}

	snap := e.PointerMove(layout.Point{X: 900}, container, 1280)
	assert.Equal(t, layout.DefaultSplit, snap.Split)

	e.PointerDown()
	snap = e.PointerMove(layout.Point{X: 900}, container, 1280)
	assert.Equal(t, layout.MaxSplit, snap.Split)
	assert.True(t, snap.Dragging)

	snap = e.PointerMove(layout.Point{Y: 150}, container, 800)
	assert.Equal(t, 30.0, snap.Split)

	snap = e.PointerUp()
	assert.False(t, snap.Dragging)

	snap = e.ToggleEditor()
	assert.Equal(t, layout.ModeEditor, snap.Mode)
	snap = e.SetMode(layout.ModePreview)
	assert.Equal(t, layout.ModePreview, snap.Mode)
	assert.Equal(t, snap, e.Layout())
}

func TestEditor_Export(t *testing.T) {
	e, _ := newEditor(t, WithDebounce(0))
	require.NoError(t, e.Edit(renderer.FieldMarkup, "<b>x</b>"))

	doc, name := e.Export("<Counter>")
	assert.Equal(t, "counter.html", name)
	assert.Contains(t, doc.Content, "<title>&lt;Counter&gt;</title>")
	assert.Contains(t, doc.Content, "<b>x</b>")
	assert.NotContains(t, doc.Content, console.MessageType)
}

func TestEditor_Drafts(t *testing.T) {
	ctx := context.Background()
	drafts := store.NewMemoryDrafts()

	e, _ := newEditor(t, WithDebounce(0), WithDrafts(drafts))
	_, err := drafts.Load(ctx, "counter")
	assert.True(t, fxerrors.IsNotFound(err), "opening must not save an unedited draft")

	require.NoError(t, e.Edit(renderer.FieldStyle, "b { color: blue; }"))
	saved, err := drafts.Load(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "b { color: blue; }", saved.Bundle.Style)
	require.NoError(t, e.Close())

	reopened, _ := newEditor(t, WithDrafts(drafts))
	assert.True(t, reopened.Restored())
	assert.Equal(t, "b { color: blue; }", reopened.Bundle().Style)

	events, unsubscribe := reopened.Subscribe(EventSource, EventReload)
	defer unsubscribe()
	drain(events)

	require.NoError(t, reopened.Reset(ctx))
	assert.False(t, reopened.Restored())
	assert.Equal(t, testEffect().Code, reopened.Bundle())
	_, err = drafts.Load(ctx, "counter")
	assert.True(t, fxerrors.IsNotFound(err))

	got := drain(events)
	require.Len(t, got, 2)
	assert.Equal(t, EventSource, got[0].Type)
	assert.Equal(t, testEffect().Code, got[0].Bundle)
	assert.Equal(t, EventReload, got[1].Type)
	assert.Equal(t, uint64(2), got[1].Generation)
}

func TestEditor_Close(t *testing.T) {
	m := monitoring.NewMetrics()
	e, clock := newEditor(t, WithMetrics(m))
	events, _ := e.Subscribe()

	require.NoError(t, e.Edit(renderer.FieldMarkup, "<p>pending</p>"))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	clock.Advance(time.Second)
	assert.Equal(t, uint64(1), e.Generation())

	drain(events)
	_, ok := <-events
	assert.False(t, ok)

	err := e.Edit(renderer.FieldMarkup, "<p>later</p>")
	require.Error(t, err)
	var fe *fxerrors.FxError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fxerrors.ErrCodeSessionClosed, fe.Code)
	assert.False(t, e.Receive(1, console.NewMessage(console.LevelLog, "x")))

	late, _ := e.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestGallery(t *testing.T) {
	effects := registry.Builtin()
	g := NewGallery(effects, 0.5)

	cards := g.Cards()
	require.Len(t, cards, len(effects))
	assert.Equal(t, len(effects), g.Len())
	for i, card := range cards {
		assert.Equal(t, effects[i].ID, card.Effect.ID)
		assert.Equal(t, renderer.Synthesize(effects[i].Code, renderer.VariantGallery), card.Document)
		assert.Equal(t, "allow-scripts", card.Frame.Sandbox)
		assert.True(t, strings.Contains(card.Frame.Style, "pointer-events: none"))
	}

	cards[0].Effect.ID = "mutated"
	assert.NotEqual(t, "mutated", g.Cards()[0].Effect.ID)
}

func TestEditor_DraftsAreScopedToOwner(t *testing.T) {
	ctx := context.Background()
	drafts := store.NewMemoryDrafts()

	alice, _ := newEditor(t, WithDebounce(0), WithDrafts(drafts), WithOwner("alice"))
	require.NoError(t, alice.Edit(renderer.FieldBehavior, "alert('from alice')"))
	_, err := drafts.Load(ctx, store.Key("alice", "counter"))
	require.NoError(t, err)

	bob, _ := newEditor(t, WithDebounce(0), WithDrafts(drafts), WithOwner("bob"))
	assert.False(t, bob.Restored())
	assert.Equal(t, testEffect().Code, bob.Bundle())

	require.NoError(t, bob.Edit(renderer.FieldStyle, "b { color: green; }"))
	require.NoError(t, bob.Reset(ctx))

	// Bob's reset leaves Alice's draft alone.
	saved, err := drafts.Load(ctx, store.Key("alice", "counter"))
	require.NoError(t, err)
	assert.Equal(t, "alert('from alice')", saved.Bundle.Behavior)

	again, _ := newEditor(t, WithDrafts(drafts), WithOwner("alice"))
	assert.True(t, again.Restored())
	assert.Equal(t, "alert('from alice')", again.Bundle().Behavior)
}
