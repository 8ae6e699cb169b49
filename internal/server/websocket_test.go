package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/fxlab/internal/console"
	"github.com/conneroisu/fxlab/internal/layout"
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/store"
)

// wireMessage is the union of every server to client message.
type wireMessage struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Effect     string          `json:"effect"`
	Restored   bool            `json:"restored"`
	Generation uint64          `json:"generation"`
	Document   string          `json:"document"`
	Entries    []console.Entry `json:"entries"`
	Entry      console.Entry   `json:"entry"`
	Visible    bool            `json:"visible"`
	Split      float64         `json:"split"`
	Dragging   bool            `json:"dragging"`
	Pointer    bool            `json:"suppress_pointer"`
	Touch      bool            `json:"suppress_touch"`
	Mode       layout.Mode     `json:"mode"`
	Bundle     renderer.Bundle `json:"bundle"`
	Message    string          `json:"message"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// testClient is the client token test connections present.
const testClient = "6f1c2b7e-3d4a-4c5b-9e8f-0a1b2c3d4e5f"

func dial(t *testing.T, srv *httptest.Server, effect string) *wsClient {
	t.Helper()
	return dialAs(t, srv, effect, testClient)
}

// dialAs opens an editor session presenting client as its token; an empty
// client sends no cookie.
func dialAs(t *testing.T, srv *httptest.Server, effect, client string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	if client != "" {
		header.Set("Cookie", (&http.Cookie{Name: clientCookie, Value: client}).String())
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?effect=" + effect
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	conn.SetReadLimit(1 << 22)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v interface{}) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.conn, v))
}

func (c *wsClient) next() wireMessage {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg wireMessage
	require.NoError(c.t, wsjson.Read(ctx, c.conn, &msg))
	return msg
}

// expect reads until a message of type typ arrives, skipping others.
func (c *wsClient) expect(typ string) wireMessage {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		msg := c.next()
		if msg.Type == typ {
			return msg
		}
	}
	c.t.Fatalf("no %q message within 20 frames", typ)
	return wireMessage{}
}

func texts(entries []console.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Kind) + ":" + e.Text
	}
	return out
}

func TestWebSocket_SessionLifecycle(t *testing.T) {
	s, catalog := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	effect, _ := catalog.Get("neon-button")
	c := dial(t, srv, "neon-button")

	hello := c.next()
	assert.Equal(t, "session", hello.Type)
	assert.Equal(t, "neon-button", hello.Effect)
	assert.NotEmpty(t, hello.ID)
	assert.False(t, hello.Restored)

	// Initial state, in order.
	source := c.next()
	require.Equal(t, "source", source.Type)
	assert.Equal(t, effect.Code, source.Bundle)

	initial := c.next()
	require.Equal(t, "console", initial.Type)
	assert.Equal(t, []string{"log:" + console.ReloadMarker}, texts(initial.Entries))
	assert.False(t, initial.Visible)

	lay := c.next()
	require.Equal(t, "layout", lay.Type)
	assert.Equal(t, layout.DefaultSplit, lay.Split)
	assert.Equal(t, layout.ModeSplit, lay.Mode)

	reload := c.next()
	require.Equal(t, "reload", reload.Type)
	assert.Equal(t, uint64(1), reload.Generation)
	assert.Equal(t, renderer.Synthesize(effect.Code, renderer.VariantEditor).Content, reload.Document)

	assert.Eventually(t, func() bool { return s.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)

	// An edit reloads at once with debounce disabled. The marker comes first.
	c.send(map[string]interface{}{"type": "edit", "field": "js", "value": "console.log('hi')"})
	marked := c.expect("console-entry")
	assert.Equal(t, console.ReloadMarker, marked.Entry.Text)
	assert.Nil(t, marked.Entries, "appends carry only the new entry")
	reload = c.expect("reload")
	assert.Equal(t, uint64(2), reload.Generation)
	assert.Contains(t, reload.Document, "console.log('hi')")

	// The live document is served on its own URL for this session.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/effects/neon-button/document?session="+hello.ID, nil))
	assert.Equal(t, reload.Document, rec.Body.String())

	// Relayed console output of the current frame is appended.
	c.send(map[string]interface{}{
		"type": "console-message", "generation": 2, "level": "error", "args": []string{"boom"},
	})
	entry := c.expect("console-entry")
	assert.Equal(t, "error:boom", texts([]console.Entry{entry.Entry})[0])
	assert.True(t, entry.Visible, "an error reveals the console")

	// Output of the superseded frame is dropped without an event.
	c.send(map[string]interface{}{
		"type": "console-message", "generation": 1, "level": "log", "args": []string{"stale"},
	})
	c.send(map[string]string{"type": "console-toggle"})
	toggled := c.expect("console")
	assert.False(t, toggled.Visible)
	assert.Equal(t, []string{
		"log:" + console.ReloadMarker,
		"log:" + console.ReloadMarker,
		"error:boom",
	}, texts(toggled.Entries))

	c.send(map[string]string{"type": "console-clear"})
	cleared := c.expect("console")
	assert.Empty(t, cleared.Entries)

	c.send(map[string]string{"type": "layout", "mode": "preview"})
	lay = c.expect("layout")
	assert.Equal(t, layout.ModePreview, lay.Mode)

	c.send(map[string]string{"type": "nonsense"})
	rejected := c.expect("error")
	assert.Contains(t, rejected.Message, "nonsense")

	require.NoError(t, c.conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return s.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_Drag(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := dial(t, srv, "glass-morphism")
	c.expect("reload")

	rect := map[string]float64{"left": 0, "top": 0, "width": 1000, "height": 800}
	c.send(map[string]interface{}{"type": "drag", "phase": "down"})
	down := c.expect("layout")
	assert.True(t, down.Dragging)
	assert.True(t, down.Pointer, "the frame ignores pointers during a drag")
	assert.True(t, down.Touch)

	c.send(map[string]interface{}{"type": "drag", "phase": "move", "x": 950, "y": 10, "rect": rect, "viewport": 1280})
	moved := c.expect("layout")
	assert.Equal(t, layout.MaxSplit, moved.Split)

	c.send(map[string]interface{}{"type": "drag", "phase": "move", "x": 300, "y": 10, "rect": rect, "viewport": 1280})
	moved = c.expect("layout")
	assert.InDelta(t, 30.0, moved.Split, 0.001)

	c.send(map[string]interface{}{"type": "drag", "phase": "up"})
	up := c.expect("layout")
	assert.False(t, up.Dragging)
	assert.False(t, up.Pointer)
	assert.False(t, up.Touch)
	assert.InDelta(t, 30.0, up.Split, 0.001)

	c.send(map[string]interface{}{"type": "drag", "phase": "sideways"})
	assert.Contains(t, c.expect("error").Message, "sideways")
}

func TestWebSocket_ResetRestoresCatalogSource(t *testing.T) {
	drafts := store.NewMemoryDrafts()
	s, catalog := newTestServer(t, WithDrafts(drafts))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	effect, _ := catalog.Get("magnetic-button")

	c := dial(t, srv, "magnetic-button")
	c.expect("reload")

	c.send(map[string]interface{}{"type": "edit", "field": "markup", "value": "<p>changed</p>"})
	assert.Equal(t, uint64(2), c.expect("reload").Generation)

	// The draft is saved right after the reload goes out.
	require.Eventually(t, func() bool {
		_, err := drafts.Load(context.Background(), store.Key(testClient, "magnetic-button"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	other := dial(t, srv, "magnetic-button")
	hello := other.next()
	assert.True(t, hello.Restored)
	assert.Equal(t, "<p>changed</p>", other.expect("source").Bundle.Markup)

	c.send(map[string]string{"type": "reset"})
	source := c.expect("source")
	assert.Equal(t, effect.Code, source.Bundle)
	reload := c.expect("reload")
	assert.Equal(t, uint64(3), reload.Generation)
	assert.NotContains(t, reload.Document, "<p>changed</p>")
}

func TestWebSocket_DraftsStayWithTheirClient(t *testing.T) {
	drafts := store.NewMemoryDrafts()
	s, catalog := newTestServer(t, WithDrafts(drafts))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	effect, _ := catalog.Get("neon-button")
	ctx := context.Background()
	key := store.Key(testClient, "neon-button")

	c := dial(t, srv, "neon-button")
	c.expect("reload")
	c.send(map[string]interface{}{"type": "edit", "field": "behavior", "value": "alert('mine')"})
	c.expect("reload")
	require.Eventually(t, func() bool {
		_, err := drafts.Load(ctx, key)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	other := dialAs(t, srv, "neon-button", "0d9a8b7c-6e5f-4a3b-8c2d-1e0f9a8b7c6d")
	assert.False(t, other.next().Restored)
	assert.Equal(t, effect.Code, other.expect("source").Bundle)

	other.send(map[string]string{"type": "reset"})
	other.expect("source")
	other.expect("reload")
	_, err := drafts.Load(ctx, key)
	assert.NoError(t, err, "another client's reset keeps this draft")

	anonymous := dialAs(t, srv, "neon-button", "")
	assert.False(t, anonymous.next().Restored)
	anonymous.send(map[string]interface{}{"type": "edit", "field": "markup", "value": "<p>anon</p>"})
	anonymous.expect("reload")

	list, err := drafts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "sessions without a client token save nothing")
	assert.Equal(t, key, list[0].ID)
}

func TestDownload_ExportsLiveSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Preview.Debounce = time.Hour
	s, err := New(cfg, registry.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := dial(t, srv, "glass-morphism")
	hello := c.next()
	require.Equal(t, "session", hello.Type)
	c.expect("reload")

	// The edit is still inside the debounce window when the download starts.
	c.send(map[string]interface{}{"type": "edit", "field": "markup", "value": "<p>unsaved</p>"})
	require.Eventually(t, func() bool {
		body := get(t, s.Handler(), "/effects/glass-morphism/download?session="+hello.ID).Body.String()
		return strings.Contains(body, "<p>unsaved</p>")
	}, 2*time.Second, 10*time.Millisecond)

	body := get(t, s.Handler(), "/effects/glass-morphism/download").Body.String()
	assert.NotContains(t, body, "<p>unsaved</p>")

	body = get(t, s.Handler(), "/effects/neon-button/download?session="+hello.ID).Body.String()
	assert.NotContains(t, body, "<p>unsaved</p>", "a session of another effect is ignored")
}

func TestWebSocket_Rejections(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	t.Run("unknown effect", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ws?effect=missing")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, string(body), "effect not found")
	})

	t.Run("foreign origin", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?effect=neon-button"
		_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
		})
		require.Error(t, err)
		if resp != nil {
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
	})

	t.Run("malformed frames", func(t *testing.T) {
		c := dial(t, srv, "neon-button")
		c.expect("reload")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, c.conn.Write(ctx, websocket.MessageText, []byte("{not json")))
		assert.Equal(t, "malformed message", c.expect("error").Message)

		c.send(map[string]string{"type": "edit", "field": "python", "value": "x"})
		assert.Contains(t, c.expect("error").Message, "python")

		c.send(map[string]string{"type": "edit", "field": "css"})
		assert.Contains(t, c.expect("error").Message, "without value")

		// Undecodable relay frames are dropped silently.
		c.send(map[string]interface{}{"type": "console-message", "generation": 1, "level": "shout", "args": []string{"x"}})
		c.send(map[string]string{"type": "console-toggle"})
		toggled := c.expect("console")
		assert.True(t, toggled.Visible)
		assert.Len(t, toggled.Entries, 1)
	})
}

func TestEncodeEvent_ConsoleEntriesNeverNull(t *testing.T) {
	data, err := json.Marshal(consoleMessage{Type: "console", Entries: []console.Entry{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"entries":[]`)
}
