package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/fxlab/internal/config"
	"github.com/conneroisu/fxlab/internal/preview"
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("preview.debounce", "0s")
	v.Set("rate_limit.enabled", false)
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, opts ...Option) (*PreviewServer, *registry.Registry) {
	t.Helper()
	catalog := registry.Default()
	s, err := New(testConfig(t), catalog, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, catalog
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNew(t *testing.T) {
	_, err := New(nil, registry.Default())
	assert.Error(t, err)

	_, err = New(testConfig(t), nil)
	assert.Error(t, err)

	s, _ := newTestServer(t)
	assert.NotNil(t, s.Handler())
	assert.NotNil(t, s.Metrics())
	assert.Equal(t, 0, s.Sessions())
}

func TestIndexRedirects(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/effects", rec.Header().Get("Location"))
}

func TestGallery(t *testing.T) {
	s, catalog := newTestServer(t)

	rec := get(t, s.Handler(), "/effects")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	body := rec.Body.String()
	assert.Equal(t, catalog.Count(), strings.Count(body, `sandbox="allow-scripts"`))
	assert.Equal(t, catalog.Count(), strings.Count(body, "srcdoc="))
	assert.Contains(t, body, "pointer-events: none;")
	assert.Contains(t, body, "transform: scale(0.5)")
	for _, e := range catalog.List() {
		assert.Contains(t, body, `href="/effects/`+e.ID+`"`)
	}
	assert.NotContains(t, body, "allow-same-origin")
}

func TestGallery_Search(t *testing.T) {
	s, _ := newTestServer(t)

	body := get(t, s.Handler(), "/effects?q=glass").Body.String()
	assert.Contains(t, body, `href="/effects/glass-morphism"`)
	assert.NotContains(t, body, `href="/effects/neon-button"`)
	assert.Contains(t, body, `value="glass"`)

	body = get(t, s.Handler(), "/effects?q=nothing-like-this").Body.String()
	assert.Contains(t, body, "No effects match.")
}

func TestGallery_SanitizesCatalogText(t *testing.T) {
	s, catalog := newTestServer(t)
	require.NoError(t, catalog.Register(registry.Effect{
		ID:          "hostile",
		Title:       `Glow<script>alert(1)</script>`,
		Description: `<em>soft</em> <img src=x onerror=alert(2)>`,
		Code:        renderer.Bundle{Markup: "<p>x</p>"},
	}))

	body := get(t, s.Handler(), "/effects").Body.String()
	assert.NotContains(t, body, "<script>alert(1)")
	assert.NotContains(t, body, "onerror=alert(2)")
	assert.Contains(t, body, "<em>soft</em>")
}

func TestEditorPage(t *testing.T) {
	s, catalog := newTestServer(t)
	effect, ok := catalog.Get("neon-button")
	require.True(t, ok)

	rec := get(t, s.Handler(), "/effects/neon-button")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `data-effect="neon-button"`)
	assert.Contains(t, body, `id="preview-frame"`)
	assert.Contains(t, body, `sandbox="allow-scripts"`)
	assert.Contains(t, body, `<textarea data-field="markup"`)
	assert.Contains(t, body, `<textarea data-field="style"`)
	assert.Contains(t, body, `<textarea data-field="behavior"`)
	assert.Contains(t, body, `/static/editor.js`)
	assert.Contains(t, body, "--split: 50%")
	assert.Contains(t, body, effect.Title)
	// The host page assigns the first document itself.
	assert.NotContains(t, body, "srcdoc=")
}

func TestEditorPage_UnknownEffect(t *testing.T) {
	s, _ := newTestServer(t)

	for _, target := range []string{
		"/effects/no-such-effect",
		"/effects/no-such-effect/document",
		"/effects/no-such-effect/download",
	} {
		rec := get(t, s.Handler(), target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "Effect Not Found", target)
	}

	rec := get(t, s.Handler(), "/somewhere/else")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Effect Not Found")
}

func TestDocument(t *testing.T) {
	s, catalog := newTestServer(t)
	effect, _ := catalog.Get("magnetic-button")

	rec := get(t, s.Handler(), "/effects/magnetic-button/document")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sandbox allow-scripts", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, renderer.Synthesize(effect.Code, renderer.VariantEditor).Content, rec.Body.String())
}

func TestDocument_UsesDraft(t *testing.T) {
	drafts := store.NewMemoryDrafts()
	s, catalog := newTestServer(t, WithDrafts(drafts))
	effect, _ := catalog.Get("neon-button")

	edited := effect.Code.With(renderer.FieldMarkup, "<p id=\"draft\">draft</p>")
	require.NoError(t, drafts.Save(context.Background(), store.Key(testClient, effect.ID), edited))

	asClient := func(target, client string) string {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if client != "" {
			req.AddCookie(&http.Cookie{Name: clientCookie, Value: client})
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Body.String()
	}

	assert.Contains(t, asClient("/effects/neon-button/document", testClient), `<p id="draft">draft</p>`)
	assert.Contains(t, asClient("/effects/neon-button", testClient), "&lt;p id=&#34;draft&#34;&gt;draft&lt;/p&gt;")
	assert.Contains(t, asClient("/effects/neon-button/download", testClient), `<p id="draft">draft</p>`)

	// Other visitors start from the catalog.
	other := "0d9a8b7c-6e5f-4a3b-8c2d-1e0f9a8b7c6d"
	assert.NotContains(t, asClient("/effects/neon-button/document", other), "draft")
	assert.NotContains(t, asClient("/effects/neon-button/document", ""), "draft")
	assert.NotContains(t, asClient("/effects/neon-button/document", "not-a-uuid"), "draft")
}

func TestEditorPage_IssuesClientToken(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/effects/neon-button")
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, clientCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.NotEmpty(t, cookies[0].Value)

	req := httptest.NewRequest(http.MethodGet, "/effects/neon-button", nil)
	req.AddCookie(cookies[0])
	again := httptest.NewRecorder()
	s.Handler().ServeHTTP(again, req)
	assert.Empty(t, again.Result().Cookies(), "a known client keeps its token")
}

func TestDownload(t *testing.T) {
	s, catalog := newTestServer(t)
	effect, _ := catalog.Get("glass-morphism")

	rec := get(t, s.Handler(), "/effects/glass-morphism/download")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="glass-morphism.html"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, renderer.Export(effect.Code, effect.Title).Content, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "console-message")
}

func TestEffectsAPI(t *testing.T) {
	s, catalog := newTestServer(t)

	rec := get(t, s.Handler(), "/api/effects")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var all []effectSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, catalog.Count())
	assert.Equal(t, "neon-button", all[0].ID)
	assert.NotContains(t, rec.Body.String(), `"code"`)

	var some []effectSummary
	rec = get(t, s.Handler(), "/api/effects?q=MAGNETIC")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &some))
	require.Len(t, some, 1)
	assert.Equal(t, "magnetic-button", some[0].ID)

	rec = get(t, s.Handler(), "/api/effects?q=zzz")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestEffectAPI(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/api/effects/neon-button")
	require.Equal(t, http.StatusOK, rec.Code)
	var effect registry.Effect
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &effect))
	assert.Equal(t, "neon-button", effect.ID)
	assert.NotEmpty(t, effect.Code.Markup)

	rec = get(t, s.Handler(), "/api/effects/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "effect not found: missing")
}

func TestHealthAndMetrics(t *testing.T) {
	s, catalog := newTestServer(t)

	rec := get(t, s.Handler(), "/health?refresh=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status string                     `json:"status"`
		Checks map[string]json.RawMessage `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Checks, "catalog")
	assert.Contains(t, health.Checks, "drafts")
	assert.Contains(t, health.Checks, "goroutines")
	assert.Contains(t, health.Checks, "sessions")

	get(t, s.Handler(), "/effects")
	rec = get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "fxlab_catalog_effects "+strconv.Itoa(catalog.Count()))
	assert.Contains(t, body, `fxlab_http_requests_total{method="GET",route="GET /effects",status="200"} 1`)
}

func TestHealth_EmptyCatalogIsUnhealthy(t *testing.T) {
	s, err := New(testConfig(t), registry.New())
	require.NoError(t, err)

	rec := get(t, s.Handler(), "/health?refresh=1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStaticAssets(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/static/editor.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console-message")

	rec = get(t, s.Handler(), "/static/fxlab.css")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEditorScript_FollowsSessionMessages(t *testing.T) {
	s, _ := newTestServer(t)
	script := get(t, s.Handler(), "/static/editor.js").Body.String()

	for _, typ := range []preview.EventType{
		preview.EventReload, preview.EventConsole, preview.EventConsoleEntry,
		preview.EventLayout, preview.EventSource,
	} {
		data, err := json.Marshal(encodeEvent(preview.Event{Type: typ}))
		require.NoError(t, err)
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Contains(t, script, "case '"+msg.Type+"':", typ.String())
	}

	// Every reload gets a fresh frame, so a superseded document cannot
	// post into the current generation.
	assert.Contains(t, script, "replaceChild(next, frame)")
	assert.Contains(t, script, "event.source !== frame.contentWindow")
	assert.Contains(t, script, "snapshot.suppress_pointer")
	assert.Contains(t, script, "snapshot.suppress_touch")
}

func TestStart_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	s, err := New(cfg, registry.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestRunAPI(t *testing.T) {
	s, _ := newTestServer(t)
	post := func(target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	type runResponse struct {
		Generation uint64 `json:"generation"`
		Entries    []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"entries"`
		Body  string `json:"body"`
		Error string `json:"error"`
	}

	rec := post("/api/effects/neon-button/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, uint64(1), res.Generation)
	require.NotEmpty(t, res.Entries)
	assert.Equal(t, "--- Reloading Preview ---", res.Entries[0].Text)
	assert.NotEmpty(t, res.Body)
	assert.Empty(t, res.Error)

	rec = post("/api/effects/neon-button/run", `{"steps":[{"selector":"#no-such-node"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = runResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Error)

	assert.Equal(t, http.StatusBadRequest, post("/api/effects/neon-button/run", `{"steps":[{"wait":"soon"}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("/api/effects/neon-button/run", `{not json`).Code)
	assert.Equal(t, http.StatusNotFound, post("/api/effects/missing/run", "").Code)

	body := get(t, s.Handler(), "/metrics").Body.String()
	assert.Contains(t, body, `fxlab_headless_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `fxlab_headless_runs_total{result="error"} 1`)
}
