package monitoring

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestMetrics_Exposition(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest(http.MethodGet, "/effects", http.StatusOK, 20*time.Millisecond)
	m.RecordConsole("error")
	m.RecordConsole("error")
	m.RecordWSMessage("out", "reload")
	m.RecordCatalogReload(nil, 3)
	m.RecordCatalogReload(errors.New("bad yaml"), 0)
	m.RecordHeadlessRun(nil, time.Millisecond)
	m.Reloads.Inc()
	m.SessionsActive.Inc()
	m.WSConnections.Inc()
	m.StaleMessages.Inc()

	body := scrape(t, m)

	for _, want := range []string{
		`fxlab_http_requests_total{method="GET",route="/effects",status="200"} 1`,
		`fxlab_http_request_duration_seconds_count{method="GET",route="/effects"} 1`,
		`fxlab_console_entries_total{level="error"} 2`,
		`fxlab_ws_messages_total{direction="out",type="reload"} 1`,
		`fxlab_catalog_reloads_total{result="ok"} 1`,
		`fxlab_catalog_reloads_total{result="error"} 1`,
		`fxlab_catalog_effects 3`,
		`fxlab_headless_runs_total{result="ok"} 1`,
		`fxlab_preview_reloads_total 1`,
		`fxlab_editor_sessions_active 1`,
		`fxlab_ws_connections 1`,
		`fxlab_console_stale_messages_total 1`,
		`fxlab_uptime_seconds`,
		`go_goroutines`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestMetrics_FailedCatalogReloadKeepsGauge(t *testing.T) {
	m := NewMetrics()
	m.RecordCatalogReload(nil, 5)
	m.RecordCatalogReload(errors.New("unreadable"), 0)

	assert.Contains(t, scrape(t, m), "fxlab_catalog_effects 5")
}
