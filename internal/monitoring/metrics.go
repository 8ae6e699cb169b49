// Package monitoring exposes Prometheus metrics and health checks for the
// preview server.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fxlab"

// Metrics holds all Prometheus metrics. Each instance owns its registry, so
// several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Editor sessions
	SessionsActive prometheus.Gauge
	Reloads        prometheus.Counter
	ConsoleEntries *prometheus.CounterVec
	StaleMessages  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Catalog metrics
	CatalogEffects prometheus.Gauge
	CatalogReloads *prometheus.CounterVec

	// Headless execution
	HeadlessRuns     *prometheus.CounterVec
	HeadlessDuration prometheus.Histogram

	startTime time.Time
}

// NewMetrics creates a metrics set on a fresh registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "editor_sessions_active",
				Help:      "Number of open editor sessions",
			},
		),
		Reloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preview_reloads_total",
				Help:      "Total number of preview documents synthesized after edits",
			},
		),
		ConsoleEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "console_entries_total",
				Help:      "Console entries relayed from preview frames",
			},
			[]string{"level"},
		),
		StaleMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "console_stale_messages_total",
				Help:      "Console messages dropped because their frame was superseded",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "WebSocket frames by direction and type",
			},
			[]string{"direction", "type"},
		),

		CatalogEffects: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_effects",
				Help:      "Number of effects in the catalog",
			},
		),
		CatalogReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_reloads_total",
				Help:      "Catalog file reloads by result",
			},
			[]string{"result"},
		),

		HeadlessRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "headless_runs_total",
				Help:      "Headless document executions by result",
			},
			[]string{"result"},
		),
		HeadlessDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "headless_run_duration_seconds",
				Help:      "Wall-clock duration of headless document executions",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the metrics set was created",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordConsole counts a relayed console entry.
func (m *Metrics) RecordConsole(level string) {
	m.ConsoleEntries.WithLabelValues(level).Inc()
}

// RecordWSMessage counts a websocket frame. Direction is "in" or "out".
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordCatalogReload counts a catalog reload and updates the effect gauge.
func (m *Metrics) RecordCatalogReload(err error, effects int) {
	if err != nil {
		m.CatalogReloads.WithLabelValues("error").Inc()
		return
	}
	m.CatalogReloads.WithLabelValues("ok").Inc()
	m.CatalogEffects.Set(float64(effects))
}

// RecordHeadlessRun counts one headless execution.
func (m *Metrics) RecordHeadlessRun(err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.HeadlessRuns.WithLabelValues(result).Inc()
	m.HeadlessDuration.Observe(d.Seconds())
}
