// Package server is the HTTP and websocket transport of fxlab. It serves the
// effect gallery, the per-effect editor page and the sandboxed documents,
// and runs one editor session per websocket connection.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/conneroisu/fxlab/internal/config"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/middleware"
	"github.com/conneroisu/fxlab/internal/monitoring"
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/sandbox"
	"github.com/conneroisu/fxlab/internal/store"
	"github.com/conneroisu/fxlab/internal/watcher"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	// Above this many open editors the health endpoint reports degraded.
	maxHealthySessions = 500
)

// Option configures a Server.
type Option func(*PreviewServer)

func WithLogger(logger logging.Logger) Option {
	return func(s *PreviewServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *PreviewServer) {
		s.metrics = m
	}
}

// WithDrafts persists editor sessions to d. Without it drafts live in memory.
func WithDrafts(d store.Drafts) Option {
	return func(s *PreviewServer) {
		s.drafts = d
	}
}

// PreviewServer serves the gallery and editor pages and owns the editor
// sessions of connected clients.
type PreviewServer struct {
	config   *config.Config
	logger   logging.Logger
	metrics  *monitoring.Metrics
	health   *monitoring.HealthMonitor
	catalog  *registry.Registry
	drafts   store.Drafts
	caps     sandbox.Capabilities
	titles   *bluemonday.Policy
	prose    *bluemonday.Policy
	sessions *sessionSet
	handler  http.Handler

	serverMutex  sync.Mutex
	httpServer   *http.Server
	watcher      *watcher.FileWatcher
	shutdownOnce sync.Once
}

// New builds a server over catalog. Nothing listens until Start.
func New(cfg *config.Config, catalog *registry.Registry, opts ...Option) (*PreviewServer, error) {
	if cfg == nil {
		return nil, fxerrors.NewConfigError(fxerrors.ErrCodeConfigInvalid, "server config is required")
	}
	if catalog == nil {
		return nil, fxerrors.NewConfigError(fxerrors.ErrCodeConfigInvalid, "catalog is required")
	}

	s := &PreviewServer{
		config:   cfg,
		logger:   logging.NewNopLogger(),
		catalog:  catalog,
		caps:     sandbox.Default(),
		titles:   bluemonday.StrictPolicy(),
		prose:    proseHTMLPolicy(),
		sessions: newSessionSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.caps.Validate(); err != nil {
		return nil, err
	}
	if s.drafts == nil {
		s.drafts = store.NewMemoryDrafts()
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetrics()
	}
	s.logger = s.logger.WithComponent("server")
	s.metrics.CatalogEffects.Set(float64(catalog.Count()))

	s.health = monitoring.NewHealthMonitor(s.logger, cfg.Server.Environment)
	s.health.RegisterCheck(monitoring.CatalogHealthChecker(catalog))
	s.health.RegisterCheck(monitoring.StoreHealthChecker("drafts", func(ctx context.Context) error {
		_, err := s.drafts.List(ctx)
		return err
	}))
	s.health.RegisterCheck(monitoring.SessionHealthChecker(s.sessions.len, maxHealthySessions))
	s.health.RegisterCheck(monitoring.GoroutineHealthChecker())

	chain := middleware.NewChain(middleware.Dependencies{
		Config:  cfg,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	s.handler = chain.Apply(s.routes())

	return s, nil
}

// Handler returns the routed handler wrapped in the middleware stack.
func (s *PreviewServer) Handler() http.Handler {
	return s.handler
}

// Metrics returns the collectors the server records into.
func (s *PreviewServer) Metrics() *monitoring.Metrics {
	return s.metrics
}

// Sessions returns the number of open editor sessions.
func (s *PreviewServer) Sessions() int {
	return s.sessions.len()
}

func (s *PreviewServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /effects", s.handleGallery)
	mux.HandleFunc("GET /effects/{id}", s.handleEditor)
	mux.HandleFunc("GET /effects/{id}/document", s.handleDocument)
	mux.HandleFunc("GET /effects/{id}/download", s.handleDownload)
	mux.HandleFunc("GET /api/effects", s.handleEffects)
	mux.HandleFunc("GET /api/effects/{id}", s.handleEffect)
	mux.HandleFunc("POST /api/effects/{id}/run", s.handleRun)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.health.HTTPHandler())
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET /static/", http.StripPrefix("/static/", staticHandler()))
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

// Start watches the catalog file if configured, then serves until ctx is
// cancelled or the listener fails.
func (s *PreviewServer) Start(ctx context.Context) error {
	if err := s.watchCatalog(ctx); err != nil {
		return err
	}

	s.health.RunChecks(ctx)
	s.health.Start()

	srv := &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	s.serverMutex.Lock()
	s.httpServer = srv
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Preview server listening", "addr", srv.Addr, "effects", s.catalog.Count())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fxerrors.NewNetworkError(fxerrors.ErrCodeServerStart, "server error", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

func (s *PreviewServer) watchCatalog(ctx context.Context) error {
	path := s.config.Catalog.Path
	if path == "" || !s.config.Catalog.Watch {
		return nil
	}

	fw, err := registry.WatchFile(ctx, s.catalog, path, s.logger, func(err error) {
		s.metrics.RecordCatalogReload(err, s.catalog.Count())
	})
	if err != nil {
		return fxerrors.NewIOError(fxerrors.ErrCodeFileWatch, "failed to watch catalog", err).
			WithContext("path", path)
	}

	s.serverMutex.Lock()
	s.watcher = fw
	s.serverMutex.Unlock()
	s.logger.Info(ctx, "Watching catalog", "path", path)
	return nil
}

// Shutdown closes every editor session, stops the catalog watcher and the
// health monitor, and drains the HTTP server. It is safe to call more than
// once.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down preview server", "sessions", s.sessions.len())

		s.sessions.closeAll()
		s.health.Stop()

		s.serverMutex.Lock()
		fw := s.watcher
		srv := s.httpServer
		s.serverMutex.Unlock()

		if fw != nil {
			if err := fw.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop catalog watcher")
			}
		}
		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
	})

	return shutdownErr
}
