package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/version"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheck is the result of one check run.
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Critical    bool                   `json:"critical"`
}

// HealthChecker defines the interface for health check functions
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
	IsCritical() bool
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc struct {
	name     string
	checkFn  func(ctx context.Context) HealthCheck
	critical bool
}

func (h *HealthCheckFunc) Check(ctx context.Context) HealthCheck {
	return h.checkFn(ctx)
}

func (h *HealthCheckFunc) Name() string {
	return h.name
}

func (h *HealthCheckFunc) IsCritical() bool {
	return h.critical
}

// NewHealthCheckFunc creates a new health check function
func NewHealthCheckFunc(
	name string,
	critical bool,
	checkFn func(ctx context.Context) HealthCheck,
) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:     name,
		checkFn:  checkFn,
		critical: critical,
	}
}

// HealthOption configures a HealthMonitor.
type HealthOption func(*HealthMonitor)

// WithCheckInterval sets how often Start re-runs the checks.
func WithCheckInterval(d time.Duration) HealthOption {
	return func(hm *HealthMonitor) {
		if d > 0 {
			hm.interval = d
		}
	}
}

// WithCheckTimeout bounds each individual check.
func WithCheckTimeout(d time.Duration) HealthOption {
	return func(hm *HealthMonitor) {
		if d > 0 {
			hm.timeout = d
		}
	}
}

// HealthMonitor runs registered checks periodically and on demand, and
// serves the last results.
type HealthMonitor struct {
	mu          sync.RWMutex
	checks      map[string]HealthChecker
	results     map[string]HealthCheck
	logger      logging.Logger
	environment string
	interval    time.Duration
	timeout     time.Duration
	started     time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status      HealthStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]HealthCheck `json:"checks"`
	Summary     HealthSummary          `json:"summary"`
	Runtime     RuntimeInfo            `json:"runtime"`
}

// HealthSummary counts check results by status.
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Unknown   int `json:"unknown"`
	Critical  int `json:"critical"`
}

// RuntimeInfo describes the serving process.
type RuntimeInfo struct {
	Platform   string    `json:"platform"`
	GoVersion  string    `json:"go_version"`
	Goroutines int       `json:"goroutines"`
	StartTime  time.Time `json:"start_time"`
}

// NewHealthMonitor creates a health monitor reporting environment.
func NewHealthMonitor(logger logging.Logger, environment string, opts ...HealthOption) *HealthMonitor {
	if environment == "" {
		environment = "development"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	hm := &HealthMonitor{
		checks:      make(map[string]HealthChecker),
		results:     make(map[string]HealthCheck),
		logger:      logger.WithComponent("health_monitor"),
		environment: environment,
		interval:    30 * time.Second,
		timeout:     5 * time.Second,
		started:     time.Now(),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(hm)
	}
	return hm
}

// RegisterCheck adds checker, replacing any check of the same name.
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mu.Lock()
	hm.checks[checker.Name()] = checker
	hm.mu.Unlock()

	hm.logger.Debug(context.Background(), "Registered health check",
		"name", checker.Name(),
		"critical", checker.IsCritical())
}

// UnregisterCheck removes a check and its last result.
func (hm *HealthMonitor) UnregisterCheck(name string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	delete(hm.checks, name)
	delete(hm.results, name)
}

// Start runs the checks now and then every interval until Stop.
func (hm *HealthMonitor) Start() {
	hm.wg.Add(1)
	go func() {
		defer hm.wg.Done()

		ticker := time.NewTicker(hm.interval)
		defer ticker.Stop()

		hm.RunChecks(context.Background())
		for {
			select {
			case <-ticker.C:
				hm.RunChecks(context.Background())
			case <-hm.stop:
				return
			}
		}
	}()
	hm.logger.Info(context.Background(), "Health monitor started", "interval", hm.interval)
}

// Stop stops the health monitor. It is safe to call more than once.
func (hm *HealthMonitor) Stop() {
	hm.stopOnce.Do(func() {
		close(hm.stop)
	})
	hm.wg.Wait()
}

// RunChecks executes every registered check concurrently and stores the
// results.
func (hm *HealthMonitor) RunChecks(ctx context.Context) {
	hm.mu.RLock()
	checks := make([]HealthChecker, 0, len(hm.checks))
	for _, checker := range hm.checks {
		checks = append(checks, checker)
	}
	hm.mu.RUnlock()

	results := make([]HealthCheck, len(checks))
	var wg sync.WaitGroup
	for i, checker := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = hm.run(ctx, checker)
		}()
	}
	wg.Wait()

	hm.mu.Lock()
	defer hm.mu.Unlock()
	for _, result := range results {
		// A check unregistered while running is not resurrected.
		if _, ok := hm.checks[result.Name]; !ok {
			continue
		}
		hm.results[result.Name] = result
		if result.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", result.Name,
				"status", string(result.Status),
				"message", result.Message,
				"duration", result.Duration)
		}
	}
}

func (hm *HealthMonitor) run(ctx context.Context, checker HealthChecker) HealthCheck {
	checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	start := time.Now()
	result := checker.Check(checkCtx)
	result.Name = checker.Name()
	result.Critical = checker.IsCritical()
	result.Duration = time.Since(start)
	result.LastChecked = time.Now()
	if result.Status == "" {
		result.Status = HealthStatusUnknown
	}
	return result
}

// GetHealth returns the current health status
func (hm *HealthMonitor) GetHealth() HealthResponse {
	hm.mu.RLock()
	checks := make(map[string]HealthCheck, len(hm.results))
	for name, result := range hm.results {
		checks[name] = result
	}
	hm.mu.RUnlock()

	return HealthResponse{
		Status:      overallStatus(checks),
		Timestamp:   time.Now(),
		Version:     version.GetShortVersion(),
		Environment: hm.environment,
		Uptime:      time.Since(hm.started).Round(time.Second).String(),
		Checks:      checks,
		Summary:     summarize(checks),
		Runtime: RuntimeInfo{
			Platform:   runtime.GOOS + "/" + runtime.GOARCH,
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			StartTime:  hm.started,
		},
	}
}

// Failing lists the names of checks whose last result was not healthy, in
// name order.
func (r HealthResponse) Failing() []string {
	var names []string
	for name, c := range r.Checks {
		if c.Status != HealthStatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func summarize(checks map[string]HealthCheck) HealthSummary {
	summary := HealthSummary{Total: len(checks)}
	for _, check := range checks {
		switch check.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusUnhealthy:
			summary.Unhealthy++
		case HealthStatusDegraded:
			summary.Degraded++
		default:
			summary.Unknown++
		}
		if check.Critical {
			summary.Critical++
		}
	}
	return summary
}

// overallStatus is unhealthy if a critical check is unhealthy, and degraded
// if any other check is not healthy.
func overallStatus(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch {
		case check.Status == HealthStatusHealthy:
		case check.Critical && check.Status == HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		default:
			status = HealthStatusDegraded
		}
	}
	return status
}

// HTTPHandler serves the last results as JSON. With ?refresh the checks run
// first. Unhealthy answers 503 so load balancers take the instance out.
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("refresh") {
			hm.RunChecks(r.Context())
		}
		health := hm.GetHealth()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			hm.logger.Error(r.Context(), err, "Failed to encode health response")
		}
	}
}
