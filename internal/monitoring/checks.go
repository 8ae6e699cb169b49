package monitoring

import (
	"context"
	"fmt"
	"runtime"
)

// Counter is anything that can report how many entries it holds.
type Counter interface {
	Count() int
}

// CatalogHealthChecker is unhealthy when the catalog holds no effects, since
// the gallery then has nothing to show.
func CatalogHealthChecker(catalog Counter) HealthChecker {
	return NewHealthCheckFunc("catalog", true, func(ctx context.Context) HealthCheck {
		n := catalog.Count()
		if n == 0 {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "Catalog is empty",
			}
		}
		return HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%d effects loaded", n),
			Metadata: map[string]interface{}{"effects": n},
		}
	})
}

// StoreHealthChecker pings a backing store. A failing store only
// degrades the server, since edits still reach the preview.
func StoreHealthChecker(name string, ping func(ctx context.Context) error) HealthChecker {
	return NewHealthCheckFunc(name, false, func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Store unavailable: %v", err),
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Store is reachable",
		}
	})
}

// SessionHealthChecker reports the number of open editor sessions. More than
// limit degrades the server; every session holds a debouncer and a console
// log in memory.
func SessionHealthChecker(sessions func() int, limit int) HealthChecker {
	return NewHealthCheckFunc("sessions", false, func(ctx context.Context) HealthCheck {
		n := sessions()
		check := HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%d editor sessions open", n),
			Metadata: map[string]interface{}{"open": n, "limit": limit},
		}
		if limit > 0 && n > limit {
			check.Status = HealthStatusDegraded
		}
		return check
	})
}

// GoroutineHealthChecker checks for goroutine leaks
func GoroutineHealthChecker() HealthChecker {
	return NewHealthCheckFunc("goroutines", false, func(ctx context.Context) HealthCheck {
		goroutines := runtime.NumGoroutine()

		check := HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  "Goroutine count is normal",
			Metadata: map[string]interface{}{"count": goroutines},
		}
		switch {
		case goroutines > 10000:
			check.Status = HealthStatusUnhealthy
			check.Message = fmt.Sprintf("Very high goroutine count: %d", goroutines)
		case goroutines > 1000:
			check.Status = HealthStatusDegraded
			check.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
		}
		return check
	})
}
