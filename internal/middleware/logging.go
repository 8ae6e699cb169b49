package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/monitoring"
)

// Logging logs every request and records it in metrics, labelled by the
// matched route pattern. metrics may be nil.
func Logging(logger logging.Logger, metrics *monitoring.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newResponseRecorder(w)

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			if metrics != nil {
				metrics.RecordRequest(r.Method, route, rec.status, duration)
			}

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", duration,
				"remote", clientIP(r),
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Warn(r.Context(), nil, "Request failed", fields...)
				return
			}
			logger.Debug(r.Context(), "Request served", fields...)
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				err := fxerrors.NewInternalError(fxerrors.ErrCodeInternalError,
					fmt.Sprintf("handler panic: %v", v), nil)
				logger.Error(r.Context(), err, "Recovered from panic",
					"path", r.URL.Path, "stack", string(debug.Stack()))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
