package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pueued/pueued/internal/metrics"
)

// RequestMetrics returns a middleware that records each request's method,
// route pattern, status, and duration to the pueued_http_request_duration_seconds
// histogram and pueued_http_requests_total counter, mirroring RequestLogger's
// shape but feeding the status mirror's /metrics endpoint instead of the log.
func RequestMetrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(ww.Status()), time.Since(start).Seconds())
		})
	}
}
