package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/secchiware/coordinator/internal/metrics"
)

// MetricsMiddleware records HTTP request counters/histograms per route
// template (not the raw path, so /sessions/{id} doesn't explode
// cardinality). Grounded on infrastructure/middleware/metrics.go, reusing
// this package's own responseWriter wrapper from logging.go.
func MetricsMiddleware(collector *metrics.Collector) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := r.URL.Path
			if rt := mux.CurrentRoute(r); rt != nil {
				if tmpl, err := rt.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			collector.ObserveHTTPRequest(route, r.Method, wrapped.statusCode, time.Since(start))
		})
	}
}
