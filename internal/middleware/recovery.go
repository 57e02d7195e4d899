// Package middleware provides HTTP middleware for the coordinator's
// gorilla/mux router: request logging, panic recovery, and CORS.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/secchiware/coordinator/internal/httputil"
	"github.com/secchiware/coordinator/internal/logging"
)

// RecoveryMiddleware recovers from panics in downstream handlers, logs
// them with a stack trace, and turns them into the coordinator's standard
// {"error": "..."} envelope instead of letting net/http close the
// connection silently.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", err),
					"stack":       string(stack),
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Error("panic recovered")

				httputil.InternalError(w, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
