package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

// Logger logs every request through the zap sugared logger: method, path, hashed
// params, status and latency.  Server errors log at Warn, everything else at Info.
func Logger(logger *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(wrapped, r)
			// a handler that never wrote a header is an implicit 200
			if wrapped.Status() == 0 {
				wrapped.WriteHeader(http.StatusOK)
			}
			line := newRequestLogger().
				requestType(r.Method).
				request(r.URL.String()).
				params(r.URL.String()).
				status(wrapped.Status()).
				duration(time.Since(start)).
				render()
			if wrapped.Status() >= 500 {
				logger.Warn(line)
			} else {
				logger.Info(line)
			}
		}
		return http.HandlerFunc(fn)
	}
}
