package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs each request and stores a request-scoped logger in the
// context for handlers to pick up with zerolog.Ctx. The access line carries
// the organization and mailbox the route addressed, when it had them.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			r = r.WithContext(reqLogger.WithContext(r.Context()))

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			ev := reqLogger.Info()
			if ww.status >= http.StatusInternalServerError {
				ev = reqLogger.Warn()
			}
			// Route params are filled in by the router as the request is served.
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				for _, key := range []string{"orgID", "userID", "mailID"} {
					if v := rctx.URLParam(key); v != "" {
						ev = ev.Str(logKey[key], v)
					}
				}
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

var logKey = map[string]string{
	"orgID":  "org_id",
	"userID": "user_id",
	"mailID": "mail_id",
}
