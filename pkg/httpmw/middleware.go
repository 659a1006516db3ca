// Package httpmw provides the HTTP request wrapper notificaties-core
// uses in front of every handler: request-id generation, structured
// per-request logging, and panic recovery around every handler.
package httpmw

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestID extracts the request id stamped by Wrap, or "" if none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Wrap logs execution start/end around next, recovers from panics as a
// 500, and stamps every request with a request id propagated through
// the context and an X-Request-Id response header.
func Wrap(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		reqLogger := logger.With("request_id", requestID, "method", r.Method, "path", r.URL.Path)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		start := time.Now()
		reqLogger.Info("request started")

		defer func() {
			if rec := recover(); rec != nil {
				reqLogger.Error("request panicked", "panic", fmt.Sprint(rec))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"code":"internal_error","title":"internal server error"}`))
			}
		}()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		reqLogger.Info("request completed", "status", sw.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

// statusWriter captures the status code a handler wrote, for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
