package httpapi

import (
	"net/http"
	"strings"
	"time"

	"qms/walkin-service/internal/metrics"
	"qms/walkin-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware assigns a request id when the caller sent none, records
// request metrics and writes one access log line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)
		metrics.ObserveHTTP(r.Method, writer.status, duration)

		event := loggerFromRequest(r).Info()
		if writer.status >= http.StatusInternalServerError {
			event = loggerFromRequest(r).Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("request")
	})
}

func loggerFromRequest(r *http.Request) *zerolog.Logger {
	logger := telemetry.LoggerFromContext(r.Context()).With().
		Str("request_id", requestIDFromRequest(r)).
		Logger()
	return &logger
}
