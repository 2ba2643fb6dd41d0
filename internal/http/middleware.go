package http

import (
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id to and from clients.
const RequestIDHeader = "X-Request-ID"

// ExtractClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (for proxied requests), then X-Real-IP, finally RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first hop is the client
		if before, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(before)
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

// AccessLog attaches a request-scoped logger to the context, so handlers and
// the request pipeline can use log.Ctx, and logs every completed request.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := logger.With().
				Str("request_id", requestID).
				Str("client_ip", ExtractClientIP(r)).
				Logger()
			r = r.WithContext(reqLogger.WithContext(r.Context()))

			m := httpsnoop.CaptureMetrics(next, w, r)

			event := reqLogger.Info()
			if m.Code >= http.StatusInternalServerError {
				event = reqLogger.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", m.Code).
				Int64("bytes", m.Written).
				Dur("duration", m.Duration).
				Msg("HTTP request")
		})
	}
}
