// Package logx wires slog into the request path. The per-request fields
// (request id, client IP) travel as an explicit context value rather than
// process-wide state: handlers and pipeline code pick the logger up with
// FromContext.
package logx

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

// New builds the process logger. level is one of debug/info/warn/error;
// format is "text" or "json".
func New(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// WithLogger stores l in the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger, or slog.Default() if the
// context carries none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Middleware attaches a request-scoped logger (request id from chi's
// RequestID middleware, client IP) and logs request start and completion
// with latency. It also echoes the request id back in X-Request-ID.
func Middleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			log := base.With("request_id", reqID, "ip", r.RemoteAddr)
			ctx := WithLogger(r.Context(), log)

			start := time.Now()
			log.Info("request started", "method", r.Method, "path", r.URL.Path)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			if reqID != "" {
				ww.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
