// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context and provides
// trace ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps "debug", "info", "warn", "error" to a slog.Level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

var traceSeq atomic.Uint64

// GenerateTraceID creates a trace ID from a prefix, timestamp and a process
// sequence number. Format: "{prefix}-{unixNano}-{seq}".
func GenerateTraceID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d-%d", prefix, ts.UnixNano(), traceSeq.Add(1))
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}

// Middleware attaches a trace ID to every request (reusing X-Trace-Id when
// the caller sends one), echoes it in the response and logs completion.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tid := r.Header.Get("X-Trace-Id")
		if tid == "" {
			tid = GenerateTraceID("req", start)
		}
		ctx := WithTraceID(r.Context(), tid)
		w.Header().Set("X-Trace-Id", tid)

		next.ServeHTTP(w, r.WithContext(ctx))

		slog.Debug("http request",
			append(LogWithTrace(ctx),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("took", time.Since(start)),
			)...)
	})
}
