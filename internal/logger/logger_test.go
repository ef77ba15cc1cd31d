package logger

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID_Unique(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	a := GenerateTraceID("compute", ts)
	b := GenerateTraceID("compute", ts)

	if !strings.HasPrefix(a, "compute-") {
		t.Errorf("expected prefix 'compute-', got %q", a)
	}
	if a == b {
		t.Errorf("expected distinct trace ids for the same timestamp, got %q twice", a)
	}
}

func TestLogWithTrace(t *testing.T) {
	if attrs := LogWithTrace(context.Background()); attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}
	attrs := LogWithTrace(WithTraceID(context.Background(), "abc"))
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attr, got %d", len(attrs))
	}
}

func TestMiddleware_PropagatesTraceID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Trace-Id", "client-1")
	h.ServeHTTP(rec, req)
	if seen != "client-1" || rec.Header().Get("X-Trace-Id") != "client-1" {
		t.Errorf("expected client trace id, got handler=%q header=%q", seen, rec.Header().Get("X-Trace-Id"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if !strings.HasPrefix(seen, "req-") {
		t.Errorf("expected generated trace id, got %q", seen)
	}
}
