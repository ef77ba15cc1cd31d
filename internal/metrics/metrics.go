package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alpha-engine/internal/alpha"
)

// Metrics holds all Prometheus metrics for the alpha engine.
type Metrics struct {
	ComputeDur      *prometheus.HistogramVec // labels: indicator
	ComputeTotal    *prometheus.CounterVec   // labels: indicator
	ComputeErrors   *prometheus.CounterVec   // labels: kind
	UndefinedPoints *prometheus.CounterVec   // labels: indicator

	// Active context
	ContextGroups prometheus.Gauge
	ContextPolicy prometheus.Gauge // 0=default, 1=require_full_window, 2=skip_missing

	// Publishing
	RedisPublishDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	SQLiteCommitDur          prometheus.Histogram

	WSClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alpha_compute_duration_seconds",
			Help:    "Indicator compute latency per series",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"indicator"}),
		ComputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_compute_total",
			Help: "Total indicator series computed",
		}, []string{"indicator"}),
		ComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_compute_errors_total",
			Help: "Failed computations by error kind",
		}, []string{"kind"}),
		UndefinedPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_undefined_points_total",
			Help: "Output positions left undefined (missing)",
		}, []string{"indicator"}),

		ContextGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alpha_context_groups",
			Help: "Group count of the active computation context",
		}),
		ContextPolicy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alpha_context_policy",
			Help: "Missing-data policy of the active context (0=default, 1=require_full_window, 2=skip_missing)",
		}),

		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alpha_redis_publish_duration_seconds",
			Help:    "Redis publish pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alpha_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpha_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alpha_sqlite_commit_duration_seconds",
			Help:    "SQLite result commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alpha_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.ComputeDur,
		m.ComputeTotal,
		m.ComputeErrors,
		m.UndefinedPoints,
		m.ContextGroups,
		m.ContextPolicy,
		m.RedisPublishDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.SQLiteCommitDur,
		m.WSClients,
	)

	return m
}

// ObserveCompute records one indicator evaluation.
func (m *Metrics) ObserveCompute(name string, dur time.Duration, undefined int, err error) {
	m.ComputeDur.WithLabelValues(name).Observe(dur.Seconds())
	if err != nil {
		m.ComputeErrors.WithLabelValues(ErrorKind(err)).Inc()
		return
	}
	m.ComputeTotal.WithLabelValues(name).Inc()
	m.UndefinedPoints.WithLabelValues(name).Add(float64(undefined))
}

// SetContext mirrors the active context into gauges.
func (m *Metrics) SetContext(c alpha.Context) {
	m.ContextGroups.Set(float64(c.Groups()))
	m.ContextPolicy.Set(float64(c.Policy()))
}

// ErrorKind classifies an error for the compute_errors label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, alpha.ErrAmbiguousPolicy):
		return "ambiguous_policy"
	case errors.Is(err, alpha.ErrConfiguration):
		return "configuration"
	case errors.Is(err, alpha.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastComputeAt  time.Time `json:"last_compute_at"`
	LastComputeErr string    `json:"last_compute_error"`
	Context        string    `json:"context"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetContext(c alpha.Context) {
	h.mu.Lock()
	h.Context = c.String()
	h.mu.Unlock()
}

// RecordCompute notes the outcome of the latest refresh.
func (h *HealthStatus) RecordCompute(t time.Time, err error) {
	h.mu.Lock()
	h.LastComputeAt = t
	h.LastComputeErr = ""
	if err != nil {
		h.LastComputeErr = err.Error()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	if redisDown || !h.SQLiteOK || h.LastComputeErr != "" {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	lastCompute := ""
	if !h.LastComputeAt.IsZero() {
		lastCompute = h.LastComputeAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Context         string  `json:"context"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastComputeAt   string  `json:"last_compute_at"`
		LastComputeErr  string  `json:"last_compute_error,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Context:         h.Context,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastComputeAt:   lastCompute,
		LastComputeErr:  h.LastComputeErr,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer defaults to
// prometheus.DefaultGatherer when nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler exposes the server's mux (used by tests).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
