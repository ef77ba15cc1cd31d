// Package alphad wires the alpha engine service: it loads bar frames from
// SQLite, evaluates the configured indicator specs under the active
// computation context, stores the results and fans them out to Redis and
// WebSocket clients.
package alphad

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"alpha-engine/config"
	"alpha-engine/internal/alpha"
	"alpha-engine/internal/gateway"
	"alpha-engine/internal/indicator"
	"alpha-engine/internal/logger"
	"alpha-engine/internal/metrics"
	"alpha-engine/internal/model"
	redisstore "alpha-engine/internal/store/redis"
	sqlitestore "alpha-engine/internal/store/sqlite"
)

// Service is the top-level orchestrator for the alpha engine.
type Service struct {
	cfg *config.Config

	engine *indicator.Engine
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	hub    *gateway.Hub

	frames     model.FrameReader
	results    model.ResultWriter
	sqlReader  *sqlitestore.Reader
	sqlWriter  *sqlitestore.Writer
	redisRead  *redisstore.Reader
	redisWrite *redisstore.Writer
	publishers []model.ResultPublisher

	refreshMu   sync.Mutex // serializes Refresh and Close
	closed      bool
	refreshCh   chan struct{}
	frameGroups atomic.Int64
}

// ErrClosed is returned by Refresh after Close.
var ErrClosed = errors.New("alphad: service closed")

// New opens the stores and builds the service. Redis is optional: an empty
// REDIS_ADDR or an unreachable server leaves the service running on SQLite
// and WebSocket only.
func New(cfg *config.Config, reg prometheus.Registerer) (*Service, error) {
	actx, err := cfg.Context()
	if err != nil {
		return nil, fmt.Errorf("initial context: %w", err)
	}

	svc := &Service{
		cfg:       cfg,
		prom:      metrics.NewMetrics(reg),
		health:    metrics.NewHealthStatus(),
		hub:       gateway.NewHub(),
		refreshCh: make(chan struct{}, 1),
	}
	svc.engine = indicator.NewEngine(cfg.Workers, svc.prom)
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, err
	}
	svc.sqlWriter.OnCommit = func(d time.Duration) { svc.prom.SQLiteCommitDur.Observe(d.Seconds()) }
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		svc.sqlWriter.Close()
		return nil, err
	}
	svc.frames, svc.results = svc.sqlReader, svc.sqlWriter
	svc.health.SetSQLiteOK(true)

	svc.publishers = []model.ResultPublisher{svc.hub}

	// ---- Connect to Redis (optional) ----
	if cfg.RedisAddr != "" {
		svc.health.SetRedisEnabled(true)
		if err := svc.connectRedis(); err != nil {
			log.Printf("[alphad] WARNING: redis unavailable: %v (continuing without Redis)", err)
		}
	}

	svc.setActive(actx)
	return svc, nil
}

func (svc *Service) connectRedis() error {
	cfg := svc.cfg
	w, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	r, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		w.Close()
		return err
	}
	w.OnPublish = func(d time.Duration, _ error) { svc.prom.RedisPublishDur.Observe(d.Seconds()) }

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[alphad] redis circuit breaker %s -> %s", from, to)
	}

	svc.redisWrite, svc.redisRead = w, r
	svc.publishers = append(svc.publishers,
		redisstore.NewBufferedPublisher(context.Background(), w, cb, 1000))
	return nil
}

func (svc *Service) redisClient() *goredis.Client {
	if svc.redisWrite == nil {
		return nil
	}
	return svc.redisWrite.Client()
}

// FrameGroups returns the instrument count of the last refreshed frame, or
// of the configured instruments before the first refresh.
func (svc *Service) FrameGroups() int {
	if n := svc.frameGroups.Load(); n > 0 {
		return int(n)
	}
	return len(svc.cfg.Keys)
}

// Hub returns the WebSocket hub.
func (svc *Service) Hub() *gateway.Hub { return svc.hub }

// Active returns the active computation context.
func (svc *Service) Active() alpha.Context { return alpha.Active() }

// Apply installs c as the active context, broadcasts it to other instances
// through Redis and schedules a recompute.
func (svc *Service) Apply(ctx context.Context, c alpha.Context) error {
	svc.setActive(c)
	if svc.redisWrite != nil {
		if err := svc.redisWrite.PublishContext(ctx, c); err != nil {
			log.Printf("[alphad] WARNING: context broadcast failed: %v", err)
		}
	}
	svc.TriggerRefresh()
	return nil
}

// applyRemote handles a context update received from the config channel.
func (svc *Service) applyRemote(c alpha.Context) {
	if c == alpha.Active() {
		return
	}
	log.Printf("[alphad] context update from redis: %s", c)
	svc.setActive(c)
	svc.TriggerRefresh()
}

func (svc *Service) setActive(c alpha.Context) {
	alpha.SetActive(c)
	svc.prom.SetContext(c)
	svc.health.SetContext(c)
}

// TriggerRefresh schedules a recompute without blocking.
func (svc *Service) TriggerRefresh() {
	select {
	case svc.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh loads the configured instruments' frame, evaluates every spec
// under the active context, stores the results and publishes them.
func (svc *Service) Refresh(ctx context.Context) ([]model.IndicatorSeries, error) {
	svc.refreshMu.Lock()
	defer svc.refreshMu.Unlock()
	if svc.closed {
		return nil, ErrClosed
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("refresh", time.Now()))
	results, err := svc.compute(ctx)
	svc.health.RecordCompute(time.Now(), err)
	if err != nil {
		slog.Error("refresh failed", append(logger.LogWithTrace(ctx), "error", err)...)
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	if err := svc.results.SaveResults(results); err != nil {
		slog.Error("saving results failed", append(logger.LogWithTrace(ctx), "error", err)...)
	}
	for _, p := range svc.publishers {
		if err := p.PublishResults(ctx, results); err != nil {
			slog.Warn("publish failed", append(logger.LogWithTrace(ctx), "error", err)...)
		}
	}
	slog.Info("refresh complete", append(logger.LogWithTrace(ctx),
		"indicators", len(results), "context", alpha.Active().String())...)
	return results, nil
}

func (svc *Service) compute(ctx context.Context) ([]model.IndicatorSeries, error) {
	keys := svc.cfg.Keys
	if len(keys) == 0 {
		var err error
		keys, err = svc.frames.ListKeys(svc.cfg.TF)
		if err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 {
		log.Printf("[alphad] no bars stored for tf=%ds yet, nothing to compute", svc.cfg.TF)
		return nil, nil
	}

	frame, err := svc.frames.ReadFrame(keys, svc.cfg.TF, 0, 0)
	if err != nil {
		return nil, err
	}
	if frame.Len() == 0 {
		return nil, nil
	}
	svc.frameGroups.Store(int64(frame.Groups()))
	return svc.engine.Compute(ctx, alpha.Active(), frame, svc.cfg.Specs)
}

// refreshLoop recomputes on every tick and on demand.
func (svc *Service) refreshLoop(ctx context.Context) {
	var tick <-chan time.Time
	if svc.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(time.Duration(svc.cfg.RefreshInterval) * time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-svc.refreshCh:
		}
		svc.Refresh(ctx)
	}
}

// Handler returns the gateway's HTTP handler.
func (svc *Service) Handler() http.Handler {
	var sources []gateway.ResultSource
	if svc.redisRead != nil {
		sources = append(sources, svc.redisRead)
	}
	sources = append(sources, storedResults{svc.sqlReader})

	return gateway.NewServer(gateway.Config{
		Hub:             svc.hub,
		Engine:          svc.engine,
		Context:         svc,
		Results:         sources,
		AdminTOTPSecret: svc.cfg.AdminTOTPSecret,
		Health:          svc.health,
	}).Handler()
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context, gatherer prometheus.Gatherer) error {
	cfg := svc.cfg
	log.Println("[alphad] starting alpha engine...")

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, svc.health, gatherer)
	metricsSrv.Start()

	if rdb := svc.redisClient(); rdb != nil {
		svc.health.CheckRedis(ctx, rdb)
	}
	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.sqlWriter.DB(), 10*time.Second)

	if svc.redisRead != nil {
		go func() {
			if err := svc.redisRead.SubscribeContext(ctx, svc.applyRemote); err != nil {
				log.Printf("[alphad] context subscriber stopped: %v", err)
			}
		}()
	}

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: svc.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[alphad] HTTP server on %s (/api/v1, /ws, /healthz)", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := make(chan struct{})
	svc.TriggerRefresh()
	go func() {
		svc.refreshLoop(loopCtx)
		close(loopDone)
	}()

	log.Printf("[alphad] context=%s specs=%d tf=%ds refresh=%ds", alpha.Active(), len(cfg.Specs), cfg.TF, cfg.RefreshInterval)
	log.Println("[alphad] all systems running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutCtx)
	metricsSrv.Stop(shutCtx)
	stopLoop()
	<-loopDone
	svc.Close()
	return runErr
}

// Close waits for an in-flight Refresh, then releases stores and
// connections. Later calls are no-ops.
func (svc *Service) Close() {
	svc.refreshMu.Lock()
	defer svc.refreshMu.Unlock()
	if svc.closed {
		return
	}
	svc.closed = true

	svc.hub.Close()
	if svc.redisWrite != nil {
		svc.redisWrite.Close()
	}
	if svc.redisRead != nil {
		svc.redisRead.Close()
	}
	svc.sqlReader.Close()
	svc.sqlWriter.Close()
	log.Println("[alphad] shutdown complete.")
}

// storedResults adapts the SQLite reader to gateway.ResultSource.
type storedResults struct {
	r *sqlitestore.Reader
}

func (s storedResults) Latest(_ context.Context, name string) (*model.IndicatorSeries, error) {
	return s.r.ReadResult(name)
}
