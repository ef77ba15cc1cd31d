package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/indicator"
	"alpha-engine/internal/logger"
	"alpha-engine/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// maxBodyBytes bounds compute request bodies.
const maxBodyBytes = 8 << 20

// ResultSource looks up the latest stored result for an indicator name.
// Implementations return (nil, nil) when nothing is stored.
type ResultSource interface {
	Latest(ctx context.Context, name string) (*model.IndicatorSeries, error)
}

// ContextController owns the active computation context.
type ContextController interface {
	Active() alpha.Context
	Apply(ctx context.Context, c alpha.Context) error

	// FrameGroups is the instrument count of the frames the controller
	// recomputes, or 0 when it has none.
	FrameGroups() int
}

// Config wires the gateway's dependencies.
type Config struct {
	Hub     *Hub
	Engine  *indicator.Engine
	Context ContextController

	// Results are consulted in order by GET /api/v1/results/{name}; the hub
	// cache is the final fallback. Nil entries are skipped.
	Results []ResultSource

	// AdminTOTPSecret, when set, requires a valid X-Admin-OTP code on
	// PUT /api/v1/context.
	AdminTOTPSecret string

	// Health serves /healthz when set.
	Health http.Handler
}

// Server exposes the HTTP API and the WebSocket stream.
type Server struct {
	cfg   Config
	start time.Time
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg, start: time.Now()}
}

// Handler returns the routed handler with trace-id middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return logger.Middleware(mux)
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/v1/compute", s.handleCompute)
	mux.HandleFunc("/api/v1/context", s.handleContext)
	mux.HandleFunc("/api/v1/results", s.handleResultList)
	mux.HandleFunc("/api/v1/results/", s.handleResult)
	mux.HandleFunc("/api/v1/replay", s.handleReplay)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	if s.cfg.Health != nil {
		mux.Handle("/healthz", s.cfg.Health)
	}
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-OTP, X-Trace-Id")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", append(logger.LogWithTrace(r.Context()), "error", err)...)
		return
	}
	s.cfg.Hub.Register(conn, r.URL.Query().Get("last_ts"))
}

// ComputeRequest is the body of POST /api/v1/compute. Exactly one of
// Series and Frame must be set. Context overrides the active context for
// this request only.
type ComputeRequest struct {
	Series  model.Values         `json:"series,omitempty"`
	Frame   *model.Frame         `json:"frame,omitempty"`
	Specs   []string             `json:"specs"`
	Context *model.ContextUpdate `json:"context,omitempty"`
}

// ComputeResponse is the reply to POST /api/v1/compute.
type ComputeResponse struct {
	Context model.ContextView       `json:"context"`
	Results []model.IndicatorSeries `json:"results"`
	TookMs  float64                 `json:"took_ms"`
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}

	var req ComputeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	specs := make([]indicator.Spec, 0, len(req.Specs))
	for _, raw := range req.Specs {
		spec, err := indicator.ParseSpec(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("spec %q: %w", raw, err))
			return
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no specs given"))
		return
	}

	actx := s.cfg.Context.Active()
	if req.Context != nil {
		c, err := req.Context.Context()
		if err != nil {
			writeAlphaError(w, err)
			return
		}
		actx = c
	}

	start := time.Now()
	var (
		results []model.IndicatorSeries
		eff     = actx
		err     error
	)
	switch {
	case req.Frame != nil && req.Series != nil:
		writeError(w, http.StatusBadRequest, errors.New("give either series or frame, not both"))
		return
	case req.Frame != nil:
		if eff, err = indicator.EffectiveContext(actx, req.Frame); err == nil {
			results, err = s.cfg.Engine.Compute(r.Context(), actx, req.Frame, specs)
		}
	case req.Series != nil:
		results, err = s.cfg.Engine.ComputeSeries(r.Context(), actx, req.Series, specs)
	default:
		writeError(w, http.StatusBadRequest, errors.New("series or frame is required"))
		return
	}
	if err != nil {
		slog.Info("compute rejected", append(logger.LogWithTrace(r.Context()), "error", err)...)
		writeAlphaError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ComputeResponse{
		Context: model.ViewOf(actx).WithEffectiveGroups(eff.Groups()),
		Results: results,
		TookMs:  float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.contextView(s.cfg.Context.Active()))
	case http.MethodPut, http.MethodPost:
		if !validOTP(s.cfg.AdminTOTPSecret, r.Header.Get("X-Admin-OTP"), time.Now()) {
			writeError(w, http.StatusUnauthorized, errors.New("missing or invalid X-Admin-OTP"))
			return
		}
		var u model.ContextUpdate
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&u); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
		c, err := u.Context()
		if err != nil {
			writeAlphaError(w, err)
			return
		}
		if err := s.cfg.Context.Apply(r.Context(), c); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		slog.Info("context updated", append(logger.LogWithTrace(r.Context()), "context", c.String())...)
		writeJSON(w, http.StatusOK, s.contextView(c))
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("use GET or PUT"))
	}
}

func (s *Server) handleResultList(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	writeJSON(w, http.StatusOK, s.cfg.Hub.LatestAll())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/results/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, errors.New("result name required"))
		return
	}

	for _, src := range s.cfg.Results {
		if src == nil {
			continue
		}
		res, err := src.Latest(r.Context(), name)
		if err != nil {
			slog.Warn("result lookup failed", append(logger.LogWithTrace(r.Context()), "name", name, "error", err)...)
			continue
		}
		if res != nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}
	if data, ok := s.cfg.Hub.Latest(name); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("no result for %s", name))
}

// handleReplay serves GET /api/v1/replay?name=MA_20&from=3&to=7.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	q := r.URL.Query()
	name := q.Get("name")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if name == "" || err1 != nil || err2 != nil || from > to {
		writeError(w, http.StatusBadRequest, errors.New("name, from and to are required"))
		return
	}
	channel := (&model.IndicatorSeries{Name: name}).PubSubChannel()
	envelopes := s.cfg.Hub.GetReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(envelopes))
	for i, e := range envelopes {
		out[i] = e
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        name,
		"channel_seq": s.cfg.Hub.GetChannelSeq(channel),
		"envelopes":   out,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	p50, p95, p99 := s.cfg.Hub.Latency.Percentiles()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ws_clients":     s.cfg.Hub.ClientCount(),
		"context":        s.contextView(s.cfg.Context.Active()),
		"latency_p50_ms": p50,
		"latency_p95_ms": p95,
		"latency_p99_ms": p99,
		"uptime_sec":     int64(time.Since(s.start).Seconds()),
	})
}

func (s *Server) contextView(c alpha.Context) model.ContextView {
	return model.ViewOf(c).WithEffectiveGroups(s.cfg.Context.FrameGroups())
}

// statusFor maps computation errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, alpha.ErrConfiguration),
		errors.Is(err, alpha.ErrAmbiguousPolicy),
		errors.Is(err, alpha.ErrLengthMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeAlphaError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
