// Package monitor serves the operational HTTP surface: /health with
// dependency checks and /metrics for Prometheus scrapes.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dealbrain/dealbrain/internal/persistence"
)

// Pinger is the slice of the Redis client the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger adapts a go-redis client to Pinger.
type RedisPinger struct {
	RDB *redis.Client
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.RDB.Ping(ctx).Err()
}

// Deps are the monitored dependencies. Redis may be nil when the process
// runs without one.
type Deps struct {
	DB       persistence.RepositoryHealth
	Redis    Pinger
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the read-only ops server.
type Server struct {
	router    *mux.Router
	server    *http.Server
	db        persistence.RepositoryHealth
	redis     Pinger
	version   string
	startTime time.Time
	log       zerolog.Logger
}

// New builds the ops server listening on addr. A nil Gatherer falls back to
// the default Prometheus registry.
func New(addr string, d Deps, log zerolog.Logger) *Server {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:    mux.NewRouter(),
		db:        d.DB,
		redis:     d.Redis,
		version:   d.Version,
		startTime: time.Now(),
		log:       log.With().Str("component", "monitor").Logger(),
	}
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("monitor server listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("monitor server shutting down")
	return s.server.Shutdown(ctx)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string                  `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Version   string                  `json:"version,omitempty"`
	Checks    map[string]CheckResult  `json:"checks"`
	Database  persistence.HealthCheck `json:"database"`
}

// CheckResult is one dependency probe outcome.
type CheckResult struct {
	Status    string `json:"status"` // pass, fail, skip
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// handleHealth probes the database and Redis. The database decides
// liveness; a Redis failure only degrades (cache and queue consumers fall
// back to direct reads and retries).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).String(),
		Version:   s.version,
		Checks:    make(map[string]CheckResult, 2),
	}

	resp.Database = s.db.Health(ctx)
	dbCheck := CheckResult{Status: "pass", LatencyMS: resp.Database.ResponseTimeMS}
	if !resp.Database.Healthy {
		dbCheck.Status = "fail"
		if len(resp.Database.Errors) > 0 {
			dbCheck.Message = resp.Database.Errors[0]
		}
	}
	resp.Checks["database"] = dbCheck

	redisCheck := CheckResult{Status: "skip", Message: "redis not configured"}
	if s.redis != nil {
		started := time.Now()
		if err := s.redis.Ping(ctx); err != nil {
			redisCheck = CheckResult{Status: "fail", Message: err.Error(), LatencyMS: time.Since(started).Milliseconds()}
		} else {
			redisCheck = CheckResult{Status: "pass", LatencyMS: time.Since(started).Milliseconds()}
		}
	}
	resp.Checks["redis"] = redisCheck

	switch {
	case dbCheck.Status == "fail":
		resp.Status = "unhealthy"
	case redisCheck.Status == "fail":
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if resp.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode health response")
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
