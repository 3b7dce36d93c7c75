// Package status serves the dispatcher health and counters over HTTP.
package status

import (
	"context"
	stderr "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/sqs-dispatcher/sqsjobs"
	"go.uber.org/zap"
)

// Config of the status server. An empty Address disables it.
type Config struct {
	Address string `yaml:"address"`
}

// StatsSource reports dispatcher counters.
type StatsSource interface {
	Stats() sqsjobs.Stats
}

// QueueSource reports approximate queue counters.
type QueueSource interface {
	State(ctx context.Context) (*sqsjobs.QueueState, error)
}

type HealthzResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Queue         *sqsjobs.QueueState `json:"queue,omitempty"`
	Error         string              `json:"error,omitempty"`
}

type Server struct {
	cfg       Config
	stats     StatsSource
	queue     QueueSource
	log       *zap.Logger
	startedAt time.Time
}

func New(cfg Config, stats StatsSource, queue QueueSource, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		stats:     stats,
		queue:     queue,
		log:       log,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	const op = errors.Op("status_server_start")

	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Info("status server starting", zap.String("address", s.cfg.Address))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderr.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.E(op, err)
		}
		return nil
	case err := <-errCh:
		return errors.E(op, err)
	}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.logging)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)

	return r
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	code := http.StatusOK
	if s.queue != nil {
		st, err := s.queue.State(r.Context())
		if err != nil {
			s.log.Error("failed to read queue state", zap.Error(err))
			resp.Status = "degraded"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Queue = st
		}
	}

	s.writeJSON(w, code, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}
