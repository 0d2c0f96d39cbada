// Package httpapi serves the engine's operational endpoints: health,
// Prometheus metrics, and a status snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/metrics"
)

// StatusProvider reports the engine's current state for /status.
type StatusProvider interface {
	Status(ctx context.Context) Status
}

// Status is the /status response body.
type Status struct {
	State           string    `json:"state"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
	Source          string    `json:"source"`
	HotPartition    string    `json:"hot_partition,omitempty"`
	BreakerState    string    `json:"breaker_state"`
	EventsProcessed uint64    `json:"events_processed"`
	SignalsEmitted  uint64    `json:"signals_emitted"`
	LastReconcileAt time.Time `json:"last_reconcile_at,omitempty"`
	ReconcileCursor string    `json:"reconcile_cursor,omitempty"`
	RepositorySize  int       `json:"repository_size"`
	ConsumerHealthy bool      `json:"consumer_healthy"`
}

// Config tunes the operational server.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Server hosts the operational endpoints.
type Server struct {
	cfg     Config
	status  StatusProvider
	metrics *metrics.Metrics
	clock   clock.Clock
	log     zerolog.Logger
	httpSrv *http.Server
}

// New creates the operational server.
func New(cfg Config, status StatusProvider, m *metrics.Metrics, clk clock.Clock, log zerolog.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		status:  status,
		metrics: m,
		clock:   clk,
		log:     log.With().Str("component", "httpapi").Logger(),
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("operational server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
