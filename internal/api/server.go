// Package api is the Hunter core's operational HTTP surface: health,
// readiness, Prometheus metrics, and read-only status endpoints over the
// orchestrator's current state. It exposes no trading controls — the
// orchestrator is the only writer to trading state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/orchestrator"
	"github.com/hunter-core/hunter/internal/portfolio"
	"github.com/hunter-core/hunter/internal/position"
)

// Config addresses and timeouts for the operational HTTP server.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig binds to all interfaces on 9090 with conservative timeouts.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// StateSources bundles the read-only views the status endpoints report on.
type StateSources struct {
	Hologram     *hologram.Engine
	Positions    *position.Manager
	Portfolio    *portfolio.Manager
	Orchestrator *orchestrator.Orchestrator
}

// Server serves health/readiness/metrics/status over HTTP. It never
// mutates trading state.
type Server struct {
	logger     *zap.Logger
	config     Config
	router     *mux.Router
	httpServer *http.Server
	state      StateSources
}

// NewServer builds the operational server and registers its routes.
func NewServer(logger *zap.Logger, config Config, state StateSources) *Server {
	s := &Server{
		logger: logger.Named("api"),
		config: config,
		router: mux.NewRouter(),
		state:  state,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/v1/hologram/{symbol}", s.handleHologramState).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/positions", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/cycles", s.handleCycles).Methods(http.MethodGet)
}

// Router exposes the underlying mux.Router for tests that want to drive
// handlers directly without binding a port.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start begins serving. It blocks until the server stops or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting operational api server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

// handleReady reports not-ready until the orchestrator has completed at
// least one scan cycle, so load balancers don't route traffic to a process
// that is still warming up its hologram state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	metrics := s.state.Orchestrator.Metrics()
	if metrics.CyclesRun == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "warming_up"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "lastCycleAt": metrics.LastCycleAt})
}

func (s *Server) handleHologramState(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	state := s.state.Hologram.State(symbol)
	if state == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no hologram state for " + symbol})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Positions.All())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Portfolio.Snapshot())
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Orchestrator.Metrics())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
