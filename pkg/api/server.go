// Package api implements the thin operator HTTP surface: chain/listener
// control, contract enable/disable, a worker health probe, Prometheus
// metrics, and a websocket status feed. Every handler delegates to the
// Supervisor or the config store; no business logic lives here, following
// the chi-router-plus-middleware-stack shape of the pre-rework pkg/api.Server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainsift/indexer/internal/constants"
	apimiddleware "github.com/chainsift/indexer/pkg/api/middleware"
	"github.com/chainsift/indexer/pkg/model"
	"github.com/chainsift/indexer/pkg/store"
	"github.com/chainsift/indexer/pkg/supervisor"
)

// Config controls the listen address, timeouts, and optional auth/rate
// limit policy for the operator API.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	EnableAuth      bool
	Auth            apimiddleware.AuthConfig
	EnableRateLimit bool
	RatePerSecond   float64
	RateBurst       int

	StreamInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = constants.DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = constants.DefaultWriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = constants.DefaultIdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = constants.DefaultShutdownTimeout
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.RateBurst <= 0 {
		c.RateBurst = constants.DefaultRateLimitBurst
	}
	if c.StreamInterval <= 0 {
		c.StreamInterval = 5 * time.Second
	}
	return c
}

// Server is the operator HTTP surface in front of one Supervisor.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	supervisor *supervisor.Supervisor
	configs    store.ConfigStore
	router     *chi.Mux
	httpServer *http.Server
	stream     *StatusStream

	streamCancel context.CancelFunc
}

// NewServer wires the chi router, middleware stack, and every route onto
// sup and configs.
func NewServer(cfg Config, sup *supervisor.Supervisor, configs store.ConfigStore, logger *zap.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:        cfg,
		logger:     logger.Named("api"),
		supervisor: sup,
		configs:    configs,
		router:     chi.NewRouter(),
		stream:     NewStatusStream(sup, logger, cfg.StreamInterval),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: constants.DefaultMaxHeaderBytes,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(apimiddleware.LoggerWithLevel(s.logger))

	if s.cfg.EnableRateLimit {
		s.router.Use(apimiddleware.RateLimit(s.cfg.RatePerSecond, s.cfg.RateBurst, s.logger))
	}
	if s.cfg.EnableAuth {
		s.router.Use(apimiddleware.APIKeyAuth(s.cfg.Auth, s.logger))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/worker/health", NewHealthChecker(s.supervisor, "1.0.0").ServeHTTP)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/blockchain/stream", s.stream.ServeHTTP)

	s.router.Get("/blockchain/status", s.handleStatus)
	s.router.Get("/blockchain/chains/{id}/status", s.handleChainStatus)
	s.router.Post("/blockchain/chains/{id}/restart", s.handleRestart)
	s.router.Post("/blockchain/chains/{id}/strategy", s.handleSwitchStrategy)
	s.router.Post("/blockchain/chains/{id}/enable", s.handleSetChainEnabled(true))
	s.router.Post("/blockchain/chains/{id}/disable", s.handleSetChainEnabled(false))

	s.router.Post("/blockchain/listeners/start", s.handleListenerStart)
	s.router.Post("/blockchain/listeners/stop", s.handleListenerStop)

	s.router.Get("/blockchain/contracts/symbol/{symbol}", s.handleContractsBySymbol)
	s.router.Post("/blockchain/contracts/symbol/{symbol}/enable", s.handleSetSymbolEnabled(true))
	s.router.Post("/blockchain/contracts/symbol/{symbol}/disable", s.handleSetSymbolEnabled(false))
}

// Start runs the HTTP server and the status-stream broadcast loop. It
// blocks until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	s.streamCancel = cancel
	go s.stream.Run(streamCtx)

	s.logger.Info("starting api server", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server and status stream.
func (s *Server) Stop(ctx context.Context) error {
	if s.streamCancel != nil {
		s.streamCancel()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func chainIDFromPath(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q", raw)
	}
	return id, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Status())
}

func (s *Server) handleChainStatus(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := s.supervisor.ChainStatusByID(chainID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.supervisor.RestartListener(r.Context(), chainID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

type switchStrategyRequest struct {
	Strategy model.Strategy `json:"strategy"`
}

func (s *Server) handleSwitchStrategy(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req switchStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Strategy.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid strategy %q", req.Strategy))
		return
	}
	if err := s.supervisor.SwitchStrategy(r.Context(), chainID, req.Strategy); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "switched"})
}

func (s *Server) handleSetChainEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chainID, err := chainIDFromPath(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.configs.SetChainEnabled(r.Context(), chainID, enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
	}
}

type listenerControlRequest struct {
	ChainID int64 `json:"chainId"`
}

func (s *Server) handleListenerStart(w http.ResponseWriter, r *http.Request) {
	var req listenerControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.supervisor.StartListener(r.Context(), req.ChainID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleListenerStop(w http.ResponseWriter, r *http.Request) {
	var req listenerControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.supervisor.StopListener(r.Context(), req.ChainID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleContractsBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	contracts, err := s.configs.ContractsBySymbol(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, contracts)
}

func (s *Server) handleSetSymbolEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if err := s.configs.SetContractEnabledBySymbol(r.Context(), symbol, enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
	}
}
