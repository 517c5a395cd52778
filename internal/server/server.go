// Package server exposes the arbitrage service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/middleware"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// SignatureMaxSkew bounds how old a signed request may be.
	SignatureMaxSkew time.Duration
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
	// Replay refuses a signed request seen before. Nil disables the check.
	Replay domain.ReplayGuard
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Arb         *handler.ArbHandler
	Settlements *handler.SettlementHandler
	Config      *handler.ConfigHandler
	Custody     *handler.CustodyHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain:
// CORS, then logging, then rate limiting, then signature recovery.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	if cfg.SignatureMaxSkew <= 0 {
		cfg.SignatureMaxSkew = 5 * time.Minute
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, h, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes returns the fully wrapped handler.
func Routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/arbitrage/quote", h.Arb.Quote)
	mux.HandleFunc("POST /api/arbitrage/execute", h.Arb.Execute)

	mux.HandleFunc("GET /api/settlements", h.Settlements.List)
	mux.HandleFunc("GET /api/settlements/{id}", h.Settlements.Get)
	mux.HandleFunc("GET /api/attempts", h.Settlements.Attempts)

	mux.HandleFunc("GET /api/config", h.Config.Get)
	mux.HandleFunc("PUT /api/config", h.Config.Update)
	mux.HandleFunc("PUT /api/config/operator", h.Config.TransferOperator)

	mux.HandleFunc("GET /api/custody/balances", h.Custody.Balances)
	mux.HandleFunc("POST /api/custody/retrieve", h.Custody.Retrieve)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	out = middleware.OperatorSignature(cfg.SignatureMaxSkew, cfg.Replay, nil)(out)
	if limiter != nil && cfg.RateLimit > 0 {
		out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	}
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
