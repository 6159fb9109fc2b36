package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fraudlens/investigation-backend/internal/infrastructure/config"
)

// Server is the HTTP front of the investigation service
type Server struct {
	cfg        *config.ServerConfig
	httpServer *http.Server
	handler    *Handler
	wsHandler  http.Handler
	logger     *slog.Logger
}

// NewServer assembles routes and middleware. wsHandler is optional; when nil
// the push endpoint is not mounted. Extra middleware wraps outside the
// built-in stack.
func NewServer(cfg *config.ServerConfig, handler *Handler, wsHandler http.Handler, logger *slog.Logger, extra ...Middleware) *Server {
	s := &Server{
		cfg:       cfg,
		handler:   handler,
		wsHandler: wsHandler,
		logger:    logger,
	}

	limiter := newIPRateLimiter(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize)

	middlewares := append(extra, recoveryMiddleware, loggingMiddleware, rateLimitMiddleware(limiter))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      chain(s.routes(), middlewares...),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handler.handleHealth)
	mux.HandleFunc("GET /healthz", s.handler.handleHealth)

	mux.HandleFunc("POST /api/v1/investigations", s.handler.handleCreateInvestigation)
	mux.HandleFunc("GET /api/v1/investigations", s.handler.handleList)
	mux.HandleFunc("GET /api/v1/investigations/{id}/status", s.handler.handleGetStatus)
	mux.HandleFunc("GET /api/v1/investigations/{id}/results", s.handler.handleGetResults)
	mux.HandleFunc("POST /api/v1/investigations/{id}/cancel", s.handler.handleCancel)
	mux.HandleFunc("POST /api/v1/investigations/{id}/pause", s.handler.handlePause)

	if s.wsHandler != nil {
		mux.Handle("GET /api/v1/investigations/{id}/ws", s.wsHandler)
	}

	return mux
}

// Handler exposes the assembled handler stack, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until the listener fails or Shutdown runs
func (s *Server) Start() error {
	s.logger.Info("starting API server", "address", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests bounded by the configured timeout
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
