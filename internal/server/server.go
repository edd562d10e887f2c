// Package server exposes the copy bot's HTTP API and WebSocket stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/metrics"
	"github.com/xunboo/polymarket-copy-bot/internal/server/handler"
	"github.com/xunboo/polymarket-copy-bot/internal/server/middleware"
	"github.com/xunboo/polymarket-copy-bot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimiter, when set, limits /api requests per API key or client IP.
	RateLimiter domain.RateLimiter

	// RateLimitWindow is the limiter's window, reported as Retry-After.
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Users       *handler.UsersHandler
	Leaderboard *handler.LeaderboardHandler
	Events      *handler.EventHandler
	Positions   *handler.PositionHandler
	Audit       *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Health and metrics
// are public; everything else sits behind the API key when one is set.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Logging(logger))
	r.Use(metrics.Middleware)

	r.Get("/api/health", handlers.Health.HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.APIKey, logger))
		if cfg.RateLimiter != nil {
			r.Use(middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitWindow, logger))
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/users", handlers.Users.ListUsers)
			r.Post("/users", handlers.Users.AddUser)
			r.Delete("/users/{address}", handlers.Users.RemoveUser)
			r.Get("/watchlist", handlers.Users.ListWatchlist)

			r.Get("/leaderboard", handlers.Leaderboard.GetLeaderboard)

			r.Get("/events", handlers.Events.ListEvents)
			r.Get("/events/{id}", handlers.Events.GetEvent)
			r.Get("/positions", handlers.Positions.ListPositions)
			r.Get("/audit", handlers.Audit.ListAudit)
		})

		if wsHub != nil {
			r.Get("/ws", wsHub.HandleWS)
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		router:     r,
		logger:     logger,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
