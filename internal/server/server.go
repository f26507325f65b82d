// Package server exposes the books, their history and the Prometheus
// registry over HTTP, plus a websocket stream of live metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/server/handler"
	"github.com/alanyoungcy/l2book/internal/server/middleware"
	"github.com/alanyoungcy/l2book/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // empty disables authentication

	RateLimit       int // requests per client per RateLimitWindow, 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Books   *handler.BookHandler
	Events  *handler.EventHandler
	Metrics http.Handler // Prometheus exposition, optional
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in the middleware chain.
// wsHub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	var h http.Handler = Routes(handlers, wsHub)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the route table without middleware.
func Routes(handlers Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/books", handlers.Books.ListBooks)
	mux.HandleFunc("GET /api/books/{symbol}", handlers.Books.GetBook)
	mux.HandleFunc("GET /api/books/{symbol}/metrics", handlers.Books.GetMetrics)
	mux.HandleFunc("GET /api/books/{symbol}/stats", handlers.Books.GetStats)
	mux.HandleFunc("GET /api/books/{symbol}/history", handlers.Books.GetHistory)

	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
