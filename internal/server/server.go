// Package server exposes the settlement engine over HTTP and streams
// settlement events over WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/server/handler"
	"github.com/alanyoungcy/nativeorders/internal/server/middleware"
	"github.com/alanyoungcy/nativeorders/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps fill requests per client IP and window. Zero disables it.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Orders   *handler.OrderHandler
	Registry *handler.RegistryHandler
	Events   *handler.EventHandler // optional
}

// Server is the HTTP + WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Routes(cfg, handlers, wsHub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the routed, middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	fill := func(h http.HandlerFunc) http.Handler { return h }
	if limiter != nil && cfg.RateLimit > 0 {
		limit := middleware.RateLimit(limiter, "fill", cfg.RateLimit, cfg.RateLimitWindow, logger)
		fill = func(h http.HandlerFunc) http.Handler { return limit(h) }
	}

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/v1/status", handlers.Status.GetStatus)
	}

	// Fills.
	mux.Handle("POST /api/v1/limit-orders/fill", fill(handlers.Orders.FillLimitOrder))
	mux.Handle("POST /api/v1/rfq-orders/fill", fill(handlers.Orders.FillRfqOrder))

	// Cancellation.
	mux.HandleFunc("POST /api/v1/limit-orders/cancel", handlers.Orders.CancelLimitOrders)
	mux.HandleFunc("POST /api/v1/rfq-orders/cancel", handlers.Orders.CancelRfqOrders)
	mux.HandleFunc("POST /api/v1/limit-orders/cancel-pair", handlers.Orders.CancelPairLimitOrders)
	mux.HandleFunc("POST /api/v1/rfq-orders/cancel-pair", handlers.Orders.CancelPairRfqOrders)

	// Order info.
	mux.HandleFunc("POST /api/v1/limit-orders/info", handlers.Orders.LimitOrderInfo)
	mux.HandleFunc("POST /api/v1/rfq-orders/info", handlers.Orders.RfqOrderInfo)

	// Registries.
	mux.HandleFunc("POST /api/v1/rfq-origins", handlers.Registry.RegisterRfqOrigins)
	mux.HandleFunc("POST /api/v1/order-signers", handlers.Registry.RegisterOrderSigner)
	mux.HandleFunc("GET /api/v1/order-signers", handlers.Registry.IsValidOrderSigner)

	// Event log.
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/v1/events", handlers.Events.ListEvents)
		mux.HandleFunc("GET /api/v1/events/archive/{day}", handlers.Events.ArchivedEvents)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
