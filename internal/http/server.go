// Package http provides the HTTP server and API handlers for digwatch.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmylchreest/digwatch/internal/http/middleware"
)

// ServerConfig holds the listener and timeout settings for the API server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// CORSOrigins restricts cross-origin requests; empty allows all.
	CORSOrigins []string
	// LogRequests logs every request; 4xx/5xx are logged regardless.
	LogRequests bool
}

// DefaultServerConfig returns defaults for local use.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogRequests:     true,
	}
}

// Server is the digwatch API server: a chi router carrying the middleware
// stack with a huma API mounted on top for the OpenAPI-described operations.
type Server struct {
	config ServerConfig
	router *chi.Mux
	api    huma.API
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the router, middleware stack, and huma API. Handlers are
// registered by the caller through API() and Router() before Start.
func NewServer(config ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := newRouter(config, logger)

	humaConfig := huma.DefaultConfig("digwatch API", version)
	humaConfig.Info.Description = "Excavator work-cycle video analysis API"

	return &Server{
		config: config,
		router: router,
		api:    humachi.New(router, humaConfig),
		logger: logger,
	}
}

func newRouter(config ServerConfig, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger, config.LogRequests))
	r.Use(middleware.Recovery(logger))

	cors := middleware.DefaultCORSConfig()
	if len(config.CORSOrigins) > 0 {
		cors.AllowedOrigins = config.CORSOrigins
	}
	r.Use(middleware.CORSWithConfig(cors))

	// Event streams must stay uncompressed or flushes never reach the client.
	r.Use(middleware.SkipCompressionForSSE(chimiddleware.Compress(5)))
	return r
}

// API returns the huma API for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for routes outside the huma API, such as the
// SSE endpoint.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start listens and serves until the server is shut down. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP server", slog.String("address", addr))

	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, waiting at most ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server", slog.Duration("timeout", s.config.ShutdownTimeout))

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully. It blocks for the life of the server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errc:
		return err
	}
}
