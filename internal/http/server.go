// Package http provides the HTTP server and routing for vodarr.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/http/middleware"
	"github.com/jmylchreest/vodarr/internal/metrics"
)

// Server wraps the HTTP server, the chi router, and the huma API the library
// handlers register against. Streaming handlers mount directly on the router.
type Server struct {
	config     config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured server with the common middleware stack.
// Metrics may be nil, in which case request instrumentation is skipped.
func NewServer(cfg config.ServerConfig, version string, logger *slog.Logger, m *metrics.Metrics) *Server {
	router := chi.NewRouter()

	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))
	if m != nil {
		router.Use(middleware.Metrics(m))
	}

	humaConfig := huma.DefaultConfig("vodarr API", version)
	humaConfig.Info.Description = "Progressive download-and-transcode media streaming service"
	api := humachi.New(router, humaConfig)

	if m != nil {
		router.Method(http.MethodGet, "/metrics", m.Handler())
	}

	return &Server{
		config: cfg,
		router: router,
		api:    api,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// API returns the huma API for handler registration.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for raw route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins serving and blocks until the listener fails or is closed.
func (s *Server) Start() error {
	s.logger.Info("http server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// ListenAndServe serves until the context is cancelled, then shuts down
// within the configured grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}
