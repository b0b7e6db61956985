// Package server provides Tollgate's HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/proxy/middleware"
	"mercator-hq/tollgate/pkg/telemetry/errortrack"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// RateLimitAdmin is the part of the limiter behind the admin routes.
type RateLimitAdmin interface {
	Status(ctx context.Context, key string, opts ratelimit.Options) (*ratelimit.Status, error)
	Reset(ctx context.Context, key string) error
}

// Deps are the components the server exposes. Nil components disable the
// routes that need them.
type Deps struct {
	// Limiter serves /admin/ratelimit.
	Limiter RateLimitAdmin

	// Admission guards App. Nil admits everything.
	Admission *middleware.Admission

	Registry  *metrics.Registry
	Collector *metrics.Collector
	Tracker   *errortrack.Tracker
	Health    *health.Checker

	// Gatherer serves /metrics/prometheus.
	Gatherer prometheus.Gatherer

	// App is the protected application mounted at "/". Default: a handler
	// that echoes the request ID and rate limit key.
	App http.Handler

	Version   string
	Commit    string
	BuildDate string

	Logger *slog.Logger
}

// Server is Tollgate's HTTP server.
type Server struct {
	config       *config.Config
	deps         Deps
	logger       *slog.Logger
	httpServer   *http.Server
	listener     net.Listener
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a new server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:       cfg,
		deps:         deps,
		logger:       logger.With("component", "server"),
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled, Stop is
// called or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}
