// Package server hosts the retrievald status API on Echo.
// It owns the listener lifecycle, the middleware chain and the health probe;
// the scheduler package mounts its /_sys routes on the exposed Echo instance.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-retrieval/config"
	"github.com/gaborage/go-retrieval/logger"
)

const (
	// HealthPath is the liveness probe route. It is excluded from request logs.
	HealthPath = "/health"

	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Server wraps an Echo instance with the status API configuration.
type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	logger logger.Logger
	tp     trace.TracerProvider
}

// Option customizes a Server.
type Option func(*Server)

// WithTracerProvider sets the provider the otelecho middleware records spans with.
// When unset, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tp = tp
	}
}

// New creates a server with middlewares and the health endpoint registered.
func New(cfg config.ServerConfig, serviceName string, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		cfg:    cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(s)
	}

	SetupMiddlewares(e, log, serviceName, s.tp)
	e.GET(HealthPath, s.healthCheck)

	return s
}

// Echo returns the underlying Echo instance for route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Address returns the host:port the server listens on.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start begins accepting requests. It blocks until the server is shut down,
// in which case it returns http.ErrServerClosed.
func (s *Server) Start() error {
	addr := s.Address()

	s.logger.Info().
		Str("address", addr).
		Msg("Starting status server...")

	// Echo only shuts down its own e.Server, so the timeouts are set there
	// instead of on a separate http.Server.
	s.echo.Server.ReadTimeout = defaultReadTimeout
	s.echo.Server.WriteTimeout = defaultWriteTimeout

	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server, waiting for in-flight requests until ctx is done.
// A blocked Start returns http.ErrServerClosed afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
