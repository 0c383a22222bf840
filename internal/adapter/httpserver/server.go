package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
)

type Config struct {
	Port             string
	WebhookRateLimit float64 // requests per second per client IP
}

// Server exposes probes, metrics, version info and the EventSub webhook. It has no
// browser-facing surface.
type Server struct {
	echo   *echo.Echo
	config Config

	webhookHandler http.Handler
	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg Config, webhookHandler, metricsHandler http.Handler, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = readHeaderTimeout
	e.Server.ReadTimeout = readTimeout

	srv := &Server{
		echo:           e,
		config:         cfg,
		webhookHandler: webhookHandler,
		metricsHandler: metricsHandler,
		httpMetrics:    httpMetrics,
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}
	srv.registerRoutes()
	return srv
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware stack.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
