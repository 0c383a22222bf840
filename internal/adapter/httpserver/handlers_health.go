package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livealert/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe. A failing Optional check reports the
// service as degraded but keeps it ready: webhooks are still accepted and queued
// while, for example, the chat platform is unavailable.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

// runHealthChecks runs all checks concurrently and reports each one, so a failing
// probe names every broken dependency at once.
func (s *Server) runHealthChecks(c echo.Context, ctx context.Context) error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		checks   = make(map[string]string, len(s.healthChecks))
		failed   bool
		degraded bool
	)
	for _, hc := range s.healthChecks {
		wg.Go(func() {
			err := hc.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[hc.Name] = "ok"
				return
			}
			checks[hc.Name] = err.Error()
			if hc.Optional {
				degraded = true
			} else {
				failed = true
			}
		})
	}
	wg.Wait()

	status, code := "ready", http.StatusOK
	switch {
	case failed:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}
	if err := c.JSON(code, map[string]any{"status": status, "checks": checks}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
