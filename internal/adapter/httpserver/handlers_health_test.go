package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func newTestServer(checks ...HealthCheck) *Server {
	return NewServer(Config{Port: "0", WebhookRateLimit: 100}, nil, nil, nil, checks)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body healthResponse
	if rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func TestReadiness_AllHealthy(t *testing.T) {
	srv := newTestServer(
		HealthCheck{Name: "redis", Check: healthOK},
		HealthCheck{Name: "postgres", Check: healthOK},
	)

	rec, body := get(t, srv, "/health/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]string{"redis": "ok", "postgres": "ok"}, body.Checks)
}

func TestStartup_ReportsEveryFailure(t *testing.T) {
	srv := newTestServer(
		HealthCheck{Name: "redis", Check: healthErr("connection refused")},
		HealthCheck{Name: "postgres", Check: healthOK},
		HealthCheck{Name: "discord", Check: healthErr("circuit breaker open")},
	)

	rec, body := get(t, srv, "/health/startup")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["redis"])
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "circuit breaker open", body.Checks["discord"])
}

func TestReadiness_OptionalFailureDegrades(t *testing.T) {
	srv := newTestServer(
		HealthCheck{Name: "postgres", Check: healthOK},
		HealthCheck{Name: "discord", Check: healthErr("circuit breaker open"), Optional: true},
	)

	rec, body := get(t, srv, "/health/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "circuit breaker open", body.Checks["discord"])
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(HealthCheck{Name: "redis", Check: healthErr("down")})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code, "liveness ignores dependencies")
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestVersion(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}
