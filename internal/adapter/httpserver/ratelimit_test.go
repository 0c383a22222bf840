package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoteAddr = "1.2.3.4:1234"

func serve(t *testing.T, handler echo.HandlerFunc, remoteAddr string) int {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/eventsub", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	return rec.Code
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	handler := newRateLimiter(2, nil)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for range 4 {
		assert.Equal(t, http.StatusOK, serve(t, handler, testRemoteAddr))
	}
}

func TestRateLimiter_BlocksExcessPerClient(t *testing.T) {
	m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	handler := newRateLimiter(0.01, m)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	assert.Equal(t, http.StatusOK, serve(t, handler, testRemoteAddr))
	assert.Equal(t, http.StatusTooManyRequests, serve(t, handler, testRemoteAddr))
	assert.Equal(t, http.StatusOK, serve(t, handler, "5.6.7.8:1234"), "other clients keep their own budget")
	assert.InDelta(t, 1, testutil.ToFloat64(m.Rejected.WithLabelValues("rate_limited")), 0)
}
