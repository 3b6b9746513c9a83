package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

func TestLoggingMiddleware_SuccessfulRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := otelinfra.NewLoggerWithWriter(noop.NewTracerProvider().Tracer("test"), &buf, "info")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/wal_1/balance", nil)
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/wallets/:wallet_id/balance")
	c.Set(WalletIDKey, "wal_1")

	handler := LoggingMiddleware(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "HTTP request completed", entry["message"])
	fields, ok := entry["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/api/v1/wallets/:wallet_id/balance", fields["route"])
	assert.Equal(t, "wal_1", fields["wallet_id"])
	assert.Equal(t, float64(http.StatusOK), fields["status_code"])
}

func TestLoggingMiddleware_FailedRequest(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	testErr := errors.New("test error")
	handler := LoggingMiddleware(newTestLogger(t))(func(c echo.Context) error {
		return testErr
	})

	err := handler(c)
	assert.Equal(t, testErr, err)
}
