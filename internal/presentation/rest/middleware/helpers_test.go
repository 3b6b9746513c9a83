package middleware

import (
	"io"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

func newTestLogger(t *testing.T) *otelinfra.Logger {
	t.Helper()
	return otelinfra.NewLoggerWithWriter(noop.NewTracerProvider().Tracer("test"), io.Discard, "error")
}
