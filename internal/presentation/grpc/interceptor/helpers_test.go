package interceptor

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace/noop"

	authapp "credit-server/internal/application/auth"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

const testService = "credit.v1.WalletService"

func newTestLogger() *otelinfra.Logger {
	return otelinfra.NewLoggerWithWriter(noop.NewTracerProvider().Tracer("test"), io.Discard, "error")
}

// MockTokenValidator モックトークン検証
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, tokenString string) (*authapp.Claims, error) {
	args := m.Called(ctx, tokenString)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authapp.Claims), args.Error(1)
}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}
