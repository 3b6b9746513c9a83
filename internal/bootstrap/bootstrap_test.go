package bootstrap

import (
	"context"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"credit-server/internal/domain/callback"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/infrastructure/persistence/mysql"
)

const testCatalog = `
[[operations]]
name = "send_email"
fixed = 1

[[packs]]
id = "starter"
credits = 1000
bonus = 100
price_cents = 4900
currency = "usd"

[[plans]]
id = "pro"
credits = 500
every = "monthly"
`

func newTestContainer(t *testing.T) (*Container, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := &config.Config{
		Credits: config.DefaultCreditsConfig(),
		JWT:     config.JWTConfig{Secret: "test-secret", Issuer: "credit-server"},
	}
	cat, err := config.ParseCatalog(testCatalog, cfg.Credits)
	require.NoError(t, err)

	logger := otelinfra.NewLoggerWithWriter(noop.NewTracerProvider().Tracer("test"), io.Discard, "error")
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	c, err := New(context.Background(), cfg, &mysql.DB{DB: sqlDB}, cat, logger, metrics)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, mock
}

func TestNew(t *testing.T) {
	c, _ := newTestContainer(t)

	assert.NotNil(t, c.Wallet)
	assert.NotNil(t, c.History)
	assert.NotNil(t, c.Payment)
	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.Fulfillment)
	assert.NotNil(t, c.Scheduler)
	assert.Nil(t, c.redis)

	_, err := c.Catalog.Pack("starter")
	assert.NoError(t, err)

	for _, event := range []callback.Event{
		callback.EventLowBalanceReached,
		callback.EventBalanceDepleted,
		callback.EventInsufficientCredits,
	} {
		assert.True(t, c.Callbacks.Has(event), string(event))
	}
	assert.False(t, c.Callbacks.Has(callback.EventCreditsAdded))
}

func TestContainer_Readiness(t *testing.T) {
	c, mock := newTestContainer(t)

	checks := c.Readiness()
	require.Len(t, checks, 1)

	mock.ExpectPing()
	assert.NoError(t, checks[0](context.Background()))

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.Error(t, checks[0](context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}
