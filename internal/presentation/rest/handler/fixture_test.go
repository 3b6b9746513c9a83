package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	authapp "credit-server/internal/application/auth"
	fulfillmentapp "credit-server/internal/application/fulfillment"
	historyapp "credit-server/internal/application/history"
	paymentapp "credit-server/internal/application/payment"
	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/callback"
	"credit-server/internal/domain/catalog"
	"credit-server/internal/domain/cost"
	"credit-server/internal/domain/wallet"
	"credit-server/internal/infrastructure/cache"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/infrastructure/persistence/memory"
	restmiddleware "credit-server/internal/presentation/rest/middleware"
)

// fixture インメモリストアで組み立てたハンドラー一式
type fixture struct {
	e            *echo.Echo
	now          time.Time
	wallets      *walletapp.WalletApplicationService
	fulfillments *fulfillmentapp.FulfillmentApplicationService
	auth         *authapp.AuthApplicationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat, err := catalog.NewBuilder(nil).
		Operation("process_image", cost.FixedCost(10)).
		Operation("upload", cost.VariableCost(1, cost.UnitMB),
			catalog.WithValidator("size is required", func(p cost.Params) bool {
				_, ok := p["size"]
				return ok
			})).
		Pack("starter", 1000, catalog.WithBonus(100), catalog.WithPrice(999, "usd")).
		Plan("pro", 500, "monthly").
		Build()
	require.NoError(t, err)

	logger := otelinfra.NewLoggerWithWriter(noop.NewTracerProvider().Tracer("test"), io.Discard, "error")
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	f := &fixture{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	cfg := config.DefaultCreditsConfig()
	store := memory.NewStore()
	txManager := memory.NewTransactionManager(store)
	walletRepo := memory.NewWalletRepository(store)
	transactionRepo := memory.NewTransactionRepository(store)
	fulfillmentRepo := memory.NewFulfillmentRepository(store)
	registry := callback.NewRegistry(logger, metrics)

	f.wallets = walletapp.NewWalletApplicationService(
		walletRepo, transactionRepo, memory.NewAllocationRepository(store), txManager,
		cat, registry, cache.NoopBalanceCache{}, cfg, logger, metrics,
	).WithClock(clock)
	f.fulfillments = fulfillmentapp.NewFulfillmentApplicationService(
		fulfillmentRepo, transactionRepo, txManager, f.wallets, cat, registry, cfg, logger, metrics,
	).WithClock(clock)
	payments := paymentapp.NewPaymentApplicationService(
		f.wallets, f.fulfillments, fulfillmentRepo, transactionRepo, txManager, cat, logger, metrics,
	)
	history := historyapp.NewHistoryApplicationService(walletRepo, transactionRepo, logger, metrics).WithClock(clock)
	f.auth = authapp.NewAuthApplicationService(&config.JWTConfig{
		Secret:     "test-secret",
		Issuer:     "test",
		Expiration: time.Hour,
	}, walletRepo, logger)

	e := echo.New()
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))

	walletHandler := NewWalletHandler(f.wallets)
	historyHandler := NewHistoryHandler(history)
	paymentHandler := NewPaymentHandler(payments)
	adminHandler := NewAdminHandler(f.auth, f.fulfillments)

	e.POST("/admin/wallets", walletHandler.CreateWallet)
	e.POST("/admin/wallets/:wallet_id/token", adminHandler.IssueToken)
	e.POST("/admin/fulfillments/process", adminHandler.ProcessFulfillments)
	e.GET("/wallets/:wallet_id/balance", walletHandler.GetBalance)
	e.POST("/wallets/:wallet_id/credits", walletHandler.AddCredits)
	e.POST("/wallets/:wallet_id/deductions", walletHandler.DeductCredits)
	e.POST("/wallets/:wallet_id/spend/:operation", walletHandler.SpendCreditsOn)
	e.GET("/wallets/:wallet_id/estimate/:operation", walletHandler.EstimateCreditsTo)
	e.GET("/wallets/:wallet_id/history", historyHandler.GetCreditHistory)
	e.POST("/payments/charges/succeeded", paymentHandler.ChargeSucceeded)
	e.POST("/payments/charges/refunded", paymentHandler.ChargeRefunded)
	e.POST("/payments/subscriptions/created", paymentHandler.SubscriptionCreated)
	e.POST("/payments/subscriptions/renewed", paymentHandler.SubscriptionRenewed)
	e.POST("/payments/subscriptions/plan_changed", paymentHandler.SubscriptionPlanChanged)
	e.POST("/payments/subscriptions/canceled", paymentHandler.SubscriptionCanceled)

	f.e = e
	return f
}

// do リクエストを実行してレスポンスを返す
func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

// wallet 所有者のウォレットを作成し、クレジットを付与する
func (f *fixture) wallet(t *testing.T, ownerID string, credits int64) string {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallets.FindOrCreateWallet(ctx, wallet.Owner{Kind: "user", ID: ownerID}, nil)
	require.NoError(t, err)
	if credits > 0 {
		_, err = f.wallets.AddCredits(ctx, &walletapp.AddCreditsRequest{WalletID: w.WalletID, Amount: credits})
		require.NoError(t, err)
	}
	return w.WalletID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
