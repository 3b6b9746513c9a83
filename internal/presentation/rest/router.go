package rest

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authapp "credit-server/internal/application/auth"
	fulfillmentapp "credit-server/internal/application/fulfillment"
	historyapp "credit-server/internal/application/history"
	paymentapp "credit-server/internal/application/payment"
	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/presentation/rest/handler"
	restmiddleware "credit-server/internal/presentation/rest/middleware"
)

// ReadinessCheck 依存先の疎通確認（/health/ready で実行する）
type ReadinessCheck func(ctx context.Context) error

// Services ルーターが公開するアプリケーションサービス
type Services struct {
	Wallet      *walletapp.WalletApplicationService
	History     *historyapp.HistoryApplicationService
	Payment     *paymentapp.PaymentApplicationService
	Auth        *authapp.AuthApplicationService
	Fulfillment fulfillmentapp.Runner
	Readiness   []ReadinessCheck
}

// Router REST APIルーター
type Router struct {
	echo           *echo.Echo
	walletHandler  *handler.WalletHandler
	historyHandler *handler.HistoryHandler
	paymentHandler *handler.PaymentHandler
	adminHandler   *handler.AdminHandler
}

// NewRouter 新しいRouterを作成
func NewRouter(
	cfg *config.Config,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	services Services,
) (*Router, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	// Echoのデフォルトエラーハンドラーを無効化（カスタムエラーハンドラーを使用）
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		// エラーハンドリングミドルウェアで処理される
	}

	// ミドルウェアの設定
	setupMiddleware(e, logger, metrics)

	// ハンドラーの作成
	r := &Router{
		echo:           e,
		walletHandler:  handler.NewWalletHandler(services.Wallet),
		historyHandler: handler.NewHistoryHandler(services.History),
		paymentHandler: handler.NewPaymentHandler(services.Payment),
		adminHandler:   handler.NewAdminHandler(services.Auth, services.Fulfillment),
	}

	// ルーティングの設定
	r.setupRoutes(cfg, logger, services)

	return r, nil
}

// setupMiddleware ミドルウェアを設定
//
// パニックもエラーハンドリングミドルウェアで応答するよう、リカバリーを最も内側に置く。
func setupMiddleware(e *echo.Echo, logger *otelinfra.Logger, metrics *otelinfra.Metrics) {
	// リクエストIDの設定
	e.Use(restmiddleware.RequestIDMiddleware())

	// セキュリティヘッダー
	e.Use(restmiddleware.SecurityHeadersMiddleware())

	// トレーシングミドルウェア
	e.Use(restmiddleware.TracingMiddleware())

	// ログミドルウェア
	e.Use(restmiddleware.LoggingMiddleware(logger))

	// メトリクスミドルウェア
	e.Use(restmiddleware.MetricsMiddleware(metrics))

	// エラーハンドリングミドルウェア
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))

	// リカバリーミドルウェア
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisableErrorHandler: true,
	}))
}

// setupRoutes ルーティングを設定
func (r *Router) setupRoutes(cfg *config.Config, logger *otelinfra.Logger, services Services) {
	e := r.echo

	// API v1グループ
	api := e.Group("/api/v1")

	// ウォレット利用者向け（JWT認証 + パスのウォレットとの一致）
	walletAuth := []echo.MiddlewareFunc{
		restmiddleware.AuthMiddleware(services.Auth, logger),
		restmiddleware.WalletAccessMiddleware(logger),
	}
	api.GET("/wallets/:wallet_id/balance", r.walletHandler.GetBalance, walletAuth...)
	api.POST("/wallets/:wallet_id/spend/:operation", r.walletHandler.SpendCreditsOn, walletAuth...)
	api.GET("/wallets/:wallet_id/estimate/:operation", r.walletHandler.EstimateCreditsTo, walletAuth...)
	api.GET("/wallets/:wallet_id/history", r.historyHandler.GetCreditHistory, walletAuth...)

	// 管理API（APIキー認証）
	apiKey := restmiddleware.APIKeyMiddleware(&cfg.AdminAPI, logger)
	api.POST("/wallets/:wallet_id/credits", r.walletHandler.AddCredits, apiKey)
	api.POST("/wallets/:wallet_id/deductions", r.walletHandler.DeductCredits, apiKey)

	admin := api.Group("/admin", apiKey)
	admin.POST("/wallets", r.walletHandler.CreateWallet)
	admin.POST("/wallets/:wallet_id/token", r.adminHandler.IssueToken)
	admin.POST("/fulfillments/process", r.adminHandler.ProcessFulfillments)

	// 決済イベント
	admin.POST("/payments/charges/succeeded", r.paymentHandler.ChargeSucceeded)
	admin.POST("/payments/charges/refunded", r.paymentHandler.ChargeRefunded)
	admin.POST("/payments/subscriptions/created", r.paymentHandler.SubscriptionCreated)
	admin.POST("/payments/subscriptions/renewed", r.paymentHandler.SubscriptionRenewed)
	admin.POST("/payments/subscriptions/plan_changed", r.paymentHandler.SubscriptionPlanChanged)
	admin.POST("/payments/subscriptions/canceled", r.paymentHandler.SubscriptionCanceled)

	// ヘルスチェックエンドポイント（認証不要）
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/ready", func(c echo.Context) error {
		for _, check := range services.Readiness {
			if err := check(c.Request().Context()); err != nil {
				logger.Warn(c.Request().Context(), "Readiness check failed", map[string]interface{}{
					"error": err.Error(),
				})
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheusエクスポーター使用時のみ公開
	if otelinfra.PrometheusEnabled(&cfg.OpenTelemetry) {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
}

// Start サーバーを起動
func (r *Router) Start(address string) error {
	return r.echo.Start(address)
}

// Shutdown 処理中のリクエストの完了を待ってサーバーを停止
func (r *Router) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}
