// Package bootstrap はリポジトリとアプリケーションサービスを組み立てる
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	authapp "credit-server/internal/application/auth"
	fulfillmentapp "credit-server/internal/application/fulfillment"
	historyapp "credit-server/internal/application/history"
	paymentapp "credit-server/internal/application/payment"
	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/callback"
	"credit-server/internal/domain/catalog"
	"credit-server/internal/infrastructure/cache"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/infrastructure/persistence/mysql"
)

// Container 組み立て済みのサービス一式
type Container struct {
	Wallet      *walletapp.WalletApplicationService
	History     *historyapp.HistoryApplicationService
	Payment     *paymentapp.PaymentApplicationService
	Auth        *authapp.AuthApplicationService
	Fulfillment *fulfillmentapp.FulfillmentApplicationService
	Scheduler   *fulfillmentapp.Scheduler
	Callbacks   *callback.Registry
	Catalog     *catalog.Catalog

	db    *mysql.DB
	redis *redis.Client
}

// New MySQLリポジトリの上にサービスを組み立てる（Redisは設定で有効な場合のみ接続）
func New(ctx context.Context, cfg *config.Config, db *mysql.DB, cat *catalog.Catalog, logger *otelinfra.Logger, metrics *otelinfra.Metrics) (*Container, error) {
	c := &Container{Catalog: cat, db: db}

	var balanceCache walletapp.BalanceCache = cache.NoopBalanceCache{}
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.redis = client
		balanceCache = cache.NewRedisBalanceCache(client, cfg.Redis.TTL)
	}

	walletRepo := mysql.NewWalletRepository(db)
	transactionRepo := mysql.NewTransactionRepository(db)
	allocationRepo := mysql.NewAllocationRepository(db)
	fulfillmentRepo := mysql.NewFulfillmentRepository(db)
	txManager := mysql.NewTransactionManager(db)

	c.Callbacks = callback.NewRegistry(logger, metrics)
	if err := registerLogHandlers(c.Callbacks, logger); err != nil {
		c.Close()
		return nil, err
	}

	c.Wallet = walletapp.NewWalletApplicationService(
		walletRepo,
		transactionRepo,
		allocationRepo,
		txManager,
		cat,
		c.Callbacks,
		balanceCache,
		cfg.Credits,
		logger,
		metrics,
	)
	c.Fulfillment = fulfillmentapp.NewFulfillmentApplicationService(
		fulfillmentRepo,
		transactionRepo,
		txManager,
		c.Wallet,
		cat,
		c.Callbacks,
		cfg.Credits,
		logger,
		metrics,
	)
	c.Payment = paymentapp.NewPaymentApplicationService(
		c.Wallet,
		c.Fulfillment,
		fulfillmentRepo,
		transactionRepo,
		txManager,
		cat,
		logger,
		metrics,
	)
	c.History = historyapp.NewHistoryApplicationService(walletRepo, transactionRepo, logger, metrics)
	c.Auth = authapp.NewAuthApplicationService(&cfg.JWT, walletRepo, logger)
	c.Scheduler = fulfillmentapp.NewScheduler(c.Fulfillment, cfg.Credits.FulfillmentInterval, logger)

	return c, nil
}

// Readiness 依存先の疎通確認関数
func (c *Container) Readiness() []func(ctx context.Context) error {
	checks := []func(ctx context.Context) error{
		func(ctx context.Context) error { return c.db.PingContext(ctx) },
	}
	if c.redis != nil {
		checks = append(checks, func(ctx context.Context) error { return c.redis.Ping(ctx).Err() })
	}
	return checks
}

// Close 保持している外部接続を閉じる（DBは呼び出し元が閉じる）
func (c *Container) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
		c.redis = nil
	}
}

// registerLogHandlers 残高警告イベントをログに出すハンドラを登録
func registerLogHandlers(r *callback.Registry, logger *otelinfra.Logger) error {
	warn := func(ctx context.Context, c callback.Context) error {
		logger.Warn(ctx, "Wallet balance warning", map[string]interface{}{
			"event":         string(c.Event),
			"wallet_id":     c.WalletID,
			"balance_after": c.BalanceAfter,
			"threshold":     c.Threshold,
		})
		return nil
	}
	for _, event := range []callback.Event{
		callback.EventLowBalanceReached,
		callback.EventBalanceDepleted,
		callback.EventInsufficientCredits,
	} {
		if err := r.On(event, warn); err != nil {
			return err
		}
	}
	return nil
}
