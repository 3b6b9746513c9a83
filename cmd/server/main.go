package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-server/internal/bootstrap"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/infrastructure/persistence/mysql"
	grpcserver "credit-server/internal/presentation/grpc"
	"credit-server/internal/presentation/rest"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// OpenTelemetryの初期化
	tracerShutdown, err := otelinfra.InitTracer(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	meterShutdown, err := otelinfra.InitMeter(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize meter: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown meter: %v", err)
		}
	}()

	// ロガーとメトリクスの初期化
	tracer := otelinfra.Tracer("credit-server")
	logger := otelinfra.NewLoggerWithWriter(tracer, os.Stderr, cfg.Log.Level)
	metrics, err := otelinfra.NewMetrics("credit-server")
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	ctx := context.Background()

	// カタログの読み込み
	cat, err := config.LoadCatalog(cfg.CatalogFile, cfg.Credits)
	if err != nil {
		logger.Error(ctx, "Failed to load catalog", err, map[string]interface{}{"path": cfg.CatalogFile})
		os.Exit(1)
	}

	// データベース接続の初期化
	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		logger.Error(ctx, "Failed to connect to database", err, nil)
		os.Exit(1)
	}
	defer db.Close()

	// サービスの組み立て
	container, err := bootstrap.New(ctx, cfg, db, cat, logger, metrics)
	if err != nil {
		logger.Error(ctx, "Failed to build services", err, nil)
		os.Exit(1)
	}
	defer container.Close()

	readiness := make([]rest.ReadinessCheck, 0)
	for _, check := range container.Readiness() {
		readiness = append(readiness, check)
	}

	// REST APIルーターの初期化
	router, err := rest.NewRouter(cfg, logger, metrics, rest.Services{
		Wallet:      container.Wallet,
		History:     container.History,
		Payment:     container.Payment,
		Auth:        container.Auth,
		Fulfillment: container.Fulfillment,
		Readiness:   readiness,
	})
	if err != nil {
		logger.Error(ctx, "Failed to create router", err, nil)
		os.Exit(1)
	}

	// gRPCサーバーの初期化
	grpcSrv, err := grpcserver.NewServer(cfg, logger, metrics, grpcserver.Services{
		Wallet:      container.Wallet,
		History:     container.History,
		Auth:        container.Auth,
		Fulfillment: container.Fulfillment,
	})
	if err != nil {
		logger.Error(ctx, "Failed to create gRPC server", err, nil)
		os.Exit(1)
	}

	// 付与スケジューラの起動
	container.Scheduler.Start(ctx)

	address := fmt.Sprintf(":%d", cfg.Server.Port)

	// グレースフルシャットダウンの設定
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// REST APIサーバーを別ゴルーチンで起動
	go func() {
		logger.Info(ctx, "REST API server starting", map[string]interface{}{"address": address})
		if err := router.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "REST API server error", err, nil)
		}
	}()

	// gRPCサーバーを別ゴルーチンで起動
	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Error(ctx, "gRPC server error", err, nil)
		}
	}()

	// シグナルを待機
	<-quit
	logger.Info(ctx, "Shutting down servers", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 新規リクエストを止めてからスケジューラを停止
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error shutting down REST API server", err, nil)
	}
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Error(ctx, "Error shutting down gRPC server", err, nil)
	}
	container.Scheduler.Stop()

	logger.Info(ctx, "Servers stopped", nil)
}
