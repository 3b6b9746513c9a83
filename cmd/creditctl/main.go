package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"credit-server/internal/bootstrap"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/infrastructure/persistence/mysql"
)

// Version ビルド時に -ldflags で設定する
var Version = "dev"

var catalogPath string

var rootCmd = &cobra.Command{
	Use:           "creditctl",
	Short:         "credit-server operations tool",
	Long:          `creditctl runs maintenance tasks against the credit ledger database`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "catalog file (default: CATALOG_FILE)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(fulfillCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(catalogCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session コマンド1回分の接続とサービス
type session struct {
	cfg       *config.Config
	logger    *otelinfra.Logger
	db        *mysql.DB
	container *bootstrap.Container
}

func (s *session) Close() {
	if s.container != nil {
		s.container.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// loadConfig 環境変数から設定を読み込み、--catalog を反映する
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if catalogPath != "" {
		cfg.CatalogFile = catalogPath
	}
	return cfg, nil
}

// openDB 設定を読み込んでデータベースに接続する
func openDB(stderr io.Writer) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := otelinfra.NewLoggerWithWriter(otelinfra.Tracer("creditctl"), stderr, cfg.Log.Level)

	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &session{cfg: cfg, logger: logger, db: db}, nil
}

// openSession データベース接続に加えてカタログとサービスを組み立てる
func openSession(ctx context.Context, stderr io.Writer) (*session, error) {
	s, err := openDB(stderr)
	if err != nil {
		return nil, err
	}

	cat, err := config.LoadCatalog(s.cfg.CatalogFile, s.cfg.Credits)
	if err != nil {
		s.Close()
		return nil, err
	}
	metrics, err := otelinfra.NewMetrics("creditctl")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	s.container, err = bootstrap.New(ctx, s.cfg, s.db, cat, s.logger, metrics)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
