package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/callback"
	"credit-server/internal/domain/catalog"
	"credit-server/internal/domain/credit"
	fulfillmentdomain "credit-server/internal/domain/fulfillment"
	"credit-server/internal/domain/transaction"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// WalletService 付与と残高再計算を行うウォレット操作
type WalletService interface {
	AddCreditsTx(ctx context.Context, req *walletapp.AddCreditsRequest) (*walletapp.CreditsResponse, walletapp.Notifier, error)
	RefreshBalance(ctx context.Context, walletID string) (*walletapp.CreditsResponse, error)
}

// FulfillmentApplicationService 付与スケジュールの処理サービス
type FulfillmentApplicationService struct {
	fulfillmentRepo fulfillmentdomain.FulfillmentRepository
	transactionRepo transaction.TransactionRepository
	txManager       transaction.TransactionManager
	wallets         WalletService
	catalog         *catalog.Catalog
	callbacks       *callback.Registry
	cfg             config.CreditsConfig
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	now             func() time.Time
	maxRetries      int

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewFulfillmentApplicationService 新しいFulfillmentApplicationServiceを作成
func NewFulfillmentApplicationService(
	fulfillmentRepo fulfillmentdomain.FulfillmentRepository,
	transactionRepo transaction.TransactionRepository,
	txManager transaction.TransactionManager,
	wallets WalletService,
	cat *catalog.Catalog,
	callbacks *callback.Registry,
	cfg config.CreditsConfig,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *FulfillmentApplicationService {
	return &FulfillmentApplicationService{
		fulfillmentRepo: fulfillmentRepo,
		transactionRepo: transactionRepo,
		txManager:       txManager,
		wallets:         wallets,
		catalog:         cat,
		callbacks:       callbacks,
		cfg:             cfg,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("fulfillment-service"),
		now:             time.Now,
		maxRetries:      3,
	}
}

// WithClock 時刻の取得元を差し替える
func (s *FulfillmentApplicationService) WithClock(now func() time.Time) *FulfillmentApplicationService {
	s.now = now
	return s
}

// Now 現在時刻（UTC）
func (s *FulfillmentApplicationService) Now() time.Time {
	return s.now().UTC()
}

// Create 付与スケジュールを登録
func (s *FulfillmentApplicationService) Create(ctx context.Context, f *fulfillmentdomain.Fulfillment) error {
	ctx, span := s.tracer.Start(ctx, "FulfillmentApplicationService.Create")
	defer span.End()

	if err := f.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}
	if err := s.fulfillmentRepo.Create(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to create fulfillment: %w", err)
	}

	s.logger.Info(ctx, "Fulfillment scheduled", map[string]interface{}{
		"fulfillment_id": f.ID(),
		"wallet_id":      f.WalletID(),
		"type":           f.Type().String(),
		"next_at":        f.NextFulfillmentAt(),
	})
	return nil
}

// ProcessPendingFulfillments 期限到来分をバッチ単位で処理する
//
// 1件の失敗はログに記録して次へ進む。1回の呼び出しで各スケジュールは高々1サイクル分だけ進む。
func (s *FulfillmentApplicationService) ProcessPendingFulfillments(ctx context.Context) (*BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentApplicationService.ProcessPendingFulfillments")
	defer span.End()

	now := s.Now()
	batchSize := s.cfg.FulfillmentBatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultCreditsConfig().FulfillmentBatchSize
	}

	result := &BatchResult{}
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		due, err := s.fulfillmentRepo.FindDue(ctx, now, afterID, batchSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return result, fmt.Errorf("failed to find due fulfillments: %w", err)
		}

		for _, f := range due {
			afterID = f.ID()
			result.Processed++

			p, err := s.NewProcessor(f)
			if err == nil {
				var res *ProcessResult
				res, err = p.Process(ctx)
				if err == nil && res.Granted {
					result.Granted++
				}
			}
			if err != nil {
				result.Failed++
				s.metrics.RecordFulfillment(ctx, f.Type().String(), "failed")
				s.logger.Error(ctx, "Failed to process fulfillment", err, map[string]interface{}{
					"fulfillment_id": f.ID(),
					"wallet_id":      f.WalletID(),
				})
			}
		}

		if len(due) < batchSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("granted", result.Granted),
		attribute.Int("failed", result.Failed),
	)
	if result.Processed > 0 {
		s.logger.Info(ctx, "Pending fulfillments processed", map[string]interface{}{
			"processed": result.Processed,
			"granted":   result.Granted,
			"failed":    result.Failed,
		})
	}
	return result, nil
}

// RefreshExpiredBalances 前回の実行以降に失効した付与を持つウォレットの残高を再計算する
func (s *FulfillmentApplicationService) RefreshExpiredBalances(ctx context.Context) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentApplicationService.RefreshExpiredBalances")
	defer span.End()

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	result := &SweepResult{From: s.lastSweep, To: s.Now()}
	walletIDs, err := s.transactionRepo.FindWalletIDsExpiredBetween(ctx, result.From, result.To)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return result, fmt.Errorf("failed to find expired wallets: %w", err)
	}
	result.Wallets = len(walletIDs)

	for _, walletID := range walletIDs {
		res, err := s.wallets.RefreshBalance(ctx, walletID)
		if err != nil {
			result.Failed++
			s.logger.Error(ctx, "Failed to refresh expired balance", err, map[string]interface{}{
				"wallet_id": walletID,
			})
			continue
		}
		if res.BalanceBefore != res.BalanceAfter {
			result.Refreshed++
		}
	}

	// 失敗したウォレットは次回も同じ範囲で拾う
	if result.Failed == 0 {
		s.lastSweep = result.To
	}

	span.SetAttributes(
		attribute.Int("wallets", result.Wallets),
		attribute.Int("refreshed", result.Refreshed),
	)
	return result, nil
}

// withRetry 一時的なエラー（ロック待ち・デッドロック）の場合に指数バックオフで再試行する
func (s *FulfillmentApplicationService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !credit.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isSkippable 再確認で処理不要と判定されたかどうか
func isSkippable(err error) bool {
	return errors.Is(err, errNotDue)
}
