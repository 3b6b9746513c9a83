package history

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credit-server/internal/domain/transaction"
	"credit-server/internal/domain/wallet"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

const (
	// DefaultLimit 件数指定がない場合の取得件数
	DefaultLimit = 50
	// MaxLimit 1回で取得できる最大件数
	MaxLimit = 100
)

// HistoryApplicationService 履歴アプリケーションサービス
type HistoryApplicationService struct {
	walletRepo      wallet.WalletRepository
	transactionRepo transaction.TransactionRepository
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

// NewHistoryApplicationService 新しいHistoryApplicationServiceを作成
func NewHistoryApplicationService(
	walletRepo wallet.WalletRepository,
	transactionRepo transaction.TransactionRepository,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *HistoryApplicationService {
	return &HistoryApplicationService{
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("history-service"),
		now:             time.Now,
	}
}

// WithClock 時刻の取得元を差し替える
func (s *HistoryApplicationService) WithClock(now func() time.Time) *HistoryApplicationService {
	s.now = now
	return s
}

// GetCreditHistory ウォレットの台帳エントリを時系列順で取得
func (s *HistoryApplicationService) GetCreditHistory(ctx context.Context, req *GetCreditHistoryRequest) (*GetCreditHistoryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetCreditHistory")
	defer span.End()

	// バリデーション
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.Int("limit", req.Limit),
		attribute.Int("offset", req.Offset),
	)

	s.logger.Debug(ctx, "Getting credit history", map[string]interface{}{
		"wallet_id": req.WalletID,
		"category":  req.Category,
		"limit":     req.Limit,
		"offset":    req.Offset,
	})

	filter := transaction.HistoryFilter{
		From:   req.From,
		To:     req.To,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if req.Category != "" {
		c, err := transaction.NewCategory(req.Category)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		filter.Category = &c
	}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		err := fmt.Errorf("%w: from must be before to", transaction.ErrInvalidTransaction)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	if _, err := s.walletRepo.FindByID(ctx, req.WalletID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	transactions, err := s.transactionRepo.FindByWalletID(ctx, req.WalletID, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to get credit history", err, map[string]interface{}{
			"wallet_id": req.WalletID,
		})
		return nil, fmt.Errorf("failed to get credit history: %w", err)
	}

	total, err := s.transactionRepo.CountByWalletID(ctx, req.WalletID, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to count credit history: %w", err)
	}

	now := s.now()
	entries := make([]HistoryEntry, 0, len(transactions))
	for _, txn := range transactions {
		entries = append(entries, HistoryEntry{
			TransactionID: txn.ID(),
			Amount:        txn.Amount(),
			Category:      txn.Category().String(),
			ExpiresAt:     txn.ExpiresAt(),
			Expired:       txn.IsCredit() && txn.IsExpired(now),
			FulfillmentID: txn.FulfillmentID(),
			SourceRef:     txn.SourceRef(),
			Metadata:      txn.Metadata(),
			CreatedAt:     txn.CreatedAt(),
		})
	}

	return &GetCreditHistoryResponse{
		WalletID: req.WalletID,
		Entries:  entries,
		Total:    total,
		Limit:    req.Limit,
		Offset:   req.Offset,
	}, nil
}
