package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credit-server/internal/domain/allocation"
	"credit-server/internal/domain/callback"
	"credit-server/internal/domain/catalog"
	"credit-server/internal/domain/cost"
	"credit-server/internal/domain/credit"
	"credit-server/internal/domain/transaction"
	"credit-server/internal/domain/wallet"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

var (
	// ErrInvalidAmount 付与・減算量が0以下
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", credit.ErrInvalidOperation)
)

// BalanceCache 残高の読み取りキャッシュ
type BalanceCache interface {
	GetBalance(ctx context.Context, walletID string) (int64, bool, error)
	// SetBalance 未キャッシュの場合のみ保存する（maxTTL > 0 ならTTLの上限）
	SetBalance(ctx context.Context, walletID string, balance int64, maxTTL time.Duration) error
	// Invalidate キャッシュを破棄し、直前に読んだ値の書き戻しを防ぐ
	Invalidate(ctx context.Context, walletID string) error
}

// Notifier コミット後に呼ぶコールバック通知
type Notifier func(ctx context.Context)

// WalletApplicationService ウォレットアプリケーションサービス
type WalletApplicationService struct {
	walletRepo      wallet.WalletRepository
	transactionRepo transaction.TransactionRepository
	allocationRepo  allocation.AllocationRepository
	txManager       transaction.TransactionManager
	catalog         *catalog.Catalog
	calculator      *cost.Calculator
	callbacks       *callback.Registry
	cache           BalanceCache
	cfg             config.CreditsConfig
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	now             func() time.Time
	maxRetries      int
}

// NewWalletApplicationService 新しいWalletApplicationServiceを作成
func NewWalletApplicationService(
	walletRepo wallet.WalletRepository,
	transactionRepo transaction.TransactionRepository,
	allocationRepo allocation.AllocationRepository,
	txManager transaction.TransactionManager,
	cat *catalog.Catalog,
	callbacks *callback.Registry,
	cache BalanceCache,
	cfg config.CreditsConfig,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *WalletApplicationService {
	return &WalletApplicationService{
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		allocationRepo:  allocationRepo,
		txManager:       txManager,
		catalog:         cat,
		calculator:      cost.NewCalculator(cfg.Rounding),
		callbacks:       callbacks,
		cache:           cache,
		cfg:             cfg,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("wallet-service"),
		now:             time.Now,
		maxRetries:      3,
	}
}

// WithClock 現在時刻の取得関数を差し替える
func (s *WalletApplicationService) WithClock(now func() time.Time) *WalletApplicationService {
	s.now = now
	return s
}

// Config 適用中のクレジット設定を返す
func (s *WalletApplicationService) Config() config.CreditsConfig {
	return s.cfg
}

// Now サービスの現在時刻（UTC）
func (s *WalletApplicationService) Now() time.Time {
	return s.now().UTC()
}

// FindOrCreateWallet 所有者のウォレットを取得し、無ければ作成する
func (s *WalletApplicationService) FindOrCreateWallet(ctx context.Context, owner wallet.Owner, metadata map[string]interface{}) (*WalletResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.FindOrCreateWallet")
	defer span.End()

	span.SetAttributes(attribute.String("owner", owner.String()))

	w, err := s.walletRepo.FindByOwner(ctx, owner)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		w, err = wallet.NewWallet(owner, metadata, s.Now())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		if err = s.walletRepo.Create(ctx, w); errors.Is(err, wallet.ErrWalletAlreadyExists) {
			// 同時作成に負けた場合は既存を読み直す
			w, err = s.walletRepo.FindByOwner(ctx, owner)
		} else if err == nil {
			s.logger.Info(ctx, "Wallet created", map[string]interface{}{
				"wallet_id": w.ID(),
				"owner":     owner.String(),
			})
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find or create wallet: %w", err)
	}

	return toWalletResponse(w), nil
}

// GetBalance 現在時刻で失効分を除いた残高を取得（Redisキャッシュを優先）
//
// キャッシュのTTLは最も早く失効する付与エントリの失効時刻までに制限する。
func (s *WalletApplicationService) GetBalance(ctx context.Context, walletID string) (*BalanceResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.GetBalance")
	defer span.End()

	span.SetAttributes(attribute.String("wallet_id", walletID))

	if balance, ok, err := s.cache.GetBalance(ctx, walletID); err != nil {
		s.logger.Warn(ctx, "Balance cache unavailable", map[string]interface{}{
			"wallet_id": walletID,
			"error":     err.Error(),
		})
	} else if ok {
		return &BalanceResponse{WalletID: walletID, Balance: balance, Cached: true}, nil
	}

	now := s.Now()
	var (
		balance    int64
		nextExpiry *time.Time
	)
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.walletRepo.FindByID(ctx, walletID); err != nil {
			return err
		}
		buckets, err := s.allocationRepo.FindBucketsByWalletID(ctx, walletID, now)
		if err != nil {
			return fmt.Errorf("failed to find buckets: %w", err)
		}
		debts, err := s.allocationRepo.FindDebtsByWalletID(ctx, walletID)
		if err != nil {
			return fmt.Errorf("failed to find debts: %w", err)
		}
		balance = allocation.Balance(buckets, debts, now)
		nextExpiry = allocation.NextExpiry(buckets, now)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	var maxTTL time.Duration
	if nextExpiry != nil {
		maxTTL = nextExpiry.Sub(now)
	}
	if err := s.cache.SetBalance(ctx, walletID, balance, maxTTL); err != nil {
		s.logger.Warn(ctx, "Failed to cache balance", map[string]interface{}{
			"wallet_id": walletID,
			"error":     err.Error(),
		})
	}
	s.metrics.RecordWalletBalance(ctx, walletID, balance)

	return &BalanceResponse{WalletID: walletID, Balance: balance}, nil
}

// AddCredits クレジットを付与
func (s *WalletApplicationService) AddCredits(ctx context.Context, req *AddCreditsRequest) (*CreditsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.AddCredits")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.Int64("amount", req.Amount),
		attribute.String("category", req.Category),
	)

	s.logger.Info(ctx, "Adding credits", map[string]interface{}{
		"wallet_id": req.WalletID,
		"amount":    req.Amount,
		"category":  req.Category,
	})

	var (
		result *CreditsResponse
		notify Notifier
	)
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		result, notify, err = s.AddCreditsTx(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to add credits", err, map[string]interface{}{
			"wallet_id": req.WalletID,
			"amount":    req.Amount,
		})
		s.metrics.RecordError(ctx, "add_credits_failed")
		return nil, err
	}

	notify(ctx)

	s.logger.Info(ctx, "Credits added successfully", map[string]interface{}{
		"wallet_id":      req.WalletID,
		"transaction_id": result.TransactionID,
		"balance_after":  result.BalanceAfter,
	})

	return result, nil
}

// AddCreditsTx 呼び出し元のトランザクション内で付与し、コミット後に呼ぶ通知を返す
//
// 未精算の負残高がある場合は新しい付与エントリから古い順に精算する。
func (s *WalletApplicationService) AddCreditsTx(ctx context.Context, req *AddCreditsRequest) (*CreditsResponse, Notifier, error) {
	if req.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	category := transaction.CategoryManualAdjustment
	if req.Category != "" {
		c, err := transaction.NewCategory(req.Category)
		if err != nil {
			return nil, nil, err
		}
		category = c
	}

	var (
		result *CreditsResponse
		owner  string
	)
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.Now()

		w, err := s.walletRepo.LockByID(ctx, req.WalletID)
		if err != nil {
			return err
		}
		owner = w.Owner().String()

		before, err := s.ledgerBalance(ctx, w.ID(), now)
		if err != nil {
			return err
		}

		txn, err := transaction.NewTransaction(
			w.ID(),
			req.Amount,
			category,
			req.ExpiresAt,
			req.FulfillmentID,
			req.SourceRef,
			req.Metadata,
			now,
		)
		if err != nil {
			return err
		}
		if err := s.transactionRepo.Save(ctx, txn); err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}

		debts, err := s.allocationRepo.FindDebtsByWalletID(ctx, w.ID())
		if err != nil {
			return fmt.Errorf("failed to find debts: %w", err)
		}
		settlements := allocation.Settle(req.Amount, debts)
		allocations := make([]*allocation.Allocation, 0, len(settlements))
		for _, st := range settlements {
			a, err := allocation.NewAllocation(st.DebitTransactionID, txn.ID(), st.Amount, now)
			if err != nil {
				return err
			}
			allocations = append(allocations, a)
		}
		if err := s.allocationRepo.SaveAll(ctx, allocations); err != nil {
			return fmt.Errorf("failed to save allocations: %w", err)
		}

		after, err := s.ledgerBalance(ctx, w.ID(), now)
		if err != nil {
			return err
		}
		w.SetBalance(after, now)
		if err := s.walletRepo.UpdateBalance(ctx, w); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		result = &CreditsResponse{
			WalletID:      w.ID(),
			TransactionID: txn.ID(),
			Amount:        txn.Amount(),
			Category:      category.String(),
			BalanceBefore: before,
			BalanceAfter:  after,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	notify := func(ctx context.Context) {
		s.afterCommit(ctx, result)
		c := s.callbackContext(callback.EventCreditsAdded, result, owner, req.Metadata)
		s.callbacks.Dispatch(ctx, c)
	}
	return result, notify, nil
}

// GiveCredits 手動付与（理由がカテゴリ名として有効ならそのカテゴリを使う）
func (s *WalletApplicationService) GiveCredits(ctx context.Context, req *GiveCreditsRequest) (*CreditsResponse, error) {
	category := transaction.CategoryManualAdjustment
	if c, err := transaction.NewCategory(req.Reason); err == nil {
		category = c
	}

	metadata := map[string]interface{}{}
	if req.Reason != "" {
		metadata["reason"] = req.Reason
	}

	return s.AddCredits(ctx, &AddCreditsRequest{
		WalletID:  req.WalletID,
		Amount:    req.Amount,
		Category:  category.String(),
		Metadata:  metadata,
		ExpiresAt: req.ExpiresAt,
	})
}

// DeductCredits クレジットを減算（古い付与エントリから順に割り当てる）
func (s *WalletApplicationService) DeductCredits(ctx context.Context, req *DeductCreditsRequest) (*CreditsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.DeductCredits")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.Int64("amount", req.Amount),
		attribute.String("category", req.Category),
	)

	s.logger.Info(ctx, "Deducting credits", map[string]interface{}{
		"wallet_id": req.WalletID,
		"amount":    req.Amount,
		"category":  req.Category,
	})

	var (
		result *CreditsResponse
		notify Notifier
	)
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		result, notify, err = s.deduct(ctx, req, nil)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.handleDeductError(ctx, req, err, notify)
		return nil, err
	}

	notify(ctx)

	s.logger.Info(ctx, "Credits deducted successfully", map[string]interface{}{
		"wallet_id":      req.WalletID,
		"transaction_id": result.TransactionID,
		"balance_after":  result.BalanceAfter,
	})

	return result, nil
}

// SpendCreditsOn オペレーションのコストを消費する
//
// fn を渡した場合、ウォレットのロックを保持したまま実行し、nil を返したときのみ減算をコミットする。
// fn がエラーを返すと、この呼び出しの台帳書き込みはすべてロールバックされる。
func (s *WalletApplicationService) SpendCreditsOn(ctx context.Context, req *SpendRequest, fn func(ctx context.Context) error) (*SpendResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.SpendCreditsOn")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", req.WalletID),
		attribute.String("operation", req.Operation),
	)

	op, amount, err := s.resolveCost(req.Operation, req.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("cost", amount))

	s.logger.Info(ctx, "Spending credits on operation", map[string]interface{}{
		"wallet_id": req.WalletID,
		"operation": op.Name(),
		"cost":      amount,
	})

	// コスト0のオペレーションは台帳に記録しない
	if amount == 0 {
		if fn != nil {
			if err := fn(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(otelcodes.Error, err.Error())
				return nil, err
			}
		}
		return &SpendResponse{
			CreditsResponse: CreditsResponse{WalletID: req.WalletID, Category: transaction.CategoryOperationCharge.String()},
			Operation:       op.Name(),
		}, nil
	}

	metadata := op.Metadata()
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["operation"] = op.Name()
	metadata["cost"] = amount
	if len(req.Params) > 0 {
		params := make(map[string]interface{}, len(req.Params))
		for k, v := range req.Params {
			params[k] = v
		}
		metadata["params"] = params
	}

	deductReq := &DeductCreditsRequest{
		WalletID: req.WalletID,
		Amount:   amount,
		Category: transaction.CategoryOperationCharge.String(),
		Metadata: metadata,
	}

	// 呼び出し元のブロックを再実行しないためリトライしない
	result, notify, err := s.deduct(ctx, deductReq, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.handleDeductError(ctx, deductReq, err, notify)
		return nil, err
	}

	notify(ctx)

	s.logger.Info(ctx, "Operation charged successfully", map[string]interface{}{
		"wallet_id":      req.WalletID,
		"operation":      op.Name(),
		"transaction_id": result.TransactionID,
		"balance_after":  result.BalanceAfter,
	})

	return &SpendResponse{CreditsResponse: *result, Operation: op.Name(), Cost: amount}, nil
}

// EstimateCreditsTo オペレーションのコストを見積もる（副作用なし）
func (s *WalletApplicationService) EstimateCreditsTo(ctx context.Context, req *EstimateRequest) (*EstimateResponse, error) {
	_, span := s.tracer.Start(ctx, "WalletApplicationService.EstimateCreditsTo")
	defer span.End()

	span.SetAttributes(attribute.String("operation", req.Operation))

	op, amount, err := s.resolveCost(req.Operation, req.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	return &EstimateResponse{Operation: op.Name(), Cost: amount}, nil
}

// HasEnoughCreditsTo 割当可能な残高でオペレーションを賄えるか（副作用なし）
func (s *WalletApplicationService) HasEnoughCreditsTo(ctx context.Context, walletID string, req *EstimateRequest) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.HasEnoughCreditsTo")
	defer span.End()

	span.SetAttributes(
		attribute.String("wallet_id", walletID),
		attribute.String("operation", req.Operation),
	)

	_, amount, err := s.resolveCost(req.Operation, req.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, err
	}

	if _, err := s.walletRepo.FindByID(ctx, walletID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, err
	}

	now := s.Now()
	buckets, err := s.allocationRepo.FindBucketsByWalletID(ctx, walletID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, fmt.Errorf("failed to find buckets: %w", err)
	}

	return allocation.Allocatable(buckets, now) >= amount, nil
}

// RefreshBalance 台帳からキャッシュ残高を再計算する（失効による減少の反映）
func (s *WalletApplicationService) RefreshBalance(ctx context.Context, walletID string) (*CreditsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.RefreshBalance")
	defer span.End()

	span.SetAttributes(attribute.String("wallet_id", walletID))

	var (
		result *CreditsResponse
		owner  string
	)
	err := s.withRetry(ctx, func(ctx context.Context) error {
		now := s.Now()

		w, err := s.walletRepo.LockByID(ctx, walletID)
		if err != nil {
			return err
		}
		owner = w.Owner().String()

		after, err := s.ledgerBalance(ctx, walletID, now)
		if err != nil {
			return err
		}
		result = &CreditsResponse{WalletID: walletID, BalanceBefore: w.Balance(), BalanceAfter: after}
		if after == w.Balance() {
			return nil
		}

		w.SetBalance(after, now)
		return s.walletRepo.UpdateBalance(ctx, w)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	if result.BalanceBefore != result.BalanceAfter {
		s.afterCommit(ctx, result)
		s.dispatchThresholds(ctx, result, owner, nil)
		s.logger.Info(ctx, "Wallet balance refreshed", map[string]interface{}{
			"wallet_id":      walletID,
			"balance_before": result.BalanceBefore,
			"balance_after":  result.BalanceAfter,
		})
	}

	return result, nil
}

// deduct ロック下で割当・減算し、fn があれば書き込み後に実行する
func (s *WalletApplicationService) deduct(ctx context.Context, req *DeductCreditsRequest, fn func(ctx context.Context) error) (*CreditsResponse, Notifier, error) {
	if req.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	category := transaction.CategoryDeduction
	if req.Category != "" {
		c, err := transaction.NewCategory(req.Category)
		if err != nil {
			return nil, nil, err
		}
		category = c
	}

	var (
		result *CreditsResponse
		owner  string
	)
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.Now()

		w, err := s.walletRepo.LockByID(ctx, req.WalletID)
		if err != nil {
			return err
		}
		owner = w.Owner().String()

		buckets, err := s.allocationRepo.FindBucketsByWalletID(ctx, w.ID(), now)
		if err != nil {
			return fmt.Errorf("failed to find buckets: %w", err)
		}
		debts, err := s.allocationRepo.FindDebtsByWalletID(ctx, w.ID())
		if err != nil {
			return fmt.Errorf("failed to find debts: %w", err)
		}
		before := allocation.Balance(buckets, debts, now)

		plan := allocation.Allocate(buckets, req.Amount, now)
		if !plan.Satisfied() && !(s.cfg.AllowNegativeBalance || req.AllowNegative) {
			result = &CreditsResponse{
				WalletID:      w.ID(),
				Amount:        -req.Amount,
				Category:      category.String(),
				BalanceBefore: before,
				BalanceAfter:  before,
				Shortfall:     plan.Shortfall,
			}
			return fmt.Errorf("%w: required %d, available %d", credit.ErrInsufficientCredits, req.Amount, plan.Covered)
		}

		txn, err := transaction.NewTransaction(
			w.ID(),
			-req.Amount,
			category,
			nil,
			nil,
			req.SourceRef,
			req.Metadata,
			now,
		)
		if err != nil {
			return err
		}
		if err := s.transactionRepo.Save(ctx, txn); err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}

		allocations := make([]*allocation.Allocation, 0, len(plan.Takes))
		details := make([]AllocationDetail, 0, len(plan.Takes))
		for _, take := range plan.Takes {
			a, err := allocation.NewAllocation(txn.ID(), take.SourceTransactionID, take.Amount, now)
			if err != nil {
				return err
			}
			allocations = append(allocations, a)
			details = append(details, AllocationDetail{SourceTransactionID: take.SourceTransactionID, Amount: take.Amount})
		}
		if err := s.allocationRepo.SaveAll(ctx, allocations); err != nil {
			return fmt.Errorf("failed to save allocations: %w", err)
		}

		after := before - req.Amount
		w.SetBalance(after, now)
		if err := s.walletRepo.UpdateBalance(ctx, w); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		result = &CreditsResponse{
			WalletID:      w.ID(),
			TransactionID: txn.ID(),
			Amount:        txn.Amount(),
			Category:      category.String(),
			BalanceBefore: before,
			BalanceAfter:  after,
			Allocations:   details,
			Shortfall:     plan.Shortfall,
		}

		if fn != nil {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientCredits) && result != nil {
			insufficient := *result
			return nil, func(ctx context.Context) {
				c := s.callbackContext(callback.EventInsufficientCredits, &insufficient, owner, req.Metadata)
				s.callbacks.Dispatch(ctx, c)
			}, err
		}
		return nil, nil, err
	}

	notify := func(ctx context.Context) {
		s.afterCommit(ctx, result)
		s.callbacks.Dispatch(ctx, s.callbackContext(callback.EventCreditsDeducted, result, owner, req.Metadata))
		s.dispatchThresholds(ctx, result, owner, req.Metadata)
	}
	return result, notify, nil
}

func (s *WalletApplicationService) handleDeductError(ctx context.Context, req *DeductCreditsRequest, err error, notify Notifier) {
	if errors.Is(err, credit.ErrInsufficientCredits) {
		s.metrics.RecordInsufficientCredits(ctx, req.Category)
		s.logger.Warn(ctx, "Insufficient credits", map[string]interface{}{
			"wallet_id": req.WalletID,
			"amount":    req.Amount,
			"category":  req.Category,
		})
		if notify != nil {
			notify(ctx)
		}
		return
	}

	s.logger.Error(ctx, "Failed to deduct credits", err, map[string]interface{}{
		"wallet_id": req.WalletID,
		"amount":    req.Amount,
	})
	s.metrics.RecordError(ctx, "deduct_credits_failed")
}

// resolveCost オペレーションを解決し、検証・コスト計算する
func (s *WalletApplicationService) resolveCost(name string, params cost.Params) (*catalog.Operation, int64, error) {
	if s.catalog == nil {
		return nil, 0, fmt.Errorf("%w: %q", catalog.ErrUnknownOperation, name)
	}
	op, err := s.catalog.Operation(name)
	if err != nil {
		return nil, 0, err
	}
	amount, err := op.Calculate(s.calculator, params)
	if err != nil {
		return nil, 0, err
	}
	return op, amount, nil
}

// ledgerBalance 未失効の付与残量 - 未割当の消費
func (s *WalletApplicationService) ledgerBalance(ctx context.Context, walletID string, now time.Time) (int64, error) {
	buckets, err := s.allocationRepo.FindBucketsByWalletID(ctx, walletID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to find buckets: %w", err)
	}
	debts, err := s.allocationRepo.FindDebtsByWalletID(ctx, walletID)
	if err != nil {
		return 0, fmt.Errorf("failed to find debts: %w", err)
	}
	return allocation.Balance(buckets, debts, now), nil
}

// withRetry 並行性エラーを指数バックオフでリトライする
func (s *WalletApplicationService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = s.txManager.WithTransaction(ctx, fn)
		if !credit.IsRetryable(err) {
			return err
		}
		s.logger.Warn(ctx, "Retrying after concurrency error", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	return err
}

func (s *WalletApplicationService) afterCommit(ctx context.Context, result *CreditsResponse) {
	if err := s.cache.Invalidate(ctx, result.WalletID); err != nil {
		s.logger.Warn(ctx, "Failed to invalidate balance cache", map[string]interface{}{
			"wallet_id": result.WalletID,
			"error":     err.Error(),
		})
	}
	if result.TransactionID != "" {
		s.metrics.RecordLedgerEntry(ctx, result.Category, result.Amount)
	}
	s.metrics.RecordWalletBalance(ctx, result.WalletID, result.BalanceAfter)
}

// dispatchThresholds 閾値・残高0を跨いだときのみ通知する
func (s *WalletApplicationService) dispatchThresholds(ctx context.Context, result *CreditsResponse, owner string, metadata map[string]interface{}) {
	for _, event := range crossings(result.BalanceBefore, result.BalanceAfter, s.cfg.LowBalanceThreshold) {
		c := s.callbackContext(event, result, owner, metadata)
		c.Threshold = s.cfg.LowBalanceThreshold
		s.callbacks.Dispatch(ctx, c)
	}
}

// crossings 閾値以下への遷移と残高ちょうど0への遷移を独立に判定する（閾値0は低残高通知なし）
func crossings(before, after, threshold int64) []callback.Event {
	var events []callback.Event
	if threshold > 0 && after <= threshold && before > threshold {
		events = append(events, callback.EventLowBalanceReached)
	}
	if after == 0 && before > 0 {
		events = append(events, callback.EventBalanceDepleted)
	}
	return events
}

func (s *WalletApplicationService) callbackContext(event callback.Event, result *CreditsResponse, owner string, metadata map[string]interface{}) callback.Context {
	c := callback.NewContext(event, result.WalletID, metadata)
	c.Owner = owner
	c.Amount = result.Amount
	c.BalanceBefore = result.BalanceBefore
	c.BalanceAfter = result.BalanceAfter
	c.Category = result.Category
	c.TransactionID = result.TransactionID
	c.OccurredAt = s.Now()
	return c
}

func toWalletResponse(w *wallet.Wallet) *WalletResponse {
	return &WalletResponse{
		WalletID:  w.ID(),
		Owner:     w.Owner().String(),
		Balance:   w.Balance(),
		Metadata:  w.Metadata(),
		CreatedAt: w.CreatedAt(),
	}
}
