package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	fulfillmentapp "credit-server/internal/application/fulfillment"
	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/catalog"
	"credit-server/internal/domain/credit"
	"credit-server/internal/domain/fulfillment"
	"credit-server/internal/domain/transaction"
	"credit-server/internal/domain/wallet"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

var (
	// ErrChargeNotFound 返金対象の購入が見つからない
	ErrChargeNotFound = errors.New("charge not found")
	// ErrSubscriptionNotFound サブスクリプションの付与スケジュールが見つからない
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrInvalidRefund 返金額が不正
	ErrInvalidRefund = fmt.Errorf("%w: invalid refund amount", credit.ErrInvalidOperation)
)

// WalletService 決済イベントが使うウォレット操作
type WalletService interface {
	FindOrCreateWallet(ctx context.Context, owner wallet.Owner, metadata map[string]interface{}) (*walletapp.WalletResponse, error)
	AddCreditsTx(ctx context.Context, req *walletapp.AddCreditsRequest) (*walletapp.CreditsResponse, walletapp.Notifier, error)
	DeductCredits(ctx context.Context, req *walletapp.DeductCreditsRequest) (*walletapp.CreditsResponse, error)
}

// PaymentApplicationService 検証済みの決済イベントを台帳操作に変換するサービス
type PaymentApplicationService struct {
	wallets         WalletService
	fulfillments    *fulfillmentapp.FulfillmentApplicationService
	fulfillmentRepo fulfillment.FulfillmentRepository
	transactionRepo transaction.TransactionRepository
	txManager       transaction.TransactionManager
	catalog         *catalog.Catalog
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	maxRetries      int
}

// NewPaymentApplicationService 新しいPaymentApplicationServiceを作成
func NewPaymentApplicationService(
	wallets WalletService,
	fulfillments *fulfillmentapp.FulfillmentApplicationService,
	fulfillmentRepo fulfillment.FulfillmentRepository,
	transactionRepo transaction.TransactionRepository,
	txManager transaction.TransactionManager,
	cat *catalog.Catalog,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *PaymentApplicationService {
	return &PaymentApplicationService{
		wallets:         wallets,
		fulfillments:    fulfillments,
		fulfillmentRepo: fulfillmentRepo,
		transactionRepo: transactionRepo,
		txManager:       txManager,
		catalog:         cat,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("payment-service"),
		maxRetries:      3,
	}
}

// HandleChargeSucceeded クレジットパック購入を付与（決済IDで冪等）
func (s *PaymentApplicationService) HandleChargeSucceeded(ctx context.Context, req *ChargeSucceededRequest) (*PaymentEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.HandleChargeSucceeded")
	defer span.End()

	span.SetAttributes(
		attribute.String("charge_id", req.ChargeID),
		attribute.String("pack_id", req.PackID),
	)

	s.logger.Info(ctx, "Handling charge succeeded", map[string]interface{}{
		"charge_id": req.ChargeID,
		"owner":     req.Owner.String(),
		"pack_id":   req.PackID,
	})

	if req.ChargeID == "" {
		err := fmt.Errorf("%w: charge id is required", credit.ErrInvalidOperation)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	pack, err := s.catalog.Pack(req.PackID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	w, err := s.wallets.FindOrCreateWallet(ctx, req.Owner, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	// 既に処理済みの場合は、既存の結果を返す
	if resp, err := s.existingGrant(ctx, w.WalletID, transaction.CategoryPackPurchase, req.ChargeID); resp != nil || err != nil {
		return resp, err
	}

	var (
		result *fulfillmentapp.ProcessResult
		notify walletapp.Notifier
	)
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			now := s.fulfillments.Now()
			metadata := map[string]interface{}{fulfillment.MetaPackID: pack.ID}
			for k, v := range req.Metadata {
				metadata[k] = v
			}

			chargeID := req.ChargeID
			f, err := fulfillment.NewFulfillment(w.WalletID, fulfillment.TypeCreditPack, &chargeID, nil, now, nil, metadata, now)
			if err != nil {
				return err
			}
			if err := s.fulfillmentRepo.Create(ctx, f); err != nil {
				return fmt.Errorf("failed to create fulfillment: %w", err)
			}

			p, err := s.fulfillments.NewProcessor(f)
			if err != nil {
				return err
			}
			result, notify, err = p.ProcessTx(ctx)
			return err
		})
	})
	if errors.Is(err, transaction.ErrDuplicateSourceRef) || errors.Is(err, fulfillment.ErrDuplicateSourceRef) {
		return s.existingGrant(ctx, w.WalletID, transaction.CategoryPackPurchase, req.ChargeID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to grant credit pack", err, map[string]interface{}{
			"charge_id": req.ChargeID,
			"wallet_id": w.WalletID,
		})
		s.metrics.RecordError(ctx, "charge_succeeded_failed")
		return nil, err
	}
	if notify != nil {
		notify(ctx)
	}

	s.logger.Info(ctx, "Credit pack granted", map[string]interface{}{
		"charge_id":      req.ChargeID,
		"wallet_id":      w.WalletID,
		"credits":        result.Amount,
		"transaction_id": result.TransactionID,
	})

	return &PaymentEventResponse{
		WalletID:      w.WalletID,
		FulfillmentID: result.FulfillmentID,
		TransactionID: result.TransactionID,
		Credits:       result.Amount,
		BalanceAfter:  result.BalanceAfter,
	}, nil
}

// HandleChargeRefunded 返金割合に応じて付与済みクレジットを回収（負残高を許可）
func (s *PaymentApplicationService) HandleChargeRefunded(ctx context.Context, req *ChargeRefundedRequest) (*PaymentEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.HandleChargeRefunded")
	defer span.End()

	span.SetAttributes(
		attribute.String("charge_id", req.ChargeID),
		attribute.Int64("refunded_cents", req.RefundedCents),
	)

	if req.AmountCents <= 0 || req.RefundedCents <= 0 {
		span.RecordError(ErrInvalidRefund)
		span.SetStatus(otelcodes.Error, ErrInvalidRefund.Error())
		return nil, ErrInvalidRefund
	}

	w, err := s.wallets.FindOrCreateWallet(ctx, req.Owner, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	purchase, err := s.transactionRepo.FindBySourceRef(ctx, w.WalletID, transaction.CategoryPackPurchase, req.ChargeID)
	if errors.Is(err, transaction.ErrTransactionNotFound) {
		err = fmt.Errorf("%w: %s", ErrChargeNotFound, req.ChargeID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	refundRef := req.RefundID
	if refundRef == "" {
		refundRef = req.ChargeID
	}
	if resp, err := s.existingGrant(ctx, w.WalletID, transaction.CategoryPackRefund, refundRef); resp != nil || err != nil {
		return resp, err
	}

	credits := RefundCredits(purchase.Amount(), req.RefundedCents, req.AmountCents)
	result, err := s.wallets.DeductCredits(ctx, &walletapp.DeductCreditsRequest{
		WalletID:      w.WalletID,
		Amount:        credits,
		Category:      transaction.CategoryPackRefund.String(),
		SourceRef:     &refundRef,
		AllowNegative: true,
		Metadata: map[string]interface{}{
			"charge_id":      req.ChargeID,
			"refund_id":      refundRef,
			"refunded_cents": req.RefundedCents,
			"amount_cents":   req.AmountCents,
		},
	})
	if errors.Is(err, transaction.ErrDuplicateSourceRef) {
		return s.existingGrant(ctx, w.WalletID, transaction.CategoryPackRefund, refundRef)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	s.logger.Info(ctx, "Credits refunded", map[string]interface{}{
		"charge_id":     req.ChargeID,
		"wallet_id":     w.WalletID,
		"credits":       credits,
		"balance_after": result.BalanceAfter,
	})

	return &PaymentEventResponse{
		WalletID:      w.WalletID,
		TransactionID: result.TransactionID,
		Credits:       result.Amount,
		BalanceAfter:  result.BalanceAfter,
	}, nil
}

// RefundCredits 回収するクレジット量 ceil(付与量 × 返金額 / 決済額)（付与量を上限とする）
func RefundCredits(granted, refundedCents, amountCents int64) int64 {
	if refundedCents >= amountCents {
		return granted
	}
	q, r := decimal.NewFromInt(granted).Mul(decimal.NewFromInt(refundedCents)).QuoRem(decimal.NewFromInt(amountCents), 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart()
}

// HandleSubscriptionCreated 定期付与スケジュールを作成し、加入ボーナス・トライアルを付与する
func (s *PaymentApplicationService) HandleSubscriptionCreated(ctx context.Context, req *SubscriptionCreatedRequest) (*PaymentEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.HandleSubscriptionCreated")
	defer span.End()

	span.SetAttributes(
		attribute.String("subscription_id", req.SubscriptionID),
		attribute.String("plan_id", req.PlanID),
	)

	if req.SubscriptionID == "" {
		err := fmt.Errorf("%w: subscription id is required", credit.ErrInvalidOperation)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	plan, err := s.catalog.Plan(req.PlanID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	w, err := s.wallets.FindOrCreateWallet(ctx, req.Owner, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	existing, err := s.fulfillmentRepo.FindBySourceRef(ctx, fulfillment.TypeSubscription, req.SubscriptionID)
	if err == nil {
		return &PaymentEventResponse{
			WalletID:      existing.WalletID(),
			FulfillmentID: existing.ID(),
			NextAt:        existing.NextFulfillmentAt(),
			StopsAt:       existing.StopsAt(),
			Duplicate:     true,
		}, nil
	}
	if !errors.Is(err, fulfillment.ErrFulfillmentNotFound) {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	var (
		resp     *PaymentEventResponse
		notifies []walletapp.Notifier
	)
	err = s.withRetry(ctx, func(ctx context.Context) error {
		notifies = nil
		return s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			now := s.fulfillments.Now()
			startedAt := now
			if req.StartedAt != nil {
				startedAt = req.StartedAt.UTC()
			}
			subscriptionID := req.SubscriptionID
			resp = &PaymentEventResponse{WalletID: w.WalletID}

			grantOnce := func(amount int64, category transaction.Category, expiresAt *time.Time) error {
				res, notify, err := s.wallets.AddCreditsTx(ctx, &walletapp.AddCreditsRequest{
					WalletID:  w.WalletID,
					Amount:    amount,
					Category:  category.String(),
					ExpiresAt: expiresAt,
					SourceRef: &subscriptionID,
					Metadata: map[string]interface{}{
						"subscription_id": subscriptionID,
						"plan_id":         plan.ID,
					},
				})
				if err != nil {
					return err
				}
				resp.Credits += amount
				resp.BalanceAfter = res.BalanceAfter
				notifies = append(notifies, notify)
				return nil
			}

			if plan.SignupBonus > 0 {
				if err := grantOnce(plan.SignupBonus, transaction.CategorySubscriptionSignupBonus, nil); err != nil {
					return err
				}
			}

			// トライアル期間中はトライアル分のみ付与し、定期付与はトライアル終了時から始める
			firstAt := startedAt
			if plan.TrialCredits > 0 && plan.TrialPeriod > 0 {
				trialEnd := startedAt.Add(plan.TrialPeriod)
				if err := grantOnce(plan.TrialCredits, transaction.CategorySubscriptionTrial, &trialEnd); err != nil {
					return err
				}
				firstAt = trialEnd
			}

			period := plan.Period
			f, err := fulfillment.NewFulfillment(
				w.WalletID,
				fulfillment.TypeSubscription,
				&subscriptionID,
				&period,
				firstAt,
				nil,
				map[string]interface{}{
					fulfillment.MetaPlanID:   plan.ID,
					fulfillment.MetaRollover: plan.Rollover,
				},
				now,
			)
			if err != nil {
				return err
			}
			if err := s.fulfillmentRepo.Create(ctx, f); err != nil {
				return fmt.Errorf("failed to create fulfillment: %w", err)
			}
			resp.FulfillmentID = f.ID()
			resp.NextAt = f.NextFulfillmentAt()

			if !f.IsDueForFulfillment(now) {
				return nil
			}
			p, err := s.fulfillments.NewProcessor(f)
			if err != nil {
				return err
			}
			res, notify, err := p.ProcessTx(ctx)
			if err != nil {
				return err
			}
			if res.Granted {
				resp.Credits += res.Amount
				resp.TransactionID = res.TransactionID
				resp.BalanceAfter = res.BalanceAfter
				resp.NextAt = res.NextAt
				notifies = append(notifies, notify)
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to create subscription fulfillment", err, map[string]interface{}{
			"subscription_id": req.SubscriptionID,
			"wallet_id":       w.WalletID,
		})
		s.metrics.RecordError(ctx, "subscription_created_failed")
		return nil, err
	}
	for _, notify := range notifies {
		notify(ctx)
	}

	s.logger.Info(ctx, "Subscription fulfillment created", map[string]interface{}{
		"subscription_id": req.SubscriptionID,
		"wallet_id":       w.WalletID,
		"plan_id":         plan.ID,
		"fulfillment_id":  resp.FulfillmentID,
		"credits":         resp.Credits,
	})
	return resp, nil
}

// HandleSubscriptionRenewed 解約予定を取り消し、期限到来分があれば付与する
func (s *PaymentApplicationService) HandleSubscriptionRenewed(ctx context.Context, req *SubscriptionRenewedRequest) (*PaymentEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.HandleSubscriptionRenewed")
	defer span.End()

	span.SetAttributes(attribute.String("subscription_id", req.SubscriptionID))

	var (
		resp   *PaymentEventResponse
		notify walletapp.Notifier
	)
	err := s.updateSubscription(ctx, req.SubscriptionID, func(ctx context.Context, f *fulfillment.Fulfillment, now time.Time) error {
		resp = &PaymentEventResponse{WalletID: f.WalletID(), FulfillmentID: f.ID()}
		if f.StopsAt() != nil {
			f.Resume(now)
			if err := s.fulfillmentRepo.Update(ctx, f); err != nil {
				return fmt.Errorf("failed to update fulfillment: %w", err)
			}
		}
		resp.NextAt = f.NextFulfillmentAt()

		if !f.IsDueForFulfillment(now) {
			return nil
		}
		p, err := s.fulfillments.NewProcessor(f)
		if err != nil {
			return err
		}
		res, n, err := p.ProcessTx(ctx)
		if err != nil {
			return err
		}
		if res.Granted {
			resp.Credits = res.Amount
			resp.TransactionID = res.TransactionID
			resp.BalanceAfter = res.BalanceAfter
			resp.NextAt = res.NextAt
			notify = n
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	if notify != nil {
		notify(ctx)
	}

	s.logger.Info(ctx, "Subscription renewed", map[string]interface{}{
		"subscription_id": req.SubscriptionID,
		"fulfillment_id":  resp.FulfillmentID,
		"credits":         resp.Credits,
	})
	return resp, nil
}

// HandleSubscriptionPlanChanged プラン変更を保留として記録（次回サイクルから適用）
func (s *PaymentApplicationService) HandleSubscriptionPlanChanged(ctx context.Context, req *SubscriptionPlanChangedRequest) (*PaymentEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.HandleSubscriptionPlanChanged")
	defer span.End()

	span.SetAttributes(
		attribute.String("subscription_id", req.SubscriptionID),
		attribute.String("plan_id", req.PlanID),
	)

	plan, err := s.catalog.Plan(req.PlanID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	var resp *PaymentEventResponse
	err = s.updateSubscription(ctx, req.SubscriptionID, func(ctx context.Context, f *fulfillment.Fulfillment, now time.Time) error {
		resp = &PaymentEventResponse{WalletID: f.WalletID(), FulfillmentID: f.ID(), NextAt: f.NextFulfillmentAt(), StopsAt: f.StopsAt()}
		if f.PlanID() == plan.ID && f.PendingPlanID() == "" {
			resp.Duplicate = true
			return nil
		}
		f.SetPendingPlan(plan.ID, now)
		return s.fulfillmentRepo.Update(ctx, f)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	s.logger.Info(ctx, "Subscription plan change scheduled", map[string]interface{}{
		"subscription_id": req.SubscriptionID,
		"plan_id":         plan.ID,
		"effective_at":    resp.NextAt,
	})
	return resp, nil
}

// HandleSubscriptionCanceled 停止時刻を設定する（以降の付与は行わない）
func (s *PaymentApplicationService) HandleSubscriptionCanceled(ctx context.Context, req *SubscriptionCanceledRequest) (*PaymentEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.HandleSubscriptionCanceled")
	defer span.End()

	span.SetAttributes(attribute.String("subscription_id", req.SubscriptionID))

	var resp *PaymentEventResponse
	err := s.updateSubscription(ctx, req.SubscriptionID, func(ctx context.Context, f *fulfillment.Fulfillment, now time.Time) error {
		endsAt := now
		if req.EndsAt != nil {
			endsAt = req.EndsAt.UTC()
		}
		f.Stop(endsAt)
		resp = &PaymentEventResponse{WalletID: f.WalletID(), FulfillmentID: f.ID(), NextAt: f.NextFulfillmentAt(), StopsAt: f.StopsAt()}
		return s.fulfillmentRepo.Update(ctx, f)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	s.logger.Info(ctx, "Subscription canceled", map[string]interface{}{
		"subscription_id": req.SubscriptionID,
		"fulfillment_id":  resp.FulfillmentID,
		"stops_at":        resp.StopsAt,
	})
	return resp, nil
}

// updateSubscription サブスクリプションの付与スケジュールをロックして更新する
func (s *PaymentApplicationService) updateSubscription(ctx context.Context, subscriptionID string, fn func(ctx context.Context, f *fulfillment.Fulfillment, now time.Time) error) error {
	found, err := s.fulfillmentRepo.FindBySourceRef(ctx, fulfillment.TypeSubscription, subscriptionID)
	if errors.Is(err, fulfillment.ErrFulfillmentNotFound) {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	if err != nil {
		return fmt.Errorf("failed to find subscription: %w", err)
	}

	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			f, err := s.fulfillmentRepo.LockByID(ctx, found.ID())
			if err != nil {
				return err
			}
			return fn(ctx, f, s.fulfillments.Now())
		})
	})
}

// existingGrant 同じソース参照のエントリがあれば処理済みとして返す
func (s *PaymentApplicationService) existingGrant(ctx context.Context, walletID string, category transaction.Category, sourceRef string) (*PaymentEventResponse, error) {
	txn, err := s.transactionRepo.FindBySourceRef(ctx, walletID, category, sourceRef)
	if errors.Is(err, transaction.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	s.logger.Info(ctx, "Payment event already processed", map[string]interface{}{
		"wallet_id":      walletID,
		"category":       category.String(),
		"source_ref":     sourceRef,
		"transaction_id": txn.ID(),
	})

	resp := &PaymentEventResponse{
		WalletID:      walletID,
		TransactionID: txn.ID(),
		Credits:       txn.Amount(),
		Duplicate:     true,
	}
	if id := txn.FulfillmentID(); id != nil {
		resp.FulfillmentID = *id
	}
	return resp, nil
}

// withRetry 一時的なエラー（ロック待ち・デッドロック）の場合に指数バックオフで再試行する
func (s *PaymentApplicationService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
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
