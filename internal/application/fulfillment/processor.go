package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/callback"
	fulfillmentdomain "credit-server/internal/domain/fulfillment"
	"credit-server/internal/domain/transaction"
)

var errNotDue = errors.New("fulfillment is not due")

// grant 1サイクル分の付与内容
type grant struct {
	amount   int64
	category transaction.Category
	rollover bool
	event    callback.Event // 空なら credits_added のみ
	metadata map[string]interface{}
}

// Processor 1件の付与スケジュールを処理する
type Processor struct {
	s             *FulfillmentApplicationService
	fulfillmentID string
	walletID      string
}

// NewProcessor 付与スケジュールを検証してProcessorを作成（トランザクション開始前に検証する）
func (s *FulfillmentApplicationService) NewProcessor(f *fulfillmentdomain.Fulfillment) (*Processor, error) {
	if f == nil {
		return nil, fulfillmentdomain.ErrFulfillmentNotFound
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &Processor{s: s, fulfillmentID: f.ID(), walletID: f.WalletID()}, nil
}

// Process 付与を実行し、コミット後にコールバックを通知する
func (p *Processor) Process(ctx context.Context) (*ProcessResult, error) {
	ctx, span := p.s.tracer.Start(ctx, "FulfillmentProcessor.Process")
	defer span.End()

	span.SetAttributes(
		attribute.String("fulfillment_id", p.fulfillmentID),
		attribute.String("wallet_id", p.walletID),
	)

	var (
		result *ProcessResult
		notify walletapp.Notifier
	)
	err := p.s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		result, notify, err = p.ProcessTx(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	if !result.Granted {
		p.s.metrics.RecordFulfillment(ctx, result.Type, "skipped")
		p.s.logger.Debug(ctx, "Fulfillment no longer due", map[string]interface{}{
			"fulfillment_id": p.fulfillmentID,
		})
		return result, nil
	}

	notify(ctx)

	p.s.metrics.RecordFulfillment(ctx, result.Type, "granted")
	p.s.logger.Info(ctx, "Fulfillment granted", map[string]interface{}{
		"fulfillment_id": result.FulfillmentID,
		"wallet_id":      result.WalletID,
		"amount":         result.Amount,
		"transaction_id": result.TransactionID,
		"next_at":        result.NextAt,
	})
	return result, nil
}

// ProcessTx 呼び出し元のトランザクション内で付与し、コミット後に呼ぶ通知を返す
//
// スケジュール行をロックしてから期限を再確認するため、並行実行されても1サイクルにつき1回だけ付与する。
func (p *Processor) ProcessTx(ctx context.Context) (*ProcessResult, walletapp.Notifier, error) {
	var (
		result *ProcessResult
		notify walletapp.Notifier
	)
	err := p.s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		now := p.s.Now()

		f, err := p.s.fulfillmentRepo.LockByID(ctx, p.fulfillmentID)
		if err != nil {
			return err
		}
		result = &ProcessResult{
			FulfillmentID: f.ID(),
			WalletID:      f.WalletID(),
			Type:          f.Type().String(),
			NextAt:        f.NextFulfillmentAt(),
		}
		if !f.IsDueForFulfillment(now) {
			return errNotDue
		}

		g, err := p.s.grantFor(f)
		if err != nil {
			return err
		}

		scheduled := *f.NextFulfillmentAt()
		f.MarkFulfilled(g.amount, now)
		expiresAt := p.s.expiryFor(f, g)

		sourceRef := f.SourceRef()
		if sourceRef == nil || f.FulfillmentPeriod() != nil {
			ref := fmt.Sprintf("%s@%d", f.ID(), scheduled.Unix())
			sourceRef = &ref
		}
		fulfillmentID := f.ID()

		credited, added, err := p.s.wallets.AddCreditsTx(ctx, &walletapp.AddCreditsRequest{
			WalletID:      f.WalletID(),
			Amount:        g.amount,
			Category:      g.category.String(),
			Metadata:      g.metadata,
			ExpiresAt:     expiresAt,
			FulfillmentID: &fulfillmentID,
			SourceRef:     sourceRef,
		})
		if err != nil {
			return err
		}

		if err := p.s.fulfillmentRepo.Update(ctx, f); err != nil {
			return fmt.Errorf("failed to update fulfillment: %w", err)
		}

		result.Granted = true
		result.Amount = g.amount
		result.TransactionID = credited.TransactionID
		result.ExpiresAt = expiresAt
		result.NextAt = f.NextFulfillmentAt()
		result.BalanceAfter = credited.BalanceAfter

		notify = func(ctx context.Context) {
			added(ctx)
			if g.event == "" {
				return
			}
			c := callback.NewContext(g.event, credited.WalletID, g.metadata)
			c.Amount = credited.Amount
			c.BalanceBefore = credited.BalanceBefore
			c.BalanceAfter = credited.BalanceAfter
			c.Category = credited.Category
			c.TransactionID = credited.TransactionID
			c.OccurredAt = p.s.Now()
			p.s.callbacks.Dispatch(ctx, c)
		}
		return nil
	})
	if isSkippable(err) {
		return result, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return result, notify, nil
}

// grantFor 種別ごとの付与内容を求める（保留中のプラン変更はここで適用する）
func (s *FulfillmentApplicationService) grantFor(f *fulfillmentdomain.Fulfillment) (*grant, error) {
	metadata := map[string]interface{}{
		"fulfillment_id":   f.ID(),
		"fulfillment_type": f.Type().String(),
	}

	switch f.Type() {
	case fulfillmentdomain.TypeSubscription:
		if f.ApplyPendingPlan() {
			plan, err := s.catalog.Plan(f.PlanID())
			if err != nil {
				return nil, err
			}
			period := plan.Period
			f.SetPeriod(&period)
			f.SetRollover(plan.Rollover)
		}
		plan, err := s.catalog.Plan(f.PlanID())
		if err != nil {
			return nil, err
		}
		metadata["plan_id"] = plan.ID
		return &grant{
			amount:   plan.CreditsPerPeriod,
			category: transaction.CategorySubscriptionCredits,
			rollover: f.Rollover(),
			event:    callback.EventSubscriptionCreditsAwarded,
			metadata: metadata,
		}, nil

	case fulfillmentdomain.TypeCreditPack:
		pack, err := s.catalog.Pack(f.PackID())
		if err != nil {
			return nil, err
		}
		metadata["pack_id"] = pack.ID
		metadata["credits"] = pack.Credits
		metadata["bonus_credits"] = pack.BonusCredits
		return &grant{
			amount:   pack.TotalCredits(),
			category: transaction.CategoryPackPurchase,
			event:    callback.EventCreditPackPurchased,
			metadata: metadata,
		}, nil

	case fulfillmentdomain.TypeManual:
		amount, _ := f.ManualAmount()
		category := transaction.CategoryManualAdjustment
		if reason := f.Reason(); reason != "" {
			metadata["reason"] = reason
			if c, err := transaction.NewCategory(reason); err == nil {
				category = c
			}
		}
		return &grant{
			amount:   amount,
			category: category,
			rollover: f.Rollover(),
			metadata: metadata,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", fulfillmentdomain.ErrInvalidType, f.Type().String())
}

// expiryFor 付与の失効時刻（次回予定 + min(猶予, 周期)、繰越・単発は失効しない）
func (s *FulfillmentApplicationService) expiryFor(f *fulfillmentdomain.Fulfillment, g *grant) *time.Time {
	period := f.FulfillmentPeriod()
	next := f.NextFulfillmentAt()
	if g.rollover || period == nil || next == nil {
		return nil
	}
	grace := min(s.cfg.GracePeriod, *period)
	expiresAt := next.Add(grace)
	return &expiresAt
}
