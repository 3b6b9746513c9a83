package payment

import (
	"time"

	"credit-server/internal/domain/wallet"
)

// ChargeSucceededRequest クレジットパック購入の決済成功イベント
type ChargeSucceededRequest struct {
	ChargeID string
	Owner    wallet.Owner
	PackID   string
	Metadata map[string]interface{}
}

// ChargeRefundedRequest 決済の返金イベント
type ChargeRefundedRequest struct {
	ChargeID      string
	RefundID      string // 省略時は ChargeID（全額返金は1回のみ）
	Owner         wallet.Owner
	AmountCents   int64 // 元の決済額
	RefundedCents int64
}

// SubscriptionCreatedRequest サブスクリプション開始イベント
type SubscriptionCreatedRequest struct {
	SubscriptionID string
	Owner          wallet.Owner
	PlanID         string
	StartedAt      *time.Time // 省略時は現在時刻
}

// SubscriptionRenewedRequest サブスクリプション更新イベント
type SubscriptionRenewedRequest struct {
	SubscriptionID string
}

// SubscriptionPlanChangedRequest プラン変更イベント（次回サイクルから適用）
type SubscriptionPlanChangedRequest struct {
	SubscriptionID string
	PlanID         string
}

// SubscriptionCanceledRequest サブスクリプション解約イベント
type SubscriptionCanceledRequest struct {
	SubscriptionID string
	EndsAt         *time.Time // 省略時は即時
}

// PaymentEventResponse 決済イベント処理の結果
type PaymentEventResponse struct {
	WalletID      string
	FulfillmentID string
	TransactionID string
	Credits       int64
	BalanceAfter  int64
	NextAt        *time.Time
	StopsAt       *time.Time
	Duplicate     bool // 処理済みのイベント
}
