package handler

import "time"

// ChargeSucceededRequest クレジットパック購入の決済成功イベント
// @Description クレジットパック購入の決済成功イベント
type ChargeSucceededRequest struct {
	ChargeID string                 `json:"charge_id" example:"ch_123"`
	Owner    string                 `json:"owner" example:"user:42"`
	PackID   string                 `json:"pack_id" example:"starter"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChargeRefundedRequest 返金イベント
// @Description 返金イベント
type ChargeRefundedRequest struct {
	ChargeID      string `json:"charge_id" example:"ch_123"`
	RefundID      string `json:"refund_id,omitempty" example:"re_123"`
	Owner         string `json:"owner" example:"user:42"`
	AmountCents   int64  `json:"amount_cents" example:"999"`
	RefundedCents int64  `json:"refunded_cents" example:"999"`
}

// SubscriptionCreatedRequest サブスクリプション開始イベント
// @Description サブスクリプション開始イベント
type SubscriptionCreatedRequest struct {
	SubscriptionID string     `json:"subscription_id" example:"sub_123"`
	Owner          string     `json:"owner" example:"user:42"`
	PlanID         string     `json:"plan_id" example:"pro"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
}

// SubscriptionRenewedRequest サブスクリプション更新イベント
// @Description サブスクリプション更新イベント
type SubscriptionRenewedRequest struct {
	SubscriptionID string `json:"subscription_id" example:"sub_123"`
}

// SubscriptionPlanChangedRequest プラン変更イベント
// @Description プラン変更イベント
type SubscriptionPlanChangedRequest struct {
	SubscriptionID string `json:"subscription_id" example:"sub_123"`
	PlanID         string `json:"plan_id" example:"max"`
}

// SubscriptionCanceledRequest サブスクリプション解約イベント
// @Description サブスクリプション解約イベント
type SubscriptionCanceledRequest struct {
	SubscriptionID string     `json:"subscription_id" example:"sub_123"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
}

// PaymentEventResponse 決済イベント処理レスポンス
// @Description 決済イベント処理レスポンス
type PaymentEventResponse struct {
	WalletID      string     `json:"wallet_id"`
	FulfillmentID string     `json:"fulfillment_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Credits       int64      `json:"credits" example:"1100"`
	BalanceAfter  int64      `json:"balance_after" example:"1100"`
	NextAt        *time.Time `json:"next_at,omitempty"`
	StopsAt       *time.Time `json:"stops_at,omitempty"`
	Duplicate     bool       `json:"duplicate"`
}
