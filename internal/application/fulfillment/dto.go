package fulfillment

import "time"

// ProcessResult 1件の付与処理の結果
type ProcessResult struct {
	FulfillmentID string
	WalletID      string
	Type          string
	Granted       bool // false: 再確認で期限前・停止済みだった
	Amount        int64
	TransactionID string
	ExpiresAt     *time.Time
	NextAt        *time.Time
	BalanceAfter  int64
}

// BatchResult 期限到来分の一括処理の結果
type BatchResult struct {
	Processed int
	Granted   int
	Failed    int
}

// SweepResult 失効残高の再計算結果
type SweepResult struct {
	Wallets   int
	Refreshed int
	Failed    int
	From      time.Time
	To        time.Time
}
