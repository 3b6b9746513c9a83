package wallet

import (
	"time"

	"credit-server/internal/domain/cost"
)

// AddCreditsRequest クレジット付与リクエスト
type AddCreditsRequest struct {
	WalletID      string
	Amount        int64
	Category      string // 省略時は manual_adjustment
	Metadata      map[string]interface{}
	ExpiresAt     *time.Time
	FulfillmentID *string
	SourceRef     *string // 冪等性キー（カテゴリごとに一意）
}

// DeductCreditsRequest クレジット減算リクエスト
type DeductCreditsRequest struct {
	WalletID      string
	Amount        int64
	Category      string // 省略時は deduction
	Metadata      map[string]interface{}
	SourceRef     *string
	AllowNegative bool // 設定に関わらず不足分を負残高として記録する（返金など）
}

// SpendRequest オペレーション消費リクエスト
type SpendRequest struct {
	WalletID  string
	Operation string
	Params    cost.Params
	Metadata  map[string]interface{}
}

// EstimateRequest コスト見積もりリクエスト
type EstimateRequest struct {
	Operation string
	Params    cost.Params
}

// GiveCreditsRequest 手動付与リクエスト
type GiveCreditsRequest struct {
	WalletID  string
	Amount    int64
	Reason    string
	ExpiresAt *time.Time
}

// AllocationDetail 消費が引き落とした付与エントリ
type AllocationDetail struct {
	SourceTransactionID string
	Amount              int64
}

// CreditsResponse 台帳書き込みの結果
type CreditsResponse struct {
	WalletID      string
	TransactionID string
	Amount        int64 // 符号付き
	Category      string
	BalanceBefore int64
	BalanceAfter  int64
	Allocations   []AllocationDetail
	Shortfall     int64 // 負残高として記録した不足分
}

// SpendResponse オペレーション消費の結果
type SpendResponse struct {
	CreditsResponse
	Operation string
	Cost      int64
}

// EstimateResponse コスト見積もり結果
type EstimateResponse struct {
	Operation string
	Cost      int64
}

// WalletResponse ウォレット情報
type WalletResponse struct {
	WalletID  string
	Owner     string
	Balance   int64
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// BalanceResponse 残高取得レスポンス
type BalanceResponse struct {
	WalletID string
	Balance  int64
	Cached   bool
}
