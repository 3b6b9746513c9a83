package handler

import "time"

// CreateWalletRequest ウォレット作成リクエスト
// @Description 所有者のウォレットを取得し、無ければ作成する
type CreateWalletRequest struct {
	Owner    string                 `json:"owner" example:"user:42"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// WalletResponse ウォレット情報
// @Description ウォレット情報
type WalletResponse struct {
	WalletID  string                 `json:"wallet_id" example:"wal_01h455vb4pex5vsknk084sn02q"`
	Owner     string                 `json:"owner" example:"user:42"`
	Balance   int64                  `json:"balance" example:"1100"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// BalanceResponse 残高レスポンス
// @Description 残高レスポンス
type BalanceResponse struct {
	WalletID string `json:"wallet_id" example:"wal_01h455vb4pex5vsknk084sn02q"`
	Balance  int64  `json:"balance" example:"1100"`
}

// AddCreditsRequest クレジット付与リクエスト
// @Description クレジット付与リクエスト
type AddCreditsRequest struct {
	Amount    int64                  `json:"amount" example:"100"`
	Category  string                 `json:"category,omitempty" example:"manual_adjustment"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	SourceRef *string                `json:"source_ref,omitempty" example:"ticket-123"`
}

// DeductCreditsRequest クレジット減算リクエスト
// @Description クレジット減算リクエスト
type DeductCreditsRequest struct {
	Amount        int64                  `json:"amount" example:"10"`
	Category      string                 `json:"category,omitempty" example:"deduction"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	SourceRef     *string                `json:"source_ref,omitempty"`
	AllowNegative bool                   `json:"allow_negative,omitempty"`
}

// SpendRequest オペレーション消費リクエスト
// @Description オペレーション消費リクエスト
type SpendRequest struct {
	Params   map[string]interface{} `json:"params,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AllocationItem 消費が引き落とした付与エントリ
// @Description 消費が引き落とした付与エントリ
type AllocationItem struct {
	SourceTransactionID string `json:"source_transaction_id" example:"ctx_01h455vb4pex5vsknk084sn02q"`
	Amount              int64  `json:"amount" example:"3"`
}

// CreditsResponse 台帳書き込みレスポンス
// @Description 台帳書き込みレスポンス
type CreditsResponse struct {
	WalletID      string           `json:"wallet_id"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Amount        int64            `json:"amount" example:"-3"`
	Category      string           `json:"category" example:"operation_charge"`
	BalanceBefore int64            `json:"balance_before" example:"1100"`
	BalanceAfter  int64            `json:"balance_after" example:"1097"`
	Allocations   []AllocationItem `json:"allocations,omitempty"`
	Shortfall     int64            `json:"shortfall,omitempty"`
}

// SpendResponse オペレーション消費レスポンス
// @Description オペレーション消費レスポンス
type SpendResponse struct {
	CreditsResponse
	Operation string `json:"operation" example:"process_image"`
	Cost      int64  `json:"cost" example:"3"`
}

// EstimateResponse コスト見積もりレスポンス
// @Description コスト見積もりレスポンス
type EstimateResponse struct {
	Operation string `json:"operation" example:"process_image"`
	Cost      int64  `json:"cost" example:"3"`
	HasEnough bool   `json:"has_enough" example:"true"`
}
