package handler

import "time"

// HistoryItem 台帳エントリ
// @Description 台帳エントリ
type HistoryItem struct {
	TransactionID string                 `json:"transaction_id" example:"ctx_01h455vb4pex5vsknk084sn02q"`
	Amount        int64                  `json:"amount" example:"100"`
	Category      string                 `json:"category" example:"subscription_credits"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	Expired       bool                   `json:"expired"`
	FulfillmentID *string                `json:"fulfillment_id,omitempty"`
	SourceRef     *string                `json:"source_ref,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// HistoryResponse 台帳履歴レスポンス
// @Description 台帳履歴レスポンス
type HistoryResponse struct {
	WalletID string        `json:"wallet_id"`
	Entries  []HistoryItem `json:"entries"`
	Total    int64         `json:"total" example:"1"`
	Limit    int           `json:"limit" example:"50"`
	Offset   int           `json:"offset" example:"0"`
}
