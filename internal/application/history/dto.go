package history

import "time"

// GetCreditHistoryRequest クレジット履歴取得リクエスト
type GetCreditHistoryRequest struct {
	WalletID string
	Category string     // optional
	From     *time.Time // optional（含む）
	To       *time.Time // optional（含まない）
	Limit    int
	Offset   int
}

// HistoryEntry 履歴の1エントリ
type HistoryEntry struct {
	TransactionID string
	Amount        int64
	Category      string
	ExpiresAt     *time.Time
	Expired       bool
	FulfillmentID *string
	SourceRef     *string
	Metadata      map[string]interface{}
	CreatedAt     time.Time
}

// GetCreditHistoryResponse クレジット履歴取得レスポンス
type GetCreditHistoryResponse struct {
	WalletID string
	Entries  []HistoryEntry
	Total    int64
	Limit    int
	Offset   int
}
