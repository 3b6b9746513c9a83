package handler

import "time"

// GenerateTokenResponse トークン生成レスポンス
// @Description トークン生成レスポンス
type GenerateTokenResponse struct {
	Token     string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJ3YWxsZXRfaWQiOiJ3YWxfMSJ9.signature"`
	ExpiresIn int64  `json:"expires_in" example:"86400"`
	TokenType string `json:"token_type" example:"Bearer"`
}

// ProcessFulfillmentsResponse 付与処理・失効再計算の実行結果
// @Description 付与処理・失効再計算の実行結果
type ProcessFulfillmentsResponse struct {
	Processed        int       `json:"processed" example:"3"`
	Granted          int       `json:"granted" example:"2"`
	Failed           int       `json:"failed" example:"0"`
	ExpiredWallets   int       `json:"expired_wallets" example:"1"`
	RefreshedWallets int       `json:"refreshed_wallets" example:"1"`
	SweepFailed      int       `json:"sweep_failed" example:"0"`
	SweptUntil       time.Time `json:"swept_until"`
}
