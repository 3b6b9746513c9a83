package auth

import "time"

// GenerateTokenRequest トークン生成リクエスト
type GenerateTokenRequest struct {
	WalletID string
}

// GenerateTokenResponse トークン生成レスポンス
type GenerateTokenResponse struct {
	Token     string
	ExpiresIn int64  // 秒単位
	TokenType string // "Bearer"
}

// Claims 検証済みトークンの内容
type Claims struct {
	WalletID  string
	ExpiresAt time.Time
}
