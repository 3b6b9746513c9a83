package auth

import "errors"

var (
	// ErrMissingWalletID ウォレットIDが指定されていない
	ErrMissingWalletID = errors.New("wallet_id is required")
	// ErrInvalidToken トークンが無効または期限切れ
	ErrInvalidToken = errors.New("invalid or expired token")
)
