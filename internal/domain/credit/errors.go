// Package credit はクレジット台帳全体で共有するエラー分類を定義する
package credit

import "errors"

var (
	// ErrConfiguration 設定エラー（コスト式・単位・期間・付与スケジュールのメタデータ不正など）
	// 起動時・構築時に同期的に返され、台帳トランザクション内では発生しない
	ErrConfiguration = errors.New("configuration error")
	// ErrInsufficientCredits クレジット不足エラー
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvalidOperation オペレーションの検証条件違反
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrConcurrency ロック待ちタイムアウトまたはデッドロック（リトライ可能）
	ErrConcurrency = errors.New("concurrency error")
)

// IsConfiguration 設定エラーかどうかを返す
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsRetryable リトライ可能なエラーかどうかを返す
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}
