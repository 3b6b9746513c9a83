package transaction

import "errors"

var (
	// ErrTransactionNotFound 台帳エントリが見つからないエラー
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidTransaction 無効な台帳エントリエラー
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrDuplicateSourceRef 同一カテゴリ・同一ソース参照のエントリが既に存在する
	ErrDuplicateSourceRef = errors.New("duplicate transaction source reference")
)
