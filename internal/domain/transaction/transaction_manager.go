package transaction

import (
	"context"
)

// TransactionManager DBトランザクション管理インターフェース
//
// fn に渡される ctx はトランザクションを保持しており、リポジトリはこの ctx を使うことで
// 同一トランザクションに参加する。fn がエラーを返すとすべての書き込みがロールバックされる。
type TransactionManager interface {
	// WithTransaction トランザクション内で関数を実行
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
