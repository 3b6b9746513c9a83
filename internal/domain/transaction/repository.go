package transaction

import (
	"context"
	"time"
)

// HistoryFilter 履歴の絞り込み条件
type HistoryFilter struct {
	Category *Category
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// TransactionRepository 台帳エントリリポジトリインターフェース（更新・削除は提供しない）
type TransactionRepository interface {
	// Save 台帳エントリを保存し、連番を採番する
	Save(ctx context.Context, transaction *Transaction) error

	// FindByID IDで台帳エントリを取得
	FindByID(ctx context.Context, transactionID string) (*Transaction, error)

	// FindByWalletID ウォレットの台帳エントリを時系列順で取得
	FindByWalletID(ctx context.Context, walletID string, filter HistoryFilter) ([]*Transaction, error)

	// CountByWalletID 絞り込み条件に一致する件数を取得（Limit/Offsetは無視）
	CountByWalletID(ctx context.Context, walletID string, filter HistoryFilter) (int64, error)

	// FindBySourceRef カテゴリとソース参照で台帳エントリを取得（冪等性チェック用）
	FindBySourceRef(ctx context.Context, walletID string, category Category, sourceRef string) (*Transaction, error)

	// FindWalletIDsExpiredBetween (from, to] に失効した付与エントリを持つウォレットIDを取得
	FindWalletIDsExpiredBetween(ctx context.Context, from, to time.Time) ([]string, error)
}
