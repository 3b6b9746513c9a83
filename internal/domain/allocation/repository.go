package allocation

import (
	"context"
	"time"
)

// AllocationRepository 割当リポジトリインターフェース
type AllocationRepository interface {
	// SaveAll 割当をまとめて保存
	SaveAll(ctx context.Context, allocations []*Allocation) error

	// FindBucketsByWalletID 未失効かつ残量のある付与エントリを取得
	FindBucketsByWalletID(ctx context.Context, walletID string, now time.Time) ([]Bucket, error)

	// FindDebtsByWalletID 割当が不足している消費エントリを取得
	FindDebtsByWalletID(ctx context.Context, walletID string) ([]Debt, error)

	// FindByTransactionID 消費エントリの割当を取得
	FindByTransactionID(ctx context.Context, transactionID string) ([]*Allocation, error)

	// FindBySourceTransactionID 付与エントリからの割当を取得
	FindBySourceTransactionID(ctx context.Context, sourceTransactionID string) ([]*Allocation, error)
}
