package wallet

import (
	"context"
)

// WalletRepository ウォレットリポジトリインターフェース
type WalletRepository interface {
	// Create ウォレットを作成（同一所有者が既にあれば ErrWalletAlreadyExists）
	Create(ctx context.Context, wallet *Wallet) error

	// FindByID IDでウォレットを取得
	FindByID(ctx context.Context, walletID string) (*Wallet, error)

	// FindByOwner 所有者でウォレットを取得
	FindByOwner(ctx context.Context, owner Owner) (*Wallet, error)

	// LockByID ウォレット行を排他ロックして取得（トランザクション内で使用）
	LockByID(ctx context.Context, walletID string) (*Wallet, error)

	// UpdateBalance キャッシュ残高を更新
	UpdateBalance(ctx context.Context, wallet *Wallet) error
}
