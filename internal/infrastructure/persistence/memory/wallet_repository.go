package memory

import (
	"context"

	"credit-server/internal/domain/wallet"
)

// WalletRepository インメモリのWalletRepository
type WalletRepository struct {
	store *Store
}

// NewWalletRepository 新しいWalletRepositoryを作成
func NewWalletRepository(store *Store) *WalletRepository {
	return &WalletRepository{store: store}
}

// Create ウォレットを作成（所有者ごとに一意）
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	defer r.store.lock(ctx)()

	for _, existing := range r.store.wallets {
		if existing.ID() == w.ID() || existing.Owner() == w.Owner() {
			return wallet.ErrWalletAlreadyExists
		}
	}
	r.store.wallets[w.ID()] = w.Copy()
	return nil
}

// FindByID ウォレットIDで取得
func (r *WalletRepository) FindByID(ctx context.Context, walletID string) (*wallet.Wallet, error) {
	defer r.store.lock(ctx)()

	w, ok := r.store.wallets[walletID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	return w.Copy(), nil
}

// FindByOwner 所有者で取得
func (r *WalletRepository) FindByOwner(ctx context.Context, owner wallet.Owner) (*wallet.Wallet, error) {
	defer r.store.lock(ctx)()

	for _, w := range r.store.wallets {
		if w.Owner() == owner {
			return w.Copy(), nil
		}
	}
	return nil, wallet.ErrWalletNotFound
}

// LockByID トランザクションがストア全体を保持しているため FindByID と同じ
func (r *WalletRepository) LockByID(ctx context.Context, walletID string) (*wallet.Wallet, error) {
	return r.FindByID(ctx, walletID)
}

// UpdateBalance キャッシュ残高を更新
func (r *WalletRepository) UpdateBalance(ctx context.Context, w *wallet.Wallet) error {
	defer r.store.lock(ctx)()

	if _, ok := r.store.wallets[w.ID()]; !ok {
		return wallet.ErrWalletNotFound
	}
	r.store.wallets[w.ID()] = w.Copy()
	return nil
}
