package memory

import (
	"context"
	"time"

	"credit-server/internal/domain/allocation"
)

// AllocationRepository インメモリのAllocationRepository
type AllocationRepository struct {
	store *Store
}

// NewAllocationRepository 新しいAllocationRepositoryを作成
func NewAllocationRepository(store *Store) *AllocationRepository {
	return &AllocationRepository{store: store}
}

// SaveAll 割当を保存
func (r *AllocationRepository) SaveAll(ctx context.Context, allocations []*allocation.Allocation) error {
	defer r.store.lock(ctx)()

	r.store.allocations = append(r.store.allocations, allocations...)
	return nil
}

// FindBucketsByWalletID 未失効かつ残量のある付与エントリをFIFO順で取得
func (r *AllocationRepository) FindBucketsByWalletID(ctx context.Context, walletID string, now time.Time) ([]allocation.Bucket, error) {
	defer r.store.lock(ctx)()

	used := make(map[string]int64)
	for _, a := range r.store.allocations {
		used[a.SourceTransactionID()] += a.Amount()
	}

	var buckets []allocation.Bucket
	for _, t := range r.store.transactions {
		if t.WalletID() != walletID || !t.IsCredit() || t.IsExpired(now) {
			continue
		}
		remaining := t.Amount() - used[t.ID()]
		if remaining <= 0 {
			continue
		}
		buckets = append(buckets, allocation.Bucket{
			TransactionID: t.ID(),
			Seq:           t.Seq(),
			CreatedAt:     t.CreatedAt(),
			ExpiresAt:     t.ExpiresAt(),
			Amount:        t.Amount(),
			Remaining:     remaining,
		})
	}
	return allocation.Available(buckets, now), nil
}

// FindDebtsByWalletID 割当が不足している消費エントリを取得
func (r *AllocationRepository) FindDebtsByWalletID(ctx context.Context, walletID string) ([]allocation.Debt, error) {
	defer r.store.lock(ctx)()

	covered := make(map[string]int64)
	for _, a := range r.store.allocations {
		covered[a.TransactionID()] += a.Amount()
	}

	var debts []allocation.Debt
	for _, t := range r.store.transactions {
		if t.WalletID() != walletID || !t.IsDebit() {
			continue
		}
		outstanding := -t.Amount() - covered[t.ID()]
		if outstanding <= 0 {
			continue
		}
		debts = append(debts, allocation.Debt{
			TransactionID: t.ID(),
			Seq:           t.Seq(),
			CreatedAt:     t.CreatedAt(),
			Outstanding:   outstanding,
		})
	}
	return debts, nil
}

// FindByTransactionID 消費エントリの割当を取得
func (r *AllocationRepository) FindByTransactionID(ctx context.Context, transactionID string) ([]*allocation.Allocation, error) {
	defer r.store.lock(ctx)()

	var out []*allocation.Allocation
	for _, a := range r.store.allocations {
		if a.TransactionID() == transactionID {
			out = append(out, a)
		}
	}
	return out, nil
}

// FindBySourceTransactionID 付与エントリからの割当を取得
func (r *AllocationRepository) FindBySourceTransactionID(ctx context.Context, sourceTransactionID string) ([]*allocation.Allocation, error) {
	defer r.store.lock(ctx)()

	var out []*allocation.Allocation
	for _, a := range r.store.allocations {
		if a.SourceTransactionID() == sourceTransactionID {
			out = append(out, a)
		}
	}
	return out, nil
}
