package memory

import (
	"context"
	"sort"
	"time"

	"credit-server/internal/domain/transaction"
)

// TransactionRepository インメモリのTransactionRepository
type TransactionRepository struct {
	store *Store
}

// NewTransactionRepository 新しいTransactionRepositoryを作成
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{store: store}
}

// Save 台帳エントリを追記し連番を割り当てる
func (r *TransactionRepository) Save(ctx context.Context, t *transaction.Transaction) error {
	defer r.store.lock(ctx)()

	for _, existing := range r.store.transactions {
		if existing.ID() == t.ID() {
			return transaction.ErrDuplicateSourceRef
		}
		if t.SourceRef() != nil && existing.SourceRef() != nil &&
			existing.WalletID() == t.WalletID() &&
			existing.Category() == t.Category() &&
			*existing.SourceRef() == *t.SourceRef() {
			return transaction.ErrDuplicateSourceRef
		}
	}

	r.store.seq++
	t.AssignSeq(r.store.seq)
	r.store.transactions = append(r.store.transactions, t)
	return nil
}

// FindByID 台帳エントリIDで取得
func (r *TransactionRepository) FindByID(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	defer r.store.lock(ctx)()

	for _, t := range r.store.transactions {
		if t.ID() == transactionID {
			return t, nil
		}
	}
	return nil, transaction.ErrTransactionNotFound
}

// FindByWalletID 時系列順で取得
func (r *TransactionRepository) FindByWalletID(ctx context.Context, walletID string, filter transaction.HistoryFilter) ([]*transaction.Transaction, error) {
	defer r.store.lock(ctx)()

	matched := r.filter(walletID, filter)
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Before(matched[j]) })

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CountByWalletID フィルタに一致する件数
func (r *TransactionRepository) CountByWalletID(ctx context.Context, walletID string, filter transaction.HistoryFilter) (int64, error) {
	defer r.store.lock(ctx)()

	return int64(len(r.filter(walletID, filter))), nil
}

// FindBySourceRef ウォレット・カテゴリ・ソース参照で取得
func (r *TransactionRepository) FindBySourceRef(ctx context.Context, walletID string, category transaction.Category, sourceRef string) (*transaction.Transaction, error) {
	defer r.store.lock(ctx)()

	for _, t := range r.store.transactions {
		if t.WalletID() == walletID && t.Category() == category && t.SourceRef() != nil && *t.SourceRef() == sourceRef {
			return t, nil
		}
	}
	return nil, transaction.ErrTransactionNotFound
}

// FindWalletIDsExpiredBetween (from, to] に失効した付与エントリを持つウォレットID
func (r *TransactionRepository) FindWalletIDsExpiredBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	defer r.store.lock(ctx)()

	seen := make(map[string]struct{})
	var walletIDs []string
	for _, t := range r.store.transactions {
		exp := t.ExpiresAt()
		if !t.IsCredit() || exp == nil || !exp.After(from) || exp.After(to) {
			continue
		}
		if _, ok := seen[t.WalletID()]; ok {
			continue
		}
		seen[t.WalletID()] = struct{}{}
		walletIDs = append(walletIDs, t.WalletID())
	}
	sort.Strings(walletIDs)
	return walletIDs, nil
}

func (r *TransactionRepository) filter(walletID string, filter transaction.HistoryFilter) []*transaction.Transaction {
	var out []*transaction.Transaction
	for _, t := range r.store.transactions {
		if t.WalletID() != walletID {
			continue
		}
		if filter.Category != nil && t.Category() != *filter.Category {
			continue
		}
		if filter.From != nil && t.CreatedAt().Before(*filter.From) {
			continue
		}
		if filter.To != nil && !t.CreatedAt().Before(*filter.To) {
			continue
		}
		out = append(out, t)
	}
	return out
}
