// Package memory はリポジトリとトランザクションマネージャーのインメモリ実装を提供する
//
// トランザクションはストア全体のミューテックスで直列化され、エラー時は開始時点のスナップショットに戻す。
// テストとローカル実行向け。
package memory

import (
	"context"
	"sync"
	"time"

	"credit-server/internal/domain/allocation"
	"credit-server/internal/domain/fulfillment"
	"credit-server/internal/domain/transaction"
	"credit-server/internal/domain/wallet"
)

type txKey struct{}

// Store インメモリの台帳ストア
type Store struct {
	mu sync.Mutex

	wallets      map[string]*wallet.Wallet
	transactions []*transaction.Transaction
	allocations  []*allocation.Allocation
	fulfillments map[string]*fulfillment.Fulfillment
	seq          int64
}

// NewStore 空のストアを作成
func NewStore() *Store {
	return &Store{
		wallets:      make(map[string]*wallet.Wallet),
		fulfillments: make(map[string]*fulfillment.Fulfillment),
	}
}

type snapshot struct {
	wallets      map[string]*wallet.Wallet
	transactions []*transaction.Transaction
	allocations  []*allocation.Allocation
	fulfillments map[string]*fulfillment.Fulfillment
	seq          int64
}

// 保存済みの値は更新時に差し替えるため、浅いコピーで十分
func (s *Store) snapshot() snapshot {
	wallets := make(map[string]*wallet.Wallet, len(s.wallets))
	for k, v := range s.wallets {
		wallets[k] = v
	}
	fulfillments := make(map[string]*fulfillment.Fulfillment, len(s.fulfillments))
	for k, v := range s.fulfillments {
		fulfillments[k] = v
	}
	return snapshot{
		wallets:      wallets,
		transactions: s.transactions[:len(s.transactions):len(s.transactions)],
		allocations:  s.allocations[:len(s.allocations):len(s.allocations)],
		fulfillments: fulfillments,
		seq:          s.seq,
	}
}

func (s *Store) restore(snap snapshot) {
	s.wallets = snap.wallets
	s.transactions = snap.transactions
	s.allocations = snap.allocations
	s.fulfillments = snap.fulfillments
	s.seq = snap.seq
}

// lock トランザクション外の呼び出しのみロックを取る
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// TransactionManager インメモリのトランザクションマネージャー
type TransactionManager struct {
	store *Store
}

// NewTransactionManager 新しいトランザクションマネージャーを作成
func NewTransactionManager(store *Store) *TransactionManager {
	return &TransactionManager{store: store}
}

// WithTransaction ストアを排他ロックしたまま fn を実行し、エラーまたはpanicなら巻き戻す
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	s := tm.store
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func cloneFulfillment(f *fulfillment.Fulfillment) *fulfillment.Fulfillment {
	return fulfillment.Reconstruct(
		f.ID(),
		f.WalletID(),
		f.SourceRef(),
		f.Type(),
		f.CreditsLastFulfillment(),
		copyDuration(f.FulfillmentPeriod()),
		copyTime(f.LastFulfilledAt()),
		copyTime(f.NextFulfillmentAt()),
		copyTime(f.StopsAt()),
		f.Metadata(),
		f.CreatedAt(),
		f.UpdatedAt(),
	)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
