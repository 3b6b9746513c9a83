// Package allocation は消費エントリと、それが引き落とした付与エントリ（バケット）の対応を扱う
package allocation

import (
	"errors"
	"time"

	"credit-server/internal/domain/id"
)

var (
	// ErrInvalidAllocation 無効な割当
	ErrInvalidAllocation = errors.New("invalid allocation")
)

// Allocation 消費エントリ → 付与エントリの割当
type Allocation struct {
	id                  string
	transactionID       string // 消費エントリ
	sourceTransactionID string // 付与エントリ（バケット）
	amount              int64
	createdAt           time.Time
}

// NewAllocation 新しい割当を作成
func NewAllocation(transactionID, sourceTransactionID string, amount int64, createdAt time.Time) (*Allocation, error) {
	if transactionID == "" || sourceTransactionID == "" || amount <= 0 {
		return nil, ErrInvalidAllocation
	}
	return &Allocation{
		id:                  id.NewAllocationID(),
		transactionID:       transactionID,
		sourceTransactionID: sourceTransactionID,
		amount:              amount,
		createdAt:           createdAt.UTC(),
	}, nil
}

// Reconstruct 永続化層から割当を復元
func Reconstruct(allocationID, transactionID, sourceTransactionID string, amount int64, createdAt time.Time) *Allocation {
	return &Allocation{
		id:                  allocationID,
		transactionID:       transactionID,
		sourceTransactionID: sourceTransactionID,
		amount:              amount,
		createdAt:           createdAt,
	}
}

// ID 割当IDを返す
func (a *Allocation) ID() string { return a.id }

// TransactionID 消費エントリIDを返す
func (a *Allocation) TransactionID() string { return a.transactionID }

// SourceTransactionID 付与エントリIDを返す
func (a *Allocation) SourceTransactionID() string { return a.sourceTransactionID }

// Amount 割当量を返す
func (a *Allocation) Amount() int64 { return a.amount }

// CreatedAt 作成日時を返す
func (a *Allocation) CreatedAt() time.Time { return a.createdAt }
