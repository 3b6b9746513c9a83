// Package transaction は追記専用の台帳エントリを定義する
package transaction

import (
	"errors"
	"time"

	"credit-server/internal/domain/id"
)

var (
	// ErrInvalidWalletID ウォレットIDが無効
	ErrInvalidWalletID = errors.New("invalid wallet id")
	// ErrZeroAmount 金額が0
	ErrZeroAmount = errors.New("amount must not be zero")
	// ErrAmountTooLarge 金額が大きすぎる
	ErrAmountTooLarge = errors.New("amount too large")
)

// MaxAmount 1エントリあたりの最大金額 (10兆)
const MaxAmount = 10_000_000_000_000

// Transaction 台帳エントリ（作成後は不変）
type Transaction struct {
	seq           int64 // 同一時刻のエントリを順序付ける単調増加の連番（保存時に採番）
	id            string
	walletID      string
	amount        int64 // 正: 付与, 負: 消費
	category      Category
	expiresAt     *time.Time
	fulfillmentID *string
	sourceRef     *string
	metadata      map[string]interface{}
	createdAt     time.Time
}

// NewTransaction 新しい台帳エントリを作成
func NewTransaction(
	walletID string,
	amount int64,
	category Category,
	expiresAt *time.Time,
	fulfillmentID *string,
	sourceRef *string,
	metadata map[string]interface{},
	createdAt time.Time,
) (*Transaction, error) {
	if walletID == "" {
		return nil, ErrInvalidWalletID
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if amount > MaxAmount || amount < -MaxAmount {
		return nil, ErrAmountTooLarge
	}
	if !category.Valid() {
		return nil, ErrInvalidTransaction
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &Transaction{
		id:            id.NewTransactionID(),
		walletID:      walletID,
		amount:        amount,
		category:      category,
		expiresAt:     expiresAt,
		fulfillmentID: fulfillmentID,
		sourceRef:     sourceRef,
		metadata:      metadata,
		createdAt:     createdAt.UTC(),
	}, nil
}

// Reconstruct 永続化層から台帳エントリを復元
func Reconstruct(
	seq int64,
	transactionID string,
	walletID string,
	amount int64,
	category Category,
	expiresAt *time.Time,
	fulfillmentID *string,
	sourceRef *string,
	metadata map[string]interface{},
	createdAt time.Time,
) *Transaction {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Transaction{
		seq:           seq,
		id:            transactionID,
		walletID:      walletID,
		amount:        amount,
		category:      category,
		expiresAt:     expiresAt,
		fulfillmentID: fulfillmentID,
		sourceRef:     sourceRef,
		metadata:      metadata,
		createdAt:     createdAt,
	}
}

// Seq 連番を返す
func (t *Transaction) Seq() int64 {
	return t.seq
}

// AssignSeq 保存時に採番された連番を設定（一度だけ）
func (t *Transaction) AssignSeq(seq int64) {
	if t.seq == 0 {
		t.seq = seq
	}
}

// ID 台帳エントリIDを返す
func (t *Transaction) ID() string {
	return t.id
}

// WalletID ウォレットIDを返す
func (t *Transaction) WalletID() string {
	return t.walletID
}

// Amount 金額を返す
func (t *Transaction) Amount() int64 {
	return t.amount
}

// Category カテゴリを返す
func (t *Transaction) Category() Category {
	return t.category
}

// ExpiresAt 有効期限を返す
func (t *Transaction) ExpiresAt() *time.Time {
	return t.expiresAt
}

// FulfillmentID 付与スケジュールIDを返す
func (t *Transaction) FulfillmentID() *string {
	return t.fulfillmentID
}

// SourceRef ソース参照（決済IDなど）を返す
func (t *Transaction) SourceRef() *string {
	return t.sourceRef
}

// Metadata メタデータのコピーを返す
func (t *Transaction) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(t.metadata))
	for k, v := range t.metadata {
		out[k] = v
	}
	return out
}

// CreatedAt 作成日時を返す
func (t *Transaction) CreatedAt() time.Time {
	return t.createdAt
}

// IsCredit 付与エントリかどうか
func (t *Transaction) IsCredit() bool {
	return t.amount > 0
}

// IsDebit 消費エントリかどうか
func (t *Transaction) IsDebit() bool {
	return t.amount < 0
}

// IsExpired 指定時刻に失効済みかどうか
func (t *Transaction) IsExpired(now time.Time) bool {
	return t.expiresAt != nil && !t.expiresAt.After(now)
}

// Before FIFO順（作成日時、連番）で t が other より前かどうか
func (t *Transaction) Before(other *Transaction) bool {
	if !t.createdAt.Equal(other.createdAt) {
		return t.createdAt.Before(other.createdAt)
	}
	return t.seq < other.seq
}

// MustNewTransaction テスト用ヘルパー: NewTransactionを呼び出し、エラーが発生した場合はpanicする
func MustNewTransaction(walletID string, amount int64, category Category, expiresAt *time.Time, createdAt time.Time) *Transaction {
	tx, err := NewTransaction(walletID, amount, category, expiresAt, nil, nil, nil, createdAt)
	if err != nil {
		panic(err)
	}
	return tx
}
