// Package wallet は所有者ごとの残高保持者を定義する
package wallet

import (
	"time"

	"credit-server/internal/domain/id"
)

// Wallet ウォレットエンティティ
type Wallet struct {
	id        string
	owner     Owner
	balance   int64 // 台帳から算出したキャッシュ（台帳書き込みと同じDBトランザクション内で更新）
	metadata  map[string]interface{}
	createdAt time.Time
	updatedAt time.Time
}

// NewWallet 新しいウォレットを作成
func NewWallet(owner Owner, metadata map[string]interface{}, now time.Time) (*Wallet, error) {
	if _, err := NewOwner(owner.Kind, owner.ID); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Wallet{
		id:        id.NewWalletID(),
		owner:     owner,
		balance:   0,
		metadata:  metadata,
		createdAt: now.UTC(),
		updatedAt: now.UTC(),
	}, nil
}

// Reconstruct 永続化層からウォレットを復元
func Reconstruct(walletID string, owner Owner, balance int64, metadata map[string]interface{}, createdAt, updatedAt time.Time) *Wallet {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Wallet{
		id:        walletID,
		owner:     owner,
		balance:   balance,
		metadata:  metadata,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// ID ウォレットIDを返す
func (w *Wallet) ID() string {
	return w.id
}

// Owner 所有者参照を返す
func (w *Wallet) Owner() Owner {
	return w.owner
}

// Balance キャッシュ残高を返す
func (w *Wallet) Balance() int64 {
	return w.balance
}

// Metadata メタデータを返す
func (w *Wallet) Metadata() map[string]interface{} {
	return w.metadata
}

// CreatedAt 作成日時を返す
func (w *Wallet) CreatedAt() time.Time {
	return w.createdAt
}

// UpdatedAt 更新日時を返す
func (w *Wallet) UpdatedAt() time.Time {
	return w.updatedAt
}

// SetBalance 台帳から再計算した残高を設定
func (w *Wallet) SetBalance(balance int64, at time.Time) {
	w.balance = balance
	w.updatedAt = at.UTC()
}

// Copy 値のコピーを返す
func (w *Wallet) Copy() *Wallet {
	metadata := make(map[string]interface{}, len(w.metadata))
	for k, v := range w.metadata {
		metadata[k] = v
	}
	c := *w
	c.metadata = metadata
	return &c
}

// MustNewWallet テスト用ヘルパー: NewWalletを呼び出し、エラーが発生した場合はpanicする
func MustNewWallet(kind, ownerID string) *Wallet {
	w, err := NewWallet(Owner{Kind: kind, ID: ownerID}, nil, time.Now())
	if err != nil {
		panic(err)
	}
	return w
}
