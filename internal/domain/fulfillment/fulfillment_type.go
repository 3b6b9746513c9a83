package fulfillment

import (
	"fmt"
)

// Type 付与スケジュールの種別
type Type string

const (
	TypeSubscription Type = "subscription" // サブスクリプション
	TypeCreditPack   Type = "credit_pack"  // クレジットパック
	TypeManual       Type = "manual"       // 手動
)

// NewType 新しいTypeを作成
func NewType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// String 文字列表現を返す
func (t Type) String() string {
	return string(t)
}

// Valid 有効な種別かどうかを返す
func (t Type) Valid() bool {
	switch t {
	case TypeSubscription, TypeCreditPack, TypeManual:
		return true
	default:
		return false
	}
}
