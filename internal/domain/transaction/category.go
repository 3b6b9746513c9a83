package transaction

import (
	"fmt"
	"regexp"
)

// Category 台帳エントリの理由を表す値オブジェクト
type Category string

const (
	CategoryOperationCharge         Category = "operation_charge"          // オペレーション消費
	CategorySubscriptionCredits     Category = "subscription_credits"      // サブスクリプション定期付与
	CategorySubscriptionSignupBonus Category = "subscription_signup_bonus" // サブスクリプション加入ボーナス
	CategorySubscriptionTrial       Category = "subscription_trial"        // トライアル付与
	CategoryPackPurchase            Category = "pack_purchase"             // クレジットパック購入
	CategoryPackRefund              Category = "pack_refund"               // クレジットパック返金
	CategoryManualAdjustment        Category = "manual_adjustment"         // 手動調整
	CategoryDeduction               Category = "deduction"                 // 汎用の減算
)

var categoryRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// NewCategory 新しいCategoryを作成（既知のカテゴリ以外も形式が正しければ許可）
func NewCategory(s string) (Category, error) {
	if !categoryRegex.MatchString(s) {
		return "", fmt.Errorf("%w: category %q", ErrInvalidTransaction, s)
	}
	return Category(s), nil
}

// String 文字列表現を返す
func (c Category) String() string {
	return string(c)
}

// Valid 形式が正しいかどうかを返す
func (c Category) Valid() bool {
	return categoryRegex.MatchString(string(c))
}

// IsKnown 定義済みのカテゴリかどうかを返す
func (c Category) IsKnown() bool {
	switch c {
	case CategoryOperationCharge, CategorySubscriptionCredits, CategorySubscriptionSignupBonus,
		CategorySubscriptionTrial, CategoryPackPurchase, CategoryPackRefund,
		CategoryManualAdjustment, CategoryDeduction:
		return true
	default:
		return false
	}
}
