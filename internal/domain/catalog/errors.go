package catalog

import (
	"fmt"

	"credit-server/internal/domain/credit"
)

var (
	// ErrUnknownOperation 未定義のオペレーション
	ErrUnknownOperation = fmt.Errorf("%w: unknown operation", credit.ErrInvalidOperation)
	// ErrValidationFailed オペレーションの検証条件に違反
	ErrValidationFailed = fmt.Errorf("%w: validation failed", credit.ErrInvalidOperation)
	// ErrUnknownPack 未定義のクレジットパック
	ErrUnknownPack = fmt.Errorf("%w: unknown credit pack", credit.ErrConfiguration)
	// ErrUnknownPlan 未定義のサブスクリプションプラン
	ErrUnknownPlan = fmt.Errorf("%w: unknown subscription plan", credit.ErrConfiguration)
	// ErrDuplicateName 名前の重複
	ErrDuplicateName = fmt.Errorf("%w: duplicate name", credit.ErrConfiguration)
	// ErrInvalidDefinition 定義の値が不正
	ErrInvalidDefinition = fmt.Errorf("%w: invalid definition", credit.ErrConfiguration)
)
