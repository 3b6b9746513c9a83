package cost

import (
	"fmt"

	"credit-server/internal/domain/credit"
)

var (
	// ErrUnknownUnit 未対応の単位
	ErrUnknownUnit = fmt.Errorf("%w: unknown unit", credit.ErrConfiguration)
	// ErrIncompatibleCost コスト式以外との合算
	ErrIncompatibleCost = fmt.Errorf("%w: incompatible cost expression", credit.ErrConfiguration)
	// ErrNegativeCost 負のコスト
	ErrNegativeCost = fmt.Errorf("%w: cost must not be negative", credit.ErrConfiguration)
	// ErrFractionalFixedCost 整数でない固定コスト
	ErrFractionalFixedCost = fmt.Errorf("%w: fixed cost must be a whole number", credit.ErrConfiguration)
	// ErrUnknownRounding 未対応の丸め戦略
	ErrUnknownRounding = fmt.Errorf("%w: unknown rounding strategy", credit.ErrConfiguration)
	// ErrMissingParam 単位の抽出に必要なパラメータが無い（呼び出し側の入力不備）
	ErrMissingParam = fmt.Errorf("%w: missing cost parameter", credit.ErrInvalidOperation)
	// ErrInvalidParam パラメータが数値でない、または負
	ErrInvalidParam = fmt.Errorf("%w: invalid cost parameter", credit.ErrInvalidOperation)
)
