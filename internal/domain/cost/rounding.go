package cost

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rounding 丸め戦略
type Rounding string

const (
	RoundingCeil  Rounding = "ceil"  // 切り上げ（デフォルト、過少請求しない）
	RoundingFloor Rounding = "floor" // 切り捨て
	RoundingRound Rounding = "round" // 四捨五入
)

// ParseRounding 文字列から丸め戦略を解決する（空文字はceil）
func ParseRounding(s string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ceil":
		return RoundingCeil, nil
	case "floor":
		return RoundingFloor, nil
	case "round", "nearest":
		return RoundingRound, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRounding, s)
	}
}

// Apply 丸めを適用する
func (r Rounding) Apply(v decimal.Decimal) (decimal.Decimal, error) {
	switch r {
	case RoundingCeil, "":
		return v.Ceil(), nil
	case RoundingFloor:
		return v.Floor(), nil
	case RoundingRound:
		return v.Round(0), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownRounding, string(r))
	}
}

// Calculator コスト計算機
type Calculator struct {
	rounding Rounding
}

// NewCalculator コスト計算機を作成
func NewCalculator(rounding Rounding) *Calculator {
	if rounding == "" {
		rounding = RoundingCeil
	}
	return &Calculator{rounding: rounding}
}

// Rounding 丸め戦略を返す
func (c *Calculator) Rounding() Rounding {
	return c.rounding
}

// Calculate コスト式を解決し、丸めた非負の整数クレジットを返す
func (c *Calculator) Calculate(expr Expression, params Params) (int64, error) {
	if expr == nil {
		return 0, fmt.Errorf("%w: nil expression", ErrIncompatibleCost)
	}

	raw, err := expr.Resolve(params)
	if err != nil {
		return 0, err
	}

	rounded, err := c.rounding.Apply(raw)
	if err != nil {
		return 0, err
	}
	if rounded.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegativeCost, rounded.String())
	}
	return rounded.IntPart(), nil
}
