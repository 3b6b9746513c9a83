// Package cost はオペレーションのパラメータから整数クレジットコストを算出する
//
// コスト式は Fixed / Variable / Compound のいずれかで、最終結果のみが丸め戦略を通る。
//
//	op := cost.FixedCost(10)
//	upload, _ := cost.FixedCost(5).Add(cost.VariableCost(1, cost.UnitMB))
//	credits, err := cost.NewCalculator(cost.RoundingCeil).Calculate(upload, cost.Params{"size": 2_411_725})
package cost

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Params オペレーション呼び出しパラメータ
type Params map[string]any

// Expression コスト式（Fixed | Variable | Compound）
type Expression interface {
	// Resolve 丸め前の値を解決する
	Resolve(params Params) (decimal.Decimal, error)
	// Add 他のコスト式と合算する
	Add(other any) (*Compound, error)
	// String 表示用の文字列を返す
	String() string

	sealed()
}

// Fixed 固定コスト（定数またはパラメータの関数）
type Fixed struct {
	value decimal.Decimal
	fn    func(Params) float64
}

// FixedCost 定数の固定コストを作成
func FixedCost(amount int64) *Fixed {
	return &Fixed{value: decimal.NewFromInt(amount)}
}

// FixedCostFunc パラメータから算出する固定コストを作成
func FixedCostFunc(fn func(Params) float64) *Fixed {
	return &Fixed{fn: fn}
}

// Resolve 固定コストを解決する（非負の整数でなければ設定エラー）
func (f *Fixed) Resolve(params Params) (decimal.Decimal, error) {
	v := f.value
	if f.fn != nil {
		v = decimal.NewFromFloat(f.fn(params))
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNegativeCost, v.String())
	}
	if !v.IsInteger() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrFractionalFixedCost, v.String())
	}
	return v, nil
}

// Add 他のコスト式と合算する
func (f *Fixed) Add(other any) (*Compound, error) {
	return combine(f, other)
}

// String 表示用の文字列を返す
func (f *Fixed) String() string {
	if f.fn != nil {
		return "fixed(dynamic) credits"
	}
	return f.value.String() + " credits"
}

func (*Fixed) sealed() {}

// Variable 従量コスト（レート × 単位あたりサイズ）
type Variable struct {
	rate decimal.Decimal
	unit Unit
}

// VariableCost 従量コストを作成（レートは小数可）
func VariableCost(rate float64, unit Unit) *Variable {
	return &Variable{rate: decimal.NewFromFloat(rate), unit: unit}
}

// Rate レートを返す
func (v *Variable) Rate() decimal.Decimal {
	return v.rate
}

// Unit 単位を返す
func (v *Variable) Unit() Unit {
	return v.unit
}

// Resolve 従量コストを解決する
func (v *Variable) Resolve(params Params) (decimal.Decimal, error) {
	if v.rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: rate %s", ErrNegativeCost, v.rate.String())
	}
	size, err := v.unit.Extract(params)
	if err != nil {
		return decimal.Zero, err
	}
	return v.rate.Mul(size), nil
}

// Add 他のコスト式と合算する
func (v *Variable) Add(other any) (*Compound, error) {
	return combine(v, other)
}

// String 表示用の文字列を返す
func (v *Variable) String() string {
	return fmt.Sprintf("%s credits per %s", v.rate.String(), v.unit)
}

func (*Variable) sealed() {}

// Compound 複合コスト（構成要素の合計）
type Compound struct {
	parts []Expression
}

// Parts 構成要素を返す
func (c *Compound) Parts() []Expression {
	out := make([]Expression, len(c.parts))
	copy(out, c.parts)
	return out
}

// Resolve 全構成要素の合計を解決する
func (c *Compound) Resolve(params Params) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range c.parts {
		v, err := p.Resolve(params)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// Add 他のコスト式と合算する
func (c *Compound) Add(other any) (*Compound, error) {
	return combine(c, other)
}

// String 表示用の文字列を返す
func (c *Compound) String() string {
	s := ""
	for i, p := range c.parts {
		if i > 0 {
			s += " + "
		}
		s += p.String()
	}
	return s
}

func (*Compound) sealed() {}

// Sum 複数のコスト式を合算する
func Sum(first Expression, rest ...Expression) (*Compound, error) {
	if first == nil {
		return nil, fmt.Errorf("%w: nil expression", ErrIncompatibleCost)
	}
	acc := &Compound{parts: appendFlattened(nil, first)}
	for _, e := range rest {
		next, err := acc.Add(e)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// combine 同じファミリーのコスト式のみ合算する（数値リテラルなどは設定エラー）
func combine(left Expression, other any) (*Compound, error) {
	right, ok := other.(Expression)
	if !ok || right == nil {
		return nil, fmt.Errorf("%w: cannot add %T to %s", ErrIncompatibleCost, other, left.String())
	}

	parts := make([]Expression, 0, 2)
	parts = appendFlattened(parts, left)
	parts = appendFlattened(parts, right)
	return &Compound{parts: parts}, nil
}

func appendFlattened(parts []Expression, e Expression) []Expression {
	if c, ok := e.(*Compound); ok {
		return append(parts, c.parts...)
	}
	return append(parts, e)
}
