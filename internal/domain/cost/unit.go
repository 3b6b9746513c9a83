package cost

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit 従量コストの単位
type Unit string

const (
	UnitKB    Unit = "kb"    // キロバイト（size パラメータのバイト数から換算）
	UnitMB    Unit = "mb"    // メガバイト
	UnitGB    Unit = "gb"    // ギガバイト
	UnitUnits Unit = "units" // 件数（units パラメータを直接使用）
)

const (
	// ParamSize バイト数を表すパラメータ名
	ParamSize = "size"
	// ParamUnits 件数を表すパラメータ名
	ParamUnits = "units"
)

var bytesPerUnit = map[Unit]int64{
	UnitKB: 1024,
	UnitMB: 1024 * 1024,
	UnitGB: 1024 * 1024 * 1024,
}

// ParseUnit 文字列から単位を解決する
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	switch u {
	case "kilobyte", "kilobytes":
		u = UnitKB
	case "megabyte", "megabytes":
		u = UnitMB
	case "gigabyte", "gigabytes":
		u = UnitGB
	case "unit":
		u = UnitUnits
	}
	if !u.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// IsValid 対応済みの単位かどうか
func (u Unit) IsValid() bool {
	if u == UnitUnits {
		return true
	}
	_, ok := bytesPerUnit[u]
	return ok
}

// String 文字列表現を返す
func (u Unit) String() string {
	return string(u)
}

// Extract パラメータから単位あたりのサイズを取り出す
func (u Unit) Extract(params Params) (decimal.Decimal, error) {
	if u == UnitUnits {
		return numericParam(params, ParamUnits)
	}

	divisor, ok := bytesPerUnit[u]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownUnit, string(u))
	}

	size, err := numericParam(params, ParamSize)
	if err != nil {
		return decimal.Zero, err
	}
	return size.Div(decimal.NewFromInt(divisor)), nil
}

func numericParam(params Params, key string) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}

	var v decimal.Decimal
	switch n := raw.(type) {
	case int:
		v = decimal.NewFromInt(int64(n))
	case int32:
		v = decimal.NewFromInt32(n)
	case int64:
		v = decimal.NewFromInt(n)
	case uint:
		v = decimal.NewFromUint64(uint64(n))
	case uint64:
		v = decimal.NewFromUint64(n)
	case float32:
		v = decimal.NewFromFloat32(n)
	case float64:
		v = decimal.NewFromFloat(n)
	case decimal.Decimal:
		v = n
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s=%v", ErrInvalidParam, key, raw)
		}
		v = d
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidParam, key, n)
		}
		v = d
	default:
		if s, ok := raw.(fmt.Stringer); ok {
			if d, err := decimal.NewFromString(s.String()); err == nil {
				v = d
				break
			}
		}
		return decimal.Zero, fmt.Errorf("%w: %s has type %T", ErrInvalidParam, key, raw)
	}

	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s=%s", ErrInvalidParam, key, v.String())
	}
	return v, nil
}
