// Package period は付与周期の指定（エイリアス・"<n>.<unit>" 文字列・Duration）を正規化する
package period

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"credit-server/internal/domain/credit"
)

var (
	// ErrUnknownPeriod 解釈できない周期指定
	ErrUnknownPeriod = fmt.Errorf("%w: unknown period", credit.ErrConfiguration)
	// ErrPeriodTooShort 最小周期未満
	ErrPeriodTooShort = fmt.Errorf("%w: period is shorter than the minimum", credit.ErrConfiguration)
)

// DefaultMinimum デフォルトの最小周期（1日）
const DefaultMinimum = 24 * time.Hour

// Unit 正規化後の周期単位
type Unit string

const (
	UnitSecond  Unit = "second"
	UnitMinute  Unit = "minute"
	UnitHour    Unit = "hour"
	UnitDay     Unit = "day"
	UnitWeek    Unit = "week"
	UnitMonth   Unit = "month"
	UnitQuarter Unit = "quarter"
	UnitYear    Unit = "year"
)

// Duration 単位の長さを返す（月=30日、四半期=90日、年=365日）
func (u Unit) Duration() time.Duration {
	switch u {
	case UnitSecond:
		return time.Second
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	case UnitMonth:
		return 30 * 24 * time.Hour
	case UnitQuarter:
		return 90 * 24 * time.Hour
	case UnitYear:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

var aliases = map[string]Unit{
	"second": UnitSecond, "seconds": UnitSecond, "secondly": UnitSecond,
	"minute": UnitMinute, "minutes": UnitMinute, "minutely": UnitMinute,
	"hour": UnitHour, "hours": UnitHour, "hourly": UnitHour,
	"day": UnitDay, "days": UnitDay, "daily": UnitDay,
	"week": UnitWeek, "weeks": UnitWeek, "weekly": UnitWeek,
	"month": UnitMonth, "months": UnitMonth, "monthly": UnitMonth,
	"quarter": UnitQuarter, "quarters": UnitQuarter, "quarterly": UnitQuarter,
	"year": UnitYear, "years": UnitYear, "yearly": UnitYear, "annually": UnitYear,
}

// Aliases 対応しているエイリアスの一覧を返す
func Aliases() []string {
	out := make([]string, 0, len(aliases))
	for a := range aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Canonical エイリアスを正規化した単位に変換する
func Canonical(alias string) (Unit, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(alias), ":"))
	u, ok := aliases[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, alias)
	}
	return u, nil
}

// Spec 数量と単位で表した周期
type Spec struct {
	Count int64
	Unit  Unit
}

// Duration 周期の長さを返す
func (s Spec) Duration() time.Duration {
	return time.Duration(s.Count) * s.Unit.Duration()
}

// overflows Duration が time.Duration の範囲を超えるかどうか
func (s Spec) overflows() bool {
	ud := int64(s.Unit.Duration())
	return ud > 0 && s.Count > math.MaxInt64/ud
}

// String "<n>.<unit>" 形式の文字列を返す
func (s Spec) String() string {
	return fmt.Sprintf("%d.%s", s.Count, s.Unit)
}

// Parser 周期パーサー
type Parser struct {
	minimum time.Duration
}

// NewParser 周期パーサーを作成（minimum が0以下ならデフォルト）
func NewParser(minimum time.Duration) *Parser {
	if minimum <= 0 {
		minimum = DefaultMinimum
	}
	return &Parser{minimum: minimum}
}

// Minimum 最小周期を返す
func (p *Parser) Minimum() time.Duration {
	return p.minimum
}

// Parse 周期指定を正規化した Duration に変換する
//
// 受け付ける形式: "monthly" / ":monthly" などのエイリアス、"3.months"、time.Duration、Spec
func (p *Parser) Parse(spec any) (time.Duration, error) {
	var d time.Duration
	switch v := spec.(type) {
	case time.Duration:
		d = v
	case Spec:
		if v.Unit.Duration() == 0 {
			return 0, fmt.Errorf("%w: unit %q", ErrUnknownPeriod, string(v.Unit))
		}
		if v.Count <= 0 || v.overflows() {
			return 0, fmt.Errorf("%w: %s", ErrUnknownPeriod, v)
		}
		d = v.Duration()
	case Unit:
		if v.Duration() == 0 {
			return 0, fmt.Errorf("%w: unit %q", ErrUnknownPeriod, string(v))
		}
		d = v.Duration()
	case string:
		parsed, err := parseString(v)
		if err != nil {
			return 0, err
		}
		d = parsed
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrUnknownPeriod, spec)
	}

	if d < p.minimum {
		return 0, fmt.Errorf("%w: %s < %s", ErrPeriodTooShort, d, p.minimum)
	}
	return d, nil
}

func parseString(s string) (time.Duration, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), ":")

	if n, unit, ok := strings.Cut(trimmed, "."); ok {
		count, err := strconv.ParseInt(n, 10, 64)
		if err != nil || count <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
		}
		u, err := Canonical(unit)
		if err != nil {
			return 0, err
		}
		spec := Spec{Count: count, Unit: u}
		if spec.overflows() {
			return 0, fmt.Errorf("%w: %q is out of range", ErrUnknownPeriod, s)
		}
		return spec.Duration(), nil
	}

	u, err := Canonical(trimmed)
	if err != nil {
		return 0, err
	}
	return u.Duration(), nil
}

// Format 周期を読みやすい形式で返す（割り切れる最大の単位を使う）
func Format(d time.Duration) string {
	for _, u := range []Unit{UnitYear, UnitQuarter, UnitMonth, UnitWeek, UnitDay, UnitHour, UnitMinute} {
		if ud := u.Duration(); d >= ud && d%ud == 0 {
			return Spec{Count: int64(d / ud), Unit: u}.String()
		}
	}
	return Spec{Count: int64(d / time.Second), Unit: UnitSecond}.String()
}
