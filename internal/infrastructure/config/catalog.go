package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"credit-server/internal/domain/catalog"
	"credit-server/internal/domain/cost"
	"credit-server/internal/domain/period"
)

// CatalogFile カタログ定義ファイル（TOML）
type CatalogFile struct {
	Operations []OperationDef `toml:"operations"`
	Packs      []PackDef      `toml:"packs"`
	Plans      []PlanDef      `toml:"plans"`
}

// OperationDef オペレーション定義
//
// fixed と rate/unit はどちらか一方または両方（合算）を指定する。
// max はパラメータ名ごとの上限値で、超えると InvalidOperation になる。
type OperationDef struct {
	Name  string             `toml:"name"`
	Fixed *int64             `toml:"fixed"`
	Rate  *float64           `toml:"rate"`
	Unit  string             `toml:"unit"`
	Max   map[string]float64 `toml:"max"`
}

// PackDef クレジットパック定義
type PackDef struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Credits    int64  `toml:"credits"`
	Bonus      int64  `toml:"bonus"`
	PriceCents int64  `toml:"price_cents"`
	Currency   string `toml:"currency"`
}

// PlanDef サブスクリプションプラン定義
type PlanDef struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Credits      int64  `toml:"credits"`
	Every        string `toml:"every"`
	Rollover     bool   `toml:"rollover"`
	SignupBonus  int64  `toml:"signup_bonus"`
	TrialCredits int64  `toml:"trial_credits"`
	TrialPeriod  string `toml:"trial_period"`
}

// LoadCatalog TOMLファイルからカタログを読み込む
func LoadCatalog(path string, credits CreditsConfig) (*catalog.Catalog, error) {
	var file CatalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog file %s: %w", path, err)
	}
	return file.Build(period.NewParser(credits.MinimumPeriod))
}

// ParseCatalog TOML文字列からカタログを読み込む
func ParseCatalog(data string, credits CreditsConfig) (*catalog.Catalog, error) {
	var file CatalogFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return file.Build(period.NewParser(credits.MinimumPeriod))
}

// Build 定義からカタログを組み立てる
func (f *CatalogFile) Build(parser *period.Parser) (*catalog.Catalog, error) {
	b := catalog.NewBuilder(parser)

	for _, def := range f.Operations {
		expr, err := def.expression()
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", def.Name, err)
		}
		opts := make([]catalog.OperationOption, 0, len(def.Max))
		for param, limit := range def.Max {
			opts = append(opts, maxValidator(param, limit))
		}
		b.Operation(def.Name, expr, opts...)
	}

	for _, def := range f.Packs {
		opts := []catalog.PackOption{catalog.WithBonus(def.Bonus), catalog.WithPrice(def.PriceCents, def.Currency)}
		if def.Name != "" {
			opts = append(opts, catalog.WithPackName(def.Name))
		}
		b.Pack(def.ID, def.Credits, opts...)
	}

	for _, def := range f.Plans {
		opts := []catalog.PlanOption{catalog.WithSignupBonus(def.SignupBonus)}
		if def.Rollover {
			opts = append(opts, catalog.WithRollover())
		}
		if def.TrialCredits > 0 && def.TrialPeriod != "" {
			opts = append(opts, catalog.WithTrial(def.TrialCredits, def.TrialPeriod))
		}
		if def.Name != "" {
			opts = append(opts, catalog.WithPlanName(def.Name))
		}
		b.Plan(def.ID, def.Credits, def.Every, opts...)
	}

	return b.Build()
}

func (d OperationDef) expression() (cost.Expression, error) {
	var exprs []cost.Expression
	if d.Fixed != nil {
		exprs = append(exprs, cost.FixedCost(*d.Fixed))
	}
	if d.Rate != nil {
		unit, err := cost.ParseUnit(d.Unit)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, cost.VariableCost(*d.Rate, unit))
	}

	switch len(exprs) {
	case 0:
		return nil, fmt.Errorf("%w: fixed or rate is required", catalog.ErrInvalidDefinition)
	case 1:
		return exprs[0], nil
	default:
		return cost.Sum(exprs[0], exprs[1:]...)
	}
}

func maxValidator(param string, limit float64) catalog.OperationOption {
	return catalog.WithValidator(fmt.Sprintf("%s must be <= %v", param, limit), func(p cost.Params) bool {
		v, ok := p[param]
		if !ok {
			return true
		}
		n, ok := toFloat(v)
		return ok && n <= limit
	})
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
