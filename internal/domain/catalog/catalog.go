// Package catalog はオペレーション・クレジットパック・サブスクリプションプランの定義を保持する
//
// 定義は Builder で組み立て、Build 後は不変の値として台帳処理に渡される。
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"credit-server/internal/domain/cost"
	"credit-server/internal/domain/period"
)

// Catalog 不変の定義一覧
type Catalog struct {
	operations map[string]*Operation
	packs      map[string]CreditPack
	plans      map[string]SubscriptionPlan
}

// Operation 名前でオペレーションを取得
func (c *Catalog) Operation(name string) (*Operation, error) {
	op, ok := c.operations[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return op, nil
}

// Pack IDでクレジットパックを取得
func (c *Catalog) Pack(packID string) (CreditPack, error) {
	p, ok := c.packs[normalize(packID)]
	if !ok {
		return CreditPack{}, fmt.Errorf("%w: %q", ErrUnknownPack, packID)
	}
	return p, nil
}

// Plan IDでサブスクリプションプランを取得
func (c *Catalog) Plan(planID string) (SubscriptionPlan, error) {
	p, ok := c.plans[normalize(planID)]
	if !ok {
		return SubscriptionPlan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}
	return p, nil
}

// OperationNames 定義済みオペレーション名の一覧
func (c *Catalog) OperationNames() []string {
	names := make([]string, 0, len(c.operations))
	for n := range c.operations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PackIDs 定義済みクレジットパックIDの一覧
func (c *Catalog) PackIDs() []string {
	ids := make([]string, 0, len(c.packs))
	for id := range c.packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlanIDs 定義済みプランIDの一覧
func (c *Catalog) PlanIDs() []string {
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Builder 定義を組み立てる
type Builder struct {
	parser     *period.Parser
	operations map[string]*Operation
	packs      map[string]CreditPack
	plans      map[string]SubscriptionPlan
	errs       []error
}

// NewBuilder 新しいBuilderを作成（周期は parser で正規化する）
func NewBuilder(parser *period.Parser) *Builder {
	if parser == nil {
		parser = period.NewParser(period.DefaultMinimum)
	}
	return &Builder{
		parser:     parser,
		operations: make(map[string]*Operation),
		packs:      make(map[string]CreditPack),
		plans:      make(map[string]SubscriptionPlan),
	}
}

// Operation オペレーションを定義
func (b *Builder) Operation(name string, expr cost.Expression, opts ...OperationOption) *Builder {
	key := normalize(name)
	if key == "" || expr == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: operation %q needs a name and a cost", ErrInvalidDefinition, name))
		return b
	}
	if _, dup := b.operations[key]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: operation %q", ErrDuplicateName, name))
		return b
	}

	op := &Operation{name: key, cost: expr, metadata: map[string]interface{}{}}
	for _, opt := range opts {
		opt(op)
	}
	b.operations[key] = op
	return b
}

// Pack クレジットパックを定義
func (b *Builder) Pack(packID string, credits int64, opts ...PackOption) *Builder {
	key := normalize(packID)
	if key == "" || credits <= 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: pack %q needs an id and positive credits", ErrInvalidDefinition, packID))
		return b
	}
	if _, dup := b.packs[key]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: pack %q", ErrDuplicateName, packID))
		return b
	}

	p := CreditPack{ID: key, Name: packID, Credits: credits}
	for _, opt := range opts {
		opt(&p)
	}
	if p.BonusCredits < 0 || p.PriceCents < 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: pack %q has negative bonus or price", ErrInvalidDefinition, packID))
		return b
	}
	b.packs[key] = p
	return b
}

// Plan サブスクリプションプランを定義（every は "monthly" / "2.weeks" / time.Duration など）
func (b *Builder) Plan(planID string, creditsPerPeriod int64, every any, opts ...PlanOption) *Builder {
	key := normalize(planID)
	if key == "" || creditsPerPeriod <= 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: plan %q needs an id and positive credits", ErrInvalidDefinition, planID))
		return b
	}
	if _, dup := b.plans[key]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: plan %q", ErrDuplicateName, planID))
		return b
	}

	d, err := b.parser.Parse(every)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("plan %q: %w", planID, err))
		return b
	}

	spec := planSpec{plan: SubscriptionPlan{ID: key, Name: planID, CreditsPerPeriod: creditsPerPeriod, Period: d}}
	for _, opt := range opts {
		opt(&spec)
	}
	if spec.trialPeriod != nil {
		td, err := b.parser.Parse(spec.trialPeriod)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("plan %q trial: %w", planID, err))
			return b
		}
		spec.plan.TrialPeriod = td
	}
	if spec.plan.SignupBonus < 0 || spec.plan.TrialCredits < 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: plan %q has negative bonus or trial credits", ErrInvalidDefinition, planID))
		return b
	}
	b.plans[key] = spec.plan
	return b
}

// Build 不変のCatalogを作成（定義エラーはまとめて返す）
func (b *Builder) Build() (*Catalog, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	c := &Catalog{
		operations: make(map[string]*Operation, len(b.operations)),
		packs:      make(map[string]CreditPack, len(b.packs)),
		plans:      make(map[string]SubscriptionPlan, len(b.plans)),
	}
	for k, v := range b.operations {
		c.operations[k] = v
	}
	for k, v := range b.packs {
		c.packs[k] = v
	}
	for k, v := range b.plans {
		c.plans[k] = v
	}
	return c, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ":"))
}
