package catalog

// CreditPack 一回払いのクレジットパック
type CreditPack struct {
	ID           string
	Name         string
	Credits      int64
	BonusCredits int64
	PriceCents   int64
	Currency     string
}

// TotalCredits ボーナス込みの付与量
func (p CreditPack) TotalCredits() int64 {
	return p.Credits + p.BonusCredits
}

// PackOption クレジットパック定義のオプション
type PackOption func(*CreditPack)

// WithBonus ボーナスクレジットを設定
func WithBonus(credits int64) PackOption {
	return func(p *CreditPack) { p.BonusCredits = credits }
}

// WithPrice 価格を設定
func WithPrice(cents int64, currency string) PackOption {
	return func(p *CreditPack) {
		p.PriceCents = cents
		p.Currency = currency
	}
}

// WithPackName 表示名を設定
func WithPackName(name string) PackOption {
	return func(p *CreditPack) { p.Name = name }
}
