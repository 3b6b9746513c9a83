package catalog

import "time"

// SubscriptionPlan 定期付与のサブスクリプションプラン
type SubscriptionPlan struct {
	ID               string
	Name             string
	CreditsPerPeriod int64
	Period           time.Duration
	Rollover         bool // true: 未使用分は失効せず繰り越す
	SignupBonus      int64
	TrialCredits     int64
	TrialPeriod      time.Duration
}

// PlanOption サブスクリプションプラン定義のオプション
type PlanOption func(*planSpec)

type planSpec struct {
	plan        SubscriptionPlan
	trialPeriod any
}

// WithRollover 繰越を有効にする
func WithRollover() PlanOption {
	return func(s *planSpec) { s.plan.Rollover = true }
}

// WithSignupBonus 加入ボーナスを設定
func WithSignupBonus(credits int64) PlanOption {
	return func(s *planSpec) { s.plan.SignupBonus = credits }
}

// WithTrial トライアル付与量と期間を設定
func WithTrial(credits int64, trialPeriod any) PlanOption {
	return func(s *planSpec) {
		s.plan.TrialCredits = credits
		s.trialPeriod = trialPeriod
	}
}

// WithPlanName 表示名を設定
func WithPlanName(name string) PlanOption {
	return func(s *planSpec) { s.plan.Name = name }
}
