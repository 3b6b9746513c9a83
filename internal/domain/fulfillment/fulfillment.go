// Package fulfillment は定期・単発のクレジット付与スケジュールを定義する
package fulfillment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"credit-server/internal/domain/id"
)

// メタデータのキー
const (
	MetaPlanID        = "plan_id"
	MetaPackID        = "pack_id"
	MetaAmount        = "amount"
	MetaRollover      = "rollover"
	MetaPendingPlanID = "pending_plan_id"
	MetaReason        = "reason"
)

// Fulfillment 付与スケジュールエンティティ
type Fulfillment struct {
	id                     string
	walletID               string
	sourceRef              *string
	fulfillmentType        Type
	creditsLastFulfillment int64
	fulfillmentPeriod      *time.Duration // nil は単発
	lastFulfilledAt        *time.Time
	nextFulfillmentAt      *time.Time
	stopsAt                *time.Time
	metadata               map[string]interface{}
	createdAt              time.Time
	updatedAt              time.Time
}

// NewFulfillment 新しい付与スケジュールを作成（検証済み）
func NewFulfillment(
	walletID string,
	fulfillmentType Type,
	sourceRef *string,
	period *time.Duration,
	nextFulfillmentAt time.Time,
	stopsAt *time.Time,
	metadata map[string]interface{},
	now time.Time,
) (*Fulfillment, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	next := nextFulfillmentAt.UTC()
	f := &Fulfillment{
		id:                id.NewFulfillmentID(),
		walletID:          walletID,
		sourceRef:         sourceRef,
		fulfillmentType:   fulfillmentType,
		fulfillmentPeriod: period,
		nextFulfillmentAt: &next,
		stopsAt:           stopsAt,
		metadata:          metadata,
		createdAt:         now.UTC(),
		updatedAt:         now.UTC(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reconstruct 永続化層から付与スケジュールを復元
func Reconstruct(
	fulfillmentID string,
	walletID string,
	sourceRef *string,
	fulfillmentType Type,
	creditsLastFulfillment int64,
	period *time.Duration,
	lastFulfilledAt *time.Time,
	nextFulfillmentAt *time.Time,
	stopsAt *time.Time,
	metadata map[string]interface{},
	createdAt time.Time,
	updatedAt time.Time,
) *Fulfillment {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Fulfillment{
		id:                     fulfillmentID,
		walletID:               walletID,
		sourceRef:              sourceRef,
		fulfillmentType:        fulfillmentType,
		creditsLastFulfillment: creditsLastFulfillment,
		fulfillmentPeriod:      period,
		lastFulfilledAt:        lastFulfilledAt,
		nextFulfillmentAt:      nextFulfillmentAt,
		stopsAt:                stopsAt,
		metadata:               metadata,
		createdAt:              createdAt,
		updatedAt:              updatedAt,
	}
}

// Validate ウォレット参照・種別・種別ごとの必須メタデータを検証する
func (f *Fulfillment) Validate() error {
	if f.walletID == "" {
		return ErrMissingWallet
	}
	if !f.fulfillmentType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, string(f.fulfillmentType))
	}
	if f.fulfillmentPeriod != nil && *f.fulfillmentPeriod <= 0 {
		return ErrInvalidPeriod
	}

	switch f.fulfillmentType {
	case TypeSubscription:
		if f.PlanID() == "" {
			return fmt.Errorf("%w: %s requires %s", ErrMissingMetadata, f.fulfillmentType, MetaPlanID)
		}
	case TypeCreditPack:
		if f.PackID() == "" {
			return fmt.Errorf("%w: %s requires %s", ErrMissingMetadata, f.fulfillmentType, MetaPackID)
		}
	case TypeManual:
		if amount, ok := f.ManualAmount(); !ok || amount <= 0 {
			return fmt.Errorf("%w: %s requires a positive %s", ErrMissingMetadata, f.fulfillmentType, MetaAmount)
		}
	}
	return nil
}

// IsDueForFulfillment 付与時刻を過ぎていて、かつ停止時刻前かどうか
func (f *Fulfillment) IsDueForFulfillment(now time.Time) bool {
	if f.nextFulfillmentAt == nil || f.nextFulfillmentAt.After(now) {
		return false
	}
	return f.stopsAt == nil || f.stopsAt.After(now)
}

// CalculateNextFulfillment 前回の予定時刻 + 周期（現在時刻は使わない）
func (f *Fulfillment) CalculateNextFulfillment() *time.Time {
	if f.fulfillmentPeriod == nil || f.nextFulfillmentAt == nil {
		return nil
	}
	next := f.nextFulfillmentAt.Add(*f.fulfillmentPeriod)
	return &next
}

// MarkFulfilled 付与済みとしてスケジュールを進める（単発は次回予定を消す）
func (f *Fulfillment) MarkFulfilled(amount int64, at time.Time) {
	at = at.UTC()
	f.nextFulfillmentAt = f.CalculateNextFulfillment()
	f.lastFulfilledAt = &at
	f.creditsLastFulfillment = amount
	f.updatedAt = at
}

// Stop 指定時刻以降の付与を停止する
func (f *Fulfillment) Stop(at time.Time) {
	at = at.UTC()
	f.stopsAt = &at
	f.updatedAt = at
}

// Resume 停止予定を取り消す
func (f *Fulfillment) Resume(at time.Time) {
	f.stopsAt = nil
	f.updatedAt = at.UTC()
}

// IsInert 今後付与が発生しないかどうか
func (f *Fulfillment) IsInert(now time.Time) bool {
	if f.nextFulfillmentAt == nil {
		return true
	}
	return f.stopsAt != nil && !f.stopsAt.After(now)
}

// SetPendingPlan 次回サイクルから適用するプランを記録
func (f *Fulfillment) SetPendingPlan(planID string, at time.Time) {
	f.metadata[MetaPendingPlanID] = planID
	f.updatedAt = at.UTC()
}

// ApplyPendingPlan 保留中のプラン変更を適用する（適用したら true）
func (f *Fulfillment) ApplyPendingPlan() bool {
	pending, _ := f.metadata[MetaPendingPlanID].(string)
	if pending == "" {
		return false
	}
	f.metadata[MetaPlanID] = pending
	delete(f.metadata, MetaPendingPlanID)
	return true
}

// SetPeriod 周期を変更（プラン変更時）
func (f *Fulfillment) SetPeriod(period *time.Duration) {
	f.fulfillmentPeriod = period
}

// SetRollover 繰越設定を変更（プラン変更時）
func (f *Fulfillment) SetRollover(rollover bool) {
	f.metadata[MetaRollover] = rollover
}

// ID 付与スケジュールIDを返す
func (f *Fulfillment) ID() string { return f.id }

// WalletID ウォレットIDを返す
func (f *Fulfillment) WalletID() string { return f.walletID }

// SourceRef ソース参照を返す
func (f *Fulfillment) SourceRef() *string { return f.sourceRef }

// Type 種別を返す
func (f *Fulfillment) Type() Type { return f.fulfillmentType }

// CreditsLastFulfillment 前回の付与量を返す
func (f *Fulfillment) CreditsLastFulfillment() int64 { return f.creditsLastFulfillment }

// FulfillmentPeriod 周期を返す
func (f *Fulfillment) FulfillmentPeriod() *time.Duration { return f.fulfillmentPeriod }

// LastFulfilledAt 前回の付与日時を返す
func (f *Fulfillment) LastFulfilledAt() *time.Time { return f.lastFulfilledAt }

// NextFulfillmentAt 次回の付与予定日時を返す
func (f *Fulfillment) NextFulfillmentAt() *time.Time { return f.nextFulfillmentAt }

// StopsAt 停止日時を返す
func (f *Fulfillment) StopsAt() *time.Time { return f.stopsAt }

// CreatedAt 作成日時を返す
func (f *Fulfillment) CreatedAt() time.Time { return f.createdAt }

// UpdatedAt 更新日時を返す
func (f *Fulfillment) UpdatedAt() time.Time { return f.updatedAt }

// Metadata メタデータのコピーを返す
func (f *Fulfillment) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(f.metadata))
	for k, v := range f.metadata {
		out[k] = v
	}
	return out
}

// PlanID サブスクリプションのプランIDを返す
func (f *Fulfillment) PlanID() string {
	s, _ := f.metadata[MetaPlanID].(string)
	return s
}

// PackID クレジットパックIDを返す
func (f *Fulfillment) PackID() string {
	s, _ := f.metadata[MetaPackID].(string)
	return s
}

// PendingPlanID 保留中のプランIDを返す
func (f *Fulfillment) PendingPlanID() string {
	s, _ := f.metadata[MetaPendingPlanID].(string)
	return s
}

// Rollover 繰越が有効かどうか
func (f *Fulfillment) Rollover() bool {
	b, _ := f.metadata[MetaRollover].(bool)
	return b
}

// Reason 手動付与の理由（カテゴリ）を返す
func (f *Fulfillment) Reason() string {
	s, _ := f.metadata[MetaReason].(string)
	return s
}

// ManualAmount 手動付与量を返す（JSONから復元した数値も扱う）
func (f *Fulfillment) ManualAmount() (int64, bool) {
	switch v := f.metadata[MetaAmount].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
