package fulfillment

import (
	"context"
	"time"
)

// FulfillmentRepository 付与スケジュールリポジトリインターフェース
type FulfillmentRepository interface {
	// Create 付与スケジュールを作成
	Create(ctx context.Context, fulfillment *Fulfillment) error

	// FindByID IDで付与スケジュールを取得
	FindByID(ctx context.Context, fulfillmentID string) (*Fulfillment, error)

	// LockByID 付与スケジュール行を排他ロックして取得（トランザクション内で使用）
	LockByID(ctx context.Context, fulfillmentID string) (*Fulfillment, error)

	// Update 付与スケジュールを更新
	Update(ctx context.Context, fulfillment *Fulfillment) error

	// FindDue 付与時刻を過ぎたスケジュールをID順に取得（afterID より後、limit件）
	FindDue(ctx context.Context, now time.Time, afterID string, limit int) ([]*Fulfillment, error)

	// FindBySourceRef 種別とソース参照で付与スケジュールを取得
	FindBySourceRef(ctx context.Context, fulfillmentType Type, sourceRef string) (*Fulfillment, error)
}
