package memory

import (
	"context"
	"sort"
	"time"

	"credit-server/internal/domain/fulfillment"
)

// FulfillmentRepository インメモリのFulfillmentRepository
type FulfillmentRepository struct {
	store *Store
}

// NewFulfillmentRepository 新しいFulfillmentRepositoryを作成
func NewFulfillmentRepository(store *Store) *FulfillmentRepository {
	return &FulfillmentRepository{store: store}
}

// Create 付与スケジュールを作成
func (r *FulfillmentRepository) Create(ctx context.Context, f *fulfillment.Fulfillment) error {
	defer r.store.lock(ctx)()

	if ref := f.SourceRef(); ref != nil {
		for _, existing := range r.store.fulfillments {
			if existing.Type() == f.Type() && existing.SourceRef() != nil && *existing.SourceRef() == *ref {
				return fulfillment.ErrDuplicateSourceRef
			}
		}
	}
	r.store.fulfillments[f.ID()] = cloneFulfillment(f)
	return nil
}

// FindByID IDで取得
func (r *FulfillmentRepository) FindByID(ctx context.Context, fulfillmentID string) (*fulfillment.Fulfillment, error) {
	defer r.store.lock(ctx)()

	f, ok := r.store.fulfillments[fulfillmentID]
	if !ok {
		return nil, fulfillment.ErrFulfillmentNotFound
	}
	return cloneFulfillment(f), nil
}

// LockByID トランザクションがストア全体を保持しているため FindByID と同じ
func (r *FulfillmentRepository) LockByID(ctx context.Context, fulfillmentID string) (*fulfillment.Fulfillment, error) {
	return r.FindByID(ctx, fulfillmentID)
}

// Update 付与スケジュールを更新
func (r *FulfillmentRepository) Update(ctx context.Context, f *fulfillment.Fulfillment) error {
	defer r.store.lock(ctx)()

	if _, ok := r.store.fulfillments[f.ID()]; !ok {
		return fulfillment.ErrFulfillmentNotFound
	}
	r.store.fulfillments[f.ID()] = cloneFulfillment(f)
	return nil
}

// FindDue 付与時刻を過ぎたスケジュールをID順に取得
func (r *FulfillmentRepository) FindDue(ctx context.Context, now time.Time, afterID string, limit int) ([]*fulfillment.Fulfillment, error) {
	defer r.store.lock(ctx)()

	var due []*fulfillment.Fulfillment
	for _, f := range r.store.fulfillments {
		if f.ID() > afterID && f.IsDueForFulfillment(now) {
			due = append(due, cloneFulfillment(f))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID() < due[j].ID() })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// FindBySourceRef 種別とソース参照で取得
func (r *FulfillmentRepository) FindBySourceRef(ctx context.Context, fulfillmentType fulfillment.Type, sourceRef string) (*fulfillment.Fulfillment, error) {
	defer r.store.lock(ctx)()

	for _, f := range r.store.fulfillments {
		if f.Type() == fulfillmentType && f.SourceRef() != nil && *f.SourceRef() == sourceRef {
			return cloneFulfillment(f), nil
		}
	}
	return nil, fulfillment.ErrFulfillmentNotFound
}
