package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credit-server/internal/domain/fulfillment"
)

// FulfillmentRepository MySQL実装のFulfillmentRepository
type FulfillmentRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewFulfillmentRepository 新しいFulfillmentRepositoryを作成
func NewFulfillmentRepository(db *DB) *FulfillmentRepository {
	return &FulfillmentRepository{
		db:     db,
		tracer: otel.Tracer("fulfillment-repository"),
	}
}

const fulfillmentColumns = `id, wallet_id, source_ref, fulfillment_type, credits_last_fulfillment,
	fulfillment_period_seconds, last_fulfilled_at, next_fulfillment_at, stops_at,
	metadata, created_at, updated_at`

// Create 付与スケジュールを作成
func (r *FulfillmentRepository) Create(ctx context.Context, f *fulfillment.Fulfillment) error {
	ctx, span := r.tracer.Start(ctx, "FulfillmentRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.fulfillment_id", f.ID()),
		attribute.String("db.wallet_id", f.WalletID()),
		attribute.String("db.fulfillment_type", f.Type().String()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "credit_fulfillments"),
	)

	metadata, err := marshalMetadata(f.Metadata())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	query := `INSERT INTO credit_fulfillments (` + fulfillmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.executor(ctx).ExecContext(ctx, query,
		f.ID(),
		f.WalletID(),
		nullableString(f.SourceRef()),
		f.Type().String(),
		f.CreditsLastFulfillment(),
		periodSeconds(f.FulfillmentPeriod()),
		nullableTime(f.LastFulfilledAt()),
		nullableTime(f.NextFulfillmentAt()),
		nullableTime(f.StopsAt()),
		metadata,
		f.CreatedAt(),
		f.UpdatedAt(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if isDuplicateEntry(err) {
			return fulfillment.ErrDuplicateSourceRef
		}
		return mapError(fmt.Errorf("failed to create fulfillment: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "fulfillment created")
	return nil
}

// FindByID IDで付与スケジュールを取得
func (r *FulfillmentRepository) FindByID(ctx context.Context, fulfillmentID string) (*fulfillment.Fulfillment, error) {
	ctx, span := r.tracer.Start(ctx, "FulfillmentRepository.FindByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.fulfillment_id", fulfillmentID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_fulfillments"),
	)

	query := `SELECT ` + fulfillmentColumns + ` FROM credit_fulfillments WHERE id = ?`
	return r.findOne(ctx, span, query, fulfillmentID)
}

// LockByID 付与スケジュール行を排他ロックして取得
func (r *FulfillmentRepository) LockByID(ctx context.Context, fulfillmentID string) (*fulfillment.Fulfillment, error) {
	ctx, span := r.tracer.Start(ctx, "FulfillmentRepository.LockByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.fulfillment_id", fulfillmentID),
		attribute.String("db.operation", "SELECT FOR UPDATE"),
		attribute.String("db.table", "credit_fulfillments"),
	)

	query := `SELECT ` + fulfillmentColumns + ` FROM credit_fulfillments WHERE id = ? FOR UPDATE`
	return r.findOne(ctx, span, query, fulfillmentID)
}

// FindBySourceRef 種別とソース参照で付与スケジュールを取得
func (r *FulfillmentRepository) FindBySourceRef(ctx context.Context, fulfillmentType fulfillment.Type, sourceRef string) (*fulfillment.Fulfillment, error) {
	ctx, span := r.tracer.Start(ctx, "FulfillmentRepository.FindBySourceRef")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.fulfillment_type", fulfillmentType.String()),
		attribute.String("db.source_ref", sourceRef),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_fulfillments"),
	)

	query := `SELECT ` + fulfillmentColumns + ` FROM credit_fulfillments WHERE fulfillment_type = ? AND source_ref = ?`
	return r.findOne(ctx, span, query, fulfillmentType.String(), sourceRef)
}

// Update 付与スケジュールを更新
func (r *FulfillmentRepository) Update(ctx context.Context, f *fulfillment.Fulfillment) error {
	ctx, span := r.tracer.Start(ctx, "FulfillmentRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.fulfillment_id", f.ID()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "credit_fulfillments"),
	)

	metadata, err := marshalMetadata(f.Metadata())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	query := `
		UPDATE credit_fulfillments SET
			credits_last_fulfillment = ?,
			fulfillment_period_seconds = ?,
			last_fulfilled_at = ?,
			next_fulfillment_at = ?,
			stops_at = ?,
			metadata = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err = r.db.executor(ctx).ExecContext(ctx, query,
		f.CreditsLastFulfillment(),
		periodSeconds(f.FulfillmentPeriod()),
		nullableTime(f.LastFulfilledAt()),
		nullableTime(f.NextFulfillmentAt()),
		nullableTime(f.StopsAt()),
		metadata,
		f.UpdatedAt(),
		f.ID(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return mapError(fmt.Errorf("failed to update fulfillment: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "fulfillment updated")
	return nil
}

// FindDue 付与時刻を過ぎたスケジュールをID順に取得（キーセットページング）
func (r *FulfillmentRepository) FindDue(ctx context.Context, now time.Time, afterID string, limit int) ([]*fulfillment.Fulfillment, error) {
	ctx, span := r.tracer.Start(ctx, "FulfillmentRepository.FindDue")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.after_id", afterID),
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_fulfillments"),
	)

	query := `SELECT ` + fulfillmentColumns + ` FROM credit_fulfillments
		WHERE next_fulfillment_at <= ? AND (stops_at IS NULL OR stops_at > ?) AND id > ?
		ORDER BY id LIMIT ?`

	now = now.UTC()
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, now, now, afterID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to query due fulfillments: %w", err))
	}
	defer rows.Close()

	var fulfillments []*fulfillment.Fulfillment
	for rows.Next() {
		f, err := scanFulfillment(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		fulfillments = append(fulfillments, f)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate fulfillments: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(fulfillments)))
	span.SetStatus(otelcodes.Ok, "due fulfillments found")
	return fulfillments, nil
}

func (r *FulfillmentRepository) findOne(ctx context.Context, span trace.Span, query string, args ...interface{}) (*fulfillment.Fulfillment, error) {
	f, err := scanFulfillment(r.db.executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "fulfillment not found")
		return nil, fulfillment.ErrFulfillmentNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to find fulfillment: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "fulfillment found")
	return f, nil
}

func scanFulfillment(row rowScanner) (*fulfillment.Fulfillment, error) {
	var (
		fulfillmentID, walletID, fulfillmentType string
		sourceRef, metadataJSON                  sql.NullString
		creditsLast                              int64
		period                                   sql.NullInt64
		lastFulfilledAt, nextAt, stopsAt         sql.NullTime
		createdAt, updatedAt                     time.Time
	)

	if err := row.Scan(
		&fulfillmentID,
		&walletID,
		&sourceRef,
		&fulfillmentType,
		&creditsLast,
		&period,
		&lastFulfilledAt,
		&nextAt,
		&stopsAt,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	ft, err := fulfillment.NewType(fulfillmentType)
	if err != nil {
		return nil, err
	}
	metadata, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}

	var periodPtr *time.Duration
	if period.Valid {
		d := time.Duration(period.Int64) * time.Second
		periodPtr = &d
	}

	return fulfillment.Reconstruct(
		fulfillmentID,
		walletID,
		stringPtr(sourceRef),
		ft,
		creditsLast,
		periodPtr,
		timePtr(lastFulfilledAt),
		timePtr(nextAt),
		timePtr(stopsAt),
		metadata,
		createdAt.UTC(),
		updatedAt.UTC(),
	), nil
}

func periodSeconds(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return int64(*d / time.Second)
}
