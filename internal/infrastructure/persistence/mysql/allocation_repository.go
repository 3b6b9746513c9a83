package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credit-server/internal/domain/allocation"
)

// AllocationRepository MySQL実装のAllocationRepository
type AllocationRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewAllocationRepository 新しいAllocationRepositoryを作成
func NewAllocationRepository(db *DB) *AllocationRepository {
	return &AllocationRepository{
		db:     db,
		tracer: otel.Tracer("allocation-repository"),
	}
}

// SaveAll 割当をまとめて保存
func (r *AllocationRepository) SaveAll(ctx context.Context, allocations []*allocation.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "AllocationRepository.SaveAll")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.row_count", len(allocations)),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "credit_allocations"),
	)

	placeholders := make([]string, 0, len(allocations))
	args := make([]interface{}, 0, len(allocations)*5)
	for _, a := range allocations {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?)")
		args = append(args, a.ID(), a.TransactionID(), a.SourceTransactionID(), a.Amount(), a.CreatedAt())
	}

	query := `INSERT INTO credit_allocations (id, transaction_id, source_transaction_id, amount, created_at) VALUES ` +
		strings.Join(placeholders, ", ")

	if _, err := r.db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return mapError(fmt.Errorf("failed to save allocations: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "allocations saved")
	return nil
}

// FindBucketsByWalletID 未失効かつ残量のある付与エントリをFIFO順で取得
func (r *AllocationRepository) FindBucketsByWalletID(ctx context.Context, walletID string, now time.Time) ([]allocation.Bucket, error) {
	ctx, span := r.tracer.Start(ctx, "AllocationRepository.FindBucketsByWalletID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `
		SELECT t.id, t.seq, t.created_at, t.expires_at, t.amount,
			t.amount - COALESCE(SUM(a.amount), 0) AS remaining
		FROM credit_transactions t
		LEFT JOIN credit_allocations a ON a.source_transaction_id = t.id
		WHERE t.wallet_id = ? AND t.amount > 0 AND (t.expires_at IS NULL OR t.expires_at > ?)
		GROUP BY t.id, t.seq, t.created_at, t.expires_at, t.amount
		HAVING remaining > 0
		ORDER BY t.created_at ASC, t.seq ASC
	`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, walletID, now.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to query buckets: %w", err))
	}
	defer rows.Close()

	var buckets []allocation.Bucket
	for rows.Next() {
		var (
			b         allocation.Bucket
			createdAt time.Time
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&b.TransactionID, &b.Seq, &createdAt, &expiresAt, &b.Amount, &b.Remaining); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		b.CreatedAt = createdAt.UTC()
		b.ExpiresAt = timePtr(expiresAt)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate buckets: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(buckets)))
	span.SetStatus(otelcodes.Ok, "buckets found")
	return buckets, nil
}

// FindDebtsByWalletID 割当が不足している消費エントリをFIFO順で取得
func (r *AllocationRepository) FindDebtsByWalletID(ctx context.Context, walletID string) ([]allocation.Debt, error) {
	ctx, span := r.tracer.Start(ctx, "AllocationRepository.FindDebtsByWalletID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `
		SELECT t.id, t.seq, t.created_at,
			-t.amount - COALESCE(SUM(a.amount), 0) AS outstanding
		FROM credit_transactions t
		LEFT JOIN credit_allocations a ON a.transaction_id = t.id
		WHERE t.wallet_id = ? AND t.amount < 0
		GROUP BY t.id, t.seq, t.created_at, t.amount
		HAVING outstanding > 0
		ORDER BY t.created_at ASC, t.seq ASC
	`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, walletID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to query debts: %w", err))
	}
	defer rows.Close()

	var debts []allocation.Debt
	for rows.Next() {
		var (
			d         allocation.Debt
			createdAt time.Time
		)
		if err := rows.Scan(&d.TransactionID, &d.Seq, &createdAt, &d.Outstanding); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		d.CreatedAt = createdAt.UTC()
		debts = append(debts, d)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate debts: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(debts)))
	span.SetStatus(otelcodes.Ok, "debts found")
	return debts, nil
}

// FindByTransactionID 消費エントリの割当を取得
func (r *AllocationRepository) FindByTransactionID(ctx context.Context, transactionID string) ([]*allocation.Allocation, error) {
	ctx, span := r.tracer.Start(ctx, "AllocationRepository.FindByTransactionID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", transactionID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_allocations"),
	)

	query := `
		SELECT id, transaction_id, source_transaction_id, amount, created_at
		FROM credit_allocations WHERE transaction_id = ? ORDER BY created_at, id
	`
	return r.findMany(ctx, span, query, transactionID)
}

// FindBySourceTransactionID 付与エントリからの割当を取得
func (r *AllocationRepository) FindBySourceTransactionID(ctx context.Context, sourceTransactionID string) ([]*allocation.Allocation, error) {
	ctx, span := r.tracer.Start(ctx, "AllocationRepository.FindBySourceTransactionID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.source_transaction_id", sourceTransactionID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_allocations"),
	)

	query := `
		SELECT id, transaction_id, source_transaction_id, amount, created_at
		FROM credit_allocations WHERE source_transaction_id = ? ORDER BY created_at, id
	`
	return r.findMany(ctx, span, query, sourceTransactionID)
}

func (r *AllocationRepository) findMany(ctx context.Context, span trace.Span, query string, args ...interface{}) ([]*allocation.Allocation, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to query allocations: %w", err))
	}
	defer rows.Close()

	var allocations []*allocation.Allocation
	for rows.Next() {
		var (
			allocationID, transactionID, sourceTransactionID string
			amount                                           int64
			createdAt                                        time.Time
		)
		if err := rows.Scan(&allocationID, &transactionID, &sourceTransactionID, &amount, &createdAt); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, allocation.Reconstruct(allocationID, transactionID, sourceTransactionID, amount, createdAt.UTC()))
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate allocations: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(allocations)))
	span.SetStatus(otelcodes.Ok, "allocations found")
	return allocations, nil
}
