package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credit-server/internal/domain/transaction"
)

// TransactionRepository MySQL実装のTransactionRepository
type TransactionRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewTransactionRepository 新しいTransactionRepositoryを作成
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		tracer: otel.Tracer("transaction-repository"),
	}
}

const transactionColumns = `seq, id, wallet_id, amount, category, expires_at, fulfillment_id, source_ref, metadata, created_at`

// Save 台帳エントリを追記し、採番された連番を割り当てる
func (r *TransactionRepository) Save(ctx context.Context, t *transaction.Transaction) error {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", t.ID()),
		attribute.String("db.wallet_id", t.WalletID()),
		attribute.String("db.category", t.Category().String()),
		attribute.Int64("db.amount", t.Amount()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "credit_transactions"),
	)

	metadata, err := marshalMetadata(t.Metadata())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	query := `
		INSERT INTO credit_transactions (
			id, wallet_id, amount, category, expires_at,
			fulfillment_id, source_ref, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.executor(ctx).ExecContext(ctx, query,
		t.ID(),
		t.WalletID(),
		t.Amount(),
		t.Category().String(),
		nullableTime(t.ExpiresAt()),
		nullableString(t.FulfillmentID()),
		nullableString(t.SourceRef()),
		metadata,
		t.CreatedAt(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if isDuplicateEntry(err) {
			return transaction.ErrDuplicateSourceRef
		}
		return mapError(fmt.Errorf("failed to save transaction: %w", err))
	}

	seq, err := result.LastInsertId()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to get transaction seq: %w", err)
	}
	t.AssignSeq(seq)

	span.SetAttributes(attribute.Int64("db.seq", seq))
	span.SetStatus(otelcodes.Ok, "transaction saved")
	return nil
}

// FindByID 台帳エントリIDで取得
func (r *TransactionRepository) FindByID(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", transactionID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `SELECT ` + transactionColumns + ` FROM credit_transactions WHERE id = ?`
	return r.findOne(ctx, span, query, transactionID)
}

// FindBySourceRef ウォレット・カテゴリ・ソース参照で取得（冪等性チェック用）
func (r *TransactionRepository) FindBySourceRef(ctx context.Context, walletID string, category transaction.Category, sourceRef string) (*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindBySourceRef")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.category", category.String()),
		attribute.String("db.source_ref", sourceRef),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `SELECT ` + transactionColumns + ` FROM credit_transactions WHERE wallet_id = ? AND category = ? AND source_ref = ?`
	return r.findOne(ctx, span, query, walletID, category.String(), sourceRef)
}

// FindByWalletID ウォレットの台帳エントリを時系列順で取得（フィルタ・ページネーション対応）
func (r *TransactionRepository) FindByWalletID(ctx context.Context, walletID string, filter transaction.HistoryFilter) ([]*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByWalletID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.Int("db.limit", filter.Limit),
		attribute.Int("db.offset", filter.Offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	where, args := historyWhere(walletID, filter)
	query := `SELECT ` + transactionColumns + ` FROM credit_transactions WHERE ` + where +
		` ORDER BY created_at ASC, seq ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(transactions)))
	span.SetStatus(otelcodes.Ok, "transactions found")
	return transactions, nil
}

// CountByWalletID フィルタに一致する台帳エントリ数
func (r *TransactionRepository) CountByWalletID(ctx context.Context, walletID string, filter transaction.HistoryFilter) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.CountByWalletID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.operation", "SELECT COUNT"),
		attribute.String("db.table", "credit_transactions"),
	)

	where, args := historyWhere(walletID, filter)
	query := `SELECT COUNT(*) FROM credit_transactions WHERE ` + where

	var count int64
	if err := r.db.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, mapError(fmt.Errorf("failed to count transactions: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "transactions counted")
	return count, nil
}

// FindWalletIDsExpiredBetween (from, to] に失効した付与エントリを持つウォレットID
func (r *TransactionRepository) FindWalletIDsExpiredBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindWalletIDsExpiredBetween")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.operation", "SELECT DISTINCT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `
		SELECT DISTINCT wallet_id FROM credit_transactions
		WHERE amount > 0 AND expires_at > ? AND expires_at <= ?
		ORDER BY wallet_id
	`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to query expired wallets: %w", err))
	}
	defer rows.Close()

	var walletIDs []string
	for rows.Next() {
		var walletID string
		if err := rows.Scan(&walletID); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan wallet id: %w", err)
		}
		walletIDs = append(walletIDs, walletID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired wallets: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(walletIDs)))
	span.SetStatus(otelcodes.Ok, "expired wallets found")
	return walletIDs, nil
}

func (r *TransactionRepository) findOne(ctx context.Context, span trace.Span, query string, args ...interface{}) (*transaction.Transaction, error) {
	t, err := scanTransaction(r.db.executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "transaction not found")
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to find transaction: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "transaction found")
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var (
		seq, amount                    int64
		transactionID, walletID, cat   string
		expiresAt                      sql.NullTime
		fulfillmentID, sourceRef, meta sql.NullString
		createdAt                      time.Time
	)

	if err := row.Scan(
		&seq,
		&transactionID,
		&walletID,
		&amount,
		&cat,
		&expiresAt,
		&fulfillmentID,
		&sourceRef,
		&meta,
		&createdAt,
	); err != nil {
		return nil, err
	}

	category, err := transaction.NewCategory(cat)
	if err != nil {
		return nil, fmt.Errorf("invalid category: %w", err)
	}
	metadata, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}

	return transaction.Reconstruct(
		seq,
		transactionID,
		walletID,
		amount,
		category,
		timePtr(expiresAt),
		stringPtr(fulfillmentID),
		stringPtr(sourceRef),
		metadata,
		createdAt.UTC(),
	), nil
}

func historyWhere(walletID string, filter transaction.HistoryFilter) (string, []interface{}) {
	conds := []string{"wallet_id = ?"}
	args := []interface{}{walletID}
	if filter.Category != nil {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category.String())
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, filter.To.UTC())
	}
	return strings.Join(conds, " AND "), args
}
