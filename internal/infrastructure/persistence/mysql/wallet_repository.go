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

	"credit-server/internal/domain/wallet"
)

// WalletRepository MySQL実装のWalletRepository
type WalletRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewWalletRepository 新しいWalletRepositoryを作成
func NewWalletRepository(db *DB) *WalletRepository {
	return &WalletRepository{
		db:     db,
		tracer: otel.Tracer("wallet-repository"),
	}
}

const walletColumns = `id, owner_type, owner_id, balance, metadata, created_at, updated_at`

// Create ウォレットを作成
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", w.ID()),
		attribute.String("db.owner", w.Owner().String()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "wallets"),
	)

	metadata, err := marshalMetadata(w.Metadata())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	query := `
		INSERT INTO wallets (id, owner_type, owner_id, balance, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.executor(ctx).ExecContext(ctx, query,
		w.ID(),
		w.Owner().Kind,
		w.Owner().ID,
		w.Balance(),
		metadata,
		w.CreatedAt(),
		w.UpdatedAt(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if isDuplicateEntry(err) {
			return wallet.ErrWalletAlreadyExists
		}
		return mapError(fmt.Errorf("failed to create wallet: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "wallet created")
	return nil
}

// FindByID ウォレットIDでウォレットを取得
func (r *WalletRepository) FindByID(ctx context.Context, walletID string) (*wallet.Wallet, error) {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.FindByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "wallets"),
	)

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = ?`
	return r.findOne(ctx, span, query, walletID)
}

// FindByOwner 所有者でウォレットを取得
func (r *WalletRepository) FindByOwner(ctx context.Context, owner wallet.Owner) (*wallet.Wallet, error) {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.FindByOwner")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.owner", owner.String()),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "wallets"),
	)

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_type = ? AND owner_id = ?`
	return r.findOne(ctx, span, query, owner.Kind, owner.ID)
}

// LockByID ウォレット行を排他ロックして取得（トランザクション内で使用）
func (r *WalletRepository) LockByID(ctx context.Context, walletID string) (*wallet.Wallet, error) {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.LockByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", walletID),
		attribute.String("db.operation", "SELECT FOR UPDATE"),
		attribute.String("db.table", "wallets"),
	)

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = ? FOR UPDATE`
	return r.findOne(ctx, span, query, walletID)
}

// UpdateBalance キャッシュ残高を更新
func (r *WalletRepository) UpdateBalance(ctx context.Context, w *wallet.Wallet) error {
	ctx, span := r.tracer.Start(ctx, "WalletRepository.UpdateBalance")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.wallet_id", w.ID()),
		attribute.Int64("db.balance", w.Balance()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "wallets"),
	)

	query := `UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?`

	// 呼び出し側はLockByIDで行を保持している前提
	_, err := r.db.executor(ctx).ExecContext(ctx, query, w.Balance(), w.UpdatedAt(), w.ID())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return mapError(fmt.Errorf("failed to update wallet balance: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "wallet balance updated")
	return nil
}

func (r *WalletRepository) findOne(ctx context.Context, span trace.Span, query string, args ...interface{}) (*wallet.Wallet, error) {
	var (
		walletID, ownerType, ownerID string
		balance                      int64
		metadataJSON                 sql.NullString
		createdAt, updatedAt         time.Time
	)

	err := r.db.executor(ctx).QueryRowContext(ctx, query, args...).Scan(
		&walletID,
		&ownerType,
		&ownerID,
		&balance,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "wallet not found")
		return nil, wallet.ErrWalletNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, mapError(fmt.Errorf("failed to find wallet: %w", err))
	}

	metadata, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("db.balance", balance))
	span.SetStatus(otelcodes.Ok, "wallet found")

	return wallet.Reconstruct(
		walletID,
		wallet.Owner{Kind: ownerType, ID: ownerID},
		balance,
		metadata,
		createdAt.UTC(),
		updatedAt.UTC(),
	), nil
}
