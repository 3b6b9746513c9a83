package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credit-server/internal/domain/credit"
	"credit-server/internal/domain/wallet"
)

var walletRowColumns = []string{"id", "owner_type", "owner_id", "balance", "metadata", "created_at", "updated_at"}

func newWalletRepo(t *testing.T) (*WalletRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &WalletRepository{db: &DB{DB: db}, tracer: otel.Tracer("test")}, mock
}

func TestWalletRepository_Create(t *testing.T) {
	w := wallet.MustNewWallet("user", "user123")

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "正常系: 作成成功",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO wallets").
					WithArgs(w.ID(), "user", "user123", int64(0), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "異常系: 同一所有者のウォレットが存在",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO wallets").
					WillReturnError(&driver.MySQLError{Number: 1062, Message: "Duplicate entry"})
			},
			wantErr: wallet.ErrWalletAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newWalletRepo(t)
			tt.setupMock(mock)

			err := repo.Create(context.Background(), w)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWalletRepository_FindByID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("正常系: 取得成功", func(t *testing.T) {
		repo, mock := newWalletRepo(t)
		rows := sqlmock.NewRows(walletRowColumns).
			AddRow("wal_1", "user", "user123", int64(150), `{"tier":"pro"}`, now, now)
		mock.ExpectQuery(`FROM wallets WHERE id = \?`).WithArgs("wal_1").WillReturnRows(rows)

		w, err := repo.FindByID(context.Background(), "wal_1")
		require.NoError(t, err)
		assert.Equal(t, "wal_1", w.ID())
		assert.Equal(t, wallet.Owner{Kind: "user", ID: "user123"}, w.Owner())
		assert.Equal(t, int64(150), w.Balance())
		assert.Equal(t, "pro", w.Metadata()["tier"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("異常系: 見つからない", func(t *testing.T) {
		repo, mock := newWalletRepo(t)
		mock.ExpectQuery(`FROM wallets WHERE id = \?`).WithArgs("wal_x").WillReturnRows(sqlmock.NewRows(walletRowColumns))

		_, err := repo.FindByID(context.Background(), "wal_x")
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("異常系: DBエラー", func(t *testing.T) {
		repo, mock := newWalletRepo(t)
		mock.ExpectQuery(`FROM wallets WHERE id = \?`).WillReturnError(errors.New("connection lost"))

		_, err := repo.FindByID(context.Background(), "wal_1")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_FindByOwner(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo, mock := newWalletRepo(t)

	rows := sqlmock.NewRows(walletRowColumns).AddRow("wal_1", "team", "t-1", int64(0), nil, now, now)
	mock.ExpectQuery(`FROM wallets WHERE owner_type = \? AND owner_id = \?`).
		WithArgs("team", "t-1").
		WillReturnRows(rows)

	w, err := repo.FindByOwner(context.Background(), wallet.Owner{Kind: "team", ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "wal_1", w.ID())
	assert.Empty(t, w.Metadata())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_LockByID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("正常系: 行ロック取得", func(t *testing.T) {
		repo, mock := newWalletRepo(t)
		rows := sqlmock.NewRows(walletRowColumns).AddRow("wal_1", "user", "u", int64(10), nil, now, now)
		mock.ExpectQuery(`FROM wallets WHERE id = \? FOR UPDATE`).WithArgs("wal_1").WillReturnRows(rows)

		w, err := repo.LockByID(context.Background(), "wal_1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), w.Balance())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("異常系: ロック待ちタイムアウトはリトライ可能", func(t *testing.T) {
		repo, mock := newWalletRepo(t)
		mock.ExpectQuery(`FROM wallets WHERE id = \? FOR UPDATE`).
			WillReturnError(&driver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})

		_, err := repo.LockByID(context.Background(), "wal_1")
		assert.ErrorIs(t, err, credit.ErrConcurrency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_UpdateBalance(t *testing.T) {
	w := wallet.MustNewWallet("user", "user123")
	w.SetBalance(42, time.Now())

	t.Run("正常系: 更新成功", func(t *testing.T) {
		repo, mock := newWalletRepo(t)
		mock.ExpectExec("UPDATE wallets SET balance").
			WithArgs(int64(42), sqlmock.AnyArg(), w.ID()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateBalance(context.Background(), w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("異常系: デッドロックはリトライ可能", func(t *testing.T) {
		repo, mock := newWalletRepo(t)
		mock.ExpectExec("UPDATE wallets SET balance").
			WillReturnError(&driver.MySQLError{Number: 1213, Message: "Deadlock found"})

		assert.ErrorIs(t, repo.UpdateBalance(context.Background(), w), credit.ErrConcurrency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
