package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credit-server/internal/domain/allocation"
)

func newAllocationRepo(t *testing.T) (*AllocationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &AllocationRepository{db: &DB{DB: db}, tracer: otel.Tracer("test")}, mock
}

func TestAllocationRepository_SaveAll(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a1, err := allocation.NewAllocation("ctx_debit", "ctx_a", 30, now)
	require.NoError(t, err)
	a2, err := allocation.NewAllocation("ctx_debit", "ctx_b", 20, now)
	require.NoError(t, err)

	t.Run("正常系: 複数行を一括挿入", func(t *testing.T) {
		repo, mock := newAllocationRepo(t)
		mock.ExpectExec(`INSERT INTO credit_allocations .* VALUES \(\?, \?, \?, \?, \?\), \(\?, \?, \?, \?, \?\)`).
			WithArgs(a1.ID(), "ctx_debit", "ctx_a", int64(30), now, a2.ID(), "ctx_debit", "ctx_b", int64(20), now).
			WillReturnResult(sqlmock.NewResult(0, 2))

		require.NoError(t, repo.SaveAll(context.Background(), []*allocation.Allocation{a1, a2}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("正常系: 空なら何もしない", func(t *testing.T) {
		repo, mock := newAllocationRepo(t)
		require.NoError(t, repo.SaveAll(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("異常系: DBエラー", func(t *testing.T) {
		repo, mock := newAllocationRepo(t)
		mock.ExpectExec("INSERT INTO credit_allocations").WillReturnError(errors.New("database error"))

		assert.Error(t, repo.SaveAll(context.Background(), []*allocation.Allocation{a1}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAllocationRepository_FindBucketsByWalletID(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	older := now.Add(-48 * time.Hour)
	expires := now.Add(24 * time.Hour)

	repo, mock := newAllocationRepo(t)
	rows := sqlmock.NewRows([]string{"id", "seq", "created_at", "expires_at", "amount", "remaining"}).
		AddRow("ctx_a", int64(1), older, nil, int64(100), int64(40)).
		AddRow("ctx_b", int64(2), now, expires, int64(50), int64(50))
	mock.ExpectQuery(`LEFT JOIN credit_allocations a ON a.source_transaction_id = t.id`).
		WithArgs("wal_1", now).
		WillReturnRows(rows)

	buckets, err := repo.FindBucketsByWalletID(context.Background(), "wal_1", now)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "ctx_a", buckets[0].TransactionID)
	assert.Equal(t, int64(40), buckets[0].Remaining)
	assert.Nil(t, buckets[0].ExpiresAt)
	require.NotNil(t, buckets[1].ExpiresAt)
	assert.True(t, expires.Equal(*buckets[1].ExpiresAt))
	assert.Equal(t, int64(90), allocation.Allocatable(buckets, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepository_FindDebtsByWalletID(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	repo, mock := newAllocationRepo(t)
	rows := sqlmock.NewRows([]string{"id", "seq", "created_at", "outstanding"}).
		AddRow("ctx_debit", int64(5), now, int64(25))
	mock.ExpectQuery(`LEFT JOIN credit_allocations a ON a.transaction_id = t.id`).
		WithArgs("wal_1").
		WillReturnRows(rows)

	debts, err := repo.FindDebtsByWalletID(context.Background(), "wal_1")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.Equal(t, allocation.Debt{TransactionID: "ctx_debit", Seq: 5, CreatedAt: now, Outstanding: 25}, debts[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepository_FindByTransactionID(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	columns := []string{"id", "transaction_id", "source_transaction_id", "amount", "created_at"}

	t.Run("正常系: 消費エントリ側から取得", func(t *testing.T) {
		repo, mock := newAllocationRepo(t)
		rows := sqlmock.NewRows(columns).
			AddRow("alc_1", "ctx_debit", "ctx_a", int64(30), now).
			AddRow("alc_2", "ctx_debit", "ctx_b", int64(20), now)
		mock.ExpectQuery(`FROM credit_allocations WHERE transaction_id = \?`).WithArgs("ctx_debit").WillReturnRows(rows)

		got, err := repo.FindByTransactionID(context.Background(), "ctx_debit")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(50), got[0].Amount()+got[1].Amount())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("正常系: 付与エントリ側から取得", func(t *testing.T) {
		repo, mock := newAllocationRepo(t)
		rows := sqlmock.NewRows(columns).AddRow("alc_1", "ctx_debit", "ctx_a", int64(30), now)
		mock.ExpectQuery(`FROM credit_allocations WHERE source_transaction_id = \?`).WithArgs("ctx_a").WillReturnRows(rows)

		got, err := repo.FindBySourceTransactionID(context.Background(), "ctx_a")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "ctx_debit", got[0].TransactionID())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
