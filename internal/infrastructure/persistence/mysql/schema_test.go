package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("正常系: 全テーブルを作成", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS wallets").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS credit_fulfillments").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS credit_transactions").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS credit_allocations").WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, Migrate(context.Background(), &DB{DB: sqlDB}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("異常系: 途中で失敗したら中断", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS wallets").WillReturnError(errors.New("access denied"))

		err = Migrate(context.Background(), &DB{DB: sqlDB})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
