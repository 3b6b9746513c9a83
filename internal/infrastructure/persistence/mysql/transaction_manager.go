package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

type txKey struct{}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// TransactionManager トランザクション管理を提供
type TransactionManager struct {
	db *DB
}

// NewTransactionManager 新しいトランザクションマネージャーを作成
func NewTransactionManager(db *DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// WithTransaction トランザクション内で関数を実行
//
// fn に渡す ctx にトランザクションを載せ、リポジトリは同じトランザクションに参加する。
// ctx が既にトランザクションを持つ場合はそれに合流し、コミットは外側に任せる。
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
			err = mapError(err)
		} else if cerr := tx.Commit(); cerr != nil {
			err = mapError(fmt.Errorf("failed to commit transaction: %w", cerr))
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	return err
}
