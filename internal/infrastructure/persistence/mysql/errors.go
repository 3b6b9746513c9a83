package mysql

import (
	"errors"
	"fmt"

	driver "github.com/go-sql-driver/mysql"

	"credit-server/internal/domain/credit"
)

// MySQLエラー番号
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// mapError ロック待ちタイムアウト・デッドロックをリトライ可能な並行性エラーに変換
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockWaitTimeout, errDeadlock:
			return fmt.Errorf("%w: %v", credit.ErrConcurrency, err)
		}
	}
	return err
}

// isDuplicateEntry 一意制約違反かどうか
func isDuplicateEntry(err error) bool {
	var myErr *driver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}
