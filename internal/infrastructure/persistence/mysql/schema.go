package mysql

import (
	"context"
	"fmt"
)

// schema クレジット台帳のテーブル定義（依存順）
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		owner_type VARCHAR(64) NOT NULL,
		owner_id VARCHAR(255) NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		metadata JSON NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_wallets_owner (owner_type, owner_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS credit_fulfillments (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		wallet_id VARCHAR(64) NOT NULL,
		source_ref VARCHAR(255) NULL,
		fulfillment_type VARCHAR(32) NOT NULL,
		credits_last_fulfillment BIGINT NOT NULL DEFAULT 0,
		fulfillment_period_seconds BIGINT NULL,
		last_fulfilled_at DATETIME(6) NULL,
		next_fulfillment_at DATETIME(6) NULL,
		stops_at DATETIME(6) NULL,
		metadata JSON NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_fulfillments_due (next_fulfillment_at),
		UNIQUE KEY uq_fulfillments_source (fulfillment_type, source_ref),
		CONSTRAINT fk_fulfillments_wallet FOREIGN KEY (wallet_id) REFERENCES wallets (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL,
		wallet_id VARCHAR(64) NOT NULL,
		amount BIGINT NOT NULL,
		category VARCHAR(64) NOT NULL,
		expires_at DATETIME(6) NULL,
		fulfillment_id VARCHAR(64) NULL,
		source_ref VARCHAR(255) NULL,
		metadata JSON NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_transactions_id (id),
		UNIQUE KEY uq_transactions_source (wallet_id, category, source_ref),
		KEY idx_transactions_wallet (wallet_id, created_at, seq),
		KEY idx_transactions_expires (expires_at),
		CONSTRAINT fk_transactions_wallet FOREIGN KEY (wallet_id) REFERENCES wallets (id) ON DELETE CASCADE,
		CONSTRAINT fk_transactions_fulfillment FOREIGN KEY (fulfillment_id) REFERENCES credit_fulfillments (id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS credit_allocations (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		transaction_id VARCHAR(64) NOT NULL,
		source_transaction_id VARCHAR(64) NOT NULL,
		amount BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_allocations_transaction (transaction_id),
		KEY idx_allocations_source (source_transaction_id),
		CONSTRAINT fk_allocations_transaction FOREIGN KEY (transaction_id) REFERENCES credit_transactions (id) ON DELETE CASCADE,
		CONSTRAINT fk_allocations_source FOREIGN KEY (source_transaction_id) REFERENCES credit_transactions (id) ON DELETE CASCADE,
		CONSTRAINT chk_allocations_amount CHECK (amount > 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate テーブルを作成（既存テーブルはそのまま）
func Migrate(ctx context.Context, db *DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
