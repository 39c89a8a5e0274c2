package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema DDL for the three tables. The CHECK constraints restate the
// model invariants at the storage boundary as a second line of defense
// beneath the engine's own validation: block fields set iff blocked,
// revocation fields set iff revoked, and both windows ordered.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		alias         VARCHAR(127) NOT NULL,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role          VARCHAR(16)  NOT NULL DEFAULT 'USER',
		created_at    DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at    DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		blocked       TINYINT(1)   NOT NULL DEFAULT 0,
		block_date    DATETIME(6)  NULL,
		block_reason  VARCHAR(255) NULL,
		UNIQUE KEY uq_accounts_alias (alias),
		UNIQUE KEY uq_accounts_email (email),
		CONSTRAINT chk_accounts_block_pair CHECK (
			(blocked = 1 AND block_date IS NOT NULL AND block_reason IS NOT NULL)
			OR (blocked = 0 AND block_date IS NULL AND block_reason IS NULL)
		),
		CONSTRAINT chk_accounts_block_date CHECK (block_date IS NULL OR block_date >= created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id              BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		hash            VARCHAR(127) NOT NULL,
		issuance_date   DATETIME(6)  NOT NULL,
		valid_until     DATETIME(6)  NOT NULL,
		revoked         TINYINT(1)   NOT NULL DEFAULT 0,
		revocation      ENUM('manual','logout','rotated') NULL,
		revocation_date DATETIME(6)  NULL,
		UNIQUE KEY uq_refresh_tokens_hash (hash),
		CONSTRAINT chk_tokens_window CHECK (valid_until >= issuance_date),
		CONSTRAINT chk_tokens_revocation_pair CHECK (
			(revoked = 1 AND revocation IS NOT NULL AND revocation_date IS NOT NULL)
			OR (revoked = 0 AND revocation IS NULL AND revocation_date IS NULL)
		),
		CONSTRAINT chk_tokens_revocation_date CHECK (revocation_date IS NULL OR revocation_date >= issuance_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS accounts_refresh_tokens (
		account_id       BIGINT UNSIGNED NOT NULL,
		refresh_token_id BIGINT UNSIGNED NOT NULL,
		PRIMARY KEY (account_id, refresh_token_id),
		CONSTRAINT fk_art_account FOREIGN KEY (account_id) REFERENCES accounts (id),
		CONSTRAINT fk_art_token   FOREIGN KEY (refresh_token_id) REFERENCES refresh_tokens (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the tables when they do not exist yet. Intended for
// startup; statements are individually idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
