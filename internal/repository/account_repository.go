package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/okhvat/account-sessions/internal/auth"
	"github.com/okhvat/account-sessions/internal/model"
	"github.com/okhvat/account-sessions/internal/utils"
)

// AccountRepo persists account rows and their block state. It is the
// durable half of the account guard: no answer is cached, every call goes
// to the database.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountColumns = "id, alias, email, password_hash, role, created_at, updated_at, blocked, block_date, block_reason"

// Create inserts an account with a bcrypt-hashed password and returns its
// id. Alias and email are normalized before insert; unique-index
// collisions map to ErrAliasExists / ErrEmailExists.
func (r *AccountRepo) Create(ctx context.Context, alias, email, password string, cost int) (uint64, error) {
	alias = strings.TrimSpace(alias)
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO accounts (alias, email, password_hash, role) VALUES (?,?,?,?)",
		alias, email, hash, model.RoleUser)
	var dup *mysql.MySQLError
	if errors.As(err, &dup) && dup.Number == 1062 {
		if strings.Contains(dup.Message, "alias") {
			return 0, ErrAliasExists
		}
		return 0, ErrEmailExists
	}
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Get fetches an account by id.
func (r *AccountRepo) Get(ctx context.Context, id uint64) (model.Account, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id=? LIMIT 1", id))
}

// GetByAlias fetches an account by its unique alias.
func (r *AccountRepo) GetByAlias(ctx context.Context, alias string) (model.Account, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE alias=? LIMIT 1",
		strings.TrimSpace(alias)))
}

func (r *AccountRepo) scanOne(row *sql.Row) (model.Account, error) {
	var (
		a           model.Account
		blocked     bool
		blockDate   sql.NullTime
		blockReason sql.NullString
	)
	err := row.Scan(&a.ID, &a.Alias, &a.Email, &a.PasswordHash, &a.Role,
		&a.CreatedAt, &a.UpdatedAt, &blocked, &blockDate, &blockReason)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, auth.ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, err
	}
	if blocked && blockDate.Valid && blockReason.Valid {
		a.Block = model.Block{Reason: blockReason.String, At: blockDate.Time}
	}
	return a, nil
}

// Block marks the account blocked with the given reason and date and bumps
// updated_at. Re-blocking overwrites the previous block metadata.
func (r *AccountRepo) Block(ctx context.Context, id uint64, reason string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET blocked=1, block_date=?, block_reason=?, updated_at=? WHERE id=?",
		at, reason, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}

// Unblock clears blocked, block_date and block_reason in one statement so
// the "set together" invariant cannot be half-applied. applied is false
// when the account was not blocked.
func (r *AccountRepo) Unblock(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET blocked=0, block_date=NULL, block_reason=NULL, updated_at=? WHERE id=? AND blocked=1",
		at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsBlocked reports the current block state straight from the row.
func (r *AccountRepo) IsBlocked(ctx context.Context, id uint64) (bool, error) {
	var blocked bool
	err := r.DB.QueryRowContext(ctx,
		"SELECT blocked FROM accounts WHERE id=? LIMIT 1", id).Scan(&blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, auth.ErrAccountNotFound
	}
	return blocked, err
}
