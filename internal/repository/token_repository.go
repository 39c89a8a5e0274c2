package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/okhvat/account-sessions/internal/auth"
	"github.com/okhvat/account-sessions/internal/model"
)

// TokenRepo is the revocation ledger plus the account↔token association
// index. Revocation writes are compare-and-set on revoked=0 so a revoked
// row can never flip back and concurrent revokers serialize on the database
// instead of racing in process.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const tokenColumns = "t.id, t.hash, t.issuance_date, t.valid_until, t.revoked, t.revocation, t.revocation_date"

// Insert records a freshly issued token and its owning-account association
// in one transaction, enforcing the "exactly one owner at issuance"
// invariant. Returns the new token id.
func (r *TokenRepo) Insert(ctx context.Context, tok model.RefreshToken, accountID uint64) (uint64, error) {
	if tok.ValidUntil.Before(tok.IssuanceDate) {
		return 0, auth.ErrInvalidWindow
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertToken(ctx, tx, tok, accountID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func insertToken(ctx context.Context, tx *sql.Tx, tok model.RefreshToken, accountID uint64) (uint64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (hash, issuance_date, valid_until) VALUES (?,?,?)",
		tok.Hash, tok.IssuanceDate, tok.ValidUntil)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO accounts_refresh_tokens (account_id, refresh_token_id) VALUES (?,?)",
		accountID, id); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByHash resolves a fingerprint to the token row joined with its owner.
func (r *TokenRepo) GetByHash(ctx context.Context, hash string) (model.RefreshToken, error) {
	tok, err := r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+", a.account_id FROM refresh_tokens t "+
			"JOIN accounts_refresh_tokens a ON a.refresh_token_id = t.id "+
			"WHERE t.hash=? LIMIT 1", hash))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, auth.ErrTokenNotFound
	}
	return tok, err
}

// GetByID fetches a ledger entry by token id.
func (r *TokenRepo) GetByID(ctx context.Context, id uint64) (model.RefreshToken, error) {
	tok, err := r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+", a.account_id FROM refresh_tokens t "+
			"JOIN accounts_refresh_tokens a ON a.refresh_token_id = t.id "+
			"WHERE t.id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, auth.ErrUnknownToken
	}
	return tok, err
}

func (r *TokenRepo) scanOne(row *sql.Row) (model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		revoked   bool
		reason    sql.NullString
		revokedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Hash, &t.IssuanceDate, &t.ValidUntil,
		&revoked, &reason, &revokedAt, &t.AccountID)
	if err != nil {
		return model.RefreshToken{}, err
	}
	if revoked && reason.Valid && revokedAt.Valid {
		t.Revocation = model.Revocation{
			Reason: model.RevocationReason(reason.String),
			At:     revokedAt.Time,
		}
	}
	return t, nil
}

// Revoke marks a token revoked iff it is still live. The WHERE revoked=0
// guard makes revocation terminal: once set, no statement in this package
// ever writes those columns again.
func (r *TokenRepo) Revoke(ctx context.Context, id uint64, reason model.RevocationReason, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revocation=?, revocation_date=? WHERE id=? AND revoked=0",
		string(reason), at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Rotate revokes the old token (reason=rotated) and inserts its
// replacement in a single transaction. When the compare-and-set revoke
// touches zero rows another writer already killed the token; the
// transaction rolls back and applied is false, leaving no trace of the
// attempt.
func (r *TokenRepo) Rotate(ctx context.Context, oldID uint64, at time.Time, newTok model.RefreshToken, accountID uint64) (uint64, bool, error) {
	if newTok.ValidUntil.Before(newTok.IssuanceDate) {
		return 0, false, auth.ErrInvalidWindow
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revocation=?, revocation_date=? WHERE id=? AND revoked=0",
		string(model.RevocationRotated), at, oldID)
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}

	newID, err := insertToken(ctx, tx, newTok, accountID)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return newID, true, nil
}

// RevokeAllForAccount revokes every still-live token of the account. Rows
// already revoked are skipped, which makes the batch idempotent and safe
// to re-run after an interruption.
func (r *TokenRepo) RevokeAllForAccount(ctx context.Context, accountID uint64, reason model.RevocationReason, at time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens t "+
			"JOIN accounts_refresh_tokens a ON a.refresh_token_id = t.id "+
			"SET t.revoked=1, t.revocation=?, t.revocation_date=? "+
			"WHERE a.account_id=? AND t.revoked=0",
		string(reason), at, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
