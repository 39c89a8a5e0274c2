package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/okhvat/account-sessions/internal/model"
	"github.com/okhvat/account-sessions/internal/queue"
	"github.com/okhvat/account-sessions/internal/utils"
)

// AccountStore is the durable-store side of the account guard. The engine
// never caches its answers; every validation re-reads current truth.
type AccountStore interface {
	// Get returns the account or ErrAccountNotFound.
	Get(ctx context.Context, id uint64) (model.Account, error)
	// Block sets the block state and bumps updated_at.
	Block(ctx context.Context, id uint64, reason string, at time.Time) error
	// Unblock clears the block state; applied is false when the account
	// was not blocked to begin with.
	Unblock(ctx context.Context, id uint64, at time.Time) (applied bool, err error)
}

// TokenStore is the durable-store side of the revocation ledger and the
// account↔token association index.
type TokenStore interface {
	// Insert records a freshly issued, not-revoked token and links it to
	// its owning account in one transaction. Returns the new token id.
	Insert(ctx context.Context, tok model.RefreshToken, accountID uint64) (uint64, error)
	// GetByHash resolves a fingerprint to the token row joined with its
	// owner, or ErrTokenNotFound.
	GetByHash(ctx context.Context, hash string) (model.RefreshToken, error)
	// GetByID returns the token row or ErrUnknownToken.
	GetByID(ctx context.Context, id uint64) (model.RefreshToken, error)
	// Revoke marks the token revoked iff it is not already (compare-and-set
	// on revoked=0). applied is false when another writer got there first.
	Revoke(ctx context.Context, id uint64, reason model.RevocationReason, at time.Time) (applied bool, err error)
	// Rotate revokes the old token and inserts its replacement in one
	// transaction. applied is false when the old token was already revoked,
	// in which case nothing is written.
	Rotate(ctx context.Context, oldID uint64, at time.Time, newTok model.RefreshToken, accountID uint64) (newID uint64, applied bool, err error)
	// RevokeAllForAccount revokes every still-live token of the account
	// and reports how many rows changed. Touching zero rows is success.
	RevokeAllForAccount(ctx context.Context, accountID uint64, reason model.RevocationReason, at time.Time) (int64, error)
}

// AuditSink receives lifecycle audit events. queue.Publisher satisfies it.
type AuditSink interface {
	Publish(ctx context.Context, ev queue.AuditEvent) error
}

// Clock supplies the engine's notion of now. Injected so expiry and
// revocation-date decisions are testable without sleeping.
type Clock func() time.Time

// IssuedToken is the result of Issue and Rotate. Raw is observable here
// exactly once; only the fingerprint survives in the store.
type IssuedToken struct {
	ID         uint64
	Raw        string
	IssuedAt   time.Time
	ValidUntil time.Time
}

// Engine orchestrates the refresh-token lifecycle. Engine instances are
// stateless; all mutable state lives in the stores, so any number of
// instances can serve concurrent callers against one database.
type Engine struct {
	accounts AccountStore
	tokens   TokenStore
	ttl      time.Duration
	now      Clock
	entropy  io.Reader
	backoff  time.Duration
	audit    AuditSink
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the engine clock.
func WithClock(c Clock) Option { return func(e *Engine) { e.now = c } }

// WithEntropy replaces the randomness source used to mint tokens.
func WithEntropy(r io.Reader) Option { return func(e *Engine) { e.entropy = r } }

// WithAudit sets the audit sink. Publishing is best effort; failures are
// logged and never fail the operation that triggered them.
func WithAudit(s AuditSink) Option { return func(e *Engine) { e.audit = s } }

// WithRetryBackoff sets the pause before the single retry of read-only
// store lookups.
func WithRetryBackoff(d time.Duration) Option { return func(e *Engine) { e.backoff = d } }

// NewEngine builds an engine issuing tokens valid for ttl.
func NewEngine(accounts AccountStore, tokens TokenStore, ttl time.Duration, opts ...Option) (*Engine, error) {
	if ttl <= 0 {
		return nil, ErrInvalidWindow
	}
	e := &Engine{
		accounts: accounts,
		tokens:   tokens,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		entropy:  rand.Reader,
		backoff:  100 * time.Millisecond,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// storeErr folds unclassified store failures into ErrStoreUnavailable so
// callers see the taxonomy, not driver internals.
func storeErr(err error) error {
	if err == nil || expected(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Issue mints a refresh token for the account, records it as not revoked
// and links it to the account. Fails with ErrAccountBlocked for blocked
// accounts. The returned raw token is unrecoverable after this call.
func (e *Engine) Issue(ctx context.Context, accountID uint64) (IssuedToken, error) {
	acct, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return IssuedToken{}, storeErr(err)
	}
	if acct.Block.Active() {
		return IssuedToken{}, ErrAccountBlocked
	}

	raw, err := utils.NewRefreshSecret(e.entropy)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	now := e.now()
	tok := model.RefreshToken{
		Hash:         utils.FingerprintRefresh(raw),
		IssuanceDate: now,
		ValidUntil:   now.Add(e.ttl),
	}
	id, err := e.tokens.Insert(ctx, tok, accountID)
	if err != nil {
		return IssuedToken{}, storeErr(err)
	}

	e.emit(queue.AuditEvent{
		Kind:      queue.EventTokenIssued,
		AccountID: accountID,
		TokenID:   id,
		At:        now.Format(time.RFC3339),
	})
	return IssuedToken{ID: id, Raw: raw, IssuedAt: now, ValidUntil: tok.ValidUntil}, nil
}

// Validate checks a presented raw token and returns the owning account.
// The account-blocked check runs even for otherwise-valid tokens, so
// blocking an account invalidates its sessions without touching token
// rows. Store lookups are retried once with backoff; Validate mutates
// nothing, so the retry cannot double-apply anything.
func (e *Engine) Validate(ctx context.Context, raw string) (model.Account, error) {
	return e.validate(ctx, raw, true)
}

func (e *Engine) validate(ctx context.Context, raw string, retry bool) (model.Account, error) {
	tok, err := e.lookupByHash(ctx, utils.FingerprintRefresh(raw), retry)
	if err != nil {
		return model.Account{}, err
	}
	if !tok.ValidAt(e.now()) {
		return model.Account{}, ErrTokenExpiredOrRevoked
	}
	acct, err := e.lookupAccount(ctx, tok.AccountID, retry)
	if err != nil {
		return model.Account{}, err
	}
	if acct.Block.Active() {
		return model.Account{}, ErrAccountBlocked
	}
	return acct, nil
}

// validateToken resolves raw to its still-valid token row without the
// account join, for flows that need the token id (rotation, logout).
func (e *Engine) validateToken(ctx context.Context, raw string, retry bool) (model.RefreshToken, error) {
	tok, err := e.lookupByHash(ctx, utils.FingerprintRefresh(raw), retry)
	if err != nil {
		return model.RefreshToken{}, err
	}
	if !tok.ValidAt(e.now()) {
		return model.RefreshToken{}, ErrTokenExpiredOrRevoked
	}
	return tok, nil
}

func (e *Engine) lookupByHash(ctx context.Context, hash string, retry bool) (model.RefreshToken, error) {
	tok, err := e.tokens.GetByHash(ctx, hash)
	if err = storeErr(err); err != nil {
		if retry && errors.Is(err, ErrStoreUnavailable) {
			time.Sleep(e.backoff)
			tok, err = e.tokens.GetByHash(ctx, hash)
			err = storeErr(err)
		}
		if err != nil {
			return model.RefreshToken{}, err
		}
	}
	return tok, nil
}

func (e *Engine) lookupAccount(ctx context.Context, id uint64, retry bool) (model.Account, error) {
	acct, err := e.accounts.Get(ctx, id)
	if err = storeErr(err); err != nil {
		if retry && errors.Is(err, ErrStoreUnavailable) {
			time.Sleep(e.backoff)
			acct, err = e.accounts.Get(ctx, id)
			err = storeErr(err)
		}
		if err != nil {
			return model.Account{}, err
		}
	}
	return acct, nil
}

// Rotate exchanges a valid refresh token for a fresh one. The revoke of
// the presented token (reason=rotated) and the insert of its replacement
// commit as one unit; a concurrent Rotate racing on the same token
// observes the first revocation and fails ErrTokenExpiredOrRevoked, so a
// stolen token replayed after its first legitimate use is dead. Rotate is
// a mutating operation and is never silently retried.
func (e *Engine) Rotate(ctx context.Context, raw string) (IssuedToken, model.Account, error) {
	tok, err := e.validateToken(ctx, raw, false)
	if err != nil {
		return IssuedToken{}, model.Account{}, err
	}
	acct, err := e.lookupAccount(ctx, tok.AccountID, false)
	if err != nil {
		return IssuedToken{}, model.Account{}, err
	}
	if acct.Block.Active() {
		return IssuedToken{}, model.Account{}, ErrAccountBlocked
	}

	newRaw, err := utils.NewRefreshSecret(e.entropy)
	if err != nil {
		return IssuedToken{}, model.Account{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	now := e.now()
	newTok := model.RefreshToken{
		Hash:         utils.FingerprintRefresh(newRaw),
		IssuanceDate: now,
		ValidUntil:   now.Add(e.ttl),
	}
	newID, applied, err := e.tokens.Rotate(ctx, tok.ID, now, newTok, acct.ID)
	if err != nil {
		return IssuedToken{}, model.Account{}, storeErr(err)
	}
	if !applied {
		// Lost the race: another caller already revoked or rotated it.
		return IssuedToken{}, model.Account{}, ErrTokenExpiredOrRevoked
	}

	e.emit(queue.AuditEvent{
		Kind:      queue.EventTokenRotated,
		AccountID: acct.ID,
		TokenID:   tok.ID,
		Reason:    string(model.RevocationRotated),
		At:        now.Format(time.RFC3339),
	})
	return IssuedToken{ID: newID, Raw: newRaw, IssuedAt: now, ValidUntil: newTok.ValidUntil}, acct, nil
}

// RevokeOne terminally revokes a single token by id. Re-revoking with the
// reason already recorded is a no-op; a different reason fails
// ErrAlreadyRevoked. Revocation never un-happens.
func (e *Engine) RevokeOne(ctx context.Context, tokenID uint64, reason model.RevocationReason) error {
	tok, err := e.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return storeErr(err)
	}
	if tok.Revocation.Revoked() {
		if tok.Revocation.Reason == reason {
			return nil
		}
		return ErrAlreadyRevoked
	}
	at := e.now()
	if at.Before(tok.IssuanceDate) {
		return ErrInvalidWindow
	}
	applied, err := e.tokens.Revoke(ctx, tokenID, reason, at)
	if err != nil {
		return storeErr(err)
	}
	if !applied {
		// Raced with another revoker; re-read to compare reasons.
		tok, err = e.tokens.GetByID(ctx, tokenID)
		if err != nil {
			return storeErr(err)
		}
		if tok.Revocation.Reason == reason {
			return nil
		}
		return ErrAlreadyRevoked
	}

	e.emit(queue.AuditEvent{
		Kind:      queue.EventTokenRevoked,
		AccountID: tok.AccountID,
		TokenID:   tokenID,
		Reason:    string(reason),
		At:        at.Format(time.RFC3339),
	})
	return nil
}

// Logout resolves a presented raw token and revokes that single session
// with reason=logout.
func (e *Engine) Logout(ctx context.Context, raw string) error {
	tok, err := e.validateToken(ctx, raw, false)
	if err != nil {
		return err
	}
	return e.RevokeOne(ctx, tok.ID, model.RevocationLogout)
}

// RevokeAll revokes every still-live token of the account with the given
// reason. The compare-and-set batch skips already-revoked rows, so the
// operation is idempotent and safe to resume after a crash: a second call
// reports success having changed nothing.
func (e *Engine) RevokeAll(ctx context.Context, accountID uint64, reason model.RevocationReason) error {
	if _, err := e.accounts.Get(ctx, accountID); err != nil {
		return storeErr(err)
	}
	at := e.now()
	n, err := e.tokens.RevokeAllForAccount(ctx, accountID, reason, at)
	if err != nil {
		return storeErr(err)
	}

	e.emit(queue.AuditEvent{
		Kind:      queue.EventTokensRevokedAll,
		AccountID: accountID,
		Reason:    string(reason),
		Count:     n,
		At:        at.Format(time.RFC3339),
	})
	return nil
}

// Block deactivates the account. Outstanding tokens are left untouched;
// Validate consults the guard on every call, so blocking takes effect on
// the very next request.
func (e *Engine) Block(ctx context.Context, accountID uint64, reason string) error {
	acct, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	at := e.now()
	if at.Before(acct.CreatedAt) {
		return ErrInvalidBlockDate
	}
	if err := e.accounts.Block(ctx, accountID, reason, at); err != nil {
		return storeErr(err)
	}

	e.emit(queue.AuditEvent{
		Kind:      queue.EventAccountBlocked,
		AccountID: accountID,
		Reason:    reason,
		At:        at.Format(time.RFC3339),
	})
	return nil
}

// Unblock clears the account's block state atomically. A no-op when the
// account is not blocked.
func (e *Engine) Unblock(ctx context.Context, accountID uint64) error {
	if _, err := e.accounts.Get(ctx, accountID); err != nil {
		return storeErr(err)
	}
	at := e.now()
	applied, err := e.accounts.Unblock(ctx, accountID, at)
	if err != nil {
		return storeErr(err)
	}
	if applied {
		e.emit(queue.AuditEvent{
			Kind:      queue.EventAccountUnblocked,
			AccountID: accountID,
			At:        at.Format(time.RFC3339),
		})
	}
	return nil
}

func (e *Engine) emit(ev queue.AuditEvent) {
	if e.audit == nil {
		return
	}
	// Detached context: an abandoned request must not lose its audit line.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.audit.Publish(ctx, ev); err != nil {
		log.Printf("auth: publish audit event %s failed: %v", ev.Kind, err)
	}
}
