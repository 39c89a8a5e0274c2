package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okhvat/account-sessions/internal/model"
	"github.com/okhvat/account-sessions/internal/queue"
)

// In-memory store fakes mirroring the MySQL repositories: mutations guarded
// by a mutex, revocation compare-and-set on the live flag, rotation atomic
// under the same lock.

type fakeAccounts struct {
	mu   sync.Mutex
	rows map[uint64]model.Account
}

func newFakeAccounts(accts ...model.Account) *fakeAccounts {
	f := &fakeAccounts{rows: make(map[uint64]model.Account)}
	for _, a := range accts {
		f.rows[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) Get(_ context.Context, id uint64) (model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeAccounts) Block(_ context.Context, id uint64, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Block = model.Block{Reason: reason, At: at}
	a.UpdatedAt = at
	f.rows[id] = a
	return nil
}

func (f *fakeAccounts) Unblock(_ context.Context, id uint64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return false, ErrAccountNotFound
	}
	if !a.Block.Active() {
		return false, nil
	}
	a.Block = model.Block{}
	a.UpdatedAt = at
	f.rows[id] = a
	return true, nil
}

type fakeTokens struct {
	mu     sync.Mutex
	rows   map[uint64]model.RefreshToken
	byHash map[string]uint64
	nextID uint64
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{
		rows:   make(map[uint64]model.RefreshToken),
		byHash: make(map[string]uint64),
	}
}

func (f *fakeTokens) Insert(_ context.Context, tok model.RefreshToken, accountID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(tok, accountID)
}

func (f *fakeTokens) insertLocked(tok model.RefreshToken, accountID uint64) (uint64, error) {
	if tok.ValidUntil.Before(tok.IssuanceDate) {
		return 0, ErrInvalidWindow
	}
	f.nextID++
	tok.ID = f.nextID
	tok.AccountID = accountID
	f.rows[tok.ID] = tok
	f.byHash[tok.Hash] = tok.ID
	return tok.ID, nil
}

func (f *fakeTokens) GetByHash(_ context.Context, hash string) (model.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byHash[hash]
	if !ok {
		return model.RefreshToken{}, ErrTokenNotFound
	}
	return f.rows[id], nil
}

func (f *fakeTokens) GetByID(_ context.Context, id uint64) (model.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.rows[id]
	if !ok {
		return model.RefreshToken{}, ErrUnknownToken
	}
	return tok, nil
}

func (f *fakeTokens) Revoke(_ context.Context, id uint64, reason model.RevocationReason, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokeLocked(id, reason, at), nil
}

func (f *fakeTokens) revokeLocked(id uint64, reason model.RevocationReason, at time.Time) bool {
	tok, ok := f.rows[id]
	if !ok || tok.Revocation.Revoked() {
		return false
	}
	tok.Revocation = model.Revocation{Reason: reason, At: at}
	f.rows[id] = tok
	return true
}

func (f *fakeTokens) Rotate(_ context.Context, oldID uint64, at time.Time, newTok model.RefreshToken, accountID uint64) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.revokeLocked(oldID, model.RevocationRotated, at) {
		return 0, false, nil
	}
	newID, err := f.insertLocked(newTok, accountID)
	if err != nil {
		return 0, false, err
	}
	return newID, true, nil
}

func (f *fakeTokens) RevokeAllForAccount(_ context.Context, accountID uint64, reason model.RevocationReason, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, tok := range f.rows {
		if tok.AccountID == accountID && f.revokeLocked(id, reason, at) {
			n++
		}
	}
	return n, nil
}

// flakyTokens injects transient infrastructure failures in front of a real
// fake, one per configured failure.
type flakyTokens struct {
	*fakeTokens
	mu       sync.Mutex
	failures int
}

func (f *flakyTokens) takeFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return true
	}
	return false
}

func (f *flakyTokens) GetByHash(ctx context.Context, hash string) (model.RefreshToken, error) {
	if f.takeFailure() {
		return model.RefreshToken{}, errors.New("connection refused")
	}
	return f.fakeTokens.GetByHash(ctx, hash)
}

// fakeClock is a mutable clock for tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// captureSink records published audit events.
type captureSink struct {
	mu     sync.Mutex
	events []queue.AuditEvent
}

func (s *captureSink) Publish(_ context.Context, ev queue.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}
