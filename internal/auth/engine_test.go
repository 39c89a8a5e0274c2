package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okhvat/account-sessions/internal/model"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testAccount(id uint64) model.Account {
	return model.Account{
		ID:        id,
		Alias:     "tester",
		Email:     "tester@example.com",
		Role:      model.RoleUser,
		CreatedAt: t0.Add(-30 * 24 * time.Hour),
		UpdatedAt: t0.Add(-30 * 24 * time.Hour),
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeAccounts, *fakeTokens, *fakeClock) {
	t.Helper()
	accounts := newFakeAccounts(testAccount(42))
	tokens := newFakeTokens()
	clk := &fakeClock{t: t0}
	opts = append([]Option{WithClock(clk.Now), WithRetryBackoff(time.Millisecond)}, opts...)
	eng, err := NewEngine(accounts, tokens, 24*time.Hour, opts...)
	require.NoError(t, err)
	return eng, accounts, tokens, clk
}

func TestIssueValidateRoundTrip(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Raw)
	assert.Equal(t, t0, issued.IssuedAt)
	assert.Equal(t, t0.Add(24*time.Hour), issued.ValidUntil)

	acct, err := eng.Validate(ctx, issued.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), acct.ID)
}

func TestIssueBlockedAccount(t *testing.T) {
	eng, accounts, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, accounts.Block(ctx, 42, "fraud", t0))

	_, err := eng.Issue(ctx, 42)
	assert.ErrorIs(t, err, ErrAccountBlocked)
}

func TestIssueUnknownAccount(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	_, err := eng.Issue(context.Background(), 999)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestValidateUnknownToken(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	_, err := eng.Validate(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

// The canonical lifecycle: issue at T=0 with a 24h window, validate at 1h,
// rotate at 2h, the old token is dead at 3h while the new one works.
func TestRotationLifecycle(t *testing.T) {
	eng, _, _, clk := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	clk.Set(t0.Add(1 * time.Hour))
	_, err = eng.Validate(ctx, issued.Raw)
	require.NoError(t, err)

	clk.Set(t0.Add(2 * time.Hour))
	rotated, acct, err := eng.Rotate(ctx, issued.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), acct.ID)
	assert.NotEqual(t, issued.Raw, rotated.Raw)

	clk.Set(t0.Add(3 * time.Hour))
	_, err = eng.Validate(ctx, issued.Raw)
	assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked)
	_, err = eng.Validate(ctx, rotated.Raw)
	assert.NoError(t, err)
}

// Expiry is a derived predicate: the failure writes nothing to the row.
func TestExpiryWithoutMutation(t *testing.T) {
	eng, _, tokens, clk := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	clk.Set(t0.Add(25 * time.Hour))
	_, err = eng.Validate(ctx, issued.Raw)
	assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked)

	row, err := tokens.GetByID(ctx, issued.ID)
	require.NoError(t, err)
	assert.False(t, row.Revocation.Revoked(), "expiry must not write a revocation")
}

// Blocking invalidates every session immediately without touching token
// rows; unblocking restores them.
func TestBlockUnblockGate(t *testing.T) {
	eng, _, tokens, clk := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	clk.Set(t0.Add(5 * time.Hour))
	require.NoError(t, eng.Block(ctx, 42, "fraud"))

	clk.Set(t0.Add(6 * time.Hour))
	_, err = eng.Validate(ctx, issued.Raw)
	assert.ErrorIs(t, err, ErrAccountBlocked)

	require.NoError(t, eng.Unblock(ctx, 42))
	clk.Set(t0.Add(7 * time.Hour))
	_, err = eng.Validate(ctx, issued.Raw)
	assert.NoError(t, err)

	row, err := tokens.GetByID(ctx, issued.ID)
	require.NoError(t, err)
	assert.False(t, row.Revocation.Revoked(), "block must not touch token rows")
}

func TestUnblockNoopWhenNotBlocked(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	assert.NoError(t, eng.Unblock(context.Background(), 42))
}

func TestBlockDateBeforeCreation(t *testing.T) {
	eng, _, _, clk := newTestEngine(t)
	clk.Set(t0.Add(-60 * 24 * time.Hour)) // before the account existed
	err := eng.Block(context.Background(), 42, "fraud")
	assert.ErrorIs(t, err, ErrInvalidBlockDate)
}

func TestRotateSingleUse(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	_, _, err = eng.Rotate(ctx, issued.Raw)
	require.NoError(t, err)

	_, _, err = eng.Rotate(ctx, issued.Raw)
	assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked)
}

// Two rotations racing on the same token: exactly one wins, the loser sees
// the winner's revocation instead of forking the session.
func TestRotateConcurrent(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = eng.Rotate(ctx, issued.Raw)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked)
		}
	}
	assert.Equal(t, 1, wins, "exactly one rotation may succeed")
}

func TestRevokeOneIdempotentSameReason(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, eng.RevokeOne(ctx, issued.ID, model.RevocationLogout))
	// Same reason again: the concurrent-logout case, not an error.
	assert.NoError(t, eng.RevokeOne(ctx, issued.ID, model.RevocationLogout))
	// Different reason: the ledger already says otherwise.
	assert.ErrorIs(t, eng.RevokeOne(ctx, issued.ID, model.RevocationManual), ErrAlreadyRevoked)
}

func TestRevokeOneUnknownID(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	err := eng.RevokeOne(context.Background(), 777, model.RevocationLogout)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestRevokeAllIdempotent(t *testing.T) {
	sink := &captureSink{}
	eng, _, tokens, _ := newTestEngine(t, WithAudit(sink))
	ctx := context.Background()

	var ids []uint64
	for i := 0; i < 3; i++ {
		issued, err := eng.Issue(ctx, 42)
		require.NoError(t, err)
		ids = append(ids, issued.ID)
	}

	require.NoError(t, eng.RevokeAll(ctx, 42, model.RevocationLogout))
	for _, id := range ids {
		row, err := tokens.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RevocationLogout, row.Revocation.Reason)
	}

	// Second call succeeds and changes nothing.
	require.NoError(t, eng.RevokeAll(ctx, 42, model.RevocationLogout))
	evs := sink.events
	last := evs[len(evs)-1]
	assert.Equal(t, int64(0), last.Count)
}

func TestLogoutRevokesSingleSession(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Issue(ctx, 42)
	require.NoError(t, err)
	second, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, eng.Logout(ctx, first.Raw))
	_, err = eng.Validate(ctx, first.Raw)
	assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked)
	_, err = eng.Validate(ctx, second.Raw)
	assert.NoError(t, err)
}

// Once invalid, never valid again: the ledger answer is monotonic.
func TestValidityMonotonic(t *testing.T) {
	eng, _, _, clk := newTestEngine(t)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, eng.RevokeOne(ctx, issued.ID, model.RevocationManual))

	for _, offset := range []time.Duration{0, time.Hour, 23 * time.Hour, 48 * time.Hour} {
		clk.Set(t0.Add(offset))
		_, err := eng.Validate(ctx, issued.Raw)
		assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked, "offset %s", offset)
	}
}

func TestValidateRetriesTransientFailure(t *testing.T) {
	accounts := newFakeAccounts(testAccount(42))
	tokens := newFakeTokens()
	flaky := &flakyTokens{fakeTokens: tokens}
	clk := &fakeClock{t: t0}
	eng, err := NewEngine(accounts, flaky, 24*time.Hour,
		WithClock(clk.Now), WithRetryBackoff(time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	flaky.failures = 1
	_, err = eng.Validate(ctx, issued.Raw)
	assert.NoError(t, err, "a single transient failure is retried")

	flaky.failures = 2
	_, err = eng.Validate(ctx, issued.Raw)
	assert.ErrorIs(t, err, ErrStoreUnavailable, "only one retry is allowed")
}

func TestRotateNeverRetries(t *testing.T) {
	accounts := newFakeAccounts(testAccount(42))
	tokens := newFakeTokens()
	flaky := &flakyTokens{fakeTokens: tokens}
	clk := &fakeClock{t: t0}
	eng, err := NewEngine(accounts, flaky, 24*time.Hour,
		WithClock(clk.Now), WithRetryBackoff(time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)

	flaky.failures = 1
	_, _, err = eng.Rotate(ctx, issued.Raw)
	assert.ErrorIs(t, err, ErrStoreUnavailable, "mutating operations must not retry")

	// The token is still live; the caller retries explicitly.
	_, _, err = eng.Rotate(ctx, issued.Raw)
	assert.NoError(t, err)
}

func TestIssueEntropyFailure(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, WithEntropy(failingReader{}))
	_, err := eng.Issue(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEntropyUnavailable)
}

func TestAuditTrail(t *testing.T) {
	sink := &captureSink{}
	eng, _, _, _ := newTestEngine(t, WithAudit(sink))
	ctx := context.Background()

	issued, err := eng.Issue(ctx, 42)
	require.NoError(t, err)
	_, _, err = eng.Rotate(ctx, issued.Raw)
	require.NoError(t, err)
	require.NoError(t, eng.Block(ctx, 42, "fraud"))
	require.NoError(t, eng.Unblock(ctx, 42))

	assert.Equal(t, []string{
		"token.issued", "token.rotated", "account.blocked", "account.unblocked",
	}, sink.kinds())
}

func TestNewEngineRejectsNonPositiveTTL(t *testing.T) {
	_, err := NewEngine(newFakeAccounts(), newFakeTokens(), 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, assert.AnError
}
