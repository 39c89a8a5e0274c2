// Package auth implements the refresh-token lifecycle engine: issuance,
// validation, rotation and revocation of refresh tokens bound to accounts,
// plus the account blocking policy consulted on every validation.
package auth

import "errors"

// Sentinel errors returned by the engine and by store implementations.
// Handlers translate the first group into authentication failures (401/403)
// and must not log them as faults; the infrastructure group maps to 503.
var (
	// ErrAccountBlocked is returned when the owning account is blocked,
	// including for tokens whose own ledger state is still valid.
	ErrAccountBlocked = errors.New("account is blocked")

	// ErrAccountNotFound is returned when an account id does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTokenNotFound is returned when no token matches a presented
	// fingerprint.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenExpiredOrRevoked is returned for tokens past their validity
	// window or already revoked. The revocation reason is deliberately not
	// disclosed across this boundary.
	ErrTokenExpiredOrRevoked = errors.New("refresh token expired or revoked")

	// ErrUnknownToken is returned by ledger operations addressing a token
	// id that does not exist.
	ErrUnknownToken = errors.New("unknown refresh token id")

	// ErrAlreadyRevoked is returned when a revoked token is re-revoked
	// with a different reason. Re-revoking with the same reason is a no-op.
	ErrAlreadyRevoked = errors.New("token already revoked with a different reason")

	// ErrInvalidWindow indicates a validity window ending before issuance;
	// a caller or configuration bug, not retryable.
	ErrInvalidWindow = errors.New("validity window ends before issuance")

	// ErrInvalidBlockDate indicates a block date before the account's
	// creation; a caller or configuration bug, not retryable.
	ErrInvalidBlockDate = errors.New("block date precedes account creation")

	// ErrEntropyUnavailable is returned when the randomness source cannot
	// be read during token minting.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")

	// ErrStoreUnavailable wraps infrastructure failures of the durable
	// store. Validate retries it once; mutating operations never do.
	ErrStoreUnavailable = errors.New("durable store unavailable")
)

// expected reports whether err belongs to the lifecycle taxonomy, as
// opposed to an unclassified infrastructure failure.
func expected(err error) bool {
	for _, e := range []error{
		ErrAccountBlocked, ErrAccountNotFound, ErrTokenNotFound,
		ErrTokenExpiredOrRevoked, ErrUnknownToken, ErrAlreadyRevoked,
		ErrInvalidWindow, ErrInvalidBlockDate, ErrEntropyUnavailable,
		ErrStoreUnavailable,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
