package model

import "time"

// RevocationReason records why a refresh token stopped being usable before
// its natural expiry. Rotation gets its own reason instead of overloading
// "manual" so audit trails can tell a replaced token from an admin kill.
type RevocationReason string

const (
	RevocationManual  RevocationReason = "manual"
	RevocationLogout  RevocationReason = "logout"
	RevocationRotated RevocationReason = "rotated"
)

// Revocation is the tagged revocation state of a token. The zero value
// means the token has never been revoked; once Reason is set the state is
// terminal.
type Revocation struct {
	Reason RevocationReason
	At     time.Time
}

// Revoked reports whether the revocation took place.
func (r Revocation) Revoked() bool { return r.Reason != "" }

// RefreshToken mirrors the `refresh_tokens` table joined with its owning
// account association. Only the SHA-256 fingerprint of the raw token is
// stored; the raw value is handed to the client once at issuance.
//
// Fields:
//  ID           – primary key identifier.
//  Hash         – hex SHA-256 fingerprint of the raw token.
//  IssuanceDate – creation time.
//  ValidUntil   – expiry; always >= IssuanceDate.
//  Revocation   – terminal revocation state; zero value while live.
//  AccountID    – owning account, resolved through accounts_refresh_tokens.
type RefreshToken struct {
	ID           uint64
	Hash         string
	IssuanceDate time.Time
	ValidUntil   time.Time
	Revocation   Revocation
	AccountID    uint64
}

// ValidAt reports whether the token is usable at the given instant: not
// revoked and not past its expiry. Expiry is derived, never written back.
func (t RefreshToken) ValidAt(at time.Time) bool {
	return !t.Revocation.Revoked() && !at.After(t.ValidUntil)
}
