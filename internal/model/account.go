package model

import "time"

// Account roles stored in the `role` column.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Block is the tagged block state of an account. The zero value means the
// account is not blocked; a non-empty Reason means it is, and At carries the
// block date. Keeping the pair in one value makes "set together" impossible
// to violate from Go code.
type Block struct {
	Reason string
	At     time.Time
}

// Active reports whether the account is currently blocked.
func (b Block) Active() bool { return b.Reason != "" }

// Account mirrors the `accounts` table.
//
// Fields:
//  ID           – primary key identifier, immutable once assigned.
//  Alias        – unique display handle, immutable.
//  Email        – unique email address.
//  PasswordHash – bcrypt hash; the plain password is never stored.
//  Role         – USER or ADMIN.
//  CreatedAt    – row creation time.
//  UpdatedAt    – bumped on every mutation, never before CreatedAt.
//  Block        – block state; zero value when the account is active.
type Account struct {
	ID           uint64
	Alias        string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Block        Block
}
