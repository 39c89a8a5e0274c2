// Package repository implements the durable store over MySQL: account rows,
// the refresh-token revocation ledger and the account↔token association
// index. The lifecycle taxonomy errors live in internal/auth; this file
// only adds sentinels for uniqueness conflicts surfaced at signup.
package repository

import "errors"

// ErrAliasExists is returned when an insert collides with the unique alias
// index. Handlers translate it into HTTP 409.
var ErrAliasExists = errors.New("alias already exists")

// ErrEmailExists is returned when an insert collides with the unique email
// index. Handlers translate it into HTTP 409.
var ErrEmailExists = errors.New("email already exists")
