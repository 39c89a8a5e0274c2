// Package queue defines audit payloads exchanged over the message broker.
package queue

// Audit event kinds published by the lifecycle engine.
const (
	EventTokenIssued      = "token.issued"
	EventTokenRotated     = "token.rotated"
	EventTokenRevoked     = "token.revoked"
	EventTokensRevokedAll = "tokens.revoked_all"
	EventAccountBlocked   = "account.blocked"
	EventAccountUnblocked = "account.unblocked"
)

// AuditEvent is published whenever a token changes state or an account's
// block state changes. It carries enough information for downstream
// consumers to build an audit trail without querying the primary database.
type AuditEvent struct {
	ID        string `json:"id"` // uuid, assigned by the publisher
	Kind      string `json:"kind"`
	AccountID uint64 `json:"account_id"`
	TokenID   uint64 `json:"token_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Count     int64  `json:"count,omitempty"` // tokens touched by a bulk revoke
	At        string `json:"at"`              // RFC 3339 UTC
}
