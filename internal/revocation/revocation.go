// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package revocation implements the distributed token blacklist.

It answers one question on the hot path ("is this token revoked?") and keeps
that answer cheap: an in-process LRU in front of Redis, a circuit breaker
around Redis, and an explicit availability policy when Redis is gone.

# Consistency

Revocation writes are synchronous and atomic (single pipeline). The local
cache of the writing node is invalidated in the same call; other nodes
converge within the negative-cache window.

# Availability

Reads fail OPEN by default: if the store is unreachable, tokens are treated
as not revoked and the event is logged and counted. Deployments that prefer
hard failure set REVOCATION_FAIL_CLOSED. Writes always fail hard.
*/
package revocation

import "time"

// Reason classifies why a credential was revoked.
type Reason string

const (
	ReasonUserLogout       Reason = "user_logout"
	ReasonAdminRevoked     Reason = "admin_revoked"
	ReasonSecurityBreach   Reason = "security_breach"
	ReasonPasswordChanged  Reason = "password_changed"
	ReasonAccountSuspended Reason = "account_suspended"
	ReasonTokenCompromised Reason = "token_compromised"
	ReasonSessionExpired   Reason = "session_expired"
	ReasonPolicyViolation  Reason = "policy_violation"
)

// Valid reports whether the reason is one of the defined values.
func (r Reason) Valid() bool {
	switch r {
	case ReasonUserLogout, ReasonAdminRevoked, ReasonSecurityBreach,
		ReasonPasswordChanged, ReasonAccountSuspended, ReasonTokenCompromised,
		ReasonSessionExpired, ReasonPolicyViolation:
		return true
	}
	return false
}

// Record is a single-token revocation entry, keyed by jti.
type Record struct {
	JTI       string            `json:"jti"`
	UserID    string            `json:"user_id"`
	Reason    Reason            `json:"reason"`
	RevokedAt time.Time         `json:"revoked_at"`
	RevokedBy string            `json:"revoked_by,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UserRecord is a user-wide revocation marker. Every token of the user issued
// at or before RevokedAt is considered revoked.
type UserRecord struct {
	UserID    string            `json:"user_id"`
	Reason    Reason            `json:"reason"`
	RevokedAt time.Time         `json:"revoked_at"`
	RevokedBy string            `json:"revoked_by,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// auditKind distinguishes audit trail entries.
type auditKind string

const (
	auditToken auditKind = "token"
	auditUser  auditKind = "user"
)

// auditEvent is one entry in the day-partitioned revocation audit trail.
type auditEvent struct {
	ID     string    `json:"id"`
	Kind   auditKind `json:"kind"`
	JTI    string    `json:"jti,omitempty"`
	UserID string    `json:"user_id"`
	Reason Reason    `json:"reason"`
	At     time.Time `json:"at"`
}
