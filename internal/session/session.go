// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package session manages authenticated sessions across two backends.

PostgreSQL is the store of record: every session exists there, and writes
that fail there fail the operation. Redis is the fast path: reads try it
first and fall back to PostgreSQL, writes to it are best-effort because a
session that only misses the cache is still a session.

Expiry is sliding: validation pushes the deadline forward by the configured
lifetime, so a session dies only after sustained inactivity. Expiry checks
tolerate a bounded clock skew between nodes.
*/
package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Protocol records which transport the session serves.
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolBoth      Protocol = "both"
)

// AuthMethod records how the principal authenticated.
type AuthMethod string

const (
	MethodJWT       AuthMethod = "jwt"
	MethodAPIKey    AuthMethod = "api_key"
	MethodSession   AuthMethod = "session"
	MethodAnonymous AuthMethod = "anonymous"
)

// Record is one authenticated session.
type Record struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Status    Status            `json:"status"`
	Protocol  Protocol          `json:"protocol"`
	Method    AuthMethod        `json:"auth_method"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// ExpiredAt reports whether the session's deadline has passed, allowing the
// given clock-skew tolerance. A session exactly at its deadline is expired.
func (r *Record) ExpiredAt(now time.Time, leeway time.Duration) bool {
	return !now.Before(r.ExpiresAt.Add(leeway))
}

// Usable reports whether the session may authenticate requests at now.
func (r *Record) Usable(now time.Time, leeway time.Duration) bool {
	return r.Status == StatusActive && r.RevokedAt == nil && !r.ExpiredAt(now, leeway)
}
