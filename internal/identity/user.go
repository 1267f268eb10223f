// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package identity defines the user principals that every other authentication
component operates on.

It holds the core domain entities (User, APIKey) together with the storage
contracts for them. The package is deliberately a leaf: tokens, sessions, and
permissions all reference identities by ID, never the other way round.
*/
package identity

import "time"

// # Domain Entities

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusLocked    Status = "locked"
)

// User represents a registered principal of the Averden platform.
//
// Role membership is temporal: assignment, revocation, and expiry are
// recorded as timestamps so a role can be revoked (or lapse) without
// rewriting the account row.
type User struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"` // Explicitly omitted from JSON for security.
	DisplayName  string            `json:"display_name"`
	Status       Status            `json:"status"`
	RoleID       string            `json:"role_id"`
	RoleAssigned *time.Time        `json:"role_assigned_at,omitempty"`
	RoleRevoked  *time.Time        `json:"role_revoked_at,omitempty"`
	RoleExpires  *time.Time        `json:"role_expires_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// HasActiveRole reports whether the user's role grant is currently effective:
// never revoked, and either without expiry or expiring after now.
func (u *User) HasActiveRole(now time.Time) bool {
	if u.RoleID == "" || u.RoleRevoked != nil {
		return false
	}
	if u.RoleExpires != nil && !u.RoleExpires.After(now) {
		return false
	}
	return true
}

// CanAuthenticate reports whether the account may establish new credentials.
func (u *User) CanAuthenticate(now time.Time) bool {
	return u.Status == StatusActive && u.HasActiveRole(now)
}

// APIKey is a long-lived service credential tied to a user.
//
// Only the SHA-256 digest of the key material is ever stored; the raw key is
// shown exactly once at creation time.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Digest     string     `json:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Usable reports whether the key may still authenticate requests.
func (k *APIKey) Usable(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// # Field Identifiers

// Global field names for validation and identity mapping in the identity domain.
const (
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldDisplayName     = "display_name"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldRoleID          = "role_id"
	FieldUserID          = "user_id"
	FieldKeyName         = "name"
)
