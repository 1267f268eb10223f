// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package token

import "time"

// FamilyState is the lifecycle state of a refresh-token family.
type FamilyState string

const (
	// FamilyActive accepts rotations.
	FamilyActive FamilyState = "active"

	// FamilyInvalidated was terminated deliberately (logout, admin action).
	// Terminal.
	FamilyInvalidated FamilyState = "invalidated"

	// FamilyCompromised was terminated by reuse detection. Terminal.
	FamilyCompromised FamilyState = "compromised"
)

// Family is a lineage of refresh tokens linked by rotations.
//
// Exactly one refresh token is current within an active family; rotating it
// increments RotationCount and makes the new token current. Version guards
// concurrent rotations with optimistic concurrency.
type Family struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	SessionID     string            `json:"session_id,omitempty"`
	State         FamilyState       `json:"state"`
	CurrentJTI    string            `json:"current_jti"`
	RotationCount int               `json:"rotation_count"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	LastRotatedAt time.Time         `json:"last_rotated_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Active reports whether the family still accepts rotations.
func (f *Family) Active() bool { return f.State == FamilyActive }
