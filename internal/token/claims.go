// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package token implements the credential lifecycle: issuance, verification,
refresh rotation with family tracking, and reuse detection.

Architecture:

  - Claims: typed access and refresh payloads over golang-jwt registered
    claims. The access token optionally embeds a permission snapshot.
  - Family: a lineage of refresh tokens linked by rotations. Replaying a
    refresh token that was already rotated away is treated as theft and
    tears the whole family down.
  - Service: composes the signers, the family store, the revocation index,
    and the identity store into the issue/verify/rotate operations.

The package owns signing material and token families; revocation records
belong to the revocation package.
*/
package token

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

// Token type discriminators carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims

	// Email mirrors the account email at issuance time.
	Email string `json:"email"`

	// RoleID is the subject's role at issuance time.
	RoleID string `json:"role"`

	// SessionID links the token to its owning session, empty for
	// sessionless issuance.
	SessionID string `json:"sid,omitempty"`

	// Permissions optionally snapshots the subject's unconditional permission
	// strings. Advisory only: the permission engine stays authoritative for
	// privileged calls, and role changes are reflected by revocation or
	// expiry, never by rewriting issued tokens.
	Permissions []string `json:"permissions,omitempty"`

	// TokenType is always "access".
	TokenType string `json:"type"`

	// ShouldRotate hints that the token has consumed most of its lifetime
	// and the client should refresh soon. Set during verification, never
	// signed into the token.
	ShouldRotate bool `json:"-"`
}

// ValidateShape checks that every required claim is present with the
// expected type. Signature and time validation happen in the signer; this
// guards against well-signed but malformed payloads.
func (c *AccessClaims) ValidateShape() error {
	switch {
	case c.TokenType != TypeAccess:
		return apperr.Unauthenticated("Invalid token type")
	case c.Subject == "":
		return apperr.Unauthenticated("Token subject is missing")
	case c.Email == "":
		return apperr.Unauthenticated("Token email is missing")
	case c.RoleID == "":
		return apperr.Unauthenticated("Token role is missing")
	case c.ID == "":
		return apperr.Unauthenticated("Token identifier is missing")
	case c.IssuedAt == nil || c.ExpiresAt == nil:
		return apperr.Unauthenticated("Token lifetime claims are missing")
	}
	return nil
}

// RefreshClaims is the payload of a refresh token. Opaque to clients; only
// the token service interprets it.
type RefreshClaims struct {
	jwt.RegisteredClaims

	// TokenType is always "refresh".
	TokenType string `json:"type"`

	// FamilyID links the token to its rotation lineage.
	FamilyID string `json:"fam"`
}

// ValidateShape checks that every required claim is present.
func (c *RefreshClaims) ValidateShape() error {
	switch {
	case c.TokenType != TypeRefresh:
		return apperr.Unauthenticated("Invalid token type")
	case c.Subject == "":
		return apperr.Unauthenticated("Token subject is missing")
	case c.ID == "":
		return apperr.Unauthenticated("Token identifier is missing")
	case c.FamilyID == "":
		return apperr.Unauthenticated("Token family is missing")
	case c.IssuedAt == nil || c.ExpiresAt == nil:
		return apperr.Unauthenticated("Token lifetime claims are missing")
	}
	return nil
}
