// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package revocation

import (
	"context"
	"time"
)

// Lookup carries the result of a combined token + user revocation fetch.
type Lookup struct {
	Token *Record
	User  *UserRecord
}

// Store is the durable revocation backend. Implementations must make writes
// atomic and idempotent; the Index layer decides availability policy, the
// store only reports errors.
type Store interface {
	/*
	   PutToken records a single-token revocation.

	   Parameters:
	     - ctx: context for the operation
	     - rec: the revocation entry; JTI, UserID and Reason are required
	     - ttl: how long the entry must outlive the call

	   Returns:
	     - bool: true if the entry was created, false if the jti was already revoked
	     - error: storage failure
	*/
	PutToken(ctx context.Context, rec Record, ttl time.Duration) (bool, error)

	/*
	   PutUser records a user-wide revocation marker, replacing any earlier one.

	   Parameters:
	     - ctx: context for the operation
	     - rec: the marker; UserID and Reason are required

	   Returns:
	     - error: storage failure
	*/
	PutUser(ctx context.Context, rec UserRecord) error

	/*
	   Fetch retrieves the token entry for jti and the user-wide marker for
	   userID in a single round trip.

	   Returns:
	     - Lookup: either or both fields nil when no entry exists
	     - error: storage failure
	*/
	Fetch(ctx context.Context, jti, userID string) (Lookup, error)

	/*
	   UserTokens lists the jti values revoked individually for a user.

	   Returns:
	     - []string: revoked jtis, order unspecified
	     - error: storage failure
	*/
	UserTokens(ctx context.Context, userID string) ([]string, error)

	/*
	   CleanupExpired prunes audit partitions past their retention window and
	   membership entries whose token records have expired.

	   Returns:
	     - int: number of removed keys and members
	     - error: storage failure
	*/
	CleanupExpired(ctx context.Context) (int, error)

	/*
	   Ping verifies connectivity to the backend.
	*/
	Ping(ctx context.Context) error
}
