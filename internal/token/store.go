// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package token

import (
	"context"
	"time"
)

// UseRecord is the reuse-detection bookkeeping for one refresh token.
type UseRecord struct {
	// Used reports whether the token had been presented before this call.
	Used bool
	// FirstUsedAt is when the token was first presented, zero when !Used.
	FirstUsedAt time.Time
	// Count is how many times the token has been presented, this call
	// included.
	Count int64
}

// Store is the volatile backend for token families, reuse markers, rotation
// rate counters, and the per-user issued-token index.
type Store interface {

	/*
		CreateFamily persists a new family record.

		Parameters:
		  - ctx: context.Context
		  - family: *Family (Version initialized by the store)
		  - ttl: family lifetime, matching the refresh-token expiry

		Returns:
		  - error: storage failure
	*/
	CreateFamily(ctx context.Context, family *Family, ttl time.Duration) error

	/*
		GetFamily returns the family record.

		Returns:
		  - *Family: hydrated record
		  - error: apperr.NotFound when absent or expired, storage failures
	*/
	GetFamily(ctx context.Context, familyID string) (*Family, error)

	/*
		UpdateFamilyCAS replaces the family record iff the stored version
		still equals family.Version, then increments the version.

		Returns:
		  - error: apperr.Conflict on version mismatch, storage failures
	*/
	UpdateFamilyCAS(ctx context.Context, family *Family, ttl time.Duration) error

	/*
		UserFamilies lists the family IDs created for a user.

		Returns:
		  - []string: family IDs, order unspecified
		  - error: storage failure
	*/
	UserFamilies(ctx context.Context, userID string) ([]string, error)

	/*
		MarkRefreshUsed stamps a refresh token as presented and reports its
		prior usage.

		Description: The marker lives as long as the family so a replay
		anywhere within the refresh window is observable. The usage counter
		feeds incident escalation.

		Parameters:
		  - ctx: context.Context
		  - tokenHash: SHA-256 of the raw token string
		  - at: presentation instant
		  - ttl: marker lifetime

		Returns:
		  - UseRecord: prior usage of this token
		  - error: storage failure
	*/
	MarkRefreshUsed(ctx context.Context, tokenHash string, at time.Time, ttl time.Duration) (UseRecord, error)

	/*
		ClearRefreshUsed removes a reuse marker.

		Description: Compensates a marker written for a rotation that was
		denied after marking, so a later retry of the same token is not
		mistaken for a replay.

		Parameters:
		  - ctx: context.Context
		  - tokenHash: SHA-256 of the raw token string

		Returns:
		  - error: storage failure
	*/
	ClearRefreshUsed(ctx context.Context, tokenHash string) error

	/*
		IncrRotationRate bumps the user's rotation counter for the sliding
		one-hour window and returns the new count.

		Parameters:
		  - ctx: context.Context
		  - userID: string
		  - hour: bucket instant, truncated to the hour by the store

		Returns:
		  - int64: rotations in the current window, this one included
		  - error: storage failure
	*/
	IncrRotationRate(ctx context.Context, userID string, hour time.Time) (int64, error)

	/*
		RegisterIssued adds a jti to the user's live-token index, prunes
		expired members, and returns the live count including the new token.

		Parameters:
		  - ctx: context.Context
		  - userID: string
		  - jti: string
		  - expiresAt: the token's exp
		  - now: pruning cutoff

		Returns:
		  - int64: live tokens after insertion
		  - error: storage failure
	*/
	RegisterIssued(ctx context.Context, userID, jti string, expiresAt, now time.Time) (int64, error)

	/*
		ReleaseIssued removes a jti from the user's live-token index, freeing
		capacity under the concurrent-token cap.
	*/
	ReleaseIssued(ctx context.Context, userID, jti string) error

	/*
		Ping verifies connectivity to the backend.
	*/
	Ping(ctx context.Context) error
}
