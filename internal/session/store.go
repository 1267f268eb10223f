// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package session

import (
	"context"
	"time"
)

// FastStore is the low-latency session cache. Losing it loses no data; the
// service treats every FastStore failure as a cache miss.
type FastStore interface {

	/*
		Put stores the record under its ID with the given TTL and indexes it
		by user.
	*/
	Put(ctx context.Context, rec *Record, ttl time.Duration) error

	/*
		Get returns the cached record.

		Returns:
		  - *Record: hydrated record
		  - error: apperr.NotFound on a miss, storage failures
	*/
	Get(ctx context.Context, id string) (*Record, error)

	/*
		Touch slides the session forward: updates the activity and expiry
		stamps and extends the key TTL.

		Returns:
		  - error: apperr.NotFound when the entry is gone, storage failures
	*/
	Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time, ttl time.Duration) error

	/*
		Delete removes the record and its user-index membership.
	*/
	Delete(ctx context.Context, id, userID string) error

	/*
		DeleteUser removes every cached session of the user.

		Returns:
		  - int: entries removed
		  - error: storage failure
	*/
	DeleteUser(ctx context.Context, userID string) (int, error)

	/*
		Ping verifies connectivity.
	*/
	Ping(ctx context.Context) error
}

// DurableStore is the session store of record. Every lifecycle transition
// must land here before the operation reports success.
type DurableStore interface {

	/*
		Insert persists a new session row.

		Returns:
		  - error: apperr.Conflict on duplicate ID, storage failures
	*/
	Insert(ctx context.Context, rec *Record) error

	/*
		Find returns the session row.

		Returns:
		  - *Record: hydrated record
		  - error: apperr.NotFound when absent, storage failures
	*/
	Find(ctx context.Context, id string) (*Record, error)

	/*
		Touch updates the activity and expiry stamps of an active session.

		Returns:
		  - error: apperr.NotFound when the session is absent or no longer
		    active, storage failures
	*/
	Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error

	/*
		MarkRevoked transitions the session to revoked.

		Returns:
		  - error: apperr.NotFound when absent or already terminated,
		    storage failures
	*/
	MarkRevoked(ctx context.Context, id string, at time.Time) error

	/*
		MarkRevokedByUser revokes every active session of the user.

		Returns:
		  - int: sessions transitioned by this call
		  - error: storage failure
	*/
	MarkRevokedByUser(ctx context.Context, userID string, at time.Time) (int, error)

	/*
		ListByUser returns the user's sessions, newest first. With activeOnly
		set, terminated and expired rows are filtered out.
	*/
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*Record, error)

	/*
		ReapExpired transitions rows whose deadline passed before cutoff to
		expired, at most limit per call.

		Returns:
		  - int: rows transitioned
		  - error: storage failure
	*/
	ReapExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)

	/*
		Ping verifies connectivity.
	*/
	Ping(ctx context.Context) error
}
