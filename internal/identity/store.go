// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package identity

import (
	"context"
	"time"
)

// # User Data Access

// Store defines the data access contract for user accounts.
type Store interface {

	/*
		FindByID returns the account with the given ID.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, id string) (*User, error)

	/*
		FindByEmail returns the account with the given (normalized) email.

		Parameters:
		  - context: context.Context
		  - email: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByEmail(context context.Context, email string) (*User, error)

	/*
		Create persists a brand-new user account to the storage.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: Persistence failures, including uniqueness conflicts
	*/
	Create(context context.Context, user *User) error

	/*
		UpdatePassword replaces only the user's password hash.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - newHash: string

		Returns:
		  - error: Persistence failures
	*/
	UpdatePassword(context context.Context, userID, newHash string) error

	/*
		UpdateStatus transitions the account lifecycle state.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - status: Status

		Returns:
		  - error: Persistence failures
	*/
	UpdateStatus(context context.Context, userID string, status Status) error

	/*
		AssignRole grants a role to the user, clearing any prior revocation.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - roleID: string
		  - at: time.Time (assignment instant)
		  - expiresAt: *time.Time (nil for an open-ended grant)

		Returns:
		  - error: Persistence failures
	*/
	AssignRole(context context.Context, userID, roleID string, at time.Time, expiresAt *time.Time) error

	/*
		RevokeRole stamps the user's current role grant as revoked.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - at: time.Time (revocation instant)

		Returns:
		  - error: Persistence failures
	*/
	RevokeRole(context context.Context, userID string, at time.Time) error
}

// # API Key Data Access

// APIKeyStore defines the data access contract for service credentials.
type APIKeyStore interface {

	/*
		Insert persists a freshly minted API key record.

		Parameters:
		  - context: context.Context
		  - key: *APIKey (Digest populated, raw material discarded)

		Returns:
		  - error: Persistence failures
	*/
	Insert(context context.Context, key *APIKey) error

	/*
		FindByDigest returns the key record matching a SHA-256 digest.

		Parameters:
		  - context: context.Context
		  - digest: string

		Returns:
		  - *APIKey: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByDigest(context context.Context, digest string) (*APIKey, error)

	/*
		ListByUser returns every key owned by the user, revoked ones included.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - []*APIKey: Hydrated entities
		  - error: Database retrieval failures
	*/
	ListByUser(context context.Context, userID string) ([]*APIKey, error)

	/*
		TouchUsage stamps the key's last successful authentication.

		Parameters:
		  - context: context.Context
		  - id: string
		  - at: time.Time

		Returns:
		  - error: Persistence failures
	*/
	TouchUsage(context context.Context, id string, at time.Time) error

	/*
		Revoke permanently disables the key.

		Parameters:
		  - context: context.Context
		  - id: string
		  - at: time.Time

		Returns:
		  - error: Persistence failures
	*/
	Revoke(context context.Context, id string, at time.Time) error
}
