// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/dberr"
)

// # User Repository

// PostgresStore implements the [Store] interface using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL implementation of the [Store].
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

/*
Create persists a new user record into the auth.account table.

Description: Deep-persists account state, ensuring timestamps are initialized
if not provided. Duplicate emails surface as a Conflict.

Parameters:
  - context: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: apperr.Conflict on duplicate email, or connectivity errors
*/
func (repository *PostgresStore) Create(context context.Context, user *User) error {
	const query = `
		INSERT INTO auth.account (
			id, email, passwordhash, displayname, status, roleid,
			roleassignedat, rolerevokedat, roleexpiresat, metadata, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.Status,
		user.RoleID,
		user.RoleAssigned,
		user.RoleRevoked,
		user.RoleExpires,
		user.Metadata,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "identity_create")
	}

	return nil
}

/*
FindByEmail retrieves a user record by their unique email address.

Description: Performs a lookup on the account table. Callers must normalize
the address first; the column stores the canonical form.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresStore) FindByEmail(context context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, passwordhash, displayname, status, roleid,
		       roleassignedat, rolerevokedat, roleexpiresat, metadata, createdat, updatedat
		FROM auth.account
		WHERE email = $1`

	user := &User{}
	err := repository.pool.QueryRow(context, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Status,
		&user.RoleID,
		&user.RoleAssigned,
		&user.RoleRevoked,
		&user.RoleExpires,
		&user.Metadata,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_identity_find_by_email_failed: %w", err)
	}

	return user, nil
}

/*
FindByID retrieves a user record by their unique ID.

Description: Primary key resolution for user accounts.

Parameters:
  - context: context.Context
  - id: string (UUIDv7)

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or execution errors
*/
func (repository *PostgresStore) FindByID(context context.Context, id string) (*User, error) {
	const query = `
		SELECT id, email, passwordhash, displayname, status, roleid,
		       roleassignedat, rolerevokedat, roleexpiresat, metadata, createdat, updatedat
		FROM auth.account
		WHERE id = $1`

	user := &User{}
	err := repository.pool.QueryRow(context, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Status,
		&user.RoleID,
		&user.RoleAssigned,
		&user.RoleRevoked,
		&user.RoleExpires,
		&user.Metadata,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_identity_find_by_id_failed: %w", err)
	}

	return user, nil
}

/*
UpdatePassword replaces only the user's password hash.

Parameters:
  - context: context.Context
  - userID: string
  - newHash: string

Returns:
  - error: apperr.NotFound when the account does not exist
*/
func (repository *PostgresStore) UpdatePassword(context context.Context, userID, newHash string) error {
	const query = `
		UPDATE auth.account
		SET passwordhash = $2, updatedat = $3
		WHERE id = $1`

	tag, err := repository.pool.Exec(context, query, userID, newHash, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_identity_update_password_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("User")
	}

	return nil
}

/*
UpdateStatus transitions the account lifecycle state.

Parameters:
  - context: context.Context
  - userID: string
  - status: Status

Returns:
  - error: apperr.NotFound when the account does not exist
*/
func (repository *PostgresStore) UpdateStatus(context context.Context, userID string, status Status) error {
	const query = `
		UPDATE auth.account
		SET status = $2, updatedat = $3
		WHERE id = $1`

	tag, err := repository.pool.Exec(context, query, userID, status, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_identity_update_status_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("User")
	}

	return nil
}

/*
AssignRole grants a role to the user, clearing any prior revocation stamp.

Parameters:
  - context: context.Context
  - userID: string
  - roleID: string
  - at: time.Time
  - expiresAt: *time.Time

Returns:
  - error: apperr.NotFound when the account does not exist
*/
func (repository *PostgresStore) AssignRole(context context.Context, userID, roleID string, at time.Time, expiresAt *time.Time) error {
	const query = `
		UPDATE auth.account
		SET roleid = $2, roleassignedat = $3, rolerevokedat = NULL, roleexpiresat = $4, updatedat = $3
		WHERE id = $1`

	tag, err := repository.pool.Exec(context, query, userID, roleID, at, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres_identity_assign_role_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("User")
	}

	return nil
}

/*
RevokeRole stamps the user's current role grant as revoked.

Parameters:
  - context: context.Context
  - userID: string
  - at: time.Time

Returns:
  - error: apperr.NotFound when the account does not exist
*/
func (repository *PostgresStore) RevokeRole(context context.Context, userID string, at time.Time) error {
	const query = `
		UPDATE auth.account
		SET rolerevokedat = $2, updatedat = $2
		WHERE id = $1`

	tag, err := repository.pool.Exec(context, query, userID, at)
	if err != nil {
		return fmt.Errorf("postgres_identity_revoke_role_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("User")
	}

	return nil
}
