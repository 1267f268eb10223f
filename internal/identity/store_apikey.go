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

// # API Key Repository

// PostgresAPIKeyStore implements the [APIKeyStore] interface using pgx.
type PostgresAPIKeyStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAPIKeyStore creates a new PostgreSQL implementation of the [APIKeyStore].
func NewPostgresAPIKeyStore(pool *pgxpool.Pool) *PostgresAPIKeyStore {
	return &PostgresAPIKeyStore{pool: pool}
}

/*
Insert persists a freshly minted API key record into auth.api_key.

Parameters:
  - context: context.Context
  - key: *APIKey

Returns:
  - error: apperr.Conflict on digest collision, or connectivity errors
*/
func (repository *PostgresAPIKeyStore) Insert(context context.Context, key *APIKey) error {
	const query = `
		INSERT INTO auth.api_key (
			id, userid, name, digest, expiresat, lastusedat, revokedat, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	_, err := repository.pool.Exec(context, query,
		key.ID,
		key.UserID,
		key.Name,
		key.Digest,
		key.ExpiresAt,
		key.LastUsedAt,
		key.RevokedAt,
		key.CreatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "api_key_insert")
	}

	return nil
}

/*
FindByDigest returns the key record matching a SHA-256 digest.

Parameters:
  - context: context.Context
  - digest: string

Returns:
  - *APIKey: Hydrated entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresAPIKeyStore) FindByDigest(context context.Context, digest string) (*APIKey, error) {
	const query = `
		SELECT id, userid, name, digest, expiresat, lastusedat, revokedat, createdat
		FROM auth.api_key
		WHERE digest = $1`

	key := &APIKey{}
	err := repository.pool.QueryRow(context, query, digest).Scan(
		&key.ID,
		&key.UserID,
		&key.Name,
		&key.Digest,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.RevokedAt,
		&key.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("API key")
		}
		return nil, fmt.Errorf("postgres_api_key_find_by_digest_failed: %w", err)
	}

	return key, nil
}

/*
ListByUser returns every key owned by the user, newest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []*APIKey: Hydrated entities
  - error: Database retrieval failures
*/
func (repository *PostgresAPIKeyStore) ListByUser(context context.Context, userID string) ([]*APIKey, error) {
	const query = `
		SELECT id, userid, name, digest, expiresat, lastusedat, revokedat, createdat
		FROM auth.api_key
		WHERE userid = $1
		ORDER BY createdat DESC`

	rows, err := repository.pool.Query(context, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_api_key_list_failed: %w", err)
	}
	defer rows.Close()

	keys := make([]*APIKey, 0)
	for rows.Next() {
		key := &APIKey{}
		err := rows.Scan(
			&key.ID,
			&key.UserID,
			&key.Name,
			&key.Digest,
			&key.ExpiresAt,
			&key.LastUsedAt,
			&key.RevokedAt,
			&key.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres_api_key_scan_failed: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_api_key_rows_failed: %w", err)
	}

	return keys, nil
}

/*
TouchUsage stamps the key's last successful authentication.

Parameters:
  - context: context.Context
  - id: string
  - at: time.Time

Returns:
  - error: Persistence failures
*/
func (repository *PostgresAPIKeyStore) TouchUsage(context context.Context, id string, at time.Time) error {
	const query = `UPDATE auth.api_key SET lastusedat = $2 WHERE id = $1`

	if _, err := repository.pool.Exec(context, query, id, at); err != nil {
		return fmt.Errorf("postgres_api_key_touch_failed: %w", err)
	}

	return nil
}

/*
Revoke permanently disables the key.

Parameters:
  - context: context.Context
  - id: string
  - at: time.Time

Returns:
  - error: apperr.NotFound when the key does not exist
*/
func (repository *PostgresAPIKeyStore) Revoke(context context.Context, id string, at time.Time) error {
	const query = `UPDATE auth.api_key SET revokedat = $2 WHERE id = $1 AND revokedat IS NULL`

	tag, err := repository.pool.Exec(context, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres_api_key_revoke_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("API key")
	}

	return nil
}
