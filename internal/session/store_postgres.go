// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/dberr"
	"github.com/averden/gatehouse/internal/platform/metrics"
)

// PostgresStore implements [DurableStore] on the auth.session table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the PostgreSQL session store of record.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (repository *PostgresStore) observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("session_postgres", op).Observe(time.Since(start).Seconds())
}

const sessionColumns = `
	id, userid, status, protocol, authmethod, ip, useragent, metadata,
	createdat, lastactivityat, expiresat, revokedat`

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Status,
		&rec.Protocol,
		&rec.Method,
		&rec.IP,
		&rec.UserAgent,
		&rec.Metadata,
		&rec.CreatedAt,
		&rec.LastActivityAt,
		&rec.ExpiresAt,
		&rec.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

/*
Insert persists a new session row.

Parameters:
  - context: context.Context
  - rec: *Record

Returns:
  - error: apperr.Conflict on duplicate ID, or connectivity errors
*/
func (repository *PostgresStore) Insert(context context.Context, rec *Record) error {

	defer repository.observe("insert", time.Now())

	const query = `
		INSERT INTO auth.session (
			id, userid, status, protocol, authmethod, ip, useragent, metadata,
			createdat, lastactivityat, expiresat, revokedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := repository.pool.Exec(context, query,
		rec.ID,
		rec.UserID,
		rec.Status,
		rec.Protocol,
		rec.Method,
		rec.IP,
		rec.UserAgent,
		rec.Metadata,
		rec.CreatedAt,
		rec.LastActivityAt,
		rec.ExpiresAt,
		rec.RevokedAt,
	)
	if err != nil {
		return dberr.Wrap(err, "session_insert")
	}
	return nil
}

/*
Find returns the session row.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - *Record: hydrated record
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresStore) Find(context context.Context, id string) (*Record, error) {

	defer repository.observe("find", time.Now())

	query := `SELECT ` + sessionColumns + ` FROM auth.session WHERE id = $1`

	rec, err := scanRecord(repository.pool.QueryRow(context, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Session")
		}
		return nil, fmt.Errorf("postgres_session_find_failed: %w", err)
	}
	return rec, nil
}

/*
Touch updates the activity and expiry stamps of an active session.

Returns:
  - error: apperr.NotFound when the session is absent or no longer active
*/
func (repository *PostgresStore) Touch(context context.Context, id string, lastActivity, expiresAt time.Time) error {

	defer repository.observe("touch", time.Now())

	const query = `
		UPDATE auth.session
		SET lastactivityat = $2, expiresat = $3
		WHERE id = $1 AND status = $4`

	tag, err := repository.pool.Exec(context, query, id, lastActivity, expiresAt, StatusActive)
	if err != nil {
		return fmt.Errorf("postgres_session_touch_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Session")
	}
	return nil
}

/*
MarkRevoked transitions the session to revoked.

Returns:
  - error: apperr.NotFound when absent or already terminated
*/
func (repository *PostgresStore) MarkRevoked(context context.Context, id string, at time.Time) error {

	defer repository.observe("revoke", time.Now())

	const query = `
		UPDATE auth.session
		SET status = $3, revokedat = $2
		WHERE id = $1 AND status = $4`

	tag, err := repository.pool.Exec(context, query, id, at, StatusRevoked, StatusActive)
	if err != nil {
		return fmt.Errorf("postgres_session_revoke_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Session")
	}
	return nil
}

/*
MarkRevokedByUser revokes every active session of the user.

Returns:
  - int: sessions transitioned by this call
  - error: database errors
*/
func (repository *PostgresStore) MarkRevokedByUser(context context.Context, userID string, at time.Time) (int, error) {

	defer repository.observe("revoke_user", time.Now())

	const query = `
		UPDATE auth.session
		SET status = $3, revokedat = $2
		WHERE userid = $1 AND status = $4`

	tag, err := repository.pool.Exec(context, query, userID, at, StatusRevoked, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_revoke_user_failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

/*
ListByUser returns the user's sessions, newest first.

Parameters:
  - context: context.Context
  - userID: string
  - activeOnly: filter out terminated rows

Returns:
  - []*Record: hydrated records
  - error: database errors
*/
func (repository *PostgresStore) ListByUser(context context.Context, userID string, activeOnly bool) ([]*Record, error) {

	defer repository.observe("list_user", time.Now())

	query := `SELECT ` + sessionColumns + ` FROM auth.session WHERE userid = $1`
	args := []any{userID}
	if activeOnly {
		query += ` AND status = $2`
		args = append(args, StatusActive)
	}
	query += ` ORDER BY createdat DESC`

	rows, err := repository.pool.Query(context, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres_session_list_failed: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_session_scan_failed: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_session_list_failed: %w", err)
	}
	return records, nil
}

/*
ReapExpired transitions stale active rows to expired, at most limit per call.

Description: Bounded batches keep the reaper's lock footprint small; the
expiresat index makes the candidate scan cheap.

Parameters:
  - context: context.Context
  - cutoff: rows whose deadline passed before this instant are reaped
  - limit: batch size

Returns:
  - int: rows transitioned
  - error: database errors
*/
func (repository *PostgresStore) ReapExpired(context context.Context, cutoff time.Time, limit int) (int, error) {

	defer repository.observe("reap", time.Now())

	const query = `
		UPDATE auth.session
		SET status = $3
		WHERE id IN (
			SELECT id FROM auth.session
			WHERE status = $2 AND expiresat < $1
			LIMIT $4
		)`

	tag, err := repository.pool.Exec(context, query, cutoff, StatusActive, StatusExpired, limit)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_reap_failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping verifies connectivity to PostgreSQL.
func (repository *PostgresStore) Ping(context context.Context) error {
	if err := repository.pool.Ping(context); err != nil {
		return fmt.Errorf("postgres_session_ping_failed: %w", err)
	}
	return nil
}
