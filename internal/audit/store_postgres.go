// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder implements [Recorder] on the auth.audit_log table.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder creates a PostgreSQL implementation of [Recorder].
func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

/*
Record inserts one audit event.

Parameters:
  - context: context.Context
  - event: Event

Returns:
  - error: Execution errors
*/
func (repository *PostgresRecorder) Record(context context.Context, event Event) error {
	const query = `
		INSERT INTO auth.audit_log (id, action, userid, actorid, ip, useragent, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("postgres_audit_encode_failed: %w", err)
	}

	_, err = repository.pool.Exec(context, query,
		event.ID,
		event.Action,
		event.UserID,
		event.ActorID,
		event.IP,
		event.UserAgent,
		detailJSON,
		event.At,
	)
	if err != nil {
		return fmt.Errorf("postgres_audit_record_failed: %w", err)
	}
	return nil
}

/*
ListByUser returns the newest events for a user, most recent first.

Parameters:
  - context: context.Context
  - userID: string
  - limit: int (capped at 500)

Returns:
  - []Event: Hydrated events
  - error: Execution errors
*/
func (repository *PostgresRecorder) ListByUser(context context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const query = `
		SELECT id, action, userid, actorid, ip, useragent, detail, at
		FROM auth.audit_log
		WHERE userid = $1
		ORDER BY at DESC
		LIMIT $2`

	rows, err := repository.pool.Query(context, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres_audit_list_failed: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var detailJSON []byte
		var at time.Time

		err := rows.Scan(&event.ID, &event.Action, &event.UserID, &event.ActorID,
			&event.IP, &event.UserAgent, &detailJSON, &at)
		if err != nil {
			return nil, fmt.Errorf("postgres_audit_list_failed: %w", err)
		}
		event.At = at
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &event.Detail); err != nil {
				return nil, fmt.Errorf("postgres_audit_decode_failed: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_audit_list_failed: %w", err)
	}
	return events, nil
}
