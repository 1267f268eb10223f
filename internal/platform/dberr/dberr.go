// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Package dberr provides a bridge between low-level database errors and
// higher-level application errors.
package dberr

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

var (
	// ErrNotFound is a standard error returned when a queried row doesn't exist.
	ErrNotFound = apperr.NotFound("Resource")
)

// Wrap inspects a database error and wraps it into a meaningful [apperr.AppError].
// It hides internal database details from the client while classifying the error type.
func Wrap(err error, action string) error {
	if err == nil {
		return nil
	}

	// 1. Not Found mapping
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	// 2. Timeouts and cancelled requests are retryable, not bugs.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Transient(err)
	}

	// 3. SQLSTATE classification
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return apperr.Conflict("Resource already exists")
		case pgerrcode.ForeignKeyViolation:
			return apperr.ValidationError("Referenced resource does not exist")
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return apperr.Conflict("Concurrent update detected")
		}
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return apperr.Transient(err)
		}
	}

	// 4. Unknown query errors become Internal Server Errors
	return apperr.Internal(err)
}
