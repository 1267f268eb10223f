// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Package ctxutil provides helpers for interacting with values stored in [context.Context].
package ctxutil

import (
	"context"
	"log/slog"

	"github.com/averden/gatehouse/internal/access"
	"github.com/averden/gatehouse/internal/platform/ctxkey"
)

// # Request Tracing

// WithRequestID returns a new context with the provided request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxkey.KeyRequestID, id)
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.KeyRequestID).(string)
	return id
}

// # Structured Logging

// WithLogger returns a new context with the provided logger attached.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxkey.KeyLogger, logger)
}

// GetLogger retrieves the logger from the context.
// If no logger is found, it returns the global default logger.
func GetLogger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(ctxkey.KeyLogger).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}

// # Identity & Access

// WithAccess returns a new context carrying the assembled access context.
func WithAccess(ctx context.Context, principal *access.Context) context.Context {
	return context.WithValue(ctx, ctxkey.KeyAccess, principal)
}

// GetAccess retrieves the [*access.Context] from the [context.Context].
// It returns nil when the request never passed through authentication.
func GetAccess(ctx context.Context) *access.Context {
	principal, ok := ctx.Value(ctxkey.KeyAccess).(*access.Context)
	if !ok {
		return nil
	}
	return principal
}
