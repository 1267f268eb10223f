// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package ctxutil_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/averden/gatehouse/internal/access"
	"github.com/averden/gatehouse/internal/platform/ctxutil"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-id"

	// 1. Initially should be empty
	assert.Empty(t, ctxutil.GetRequestID(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithRequestID(ctx, requestID)
	assert.Equal(t, requestID, ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies that a custom logger can be stored in context.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 1. Initially should return the default logger
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Equal(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_Access verifies that the access context can be stored in context.
*/
func TestContext_Access(t *testing.T) {
	ctx := context.Background()
	principal := &access.Context{
		Authenticated: true,
		UserID:        "user-123",
		Roles:         []string{"admin"},
	}

	// 1. Initially should be nil
	assert.Nil(t, ctxutil.GetAccess(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithAccess(ctx, principal)
	retrieved := ctxutil.GetAccess(ctx)

	assert.NotNil(t, retrieved)
	assert.Equal(t, "user-123", retrieved.UserID)
	assert.Equal(t, []string{"admin"}, retrieved.Roles)
}
