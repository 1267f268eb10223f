// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package revocation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreFixture(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "", slog.Default()), client
}

func TestRedisStore_PutToken_AtomicWrites(t *testing.T) {
	store, client := newStoreFixture(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rec := Record{JTI: "jti-1", UserID: "u1", Reason: ReasonUserLogout, RevokedAt: now}

	created, err := store.PutToken(ctx, rec, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	// Entry, membership, and audit land in the same transaction
	assert.Equal(t, int64(1), client.Exists(ctx, store.tokenKey("jti-1")).Val())
	assert.True(t, client.SIsMember(ctx, store.userSetKey("u1"), "jti-1").Val())
	assert.Equal(t, int64(1), client.ZCard(ctx, store.auditKey(now)).Val())

	// A repeat revocation is a no-op and writes no second audit event
	created, err = store.PutToken(ctx, rec, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), client.ZCard(ctx, store.auditKey(now)).Val())
}
