// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averden/gatehouse/internal/platform/clock"
)

func newCacheFixture(t *testing.T) (*Cache, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	return NewCache(client, 0, clk, slog.Default()), client
}

func TestCache_UserRoundTrip(t *testing.T) {
	cache, client := newCacheFixture(t)
	ctx := context.Background()

	perms := []Permission{{Resource: "documents", Action: "read"}}
	cache.PutUser(ctx, "u1", perms, []string{"viewer"})

	entry, ok := cache.GetUser(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, perms, entry.Permissions)
	assert.Equal(t, []string{"viewer"}, entry.Roles)

	// A second cache sharing the client must see the entry through Redis.
	peer := NewCache(client, 0, cache.clock, slog.Default())
	entry, ok = peer.GetUser(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []string{"viewer"}, entry.Roles)
}

func TestCache_MissIsNotAnError(t *testing.T) {
	cache, _ := newCacheFixture(t)

	_, ok := cache.GetUser(context.Background(), "ghost")
	assert.False(t, ok)
}

func TestCache_HitCountAccumulates(t *testing.T) {
	cache, _ := newCacheFixture(t)
	ctx := context.Background()

	cache.PutUser(ctx, "u1", nil, []string{"viewer"})

	entry, ok := cache.GetUser(ctx, "u1")
	require.True(t, ok)
	first := entry.HitCount

	entry, ok = cache.GetUser(ctx, "u1")
	require.True(t, ok)
	assert.Greater(t, entry.HitCount, first)
}

func TestCache_ConcurrentGetsAreSafe(t *testing.T) {
	cache, _ := newCacheFixture(t)
	ctx := context.Background()

	cache.PutUser(ctx, "u1", []Permission{{Resource: "documents", Action: "read"}}, []string{"viewer"})

	// Hammer the same entry from many goroutines; run with -race.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				entry, ok := cache.GetUser(ctx, "u1")
				if !ok {
					t.Error("entry disappeared under concurrent reads")
					return
				}
				_ = entry.HitCount
			}
		}()
	}
	wg.Wait()

	// Every caller got a private copy; the shared stats still accumulated.
	entry, ok := cache.GetUser(ctx, "u1")
	require.True(t, ok)
	assert.GreaterOrEqual(t, entry.HitCount, int64(8000))
}

func TestCache_InvalidateUser(t *testing.T) {
	cache, _ := newCacheFixture(t)
	ctx := context.Background()

	cache.PutUser(ctx, "u1", nil, []string{"viewer"})
	cache.InvalidateUser(ctx, "u1")

	_, ok := cache.GetUser(ctx, "u1")
	assert.False(t, ok)
}

func TestCache_InvalidateRole_DropsAffectedUsersOnly(t *testing.T) {
	cache, _ := newCacheFixture(t)
	ctx := context.Background()

	cache.PutRole(ctx, "editor", nil, []string{"editor", "viewer"})
	cache.PutUser(ctx, "u1", nil, []string{"editor", "viewer"})
	cache.PutUser(ctx, "u2", nil, []string{"viewer"})

	cache.InvalidateRole(ctx, "editor")

	_, ok := cache.GetRole(ctx, "editor")
	assert.False(t, ok)
	_, ok = cache.GetUser(ctx, "u1")
	assert.False(t, ok)

	// u2 never resolved through editor and survives in Redis.
	_, ok = cache.GetUser(ctx, "u2")
	assert.True(t, ok)
}

func TestCache_InvalidateAllRoles(t *testing.T) {
	cache, _ := newCacheFixture(t)
	ctx := context.Background()

	cache.PutRole(ctx, "viewer", nil, []string{"viewer"})
	cache.PutRole(ctx, "editor", nil, []string{"editor", "viewer"})

	cache.InvalidateAllRoles(ctx)

	_, ok := cache.GetRole(ctx, "viewer")
	assert.False(t, ok)
	_, ok = cache.GetRole(ctx, "editor")
	assert.False(t, ok)
}

func TestCache_PutUserBatch(t *testing.T) {
	cache, _ := newCacheFixture(t)
	ctx := context.Background()

	results := cache.PutUserBatch(ctx, map[string]*Entry{
		"u1": {Roles: []string{"viewer"}},
		"u2": {Roles: []string{"editor", "viewer"}},
	})
	require.Len(t, results, 2)
	assert.NoError(t, results["u1"])
	assert.NoError(t, results["u2"])

	entry, ok := cache.GetUser(ctx, "u2")
	require.True(t, ok)
	assert.Equal(t, []string{"editor", "viewer"}, entry.Roles)
}

func TestCache_DegradesWithoutRedis(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	cache := NewCache(nil, 0, clk, slog.Default())
	ctx := context.Background()

	cache.PutUser(ctx, "u1", nil, []string{"viewer"})

	entry, ok := cache.GetUser(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []string{"viewer"}, entry.Roles)

	cache.InvalidateUser(ctx, "u1")
	_, ok = cache.GetUser(ctx, "u1")
	assert.False(t, ok)
}
