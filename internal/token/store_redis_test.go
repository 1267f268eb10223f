// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_FamilyLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	family := &Family{
		ID:         "fam-1",
		UserID:     "u1",
		State:      FamilyActive,
		CurrentJTI: "jti-1",
		CreatedAt:  now,
	}
	require.NoError(t, store.CreateFamily(ctx, family, time.Hour))
	assert.Equal(t, int64(1), family.Version)

	// Duplicate IDs are rejected
	err := store.CreateFamily(ctx, &Family{ID: "fam-1", UserID: "u1"}, time.Hour)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	loaded, err := store.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.Equal(t, "jti-1", loaded.CurrentJTI)
	assert.Equal(t, int64(1), loaded.Version)

	loaded.CurrentJTI = "jti-2"
	loaded.RotationCount = 1
	require.NoError(t, store.UpdateFamilyCAS(ctx, loaded, time.Hour))
	assert.Equal(t, int64(2), loaded.Version)

	reloaded, err := store.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.Equal(t, "jti-2", reloaded.CurrentJTI)
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestRedisStore_UpdateFamilyCAS_StaleVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	family := &Family{ID: "fam-1", UserID: "u1", State: FamilyActive, CurrentJTI: "jti-1"}
	require.NoError(t, store.CreateFamily(ctx, family, time.Hour))

	winner, err := store.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	loser, err := store.GetFamily(ctx, "fam-1")
	require.NoError(t, err)

	winner.CurrentJTI = "jti-winner"
	require.NoError(t, store.UpdateFamilyCAS(ctx, winner, time.Hour))

	loser.CurrentJTI = "jti-loser"
	err = store.UpdateFamilyCAS(ctx, loser, time.Hour)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	current, err := store.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.Equal(t, "jti-winner", current.CurrentJTI)
}

func TestRedisStore_GetFamily_Missing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.GetFamily(ctx, "nope")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestRedisStore_UserFamilies(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.CreateFamily(ctx, &Family{ID: "fam-1", UserID: "u1", State: FamilyActive}, time.Hour))
	require.NoError(t, store.CreateFamily(ctx, &Family{ID: "fam-2", UserID: "u1", State: FamilyActive}, time.Hour))
	require.NoError(t, store.CreateFamily(ctx, &Family{ID: "fam-3", UserID: "u2", State: FamilyActive}, time.Hour))

	ids, err := store.UserFamilies(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fam-1", "fam-2"}, ids)
}

func TestRedisStore_MarkRefreshUsed(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	first := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	use, err := store.MarkRefreshUsed(ctx, "hash-1", first, time.Hour)
	require.NoError(t, err)
	assert.False(t, use.Used)
	assert.Equal(t, int64(1), use.Count)

	replay, err := store.MarkRefreshUsed(ctx, "hash-1", first.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.True(t, replay.Used)
	assert.Equal(t, first, replay.FirstUsedAt)
	assert.Equal(t, int64(2), replay.Count)

	// The original timestamp survives further replays
	again, err := store.MarkRefreshUsed(ctx, "hash-1", first.Add(2*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, again.FirstUsedAt)
	assert.Equal(t, int64(3), again.Count)
}

func TestRedisStore_MarkRefreshUsed_ExpiredMarker(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	_, err := store.MarkRefreshUsed(ctx, "hash-1", now, time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	use, err := store.MarkRefreshUsed(ctx, "hash-1", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.False(t, use.Used)
}

func TestRedisStore_IncrRotationRate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	now := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

	for want := int64(1); want <= 3; want++ {
		count, err := store.IncrRotationRate(ctx, "u1", now)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	// A new hour bucket starts from zero
	count, err := store.IncrRotationRate(ctx, "u1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStore_IssuedIndex(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	live, err := store.RegisterIssued(ctx, "u1", "jti-1", now.Add(15*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)

	live, err = store.RegisterIssued(ctx, "u1", "jti-2", now.Add(15*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), live)

	// Expired members are pruned on registration
	live, err = store.RegisterIssued(ctx, "u1", "jti-3", now.Add(30*time.Minute), now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)

	require.NoError(t, store.ReleaseIssued(ctx, "u1", "jti-3"))
	live, err = store.RegisterIssued(ctx, "u1", "jti-4", now.Add(30*time.Minute), now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)
}
