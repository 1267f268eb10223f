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

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
)

// failingStore simulates an unreachable backend.
type failingStore struct{}

func (failingStore) PutToken(context.Context, Record, time.Duration) (bool, error) {
	return false, assert.AnError
}
func (failingStore) PutUser(context.Context, UserRecord) error        { return assert.AnError }
func (failingStore) Fetch(context.Context, string, string) (Lookup, error) {
	return Lookup{}, assert.AnError
}
func (failingStore) UserTokens(context.Context, string) ([]string, error) { return nil, assert.AnError }
func (failingStore) CleanupExpired(context.Context) (int, error)          { return 0, assert.AnError }
func (failingStore) Ping(context.Context) error                           { return assert.AnError }

type indexFixture struct {
	index *Index
	store *RedisStore
	redis *miniredis.Miniredis
	clock *clock.Fake
}

func newIndexFixture(t *testing.T, failClosed bool) *indexFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	store := NewRedisStore(client, "", slog.Default())

	return &indexFixture{
		index: NewIndex(store, 0, failClosed, clk, slog.Default()),
		store: store,
		redis: mr,
		clock: clk,
	}
}

func TestIndex_RevokeToken(t *testing.T) {
	fixture := newIndexFixture(t, false)
	ctx := context.Background()

	revoked, err := fixture.index.IsTokenRevoked(ctx, "jti-1", "u1", fixture.clock.Now())
	require.NoError(t, err)
	assert.False(t, revoked)

	rec := Record{JTI: "jti-1", UserID: "u1", Reason: ReasonUserLogout}
	require.NoError(t, fixture.index.RevokeToken(ctx, rec, fixture.clock.Now().Add(15*time.Minute)))

	// The clean verdict cached above must not survive the revocation
	revoked, err = fixture.index.IsTokenRevoked(ctx, "jti-1", "u1", fixture.clock.Now())
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIndex_RevokeToken_Idempotent(t *testing.T) {
	fixture := newIndexFixture(t, false)
	ctx := context.Background()

	rec := Record{JTI: "jti-1", UserID: "u1", Reason: ReasonUserLogout}
	expiry := fixture.clock.Now().Add(15 * time.Minute)
	require.NoError(t, fixture.index.RevokeToken(ctx, rec, expiry))
	require.NoError(t, fixture.index.RevokeToken(ctx, rec, expiry))

	tokens, err := fixture.index.UserRevokedTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"jti-1"}, tokens)
}

func TestIndex_RevokeToken_Validation(t *testing.T) {
	fixture := newIndexFixture(t, false)
	ctx := context.Background()
	expiry := fixture.clock.Now().Add(time.Minute)

	err := fixture.index.RevokeToken(ctx, Record{UserID: "u1", Reason: ReasonUserLogout}, expiry)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	err = fixture.index.RevokeToken(ctx, Record{JTI: "jti-1", Reason: ReasonUserLogout}, expiry)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	err = fixture.index.RevokeToken(ctx, Record{JTI: "jti-1", UserID: "u1", Reason: "made_up"}, expiry)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestIndex_RevokeUser_CoversOlderTokensOnly(t *testing.T) {
	fixture := newIndexFixture(t, false)
	ctx := context.Background()
	now := fixture.clock.Now()

	require.NoError(t, fixture.index.RevokeUser(ctx, UserRecord{
		UserID: "u1", Reason: ReasonSecurityBreach, RevokedAt: now,
	}))

	// Issued before the marker: revoked
	revoked, err := fixture.index.IsTokenRevoked(ctx, "old-jti", "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, revoked)

	// Issued exactly at the marker: revoked
	revoked, err = fixture.index.IsTokenRevoked(ctx, "edge-jti", "u1", now)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Issued after the marker: clean
	revoked, err = fixture.index.IsTokenRevoked(ctx, "new-jti", "u1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, revoked)

	// Other users unaffected
	revoked, err = fixture.index.IsTokenRevoked(ctx, "other-jti", "u2", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestIndex_FailOpen(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	index := NewIndex(failingStore{}, 0, false, clk, slog.Default())

	revoked, err := index.IsTokenRevoked(context.Background(), "jti-1", "u1", clk.Now())
	require.NoError(t, err)
	assert.False(t, revoked)

	// Writes always fail hard
	err = index.RevokeToken(context.Background(),
		Record{JTI: "jti-1", UserID: "u1", Reason: ReasonUserLogout}, clk.Now().Add(time.Minute))
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestIndex_FailClosed(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	index := NewIndex(failingStore{}, 0, true, clk, slog.Default())

	_, err := index.IsTokenRevoked(context.Background(), "jti-1", "u1", clk.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestIndex_LocalCacheServesRepeats(t *testing.T) {
	fixture := newIndexFixture(t, false)
	ctx := context.Background()

	rec := Record{JTI: "jti-1", UserID: "u1", Reason: ReasonUserLogout}
	require.NoError(t, fixture.index.RevokeToken(ctx, rec, fixture.clock.Now().Add(15*time.Minute)))

	// First check primes the cache; killing Redis afterwards must not matter
	revoked, err := fixture.index.IsTokenRevoked(ctx, "jti-1", "u1", fixture.clock.Now())
	require.NoError(t, err)
	assert.True(t, revoked)

	fixture.redis.SetError("gone")
	revoked, err = fixture.index.IsTokenRevoked(ctx, "jti-1", "u1", fixture.clock.Now())
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIndex_CleanupExpired(t *testing.T) {
	fixture := newIndexFixture(t, false)
	ctx := context.Background()

	rec := Record{JTI: "jti-1", UserID: "u1", Reason: ReasonUserLogout}
	require.NoError(t, fixture.index.RevokeToken(ctx, rec, fixture.clock.Now().Add(time.Minute)))

	// Past the retention buffer the token entry expires; the membership set
	// lives longer and must be pruned explicitly
	fixture.redis.FastForward(8 * 24 * time.Hour)

	removed, err := fixture.index.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Positive(t, removed)

	tokens, err := fixture.index.UserRevokedTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
