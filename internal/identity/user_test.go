// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestUser_HasActiveRole(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		user User
		want bool
	}{
		{"open_ended_grant", User{RoleID: "editor", RoleAssigned: timePtr(now.Add(-time.Hour))}, true},
		{"no_role", User{}, false},
		{"revoked", User{RoleID: "editor", RoleRevoked: timePtr(now.Add(-time.Minute))}, false},
		{"expires_later", User{RoleID: "editor", RoleExpires: timePtr(now.Add(time.Hour))}, true},
		{"expired", User{RoleID: "editor", RoleExpires: timePtr(now.Add(-time.Second))}, false},
		{"expires_exactly_now", User{RoleID: "editor", RoleExpires: timePtr(now)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.HasActiveRole(now))
		})
	}
}

func TestUser_CanAuthenticate(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	active := User{Status: StatusActive, RoleID: "viewer"}
	assert.True(t, active.CanAuthenticate(now))

	suspended := User{Status: StatusSuspended, RoleID: "viewer"}
	assert.False(t, suspended.CanAuthenticate(now))

	revokedRole := User{Status: StatusActive, RoleID: "viewer", RoleRevoked: timePtr(now)}
	assert.False(t, revokedRole.CanAuthenticate(now))
}

func TestAPIKey_Usable(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	assert.True(t, (&APIKey{}).Usable(now))
	assert.False(t, (&APIKey{RevokedAt: timePtr(now.Add(-time.Hour))}).Usable(now))
	assert.False(t, (&APIKey{ExpiresAt: timePtr(now)}).Usable(now))
	assert.True(t, (&APIKey{ExpiresAt: timePtr(now.Add(time.Minute))}).Usable(now))
}

func TestMemoryStore_EmailUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := &User{ID: "u1", Email: "ada@averden.io", Status: StatusActive}
	require.NoError(t, store.Create(ctx, first))

	dup := &User{ID: "u2", Email: "ada@averden.io", Status: StatusActive}
	err := store.Create(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestMemoryStore_RoleLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, &User{ID: "u1", Email: "ada@averden.io", Status: StatusActive}))

	require.NoError(t, store.AssignRole(ctx, "u1", "editor", now, nil))
	user, err := store.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "editor", user.RoleID)
	assert.True(t, user.HasActiveRole(now))

	require.NoError(t, store.RevokeRole(ctx, "u1", now.Add(time.Minute)))
	user, err = store.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, user.HasActiveRole(now.Add(2*time.Minute)))

	// Re-assignment clears the revocation stamp.
	require.NoError(t, store.AssignRole(ctx, "u1", "admin", now.Add(time.Hour), nil))
	user, err = store.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, user.HasActiveRole(now.Add(2*time.Hour)))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, &User{ID: "u1", Email: "ada@averden.io", Status: StatusActive}))

	first, err := store.FindByID(ctx, "u1")
	require.NoError(t, err)
	first.Status = StatusLocked

	second, err := store.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, second.Status)
}
