// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package authctx

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/permission"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/sec"
	"github.com/averden/gatehouse/internal/session"
	"github.com/averden/gatehouse/internal/token"
)

// stubVerifier maps raw token strings to claims.
type stubVerifier struct {
	claims map[string]*token.AccessClaims
}

func (s *stubVerifier) Verify(_ context.Context, raw string) (*token.AccessClaims, error) {
	claims, ok := s.claims[raw]
	if !ok {
		return nil, apperr.Unauthenticated("Invalid access token")
	}
	return claims, nil
}

// stubResolver returns a fixed permission set.
type stubResolver struct {
	perms []permission.Permission
	roles []string
	err   error
}

func (s *stubResolver) GetUserPermissions(context.Context, string) ([]permission.Permission, []string, error) {
	return s.perms, s.roles, s.err
}

func accessClaims(userID, roleID string, perms []string) *token.AccessClaims {
	c := &token.AccessClaims{
		Email:       userID + "@averden.io",
		RoleID:      roleID,
		Permissions: perms,
		TokenType:   token.TypeAccess,
	}
	c.Subject = userID
	return c
}

func TestBuilder_AnonymousWithoutCredential(t *testing.T) {
	builder := NewBuilder(&stubVerifier{}, nil, nil, nil, nil, nil, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	access, err := builder.FromRequest(request)
	require.NoError(t, err)
	assert.False(t, access.Authenticated)
	assert.Equal(t, session.MethodAnonymous, access.AuthMethod)
	assert.False(t, access.Can("documents", "read"))
}

func TestBuilder_BearerToken(t *testing.T) {
	verifier := &stubVerifier{claims: map[string]*token.AccessClaims{
		"good": accessClaims("u1", "editor", []string{"documents:read"}),
	}}
	builder := NewBuilder(verifier, nil, nil, nil, nil, nil, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(constants.HeaderAuthorization, "Bearer good")

	access, err := builder.FromRequest(request)
	require.NoError(t, err)
	assert.True(t, access.Authenticated)
	assert.Equal(t, "u1", access.UserID)
	assert.Equal(t, session.MethodJWT, access.AuthMethod)
	assert.True(t, access.Snapshot)
	assert.True(t, access.Can("documents", "read"))
	assert.False(t, access.Can("documents", "delete"))
}

func TestBuilder_InvalidBearerIsError(t *testing.T) {
	builder := NewBuilder(&stubVerifier{}, nil, nil, nil, nil, nil, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(constants.HeaderAuthorization, "Bearer forged")

	_, err := builder.FromRequest(request)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestBuilder_MalformedAuthorizationScheme(t *testing.T) {
	builder := NewBuilder(&stubVerifier{}, nil, nil, nil, nil, nil, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(constants.HeaderAuthorization, "Basic dXNlcjpwYXNz")

	_, err := builder.FromRequest(request)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestBuilder_CookieFallback(t *testing.T) {
	verifier := &stubVerifier{claims: map[string]*token.AccessClaims{
		"cookie-token": accessClaims("u1", "viewer", nil),
	}}
	resolver := &stubResolver{
		perms: []permission.Permission{{Resource: "reports", Action: "read"}},
		roles: []string{"viewer", "base"},
	}
	builder := NewBuilder(verifier, nil, nil, resolver, nil, nil, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.AddCookie(&http.Cookie{Name: constants.AccessTokenCookieName, Value: "cookie-token"})

	access, err := builder.FromRequest(request)
	require.NoError(t, err)
	assert.True(t, access.Authenticated)
	assert.False(t, access.Snapshot)
	assert.Equal(t, []string{"viewer", "base"}, access.Roles)
	assert.True(t, access.Can("reports", "read"))
	assert.True(t, access.HasRole("base"))
}

func TestBuilder_SocketQueryToken(t *testing.T) {
	verifier := &stubVerifier{claims: map[string]*token.AccessClaims{
		"ws-token": accessClaims("u1", "viewer", []string{"stream:subscribe"}),
	}}
	builder := NewBuilder(verifier, nil, nil, nil, nil, nil, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/ws?token=ws-token", nil)

	// The query fallback only applies to upgrade requests
	access, err := builder.FromRequest(request)
	require.NoError(t, err)
	assert.False(t, access.Authenticated)

	access, err = builder.FromSocketRequest(request)
	require.NoError(t, err)
	assert.True(t, access.Authenticated)
	assert.True(t, access.Can("stream", "subscribe"))
}

func TestBuilder_APIKey(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	users := identity.NewMemoryStore()
	require.NoError(t, users.Create(ctx, &identity.User{
		ID: "svc-1", Email: "robot@averden.io", Status: identity.StatusActive, RoleID: "service",
	}))

	keys := identity.NewMemoryAPIKeyStore()
	rawKey := "ak_live_0123456789"
	require.NoError(t, keys.Insert(ctx, &identity.APIKey{
		ID: "key-1", UserID: "svc-1", Name: "ci", Digest: sec.HashToken(rawKey),
	}))

	resolver := &stubResolver{perms: []permission.Permission{{Resource: "builds", Action: "*"}}}
	builder := NewBuilder(&stubVerifier{}, keys, users, resolver, nil, clk, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(constants.APIKeyHeader, rawKey)

	access, err := builder.FromRequest(request)
	require.NoError(t, err)
	assert.True(t, access.Authenticated)
	assert.Equal(t, "svc-1", access.UserID)
	assert.Equal(t, session.MethodAPIKey, access.AuthMethod)
	assert.True(t, access.Can("builds", "trigger"))

	// Usage was stamped
	key, err := keys.FindByDigest(ctx, sec.HashToken(rawKey))
	require.NoError(t, err)
	require.NotNil(t, key.LastUsedAt)
}

func TestBuilder_APIKey_Revoked(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	keys := identity.NewMemoryAPIKeyStore()
	rawKey := "ak_live_revoked"
	require.NoError(t, keys.Insert(ctx, &identity.APIKey{
		ID: "key-1", UserID: "svc-1", Digest: sec.HashToken(rawKey),
	}))
	require.NoError(t, keys.Revoke(ctx, "key-1", clk.Now()))

	builder := NewBuilder(&stubVerifier{}, keys, identity.NewMemoryStore(), nil, nil, clk, slog.Default())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(constants.APIKeyHeader, rawKey)

	_, err := builder.FromRequest(request)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}
