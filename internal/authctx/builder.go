// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package authctx assembles the unified [access.Context] for a request.

The builder is the only place credentials are inspected. It tries the
Authorization bearer header, the API-key header, and the access-token cookie
in that order, verifies whichever is present, and hands downstream code an
[access.Context] that carries no raw credential material.
*/
package authctx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/averden/gatehouse/internal/access"
	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/permission"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/sec"
	"github.com/averden/gatehouse/internal/session"
	"github.com/averden/gatehouse/internal/token"
)

// TokenVerifier validates access tokens. Satisfied by the token service.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*token.AccessClaims, error)
}

// PermissionResolver resolves the subject's expanded permission set.
// Satisfied by the permission engine.
type PermissionResolver interface {
	GetUserPermissions(ctx context.Context, userID string) ([]permission.Permission, []string, error)
}

// Builder assembles access contexts from request credentials.
type Builder struct {
	tokens  TokenVerifier
	keys    identity.APIKeyStore
	users   identity.Store
	perms   PermissionResolver
	checker access.Checker
	clock   clock.Clock
	log     *slog.Logger
}

/*
NewBuilder creates the context builder.

Parameters:
  - tokens: access-token verifier
  - keys: API key store, nil to disable API-key authentication
  - users: account store, needed for the API-key path
  - perms: permission resolver for contexts without an embedded snapshot,
    nil to skip resolution
  - checker: live authorization oracle attached to built contexts, nil to
    rely on snapshots
  - clk: time source
  - log: structured logger

Returns:
  - *Builder: ready-to-use builder
*/
func NewBuilder(tokens TokenVerifier, keys identity.APIKeyStore, users identity.Store,
	perms PermissionResolver, checker access.Checker, clk clock.Clock, log *slog.Logger) *Builder {

	if clk == nil {
		clk = clock.System()
	}
	return &Builder{
		tokens:  tokens,
		keys:    keys,
		users:   users,
		perms:   perms,
		checker: checker,
		clock:   clk,
		log:     log,
	}
}

/*
FromRequest assembles the access context for an HTTP request.

Description: Credentials are tried in a fixed order: Authorization bearer
token, API-key header, access-token cookie. The first credential present
decides; a present-but-invalid credential is an error, never a silent
downgrade to the next source. A request with no credential at all yields an
anonymous context and no error.

Parameters:
  - request: *http.Request

Returns:
  - *access.Context: assembled context, anonymous when no credential was
    presented
  - error: verification failure of the presented credential
*/
func (builder *Builder) FromRequest(request *http.Request) (*access.Context, error) {
	return builder.build(request, false)
}

/*
FromSocketRequest assembles the access context for a WebSocket upgrade.

Description: Identical to [Builder.FromRequest] plus a "token" query
parameter fallback, because browser WebSocket clients cannot set an
Authorization header.

Parameters:
  - request: *http.Request (the upgrade request)

Returns:
  - *access.Context: assembled context
  - error: verification failure of the presented credential
*/
func (builder *Builder) FromSocketRequest(request *http.Request) (*access.Context, error) {
	return builder.build(request, true)
}

func (builder *Builder) build(request *http.Request, socket bool) (*access.Context, error) {

	ctx := request.Context()

	// 1. Authorization: Bearer
	if header := request.Header.Get(constants.HeaderAuthorization); header != "" {
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return nil, apperr.Unauthenticated("Authorization header must use the Bearer scheme")
		}
		return builder.fromToken(ctx, strings.TrimSpace(raw))
	}

	// 2. API key header
	if rawKey := request.Header.Get(constants.APIKeyHeader); rawKey != "" {
		return builder.fromAPIKey(ctx, rawKey)
	}

	// 3. Access-token cookie
	if cookie, err := request.Cookie(constants.AccessTokenCookieName); err == nil && cookie.Value != "" {
		return builder.fromToken(ctx, cookie.Value)
	}

	// 4. Query parameter, upgrade requests only
	if socket {
		if raw := request.URL.Query().Get("token"); raw != "" {
			return builder.fromToken(ctx, raw)
		}
	}

	return access.Anonymous(builder.clock.Now().UTC()), nil
}

// fromToken builds the context from a verified access token. When the token
// embeds a permission snapshot the build needs no store round-trips at all.
func (builder *Builder) fromToken(ctx context.Context, raw string) (*access.Context, error) {

	claims, err := builder.tokens.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	built := &access.Context{
		Authenticated:    true,
		UserID:           claims.Subject,
		Email:            claims.Email,
		SessionID:        claims.SessionID,
		RoleID:           claims.RoleID,
		Roles:            []string{claims.RoleID},
		AuthMethod:       session.MethodJWT,
		RefreshSuggested: claims.ShouldRotate,
		BuiltAt:          builder.clock.Now().UTC(),
	}

	if len(claims.Permissions) > 0 {
		built.Permissions = claims.Permissions
		built.Snapshot = true
	} else {
		builder.resolve(ctx, built)
	}

	return built.WithChecker(builder.checker), nil
}

// fromAPIKey builds the context from a service credential.
func (builder *Builder) fromAPIKey(ctx context.Context, rawKey string) (*access.Context, error) {

	if builder.keys == nil {
		return nil, apperr.Unauthenticated("API key authentication is not enabled")
	}

	now := builder.clock.Now().UTC()

	key, err := builder.keys.FindByDigest(ctx, sec.HashToken(rawKey))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Unauthenticated("Invalid API key")
		}
		return nil, err
	}
	if !key.Usable(now) {
		return nil, apperr.Unauthenticated("API key is expired or revoked")
	}

	user, err := builder.users.FindByID(ctx, key.UserID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Unauthenticated("Invalid API key")
		}
		return nil, err
	}
	if !user.CanAuthenticate(now) {
		return nil, apperr.Forbidden("Account is not allowed to authenticate")
	}

	// Usage stamping is telemetry, not control flow
	if err := builder.keys.TouchUsage(ctx, key.ID, now); err != nil {
		builder.log.Warn("api_key_touch_failed", "key_id", key.ID, "error", err)
	}

	built := &access.Context{
		Authenticated: true,
		UserID:        user.ID,
		Email:         user.Email,
		RoleID:        user.RoleID,
		Roles:         []string{user.RoleID},
		AuthMethod:    session.MethodAPIKey,
		BuiltAt:       now,
	}
	builder.resolve(ctx, built)

	return built.WithChecker(builder.checker), nil
}

// resolve fills Roles and Permissions from the engine, best-effort. A
// context without a permission set still authenticates; it just cannot pass
// snapshot-based checks, and the live checker remains authoritative.
func (builder *Builder) resolve(ctx context.Context, built *access.Context) {
	if builder.perms == nil {
		return
	}
	perms, roles, err := builder.perms.GetUserPermissions(ctx, built.UserID)
	if err != nil {
		builder.log.Warn("access_context_resolve_failed", "user_id", built.UserID, "error", err)
		return
	}
	built.Permissions = permission.Strings(perms)
	if len(roles) > 0 {
		built.Roles = roles
	}
}
