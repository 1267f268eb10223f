// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package token

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/averden/gatehouse/internal/audit"
	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/permission"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
	"github.com/averden/gatehouse/internal/platform/sec"
	"github.com/averden/gatehouse/internal/revocation"
	"github.com/averden/gatehouse/pkg/uuid"
)

const (
	defaultVerifyCacheSize   = 50_000
	defaultRotationThreshold = 0.8
)

// PermissionSource resolves the permission snapshot embedded into access
// tokens. Satisfied by the permission engine; nil disables embedding.
type PermissionSource interface {
	GetUserPermissions(ctx context.Context, userID string) ([]permission.Permission, []string, error)
}

// Pair is one issued credential set.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	FamilyID         string    `json:"-"`
	AccessJTI        string    `json:"-"`
}

// Options tunes the token service.
type Options struct {
	// AccessTTL is the access-token lifetime.
	AccessTTL time.Duration
	// RefreshTTL is the refresh-token (and family) lifetime.
	RefreshTTL time.Duration
	// MaxTokensPerUser caps concurrently live access tokens per user.
	// Non-positive disables the cap.
	MaxTokensPerUser int
	// VerifyCacheSize bounds the verification result cache.
	VerifyCacheSize int
	// EmbedPermissions snapshots the subject's unconditional permission
	// strings into access tokens.
	EmbedPermissions bool
	// EnforceRotation makes verification flag tokens that have consumed
	// RotationThreshold of their lifetime, steering clients to refresh
	// before expiry.
	EnforceRotation bool
	// RotationThreshold is the consumed-lifetime fraction past which a
	// token is flagged, in (0, 1]. Non-positive falls back to the default.
	RotationThreshold float64
}

// verifyEntry is one cached verification verdict.
type verifyEntry struct {
	claims   *AccessClaims
	cachedAt time.Time
}

// Service owns the credential lifecycle.
type Service struct {
	access  *sec.Signer
	refresh *sec.Signer
	store   Store
	revoker Revoker
	users   identity.Store
	perms   PermissionSource
	auditor audit.Recorder

	// verified caches successful verifications so the hot path skips
	// signature and revocation work. Entries expire with the cache TTL or
	// with the token, whichever comes first.
	verified *expirable.LRU[string, verifyEntry]

	// rotateMu serializes rotations within this process. The store CAS stays
	// authoritative across processes; the mutex only trims conflict churn
	// when one client retries against a single node.
	rotateMu sync.Mutex

	opts  Options
	clock clock.Clock
	log   *slog.Logger
}

// Revoker is the slice of the revocation index the token service needs.
type Revoker interface {
	IsTokenRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error)
	RevokeToken(ctx context.Context, rec revocation.Record, expiresAt time.Time) error
	RevokeUser(ctx context.Context, rec revocation.UserRecord) error
}

/*
NewService creates the token service.

Parameters:
  - access, refresh: signers for the two token types, configured with
    separate secrets
  - store: family and reuse-marker backend
  - revoker: revocation index
  - users: account store
  - perms: permission snapshot source, nil to disable embedding
  - auditor: audit sink, best-effort
  - opts: lifetimes and limits
  - clk: time source
  - log: structured logger

Returns:
  - *Service: ready-to-use service
*/
func NewService(access, refresh *sec.Signer, store Store, revoker Revoker, users identity.Store,
	perms PermissionSource, auditor audit.Recorder, opts Options, clk clock.Clock, log *slog.Logger) *Service {

	if opts.VerifyCacheSize <= 0 {
		opts.VerifyCacheSize = defaultVerifyCacheSize
	}
	if opts.RotationThreshold <= 0 || opts.RotationThreshold > 1 {
		opts.RotationThreshold = defaultRotationThreshold
	}
	if clk == nil {
		clk = clock.System()
	}

	return &Service{
		access:   access,
		refresh:  refresh,
		store:    store,
		revoker:  revoker,
		users:    users,
		perms:    perms,
		auditor:  auditor,
		verified: expirable.NewLRU[string, verifyEntry](opts.VerifyCacheSize, nil, constants.VerifyCacheTTL),
		opts:     opts,
		clock:    clk,
		log:      log,
	}
}

// # Issuance

/*
Generate mints a fresh access/refresh pair and opens a new token family.

Description: The user must be able to authenticate; the per-user live-token
cap is enforced before the family is created. When permission embedding is
enabled the access token snapshots the subject's unconditional permission
strings; the snapshot is advisory and privileged calls re-check the engine.

Parameters:
  - ctx: context.Context
  - user: authenticated principal
  - sessionID: owning session, empty for sessionless issuance

Returns:
  - *Pair: signed tokens
  - error: apperr.Forbidden for unauthenticatable accounts, apperr.RateLimited
    when the live-token cap is hit, signing and storage failures
*/
func (service *Service) Generate(ctx context.Context, user *identity.User, sessionID string) (*Pair, error) {

	now := service.clock.Now().UTC()

	// Validate input
	if user == nil || user.ID == "" {
		return nil, apperr.ValidationError("User is required")
	}
	if !user.CanAuthenticate(now) {
		return nil, apperr.Forbidden("Account is not allowed to authenticate")
	}

	pair, accessClaims, refreshClaims, err := service.mint(ctx, user, sessionID, uuid.New(), now)
	if err != nil {
		return nil, err
	}

	// Enforce the live-token cap before opening the family
	if err := service.registerIssued(ctx, user.ID, accessClaims.ID, pair.AccessExpiresAt, now); err != nil {
		return nil, err
	}

	family := &Family{
		ID:            pair.FamilyID,
		UserID:        user.ID,
		SessionID:     sessionID,
		State:         FamilyActive,
		CurrentJTI:    refreshClaims.ID,
		RotationCount: 0,
		CreatedAt:     now,
		LastRotatedAt: now,
	}
	if err := service.store.CreateFamily(ctx, family, service.opts.RefreshTTL); err != nil {
		return nil, err
	}

	metrics.TokensIssued.WithLabelValues(TypeAccess).Inc()
	metrics.TokensIssued.WithLabelValues(TypeRefresh).Inc()

	service.record(ctx, audit.New(audit.ActionTokenIssued, now).
		WithUser(user.ID).
		WithDetail("family_id", pair.FamilyID).
		WithDetail("session_id", sessionID))

	return pair, nil
}

// mint signs one access/refresh pair within the given family.
func (service *Service) mint(ctx context.Context, user *identity.User, sessionID, familyID string, now time.Time) (*Pair, *AccessClaims, *RefreshClaims, error) {

	accessExpiry := now.Add(service.opts.AccessTTL)
	refreshExpiry := now.Add(service.opts.RefreshTTL)

	accessClaims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    constants.AuthIssuer,
			Audience:  jwt.ClaimStrings{constants.AuthAudience},
			Subject:   user.ID,
			ID:        uuid.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
		},
		Email:     user.Email,
		RoleID:    user.RoleID,
		SessionID: sessionID,
		TokenType: TypeAccess,
	}

	if service.opts.EmbedPermissions && service.perms != nil {
		perms, _, err := service.perms.GetUserPermissions(ctx, user.ID)
		if err != nil {
			// The snapshot is advisory; issuance proceeds without it.
			service.log.Warn("token_permission_snapshot_failed",
				"user_id", user.ID,
				"error", err,
			)
		} else {
			accessClaims.Permissions = permission.Strings(perms)
		}
	}

	refreshClaims := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    constants.AuthIssuer,
			Audience:  jwt.ClaimStrings{constants.AuthAudience},
			Subject:   user.ID,
			ID:        uuid.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiry),
		},
		TokenType: TypeRefresh,
		FamilyID:  familyID,
	}

	accessToken, err := service.access.Sign(accessClaims)
	if err != nil {
		return nil, nil, nil, apperr.Internal(err)
	}
	refreshToken, err := service.refresh.Sign(refreshClaims)
	if err != nil {
		return nil, nil, nil, apperr.Internal(err)
	}

	pair := &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
		FamilyID:         familyID,
		AccessJTI:        accessClaims.ID,
	}
	return pair, accessClaims, refreshClaims, nil
}

// registerIssued enforces the per-user concurrent live-token cap.
func (service *Service) registerIssued(ctx context.Context, userID, jti string, expiresAt, now time.Time) error {

	if service.opts.MaxTokensPerUser <= 0 {
		return nil
	}

	live, err := service.store.RegisterIssued(ctx, userID, jti, expiresAt, now)
	if err != nil {
		// The cap is a safety valve, not a correctness gate.
		service.log.Warn("token_issue_index_failed", "user_id", userID, "error", err)
		return nil
	}
	if live > int64(service.opts.MaxTokensPerUser) {
		if err := service.store.ReleaseIssued(ctx, userID, jti); err != nil {
			service.log.Warn("token_issue_release_failed", "user_id", userID, "error", err)
		}
		return apperr.RateLimited(int(service.opts.AccessTTL.Seconds()))
	}
	return nil
}

// # Verification

/*
Verify validates an access token and returns its claims.

Description: The pipeline is signature, payload shape, then revocation.
Successful verdicts are cached; a cached verdict is served until the cache
TTL or the token expiry, whichever comes first. Revocations therefore
propagate to cached verdicts within the cache TTL. With rotation
enforcement on, claims whose token has consumed the configured fraction of
its lifetime carry ShouldRotate; the flag is recomputed on cache hits so it
never lags behind the clock.

Parameters:
  - ctx: context.Context
  - tokenString: raw bearer credential

Returns:
  - *AccessClaims: validated payload
  - error: apperr.Unauthenticated for signature, shape, and expiry failures;
    apperr.Revoked for blacklisted tokens; apperr.Transient when the
    revocation store is unreachable in fail-closed mode
*/
func (service *Service) Verify(ctx context.Context, tokenString string) (*AccessClaims, error) {

	if tokenString == "" {
		return nil, apperr.Unauthenticated("Access token is required")
	}

	now := service.clock.Now().UTC()
	cacheKey := sec.HashToken(tokenString)

	if entry, ok := service.verified.Get(cacheKey); ok {
		if entry.claims.ExpiresAt != nil && now.Before(entry.claims.ExpiresAt.Time) {
			metrics.CacheRequests.WithLabelValues("verify", "hit").Inc()
			metrics.TokenVerifications.WithLabelValues("valid").Inc()

			claims := entry.claims
			if service.opts.EnforceRotation && !claims.ShouldRotate && service.rotationDue(claims, now) {
				// Copy-on-write: cached claims are shared across requests.
				flagged := *claims
				flagged.ShouldRotate = true
				claims = &flagged
			}
			return claims, nil
		}
		service.verified.Remove(cacheKey)
	}
	metrics.CacheRequests.WithLabelValues("verify", "miss").Inc()

	claims := &AccessClaims{}
	if err := service.access.Parse(tokenString, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			metrics.TokenVerifications.WithLabelValues("expired").Inc()
			return nil, apperr.Unauthenticated("Access token has expired")
		}
		metrics.TokenVerifications.WithLabelValues("invalid").Inc()
		return nil, apperr.Unauthenticated("Invalid access token")
	}
	if err := claims.ValidateShape(); err != nil {
		metrics.TokenVerifications.WithLabelValues("invalid").Inc()
		return nil, err
	}

	revoked, err := service.revoker.IsTokenRevoked(ctx, claims.ID, claims.Subject, claims.IssuedAt.Time)
	if err != nil {
		return nil, err
	}
	if revoked {
		metrics.TokenVerifications.WithLabelValues("revoked").Inc()
		return nil, apperr.Revoked("Access token has been revoked")
	}

	if service.opts.EnforceRotation {
		claims.ShouldRotate = service.rotationDue(claims, now)
	}

	// Expired verdicts are never cached
	if now.Before(claims.ExpiresAt.Time) {
		service.verified.Add(cacheKey, verifyEntry{claims: claims, cachedAt: now})
	}

	metrics.TokenVerifications.WithLabelValues("valid").Inc()
	return claims, nil
}

// rotationDue reports whether the token has consumed at least the
// configured fraction of its lifetime.
func (service *Service) rotationDue(claims *AccessClaims, now time.Time) bool {
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return false
	}
	lifetime := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time)
	if lifetime <= 0 {
		return false
	}
	elapsed := now.Sub(claims.IssuedAt.Time)
	return float64(elapsed) >= float64(lifetime)*service.opts.RotationThreshold
}

// # Rotation

/*
Rotate exchanges a refresh token for a fresh pair within the same family.

Description: Every denial that precedes minting (rate cap, terminated or
missing family, revoked token, unauthenticatable account) leaves the token
unconsumed, so the caller may retry once the condition clears. The reuse
marker is the last gate before minting: a replay inside the grace window
counts as a lost-response retry and rotates normally; beyond it the family
is torn down, every token of the user is revoked, and the caller is told to
re-authenticate.

Parameters:
  - ctx: context.Context
  - refreshToken: raw refresh credential

Returns:
  - *Pair: fresh tokens on success
  - error: apperr.Unauthenticated for invalid or expired tokens,
    apperr.SecurityBreach on confirmed reuse, apperr.Revoked for terminated
    families, apperr.RateLimited past the rotation cap, apperr.Conflict when
    a concurrent rotation won
*/
func (service *Service) Rotate(ctx context.Context, refreshToken string) (*Pair, error) {

	now := service.clock.Now().UTC()

	// 1. Signature and shape. Anything unverifiable stops here; unsigned
	// garbage must not reach the stores.
	claims := &RefreshClaims{}
	if err := service.refresh.Parse(refreshToken, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			metrics.TokenRotations.WithLabelValues("denied").Inc()
			return nil, apperr.Unauthenticated("Refresh token has expired")
		}
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, apperr.Unauthenticated("Invalid refresh token")
	}
	if err := claims.ValidateShape(); err != nil {
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, err
	}

	// 2. Rotation rate cap, before any state is written: a rate-limited
	// caller must be able to retry the same token once the window passes.
	count, err := service.store.IncrRotationRate(ctx, claims.Subject, now)
	if err != nil {
		service.log.Warn("token_rotation_rate_failed", "user_id", claims.Subject, "error", err)
	} else if count > constants.RotationRateLimit {
		metrics.TokenRotations.WithLabelValues("rate_limited").Inc()
		return nil, apperr.RateLimited(int(constants.RotationRateWindow.Seconds()))
	}

	service.rotateMu.Lock()
	defer service.rotateMu.Unlock()

	// 3. Family state
	family, err := service.store.GetFamily(ctx, claims.FamilyID)
	if err != nil {
		if apperr.IsNotFound(err) {
			metrics.TokenRotations.WithLabelValues("denied").Inc()
			return nil, apperr.Unauthenticated("Token family no longer exists")
		}
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, apperr.Transient(err)
	}
	switch family.State {
	case FamilyCompromised:
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, apperr.SecurityBreach("Token family was compromised")
	case FamilyInvalidated:
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, apperr.Revoked("Token family has been invalidated")
	}

	// 4. Revocation. Rotation retires tokens through reuse markers, not the
	// index, so an index hit here is an administrative revocation.
	revoked, err := service.revoker.IsTokenRevoked(ctx, claims.ID, claims.Subject, claims.IssuedAt.Time)
	if err != nil {
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, err
	}
	if revoked {
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, apperr.Revoked("Refresh token has been revoked")
	}

	// 5. The account must still be allowed to authenticate
	user, err := service.users.FindByID(ctx, claims.Subject)
	if err != nil {
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.Internal(err)
	}
	if !user.CanAuthenticate(now) {
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, apperr.Forbidden("Account is not allowed to authenticate")
	}

	// 6. Reuse marker, the point of no return: from here the token counts
	// as consumed unless the rotation fails and the marker is rolled back.
	tokenHash := sec.HashToken(refreshToken)
	markerTTL := claims.ExpiresAt.Time.Sub(now) + constants.ClockSkewLeeway
	use, err := service.store.MarkRefreshUsed(ctx, tokenHash, now, markerTTL)
	if err != nil {
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, apperr.Transient(err)
	}

	withinGrace := use.Used && now.Sub(use.FirstUsedAt) <= constants.RefreshReuseGrace

	if use.Used && !withinGrace {
		return nil, service.reuseIncident(ctx, claims, use, now)
	}

	// A first presentation of a token that is not the family's current one
	// means the lineage forked: some sibling was stolen before use.
	if !use.Used && family.CurrentJTI != claims.ID {
		return nil, service.reuseIncident(ctx, claims, use, now)
	}

	// 7. Mint and commit
	pair, accessClaims, refreshClaims, err := service.mint(ctx, user, family.SessionID, family.ID, now)
	if err != nil {
		service.rollbackMarker(ctx, tokenHash, use)
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, err
	}
	if err := service.registerIssued(ctx, user.ID, accessClaims.ID, pair.AccessExpiresAt, now); err != nil {
		service.rollbackMarker(ctx, tokenHash, use)
		metrics.TokenRotations.WithLabelValues("denied").Inc()
		return nil, err
	}

	family.CurrentJTI = refreshClaims.ID
	family.RotationCount++
	family.LastRotatedAt = now
	if err := service.store.UpdateFamilyCAS(ctx, family, service.opts.RefreshTTL); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			// The concurrent winner consumed the token; the marker stands.
			metrics.TokenRotations.WithLabelValues("conflict").Inc()
		} else {
			service.rollbackMarker(ctx, tokenHash, use)
			metrics.TokenRotations.WithLabelValues("denied").Inc()
		}
		return nil, err
	}

	outcome := "rotated"
	if withinGrace {
		outcome = "replay_grace"
	}
	metrics.TokenRotations.WithLabelValues(outcome).Inc()
	metrics.TokensIssued.WithLabelValues(TypeAccess).Inc()
	metrics.TokensIssued.WithLabelValues(TypeRefresh).Inc()

	service.record(ctx, audit.New(audit.ActionTokenRotated, now).
		WithUser(user.ID).
		WithDetail("family_id", family.ID).
		WithDetail("rotation_count", strconv.Itoa(family.RotationCount)).
		WithDetail("grace_retry", strconv.FormatBool(withinGrace)))

	return pair, nil
}

// rollbackMarker clears a reuse marker this call wrote for a rotation that
// failed after marking, so a later retry is not mistaken for a replay. Grace
// retries never roll back: the marker belongs to the first presentation.
func (service *Service) rollbackMarker(ctx context.Context, tokenHash string, use UseRecord) {
	if use.Used {
		return
	}
	if err := service.store.ClearRefreshUsed(ctx, tokenHash); err != nil {
		service.log.Warn("token_reuse_marker_rollback_failed", "error", err)
	}
}

// reuseIncident tears down a family after a confirmed refresh replay: the
// family is marked compromised and every outstanding token of the user is
// revoked. The replaying caller always gets the breach error, even when the
// teardown itself hits storage trouble.
func (service *Service) reuseIncident(ctx context.Context, claims *RefreshClaims, use UseRecord, now time.Time) error {

	metrics.ReuseIncidents.Inc()
	metrics.TokenRotations.WithLabelValues("reuse_detected").Inc()

	severity := "suspicious"
	if use.Count > constants.ReuseSuspectThreshold {
		severity = "critical"
	}

	service.log.Error("token_reuse_detected",
		"user_id", claims.Subject,
		"family_id", claims.FamilyID,
		"jti", claims.ID,
		"first_used_at", use.FirstUsedAt,
		"use_count", use.Count,
		"severity", severity,
	)

	// Compromise the family. A CAS conflict means someone else is mutating
	// it concurrently; one retry against the fresh version is enough because
	// the compromised state is terminal.
	for attempt := 0; attempt < 2; attempt++ {
		family, err := service.store.GetFamily(ctx, claims.FamilyID)
		if err != nil {
			if !apperr.IsNotFound(err) {
				service.log.Error("token_reuse_family_load_failed", "family_id", claims.FamilyID, "error", err)
			}
			break
		}
		if family.State == FamilyCompromised {
			break
		}
		family.State = FamilyCompromised
		err = service.store.UpdateFamilyCAS(ctx, family, service.opts.RefreshTTL)
		if err == nil || apperr.KindOf(err) != apperr.KindConflict {
			if err != nil {
				service.log.Error("token_reuse_family_update_failed", "family_id", claims.FamilyID, "error", err)
			}
			break
		}
	}

	if err := service.revoker.RevokeUser(ctx, revocation.UserRecord{
		UserID: claims.Subject,
		Reason: revocation.ReasonSecurityBreach,
		Metadata: map[string]string{
			"family_id": claims.FamilyID,
			"trigger":   "refresh_reuse",
		},
	}); err != nil {
		service.log.Error("token_reuse_revoke_failed", "user_id", claims.Subject, "error", err)
	}

	service.record(ctx, audit.New(audit.ActionReuseDetected, now).
		WithUser(claims.Subject).
		WithDetail("family_id", claims.FamilyID).
		WithDetail("jti", claims.ID).
		WithDetail("severity", severity).
		WithDetail("use_count", strconv.FormatInt(use.Count, 10)))

	return apperr.SecurityBreach("Refresh token reuse detected. All sessions have been terminated.")
}

// # Invalidation

/*
InvalidateFamily terminates one family deliberately (logout, admin action).

Description: The family transitions to invalidated and its current refresh
token is revoked. Already-terminated families are left as they are, so a
compromised family cannot be downgraded to a mere logout.

Parameters:
  - ctx: context.Context
  - familyID: string
  - reason: revocation reason recorded against the current token
  - actorID: who triggered the invalidation

Returns:
  - error: apperr.NotFound for unknown families, storage failures
*/
func (service *Service) InvalidateFamily(ctx context.Context, familyID string, reason revocation.Reason, actorID string) error {

	now := service.clock.Now().UTC()

	family, err := service.store.GetFamily(ctx, familyID)
	if err != nil {
		return err
	}
	if !family.Active() {
		return nil
	}

	family.State = FamilyInvalidated
	if err := service.store.UpdateFamilyCAS(ctx, family, service.opts.RefreshTTL); err != nil {
		return err
	}

	// The refresh exp is not tracked on the family; the full refresh TTL is
	// a safe upper bound for the revocation record.
	if err := service.revoker.RevokeToken(ctx, revocation.Record{
		JTI:       family.CurrentJTI,
		UserID:    family.UserID,
		Reason:    reason,
		RevokedBy: actorID,
		SessionID: family.SessionID,
	}, now.Add(service.opts.RefreshTTL)); err != nil {
		return err
	}

	service.record(ctx, audit.New(audit.ActionTokenRevoked, now).
		WithUser(family.UserID).
		WithActor(actorID).
		WithDetail("family_id", family.ID).
		WithDetail("reason", string(reason)))

	return nil
}

/*
InvalidateRefreshToken terminates the family of a raw refresh token.

Description: Logout presents the refresh token itself rather than a family
ID. The token only needs to be well-signed; an expired one still names the
family to tear down.

Parameters:
  - ctx: context.Context
  - refreshToken: raw refresh credential
  - reason: revocation reason
  - actorID: who triggered the invalidation

Returns:
  - error: apperr.Unauthenticated for unverifiable tokens, storage failures
*/
func (service *Service) InvalidateRefreshToken(ctx context.Context, refreshToken string, reason revocation.Reason, actorID string) error {

	claims := &RefreshClaims{}
	if err := service.refresh.Parse(refreshToken, claims); err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return apperr.Unauthenticated("Invalid refresh token")
	}
	if claims.FamilyID == "" {
		return apperr.Unauthenticated("Invalid refresh token")
	}
	return service.InvalidateFamily(ctx, claims.FamilyID, reason, actorID)
}

/*
InvalidateUserFamilies terminates every family of a user and writes a
user-wide revocation marker.

Parameters:
  - ctx: context.Context
  - userID: string
  - reason: revocation reason
  - actorID: who triggered the invalidation

Returns:
  - int: families invalidated by this call
  - error: validation or storage failure
*/
func (service *Service) InvalidateUserFamilies(ctx context.Context, userID string, reason revocation.Reason, actorID string) (int, error) {

	if userID == "" {
		return 0, apperr.ValidationError("User identifier is required")
	}

	now := service.clock.Now().UTC()

	familyIDs, err := service.store.UserFamilies(ctx, userID)
	if err != nil {
		return 0, apperr.Transient(err)
	}

	invalidated := 0
	for _, familyID := range familyIDs {
		family, err := service.store.GetFamily(ctx, familyID)
		if err != nil {
			if apperr.IsNotFound(err) {
				continue // expired since it was indexed
			}
			return invalidated, err
		}
		if !family.Active() {
			continue
		}
		family.State = FamilyInvalidated
		if err := service.store.UpdateFamilyCAS(ctx, family, service.opts.RefreshTTL); err != nil {
			if apperr.KindOf(err) == apperr.KindConflict {
				continue // lost to a concurrent terminator, same end state
			}
			return invalidated, err
		}
		invalidated++
	}

	// The marker covers tokens the family index may have missed.
	if err := service.revoker.RevokeUser(ctx, revocation.UserRecord{
		UserID:    userID,
		Reason:    reason,
		RevokedBy: actorID,
	}); err != nil {
		return invalidated, err
	}

	service.record(ctx, audit.New(audit.ActionUserRevoked, now).
		WithUser(userID).
		WithActor(actorID).
		WithDetail("families", strconv.Itoa(invalidated)).
		WithDetail("reason", string(reason)))

	return invalidated, nil
}

// Ping reports backend connectivity for readiness checks.
func (service *Service) Ping(ctx context.Context) error {
	return service.store.Ping(ctx)
}

// record persists an audit event, logging on failure. Auditing never fails
// the credential operation itself.
func (service *Service) record(ctx context.Context, event audit.Event) {
	if service.auditor == nil {
		return
	}
	if err := service.auditor.Record(ctx, event); err != nil {
		service.log.Warn("audit_record_failed", "action", event.Action, "error", err)
	}
}
