// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package revocation

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/breaker"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
)

const defaultCacheSize = 10_000

// Index is the revocation service. It layers a short-lived in-process cache
// over the durable store and applies the availability policy when the store
// is unreachable.
type Index struct {
	store      Store
	positive   *expirable.LRU[string, *Record]
	negative   *expirable.LRU[string, struct{}]
	failClosed bool
	clock      clock.Clock
	log        *slog.Logger
}

/*
NewIndex creates the revocation service.

Parameters:
  - store: durable revocation backend
  - cacheSize: per-tier local cache capacity, defaulted when non-positive
  - failClosed: reject token checks when the store is unreachable
  - clk: time source
  - log: structured logger

Returns:
  - *Index: ready-to-use service
*/
func NewIndex(store Store, cacheSize int, failClosed bool, clk clock.Clock, log *slog.Logger) *Index {

	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if clk == nil {
		clk = clock.System()
	}

	return &Index{
		store: store,
		// Confirmed revocations may be cached longer than clean verdicts:
		// a revocation never un-happens, a clean token can stop being clean.
		positive:   expirable.NewLRU[string, *Record](cacheSize, nil, constants.RevocationCacheTTL),
		negative:   expirable.NewLRU[string, struct{}](cacheSize, nil, constants.RevocationNegativeCacheTTL),
		failClosed: failClosed,
		clock:      clk,
		log:        log,
	}
}

/*
IsTokenRevoked reports whether a token has been revoked, either individually
or through a user-wide marker covering its issue time.

Description: Verdicts are served from the local cache when fresh. On store
failure the check fails open (treats the token as valid) unless the index was
configured fail-closed, in which case it returns a transient error.

Parameters:
  - ctx: context.Context
  - jti: token identifier
  - userID: token subject
  - issuedAt: token iat claim

Returns:
  - bool: true when the token must be rejected
  - error: validation failure, or transient store failure in fail-closed mode
*/
func (index *Index) IsTokenRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error) {

	// Validate input
	if jti == "" {
		return false, apperr.ValidationError("Token identifier is required")
	}

	// A jti maps to exactly one (user, issuedAt) pair, so the verdict can be
	// cached under the jti alone.
	if rec, ok := index.positive.Get(jti); ok && rec != nil {
		metrics.RevocationChecks.WithLabelValues("revoked", "local").Inc()
		return true, nil
	}
	if _, ok := index.negative.Get(jti); ok {
		metrics.RevocationChecks.WithLabelValues("clean", "local").Inc()
		return false, nil
	}

	// Consult the store
	lookup, err := index.store.Fetch(ctx, jti, userID)
	if err != nil {
		metrics.RevocationChecks.WithLabelValues("error", "store").Inc()

		if index.failClosed {
			return false, apperr.Transient(err)
		}

		// Fail-open verdicts are never cached, so recovery is immediate.
		metrics.RevocationFailOpen.Inc()
		index.log.Warn("revocation_check_fail_open",
			"jti", jti,
			"user_id", userID,
			"rejected", breaker.Rejected(err),
			"error", err,
		)
		return false, nil
	}

	// Individual revocation
	if lookup.Token != nil {
		index.positive.Add(jti, lookup.Token)
		metrics.RevocationChecks.WithLabelValues("revoked", "store").Inc()
		return true, nil
	}

	// User-wide marker covers every token issued at or before it
	if lookup.User != nil && !issuedAt.After(lookup.User.RevokedAt) {
		index.positive.Add(jti, &Record{
			JTI:       jti,
			UserID:    userID,
			Reason:    lookup.User.Reason,
			RevokedAt: lookup.User.RevokedAt,
			RevokedBy: lookup.User.RevokedBy,
		})
		metrics.RevocationChecks.WithLabelValues("revoked", "store").Inc()
		return true, nil
	}

	index.negative.Add(jti, struct{}{})
	metrics.RevocationChecks.WithLabelValues("clean", "store").Inc()
	return false, nil
}

/*
RevokeToken revokes a single token until past its natural expiry.

Description: The entry outlives the token by a retention buffer so late
verifier clocks still see it. Revoking an already-revoked or already-expired
token succeeds as a no-op. Writes never fail open.

Parameters:
  - ctx: context.Context
  - rec: revocation entry; JTI, UserID and Reason are required
  - expiresAt: the token's exp claim

Returns:
  - error: validation failure or store failure
*/
func (index *Index) RevokeToken(ctx context.Context, rec Record, expiresAt time.Time) error {

	// Validate input
	if rec.JTI == "" {
		return apperr.ValidationError("Token identifier is required")
	}
	if rec.UserID == "" {
		return apperr.ValidationError("User identifier is required")
	}
	if !rec.Reason.Valid() {
		return apperr.ValidationError("Unknown revocation reason")
	}
	if rec.RevokedAt.IsZero() {
		rec.RevokedAt = index.clock.Now().UTC()
	}

	// Entries for expired tokens still live for the retention buffer
	ttl := expiresAt.Sub(index.clock.Now())
	if ttl < 0 {
		ttl = 0
	}
	ttl += constants.RevocationRetentionBuffer

	created, err := index.store.PutToken(ctx, rec, ttl)
	if err != nil {
		return apperr.Transient(err)
	}

	// Local invalidation is synchronous; peers converge within the
	// negative-cache window.
	index.negative.Remove(rec.JTI)
	index.positive.Add(rec.JTI, &rec)
	metrics.CacheInvalidations.WithLabelValues("revocation", "token").Inc()

	if created {
		index.log.Info("token_revoked",
			"jti", rec.JTI,
			"user_id", rec.UserID,
			"reason", rec.Reason,
		)
	}
	return nil
}

/*
RevokeUser revokes every token the user holds at the time of the call.

Description: Writes a user-wide marker; tokens issued after the marker are
unaffected. The whole local cache is dropped because clean verdicts for this
user cannot be enumerated by jti.

Parameters:
  - ctx: context.Context
  - rec: marker; UserID and Reason are required

Returns:
  - error: validation failure or store failure
*/
func (index *Index) RevokeUser(ctx context.Context, rec UserRecord) error {

	// Validate input
	if rec.UserID == "" {
		return apperr.ValidationError("User identifier is required")
	}
	if !rec.Reason.Valid() {
		return apperr.ValidationError("Unknown revocation reason")
	}
	if rec.RevokedAt.IsZero() {
		rec.RevokedAt = index.clock.Now().UTC()
	}

	if err := index.store.PutUser(ctx, rec); err != nil {
		return apperr.Transient(err)
	}

	index.positive.Purge()
	index.negative.Purge()
	metrics.CacheInvalidations.WithLabelValues("revocation", "user").Inc()

	index.log.Info("user_tokens_revoked",
		"user_id", rec.UserID,
		"reason", rec.Reason,
		"revoked_at", rec.RevokedAt,
	)
	return nil
}

/*
UserRevokedTokens lists the jti values revoked individually for a user.

Parameters:
  - ctx: context.Context
  - userID: string

Returns:
  - []string: revoked jtis, order unspecified
  - error: validation or store failure
*/
func (index *Index) UserRevokedTokens(ctx context.Context, userID string) ([]string, error) {

	if userID == "" {
		return nil, apperr.ValidationError("User identifier is required")
	}

	tokens, err := index.store.UserTokens(ctx, userID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return tokens, nil
}

/*
CleanupExpired prunes stale audit partitions and membership entries.

Returns:
  - int: number of removed keys and members
  - error: store failure
*/
func (index *Index) CleanupExpired(ctx context.Context) (int, error) {
	removed, err := index.store.CleanupExpired(ctx)
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return removed, nil
}

// Ping reports backend connectivity for readiness checks.
func (index *Index) Ping(ctx context.Context) error {
	return index.store.Ping(ctx)
}
