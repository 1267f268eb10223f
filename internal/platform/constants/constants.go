// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Operation Deadlines: Per-pipeline budgets for token and session checks.
  - Security: Token lifetimes, clock tolerance, and revocation retention.
  - Keyspace: Redis prefixes shared by the cache and revocation layers.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "gatehouse-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 5 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Operation Deadlines

const (
	// VerifyDeadline bounds one access-token verification, revocation lookup included.
	VerifyDeadline = 300 * time.Millisecond

	// SessionValidateDeadline bounds one session validation across both backends.
	SessionValidateDeadline = 800 * time.Millisecond
)

// # Rate Limiting

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute

	// RotationRateLimit caps refresh rotations per user over [RotationRateWindow].
	RotationRateLimit = 10

	// RotationRateWindow is the sliding window for the rotation cap.
	RotationRateWindow = 1 * time.Hour
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWTs.
	AuthIssuer = "averden.gatehouse"

	// AuthAudience is the standard 'aud' claim in JWTs.
	AuthAudience = "averden.platform"

	// ClockSkewLeeway is the tolerance applied to iat/exp validation and to
	// session expiry checks across nodes with drifting clocks.
	ClockSkewLeeway = 30 * time.Second

	// RefreshReuseGrace is the window after a rotation during which a replay of
	// the consumed refresh token is treated as a benign network retry.
	RefreshReuseGrace = 30 * time.Second

	// ReuseSuspectThreshold is the per-family reuse count beyond which the
	// incident is escalated from suspicious to critical.
	ReuseSuspectThreshold = 5

	// RefreshTokenCookieName is the name of the cookie that stores the refresh token.
	RefreshTokenCookieName = "refresh_token"

	// AccessTokenCookieName is the cookie fallback carrying the access token.
	AccessTokenCookieName = "access_token"

	// RefreshTokenCookiePath is the scoped path for the refresh token cookie.
	RefreshTokenCookiePath = "/api/v1/auth"

	// APIKeyHeader carries API-key credentials on service-to-service calls.
	APIKeyHeader = "X-API-Key"
)

// # Revocation Retention

const (
	// RevocationRetentionBuffer extends a revocation record past the natural
	// expiry of its token, covering clock drift between issuing nodes.
	RevocationRetentionBuffer = 7 * 24 * time.Hour

	// UserRevocationTTL bounds user-wide revocation markers.
	UserRevocationTTL = 30 * 24 * time.Hour

	// RevocationAuditRetention bounds the day-partitioned revocation audit trail.
	RevocationAuditRetention = 90 * 24 * time.Hour

	// RevocationCacheTTL bounds positive entries in the in-process revocation cache.
	RevocationCacheTTL = 5 * time.Minute

	// RevocationNegativeCacheTTL bounds "not revoked" entries. Kept short so a
	// fresh revocation propagates quickly to every node.
	RevocationNegativeCacheTTL = 30 * time.Second
)

// # Cache Lifetimes

const (
	// PermissionLocalTTL bounds entries in the in-process permission cache.
	PermissionLocalTTL = 5 * time.Minute

	// PermissionUserTTL bounds resolved user permission sets in Redis.
	PermissionUserTTL = 1 * time.Hour

	// PermissionRoleTTL bounds expanded role definitions in Redis.
	PermissionRoleTTL = 2 * time.Hour

	// ConditionCacheTTL bounds memoized condition evaluation results.
	ConditionCacheTTL = 1 * time.Minute

	// VerifyCacheTTL caps how long a successful verification result may be
	// served without re-checking signature and revocation state.
	VerifyCacheTTL = 5 * time.Minute
)

// # HTTP Headers

const (
	HeaderAuthorization = "Authorization"
	HeaderOrigin        = "Origin"
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldMeta    = "meta"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldItems   = "items"
	FieldTotal   = "total"
	FieldMessage = "message"
	FieldStatus  = "status"
	FieldApp     = "app"
	FieldVersion = "version"
	FieldChecks  = "checks"
)

// # Database Schemas

const (
	SchemaAuth = "auth"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	RedisPrefixBlacklist   = "jwt:blacklist"
	RedisPrefixPermUser    = "perm:user:"
	RedisPrefixPermRole    = "perm:role:"
	RedisPrefixSession     = "session:"
	RedisPrefixUserIndex   = "sessions:by_user:"
	RedisPrefixFamily      = "token_family:"
	RedisPrefixReuse       = "token_reuse:"
	RedisPrefixReuseCount  = "reuse_count:"
	RedisPrefixRotation    = "rotation_rate:"
	RedisPrefixIssuedIndex = "token_user:"
	RedisPrefixFamilyIndex = "token_families:"
)
