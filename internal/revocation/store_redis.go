// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/averden/gatehouse/internal/platform/breaker"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
)

// RedisStore implements Store on Redis. Every call runs through a shared
// circuit breaker, so a dead Redis trips after a few failures instead of
// stalling every request for a full timeout.
type RedisStore struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[Lookup]
	prefix  string
}

// NewRedisStore creates a Redis-backed revocation store. An empty prefix
// falls back to the default blacklist namespace.
func NewRedisStore(client *redis.Client, prefix string, log *slog.Logger) *RedisStore {

	// Fall back to the default namespace
	if prefix == "" {
		prefix = constants.RedisPrefixBlacklist
	}

	return &RedisStore{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[Lookup](breaker.Settings("revocation-store", log)),
		prefix:  prefix,
	}
}

// BreakerState exposes the breaker state for health reporting.
func (repository *RedisStore) BreakerState() string {
	return repository.breaker.State().String()
}

// # Key layout

func (repository *RedisStore) tokenKey(jti string) string {
	return fmt.Sprintf("%s:token:%s", repository.prefix, jti)
}

func (repository *RedisStore) userSetKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:tokens", repository.prefix, userID)
}

func (repository *RedisStore) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:revoked", repository.prefix, userID)
}

func (repository *RedisStore) auditKey(at time.Time) string {
	return fmt.Sprintf("%s:audit:%s", repository.prefix, at.UTC().Format(time.DateOnly))
}

func (repository *RedisStore) observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("revocation_redis", op).Observe(time.Since(start).Seconds())
}

// # Writes

/*
PutToken records a single-token revocation.

Description: The entry key is WATCHed so the entry, the user membership, and
the audit event commit in one transaction or not at all; a token entry
without its membership row can never be observed. Revoking the same jti
twice is a no-op and only the first call writes anything.

Parameters:
  - ctx: context.Context
  - rec: Record
  - ttl: time.Duration

Returns:
  - bool: true if the entry was created
  - error: Execution errors, including breaker rejection
*/
func (repository *RedisStore) PutToken(ctx context.Context, rec Record, ttl time.Duration) (bool, error) {

	defer repository.observe("put_token", time.Now())

	created := false

	_, err := repository.breaker.Execute(func() (Lookup, error) {

		// Marshal the entry
		payload, err := json.Marshal(rec)
		if err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_marshal_failed: %w", err)
		}

		event := auditEvent{
			ID:     ulid.Make().String(),
			Kind:   auditToken,
			JTI:    rec.JTI,
			UserID: rec.UserID,
			Reason: rec.Reason,
			At:     rec.RevokedAt,
		}
		entry, err := json.Marshal(event)
		if err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_marshal_failed: %w", err)
		}

		tokenKey := repository.tokenKey(rec.JTI)
		auditKey := repository.auditKey(rec.RevokedAt)

		// First writer wins; repeats are no-ops. The entry, membership, and
		// audit writes ride one transaction guarded by the watched entry key.
		txf := func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, tokenKey).Result()
			if err != nil {
				return err
			}
			if exists == 1 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, tokenKey, payload, ttl)
				pipe.SAdd(ctx, repository.userSetKey(rec.UserID), rec.JTI)
				pipe.Expire(ctx, repository.userSetKey(rec.UserID), constants.UserRevocationTTL)
				pipe.ZAdd(ctx, auditKey, redis.Z{Score: float64(rec.RevokedAt.Unix()), Member: entry})
				pipe.Expire(ctx, auditKey, constants.RevocationAuditRetention)
				return nil
			})
			if err == nil {
				created = true
			}
			return err
		}

		err = repository.client.Watch(ctx, txf, tokenKey)
		if errors.Is(err, redis.TxFailedErr) {
			// A concurrent revocation committed first; same end state.
			return Lookup{}, nil
		}
		if err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_put_token_failed: %w", err)
		}

		return Lookup{}, nil
	})

	return created, err
}

/*
PutUser records a user-wide revocation marker, replacing any earlier one.

Parameters:
  - ctx: context.Context
  - rec: UserRecord

Returns:
  - error: Execution errors, including breaker rejection
*/
func (repository *RedisStore) PutUser(ctx context.Context, rec UserRecord) error {

	defer repository.observe("put_user", time.Now())

	_, err := repository.breaker.Execute(func() (Lookup, error) {

		// Marshal the marker
		payload, err := json.Marshal(rec)
		if err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_marshal_failed: %w", err)
		}

		event := auditEvent{
			ID:     ulid.Make().String(),
			Kind:   auditUser,
			UserID: rec.UserID,
			Reason: rec.Reason,
			At:     rec.RevokedAt,
		}
		entry, err := json.Marshal(event)
		if err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_marshal_failed: %w", err)
		}

		// Latest marker wins
		auditKey := repository.auditKey(rec.RevokedAt)
		_, err = repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, repository.userKey(rec.UserID), payload, constants.UserRevocationTTL)
			pipe.ZAdd(ctx, auditKey, redis.Z{Score: float64(rec.RevokedAt.Unix()), Member: entry})
			pipe.Expire(ctx, auditKey, constants.RevocationAuditRetention)
			return nil
		})
		if err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_put_user_failed: %w", err)
		}

		return Lookup{}, nil
	})

	return err
}

// # Reads

/*
Fetch retrieves the token entry and the user-wide marker in one round trip.

Parameters:
  - ctx: context.Context
  - jti: string
  - userID: string

Returns:
  - Lookup: either or both fields nil when absent
  - error: Execution errors, including breaker rejection
*/
func (repository *RedisStore) Fetch(ctx context.Context, jti, userID string) (Lookup, error) {

	defer repository.observe("fetch", time.Now())

	return repository.breaker.Execute(func() (Lookup, error) {

		// Both lookups share one pipeline
		var tokenCmd, userCmd *redis.StringCmd
		_, err := repository.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			tokenCmd = pipe.Get(ctx, repository.tokenKey(jti))
			userCmd = pipe.Get(ctx, repository.userKey(userID))
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return Lookup{}, fmt.Errorf("redis_revocation_fetch_failed: %w", err)
		}

		var out Lookup

		// Absent keys mean not revoked
		if payload, err := tokenCmd.Bytes(); err == nil {
			var rec Record
			if err := json.Unmarshal(payload, &rec); err != nil {
				return Lookup{}, fmt.Errorf("redis_revocation_decode_failed: %w", err)
			}
			out.Token = &rec
		} else if !errors.Is(err, redis.Nil) {
			return Lookup{}, fmt.Errorf("redis_revocation_fetch_failed: %w", err)
		}

		if payload, err := userCmd.Bytes(); err == nil {
			var rec UserRecord
			if err := json.Unmarshal(payload, &rec); err != nil {
				return Lookup{}, fmt.Errorf("redis_revocation_decode_failed: %w", err)
			}
			out.User = &rec
		} else if !errors.Is(err, redis.Nil) {
			return Lookup{}, fmt.Errorf("redis_revocation_fetch_failed: %w", err)
		}

		return out, nil
	})
}

/*
UserTokens lists the jti values revoked individually for a user.

Parameters:
  - ctx: context.Context
  - userID: string

Returns:
  - []string: revoked jtis, order unspecified
  - error: Execution errors, including breaker rejection
*/
func (repository *RedisStore) UserTokens(ctx context.Context, userID string) ([]string, error) {

	defer repository.observe("user_tokens", time.Now())

	var members []string

	_, err := repository.breaker.Execute(func() (Lookup, error) {
		var err error
		members, err = repository.client.SMembers(ctx, repository.userSetKey(userID)).Result()
		if err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_user_tokens_failed: %w", err)
		}
		return Lookup{}, nil
	})

	return members, err
}

// # Maintenance

/*
CleanupExpired prunes audit partitions past the retention window and drops
membership entries whose token records have already expired.

Parameters:
  - ctx: context.Context

Returns:
  - int: number of removed keys and members
  - error: Execution errors, including breaker rejection
*/
func (repository *RedisStore) CleanupExpired(ctx context.Context) (int, error) {

	defer repository.observe("cleanup", time.Now())

	removed := 0

	_, err := repository.breaker.Execute(func() (Lookup, error) {

		// Stale audit partitions
		cutoff := time.Now().UTC().Add(-constants.RevocationAuditRetention)
		auditPrefix := fmt.Sprintf("%s:audit:", repository.prefix)

		iter := repository.client.Scan(ctx, 0, auditPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			day, err := time.Parse(time.DateOnly, strings.TrimPrefix(key, auditPrefix))
			if err != nil {
				continue
			}
			if day.Before(cutoff) {
				if err := repository.client.Del(ctx, key).Err(); err != nil {
					return Lookup{}, fmt.Errorf("redis_revocation_cleanup_failed: %w", err)
				}
				removed++
			}
		}
		if err := iter.Err(); err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_cleanup_failed: %w", err)
		}

		// Membership entries whose token records expired
		iter = repository.client.Scan(ctx, 0, fmt.Sprintf("%s:user:*:tokens", repository.prefix), 100).Iterator()
		for iter.Next(ctx) {
			setKey := iter.Val()

			members, err := repository.client.SMembers(ctx, setKey).Result()
			if err != nil {
				return Lookup{}, fmt.Errorf("redis_revocation_cleanup_failed: %w", err)
			}

			stale := make([]interface{}, 0, len(members))
			for _, jti := range members {
				exists, err := repository.client.Exists(ctx, repository.tokenKey(jti)).Result()
				if err != nil {
					return Lookup{}, fmt.Errorf("redis_revocation_cleanup_failed: %w", err)
				}
				if exists == 0 {
					stale = append(stale, jti)
				}
			}

			if len(stale) > 0 {
				pruned, err := repository.client.SRem(ctx, setKey, stale...).Result()
				if err != nil {
					return Lookup{}, fmt.Errorf("redis_revocation_cleanup_failed: %w", err)
				}
				removed += int(pruned)
			}
		}
		if err := iter.Err(); err != nil {
			return Lookup{}, fmt.Errorf("redis_revocation_cleanup_failed: %w", err)
		}

		return Lookup{}, nil
	})

	return removed, err
}

/*
Ping verifies connectivity to Redis, bypassing the breaker so health checks
report the real backend state.

Parameters:
  - ctx: context.Context

Returns:
  - error: Connectivity errors
*/
func (repository *RedisStore) Ping(ctx context.Context) error {
	if err := repository.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis_revocation_ping_failed: %w", err)
	}
	return nil
}
