// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
)

// RedisStore implements [Store] on Redis.
//
// Family updates use WATCH/MULTI optimistic concurrency: the version field
// in the record and the watched key together guarantee that concurrent
// rotations cannot both win.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed token store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// # Key layout

func familyKey(familyID string) string {
	return constants.RedisPrefixFamily + familyID
}

func familyIndexKey(userID string) string {
	return constants.RedisPrefixFamilyIndex + userID
}

func reuseKey(tokenHash string) string {
	return constants.RedisPrefixReuse + tokenHash
}

func reuseCountKey(tokenHash string) string {
	return constants.RedisPrefixReuseCount + tokenHash
}

func rotationRateKey(userID string, hour time.Time) string {
	return fmt.Sprintf("%s%s:%s", constants.RedisPrefixRotation, userID,
		hour.UTC().Truncate(time.Hour).Format("2006010215"))
}

func issuedKey(userID string) string {
	return constants.RedisPrefixIssuedIndex + userID
}

func (repository *RedisStore) observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("token_redis", op).Observe(time.Since(start).Seconds())
}

// # Families

/*
CreateFamily persists a new family record and indexes it under its user.

Parameters:
  - ctx: context.Context
  - family: *Family
  - ttl: family lifetime

Returns:
  - error: apperr.Conflict when the family ID already exists
*/
func (repository *RedisStore) CreateFamily(ctx context.Context, family *Family, ttl time.Duration) error {

	defer repository.observe("create_family", time.Now())

	family.Version = 1
	payload, err := json.Marshal(family)
	if err != nil {
		return fmt.Errorf("redis_token_family_encode_failed: %w", err)
	}

	created, err := repository.client.SetNX(ctx, familyKey(family.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis_token_family_create_failed: %w", err)
	}
	if !created {
		return apperr.Conflict("Token family already exists")
	}

	_, err = repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, familyIndexKey(family.UserID), family.ID)
		pipe.Expire(ctx, familyIndexKey(family.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis_token_family_index_failed: %w", err)
	}
	return nil
}

/*
GetFamily returns the family record.

Returns:
  - *Family: hydrated record
  - error: apperr.NotFound when absent or expired
*/
func (repository *RedisStore) GetFamily(ctx context.Context, familyID string) (*Family, error) {

	defer repository.observe("get_family", time.Now())

	payload, err := repository.client.Get(ctx, familyKey(familyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.NotFound("Token family")
		}
		return nil, fmt.Errorf("redis_token_family_get_failed: %w", err)
	}

	family := &Family{}
	if err := json.Unmarshal(payload, family); err != nil {
		return nil, fmt.Errorf("redis_token_family_decode_failed: %w", err)
	}
	return family, nil
}

/*
UpdateFamilyCAS replaces the family record under optimistic concurrency.

Description: The key is WATCHed, the stored version compared against the
caller's copy, and the write committed in a transaction. Any interleaved
write aborts the transaction and surfaces as a conflict.

Parameters:
  - ctx: context.Context
  - family: *Family at the version the caller read
  - ttl: remaining family lifetime

Returns:
  - error: apperr.Conflict when the family changed underneath the caller
*/
func (repository *RedisStore) UpdateFamilyCAS(ctx context.Context, family *Family, ttl time.Duration) error {

	defer repository.observe("update_family", time.Now())

	key := familyKey(family.ID)

	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apperr.NotFound("Token family")
			}
			return fmt.Errorf("redis_token_family_get_failed: %w", err)
		}

		stored := &Family{}
		if err := json.Unmarshal(payload, stored); err != nil {
			return fmt.Errorf("redis_token_family_decode_failed: %w", err)
		}
		if stored.Version != family.Version {
			return apperr.Conflict("Token family was rotated concurrently")
		}

		family.Version++
		updated, err := json.Marshal(family)
		if err != nil {
			return fmt.Errorf("redis_token_family_encode_failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		return err
	}

	err := repository.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return apperr.Conflict("Token family was rotated concurrently")
	}
	if err != nil {
		if apperr.IsAppError(err) {
			return err
		}
		return fmt.Errorf("redis_token_family_update_failed: %w", err)
	}
	return nil
}

/*
UserFamilies lists the family IDs created for a user.

Returns:
  - []string: family IDs, order unspecified
  - error: storage failure
*/
func (repository *RedisStore) UserFamilies(ctx context.Context, userID string) ([]string, error) {

	defer repository.observe("user_families", time.Now())

	ids, err := repository.client.SMembers(ctx, familyIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis_token_family_index_read_failed: %w", err)
	}
	return ids, nil
}

// # Reuse Detection

/*
MarkRefreshUsed stamps a refresh token as presented and reports its prior
usage.

Description: SET NX GET writes the first-use timestamp atomically and
returns the previous one when the marker already existed; the companion
counter tracks presentation volume for incident escalation.

Parameters:
  - ctx: context.Context
  - tokenHash: SHA-256 of the raw token string
  - at: presentation instant
  - ttl: marker lifetime

Returns:
  - UseRecord: prior usage of this token
  - error: storage failure
*/
func (repository *RedisStore) MarkRefreshUsed(ctx context.Context, tokenHash string, at time.Time, ttl time.Duration) (UseRecord, error) {

	defer repository.observe("mark_used", time.Now())

	record := UseRecord{}

	previous, err := repository.client.SetArgs(ctx, reuseKey(tokenHash),
		strconv.FormatInt(at.UnixMilli(), 10),
		redis.SetArgs{Mode: "NX", TTL: ttl, Get: true},
	).Result()

	switch {
	case errors.Is(err, redis.Nil):
		// First presentation: marker freshly written
	case err != nil:
		return record, fmt.Errorf("redis_token_mark_used_failed: %w", err)
	default:
		millis, parseErr := strconv.ParseInt(previous, 10, 64)
		if parseErr != nil {
			return record, fmt.Errorf("redis_token_mark_used_decode_failed: %w", parseErr)
		}
		record.Used = true
		record.FirstUsedAt = time.UnixMilli(millis).UTC()
	}

	var countCmd *redis.IntCmd
	_, err = repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.Incr(ctx, reuseCountKey(tokenHash))
		pipe.Expire(ctx, reuseCountKey(tokenHash), ttl)
		return nil
	})
	if err != nil {
		return record, fmt.Errorf("redis_token_mark_used_failed: %w", err)
	}

	record.Count = countCmd.Val()
	return record, nil
}

// ClearRefreshUsed removes the reuse marker and its presentation counter,
// compensating a marker written for a rotation that was later denied.
func (repository *RedisStore) ClearRefreshUsed(ctx context.Context, tokenHash string) error {

	defer repository.observe("clear_used", time.Now())

	if err := repository.client.Del(ctx, reuseKey(tokenHash), reuseCountKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("redis_token_clear_used_failed: %w", err)
	}
	return nil
}

// # Rotation Rate

/*
IncrRotationRate bumps the user's rotation counter for the current hourly
bucket and returns the new count.

Parameters:
  - ctx: context.Context
  - userID: string
  - hour: bucket instant

Returns:
  - int64: rotations in the current window, this one included
  - error: storage failure
*/
func (repository *RedisStore) IncrRotationRate(ctx context.Context, userID string, hour time.Time) (int64, error) {

	defer repository.observe("rotation_rate", time.Now())

	key := rotationRateKey(userID, hour)

	var countCmd *redis.IntCmd
	_, err := repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, constants.RotationRateWindow)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis_token_rotation_rate_failed: %w", err)
	}
	return countCmd.Val(), nil
}

// # Issued Token Index

/*
RegisterIssued adds a jti to the user's live-token index.

Description: Members are scored by expiry; each registration prunes members
whose expiry has passed, so the cardinality equals the live token count.

Parameters:
  - ctx: context.Context
  - userID, jti: strings
  - expiresAt: token expiry
  - now: pruning cutoff

Returns:
  - int64: live tokens after insertion
  - error: storage failure
*/
func (repository *RedisStore) RegisterIssued(ctx context.Context, userID, jti string, expiresAt, now time.Time) (int64, error) {

	defer repository.observe("register_issued", time.Now())

	key := issuedKey(userID)

	var cardCmd *redis.IntCmd
	_, err := repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Unix(), 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.Unix()), Member: jti})
		pipe.Expire(ctx, key, expiresAt.Sub(now)+constants.ClockSkewLeeway)
		cardCmd = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis_token_register_issued_failed: %w", err)
	}
	return cardCmd.Val(), nil
}

// ReleaseIssued removes a jti from the user's live-token index.
func (repository *RedisStore) ReleaseIssued(ctx context.Context, userID, jti string) error {

	defer repository.observe("release_issued", time.Now())

	if err := repository.client.ZRem(ctx, issuedKey(userID), jti).Err(); err != nil {
		return fmt.Errorf("redis_token_release_issued_failed: %w", err)
	}
	return nil
}

// Ping verifies connectivity to Redis.
func (repository *RedisStore) Ping(ctx context.Context) error {
	if err := repository.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis_token_ping_failed: %w", err)
	}
	return nil
}
