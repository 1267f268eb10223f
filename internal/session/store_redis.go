// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
)

// RedisStore implements [FastStore].
//
// Layout: session:{id} holds the JSON record, sessions:by_user:{userID} is a
// set of the user's session IDs. The index carries a TTL refreshed on every
// write so an idle user's index eventually disappears with their sessions.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session cache.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string {
	return constants.RedisPrefixSession + id
}

func userIndexKey(userID string) string {
	return constants.RedisPrefixUserIndex + userID
}

func (repository *RedisStore) observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("session_redis", op).Observe(time.Since(start).Seconds())
}

// Put stores the record and indexes it by user.
func (repository *RedisStore) Put(ctx context.Context, rec *Record, ttl time.Duration) error {

	defer repository.observe("put", time.Now())

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis_session_encode_failed: %w", err)
	}

	_, err = repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(rec.ID), payload, ttl)
		pipe.SAdd(ctx, userIndexKey(rec.UserID), rec.ID)
		pipe.Expire(ctx, userIndexKey(rec.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis_session_put_failed: %w", err)
	}
	return nil
}

// Get returns the cached record, apperr.NotFound on a miss.
func (repository *RedisStore) Get(ctx context.Context, id string) (*Record, error) {

	defer repository.observe("get", time.Now())

	payload, err := repository.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.NotFound("Session")
		}
		return nil, fmt.Errorf("redis_session_get_failed: %w", err)
	}

	rec := &Record{}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("redis_session_decode_failed: %w", err)
	}
	return rec, nil
}

// Touch slides the cached session forward.
func (repository *RedisStore) Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time, ttl time.Duration) error {

	defer repository.observe("touch", time.Now())

	rec, err := repository.Get(ctx, id)
	if err != nil {
		return err
	}

	rec.LastActivityAt = lastActivity
	rec.ExpiresAt = expiresAt

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis_session_encode_failed: %w", err)
	}

	// XX: never resurrect an entry Redis expired between the read and here
	set, err := repository.client.SetXX(ctx, sessionKey(id), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis_session_touch_failed: %w", err)
	}
	if !set {
		return apperr.NotFound("Session")
	}
	return nil
}

// Delete removes the record and its user-index membership.
func (repository *RedisStore) Delete(ctx context.Context, id, userID string) error {

	defer repository.observe("delete", time.Now())

	_, err := repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		if userID != "" {
			pipe.SRem(ctx, userIndexKey(userID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis_session_delete_failed: %w", err)
	}
	return nil
}

// DeleteUser removes every cached session of the user.
func (repository *RedisStore) DeleteUser(ctx context.Context, userID string) (int, error) {

	defer repository.observe("delete_user", time.Now())

	ids, err := repository.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis_session_index_read_failed: %w", err)
	}

	_, err = repository.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, sessionKey(id))
		}
		pipe.Del(ctx, userIndexKey(userID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis_session_delete_user_failed: %w", err)
	}
	return len(ids), nil
}

// Ping verifies connectivity to Redis.
func (repository *RedisStore) Ping(ctx context.Context) error {
	if err := repository.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis_session_ping_failed: %w", err)
	}
	return nil
}
