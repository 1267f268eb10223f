// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
)

const defaultLocalCacheSize = 10_000

// Entry is one resolved permission set in the cache, user- or role-keyed.
//
// HitCount and LastAccessAt feed background maintenance so cold entries can
// be evicted first under memory pressure.
type Entry struct {
	Permissions  []Permission  `json:"permissions"`
	Roles        []string      `json:"roles"`
	CachedAt     time.Time     `json:"cached_at"`
	TTL          time.Duration `json:"ttl"`
	HitCount     int64         `json:"hit_count"`
	LastAccessAt time.Time     `json:"last_access_at"`
}

// Cache is the two-tier store of resolved permission sets: a bounded
// in-process LRU in front of Redis.
//
// # Failure policy
//
// Cache errors never fail a permission check. Reads degrade to a miss,
// writes are logged and dropped; the engine then resolves directly from the
// role store.
type Cache struct {
	local  *expirable.LRU[string, *Entry]
	client *redis.Client
	clock  clock.Clock
	log    *slog.Logger

	// statMu serializes hit-stat updates on entries shared via the local
	// tier. Readers get a private copy; see [Cache.get].
	statMu sync.Mutex
}

// NewCache creates the permission cache. A non-positive localSize falls back
// to the default capacity; a nil client disables the distributed tier.
func NewCache(client *redis.Client, localSize int, clk clock.Clock, log *slog.Logger) *Cache {
	if localSize <= 0 {
		localSize = defaultLocalCacheSize
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Cache{
		local:  expirable.NewLRU[string, *Entry](localSize, nil, constants.PermissionLocalTTL),
		client: client,
		clock:  clk,
		log:    log,
	}
}

func userKey(userID string) string { return constants.RedisPrefixPermUser + userID }
func roleKey(roleID string) string { return constants.RedisPrefixPermRole + roleID }

// # Reads

// GetUser returns the cached permission set for a user, or ok=false on miss.
func (cache *Cache) GetUser(ctx context.Context, userID string) (*Entry, bool) {
	return cache.get(ctx, userKey(userID))
}

// GetRole returns the cached expansion for a role, or ok=false on miss.
func (cache *Cache) GetRole(ctx context.Context, roleID string) (*Entry, bool) {
	return cache.get(ctx, roleKey(roleID))
}

// get reads one entry. The local tier hands out the same *Entry to every
// caller, so hit stats are bumped under statMu and the caller receives a
// snapshot copy rather than the shared pointer.
func (cache *Cache) get(ctx context.Context, key string) (*Entry, bool) {

	// Local tier first
	if entry, ok := cache.local.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("perm_local", "hit").Inc()
		cache.statMu.Lock()
		entry.HitCount++
		entry.LastAccessAt = cache.clock.Now()
		snapshot := *entry
		cache.statMu.Unlock()
		return &snapshot, true
	}
	metrics.CacheRequests.WithLabelValues("perm_local", "miss").Inc()

	if cache.client == nil {
		return nil, false
	}

	payload, err := cache.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			cache.log.Warn("permission_cache_read_failed", "key", key, "error", err)
		}
		metrics.CacheRequests.WithLabelValues("perm_redis", "miss").Inc()
		return nil, false
	}

	entry := &Entry{}
	if err := json.Unmarshal(payload, entry); err != nil {
		cache.log.Warn("permission_cache_decode_failed", "key", key, "error", err)
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("perm_redis", "hit").Inc()

	// Touch access stats and populate the local tier. KEEPTTL preserves the
	// original expiry so touches do not extend the entry's life.
	entry.HitCount++
	entry.LastAccessAt = cache.clock.Now()
	if touched, err := json.Marshal(entry); err == nil {
		if err := cache.client.Set(ctx, key, touched, redis.KeepTTL).Err(); err != nil {
			cache.log.Warn("permission_cache_touch_failed", "key", key, "error", err)
		}
	}

	// Snapshot before the entry becomes shared through the local tier.
	snapshot := *entry
	cache.local.Add(key, entry)
	return &snapshot, true
}

// # Writes

// PutUser caches a resolved user permission set in both tiers.
func (cache *Cache) PutUser(ctx context.Context, userID string, perms []Permission, roles []string) {
	cache.put(ctx, userKey(userID), perms, roles, constants.PermissionUserTTL)
}

// PutRole caches an expanded role definition in both tiers.
func (cache *Cache) PutRole(ctx context.Context, roleID string, perms []Permission, roles []string) {
	cache.put(ctx, roleKey(roleID), perms, roles, constants.PermissionRoleTTL)
}

func (cache *Cache) put(ctx context.Context, key string, perms []Permission, roles []string, ttl time.Duration) {
	now := cache.clock.Now()
	entry := &Entry{
		Permissions:  perms,
		Roles:        roles,
		CachedAt:     now,
		TTL:          ttl,
		LastAccessAt: now,
	}

	cache.local.Add(key, entry)

	if cache.client == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		cache.log.Warn("permission_cache_encode_failed", "key", key, "error", err)
		return
	}
	if err := cache.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		cache.log.Warn("permission_cache_write_failed", "key", key, "error", err)
	}
}

/*
PutUserBatch caches many resolved user permission sets in one pipelined
write.

Description: Partial failure reports per-key errors without rolling back the
keys that succeeded; the local tier is always populated.

Parameters:
  - ctx: context.Context
  - entries: userID -> resolved set

Returns:
  - map[string]error: per-user write result, nil on success
*/
func (cache *Cache) PutUserBatch(ctx context.Context, entries map[string]*Entry) map[string]error {

	results := make(map[string]error, len(entries))
	now := cache.clock.Now()

	ordered := make([]string, 0, len(entries))
	commands := make([]*redis.StatusCmd, 0, len(entries))

	var pipelineErr error
	if cache.client != nil {
		pipe := cache.client.Pipeline()
		for userID, entry := range entries {
			entry.CachedAt = now
			entry.LastAccessAt = now
			if entry.TTL <= 0 {
				entry.TTL = constants.PermissionUserTTL
			}

			payload, err := json.Marshal(entry)
			if err != nil {
				results[userID] = fmt.Errorf("permission_cache_encode_failed: %w", err)
				continue
			}
			ordered = append(ordered, userID)
			commands = append(commands, pipe.Set(ctx, userKey(userID), payload, entry.TTL))
		}
		_, pipelineErr = pipe.Exec(ctx)
	}

	for i, userID := range ordered {
		if err := commands[i].Err(); err != nil {
			results[userID] = fmt.Errorf("permission_cache_write_failed: %w", err)
			continue
		}
		results[userID] = nil
	}
	if pipelineErr != nil {
		cache.log.Warn("permission_cache_batch_write_degraded", "error", pipelineErr)
	}

	// Local tier is populated regardless of distributed outcome
	for userID, entry := range entries {
		cache.local.Add(userKey(userID), entry)
		if _, reported := results[userID]; !reported {
			results[userID] = nil
		}
	}
	return results
}

// # Invalidation

// InvalidateUser drops the user's entry from both tiers.
func (cache *Cache) InvalidateUser(ctx context.Context, userID string) {
	cache.local.Remove(userKey(userID))
	if cache.client != nil {
		if err := cache.client.Del(ctx, userKey(userID)).Err(); err != nil {
			cache.log.Warn("permission_cache_invalidate_failed", "user_id", userID, "error", err)
		}
	}
	metrics.CacheInvalidations.WithLabelValues("permission", "user").Inc()
}

/*
InvalidateRole drops the role entry and every user entry whose resolved
roles include it.

Description: User entries are found by scan-and-filter over the user
keyspace. Entries that cannot be read or decoded are deleted outright, which
errs on the side of recomputation.

Parameters:
  - ctx: context.Context
  - roleID: string
*/
func (cache *Cache) InvalidateRole(ctx context.Context, roleID string) {

	// The local tier cannot be filtered by role cheaply; purge it whole and
	// let the next reads repopulate from Redis or the store.
	cache.local.Purge()
	metrics.CacheInvalidations.WithLabelValues("permission", "role").Inc()

	if cache.client == nil {
		return
	}

	if err := cache.client.Del(ctx, roleKey(roleID)).Err(); err != nil {
		cache.log.Warn("permission_cache_invalidate_failed", "role_id", roleID, "error", err)
	}

	iter := cache.client.Scan(ctx, 0, constants.RedisPrefixPermUser+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		payload, err := cache.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			cache.log.Warn("permission_cache_scan_read_failed", "key", key, "error", err)
			continue
		}

		entry := &Entry{}
		affected := true
		if err := json.Unmarshal(payload, entry); err == nil {
			affected = listHas(entry.Roles, roleID)
		}
		if affected {
			if err := cache.client.Del(ctx, key).Err(); err != nil {
				cache.log.Warn("permission_cache_invalidate_failed", "key", key, "error", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		cache.log.Warn("permission_cache_role_invalidation_incomplete", "role_id", roleID, "error", err)
	}
}

// InvalidateAllRoles drops every role expansion entry, local tier included.
// Called after role-hierarchy mutations, whose effects cannot be attributed
// to a single role.
func (cache *Cache) InvalidateAllRoles(ctx context.Context) {
	cache.local.Purge()
	metrics.CacheInvalidations.WithLabelValues("permission", "role").Inc()

	if cache.client == nil {
		return
	}
	iter := cache.client.Scan(ctx, 0, constants.RedisPrefixPermRole+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := cache.client.Del(ctx, iter.Val()).Err(); err != nil {
			cache.log.Warn("permission_cache_invalidate_failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		cache.log.Warn("permission_cache_role_invalidation_incomplete", "error", err)
	}
}
