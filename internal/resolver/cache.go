package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "authz:perms:version"

// CacheMetrics receives hit/miss observations from the cache.
type CacheMetrics interface {
	CacheHit()
	CacheMiss()
}

// cachedEntry is the stored value: the resolved set plus its timestamp.
type cachedEntry struct {
	Permissions []string  `json:"permissions"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Cache memoizes resolved permission sets per user in Redis. Entries carry a
// TTL so a missed invalidation can only serve stale data for a bounded
// window. Per-user invalidation deletes the key; InvalidateAll bumps a
// version embedded in every key.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics CacheMetrics
}

// NewCache constructs the permission cache.
func NewCache(client *redis.Client, ttl time.Duration, metrics CacheMetrics) *Cache {
	return &Cache{client: client, ttl: ttl, metrics: metrics}
}

// Get returns the cached set for a user, reporting a miss when absent.
func (c *Cache) Get(ctx context.Context, userID int64) (PermissionSet, time.Time, bool, error) {
	if c == nil || c.client == nil {
		return nil, time.Time{}, false, nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.miss()
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	var entry cachedEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, time.Time{}, false, err
	}
	c.hit()
	return NewPermissionSet(entry.Permissions...), entry.ResolvedAt, true, nil
}

// Set stores the resolved set for a user.
func (c *Cache) Set(ctx context.Context, userID int64, set PermissionSet, resolvedAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cachedEntry{Permissions: set.Names(), ResolvedAt: resolvedAt})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Invalidate removes the cached entry for one user. DEL is atomic per key,
// so an in-flight read sees either the old value or a clean miss.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

// InvalidateAll drops every cached set by bumping the key version.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:perms:v%d:%d", ver, userID), nil
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}
}
