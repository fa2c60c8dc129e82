// Package cache is the Redis-backed read cache. Cache failures are logged
// and degrade to misses; they never propagate into business operations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dealbrain/dealbrain/internal/config"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// DefaultTTL applies when a Set is issued with no explicit TTL.
const DefaultTTL = 5 * time.Minute

// NewClient builds the shared Redis client from configuration.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	return redis.NewClient(opt), nil
}

// Cache wraps the Redis client with miss-on-failure semantics.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

func New(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, log: log.With().Str("component", "cache").Logger()}
}

// Get returns the cached bytes and whether the key was present. Errors count
// as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == redis.Nil:
		return nil, false
	case err != nil:
		c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		return nil, false
	}
	return b, true
}

// Set stores val under key. A zero ttl uses the configured default.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache delete failed")
	}
}

// DeletePattern removes every key matching pattern via an incremental SCAN
// and returns how many keys were deleted.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int {
	var deleted int
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.log.Warn().Err(err).Str("pattern", pattern).Msg("cache scan failed")
			return deleted
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				c.log.Warn().Err(err).Str("pattern", pattern).Msg("cache delete failed")
				return deleted
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted
		}
	}
}

const countKeyBase = "listings:total_count"

// CountKey derives the cache key for a filtered listing count: the bare base
// key for the unfiltered total, otherwise the base key suffixed with an
// 8-hex FNV of the filter's canonical JSON.
func CountKey(f persistence.ListingFilter) string {
	if f.IsZero() {
		return countKeyBase
	}
	b, _ := json.Marshal(f)
	h := fnv.New32a()
	h.Write(b)
	return fmt.Sprintf("%s:%08x", countKeyBase, h.Sum32())
}

// CountSource computes a filtered listing total; the listings repository
// satisfies it.
type CountSource interface {
	Count(ctx context.Context, f persistence.ListingFilter) (int64, error)
}

// CountCache serves listing totals through the cache, recomputing on miss.
// Only source errors propagate; cache trouble just means a recompute.
type CountCache struct {
	cache *Cache
	src   CountSource
	ttl   time.Duration
}

func NewCountCache(c *Cache, src CountSource, ttl time.Duration) *CountCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CountCache{cache: c, src: src, ttl: ttl}
}

// Count implements the paginator's counter.
func (cc *CountCache) Count(ctx context.Context, f persistence.ListingFilter) (int64, error) {
	key := CountKey(f)
	if b, ok := cc.cache.Get(ctx, key); ok {
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n, nil
		}
	}

	n, err := cc.src.Count(ctx, f)
	if err != nil {
		return 0, err
	}
	cc.cache.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), cc.ttl)
	return n, nil
}

// Invalidate drops all cached totals, filtered and unfiltered.
func (cc *CountCache) Invalidate(ctx context.Context) {
	cc.cache.DeletePattern(ctx, countKeyBase+"*")
}
