package services

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
)

const (
	// BanCacheKeyPrefix is the Redis key prefix for cached ban verdicts
	BanCacheKeyPrefix = "ban_verdict:"
	// DefaultBanCacheTTL bounds how long a verdict outlives a ban expiring
	DefaultBanCacheTTL = 30 * time.Second
	// MaxBanCacheTTL keeps a lifted ban from lingering in the cache
	MaxBanCacheTTL = 5 * time.Minute
)

func banCacheKey(deviceHash, ipHash string) string {
	return BanCacheKeyPrefix + deviceHash + ":" + ipHash
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultBanCacheTTL
	}
	if ttl > MaxBanCacheTTL {
		return MaxBanCacheTTL
	}
	return ttl
}

// RedisBanCache shares IsBanned verdicts between server instances.
type RedisBanCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBanCache(rdb *redis.Client, ttl time.Duration) *RedisBanCache {
	return &RedisBanCache{rdb: rdb, ttl: clampTTL(ttl)}
}

func (c *RedisBanCache) Get(ctx context.Context, deviceHash, ipHash string) (bool, bool) {
	val, err := c.rdb.Get(ctx, banCacheKey(deviceHash, ipHash)).Result()
	if err != nil {
		return false, false // miss, not an error
	}
	return val == "1", true
}

func (c *RedisBanCache) Set(ctx context.Context, deviceHash, ipHash string, banned bool) {
	val := "0"
	if banned {
		val = "1"
	}
	if err := c.rdb.Set(ctx, banCacheKey(deviceHash, ipHash), val, c.ttl).Err(); err != nil {
		logger.L().Warn("ban cache set failed", logger.Err(err))
	}
}

// Flush drops every cached verdict. Called whenever a ban record changes.
func (c *RedisBanCache) Flush(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, BanCacheKeyPrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.L().Warn("ban cache scan failed", logger.Err(err))
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.L().Warn("ban cache flush failed", logger.Err(err))
	}
}

// MemoryBanCache is the single-instance verdict cache.
type MemoryBanCache struct {
	c *gocache.Cache
}

func NewMemoryBanCache(ttl time.Duration) *MemoryBanCache {
	ttl = clampTTL(ttl)
	return &MemoryBanCache{c: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryBanCache) Get(_ context.Context, deviceHash, ipHash string) (bool, bool) {
	v, ok := m.c.Get(banCacheKey(deviceHash, ipHash))
	if !ok {
		return false, false
	}
	return v.(bool), true
}

func (m *MemoryBanCache) Set(_ context.Context, deviceHash, ipHash string, banned bool) {
	m.c.SetDefault(banCacheKey(deviceHash, ipHash), banned)
}

func (m *MemoryBanCache) Flush(context.Context) { m.c.Flush() }
