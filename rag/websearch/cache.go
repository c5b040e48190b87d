package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/BaSui01/finrag/internal/cache"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// ResultCache caches parsed records per normalized query.
type ResultCache interface {
	Get(ctx context.Context, query string) ([]Record, bool)
	Set(ctx context.Context, query string, records []Record)
}

func cacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// MemoryResultCache is an in-process expiring LRU.
type MemoryResultCache struct {
	lru *expirable.LRU[string, []Record]
}

// NewMemoryResultCache creates a cache holding up to size queries for ttl.
func NewMemoryResultCache(size int, ttl time.Duration) *MemoryResultCache {
	if size <= 0 {
		size = 512
	}
	return &MemoryResultCache{lru: expirable.NewLRU[string, []Record](size, nil, ttl)}
}

func (c *MemoryResultCache) Get(_ context.Context, query string) ([]Record, bool) {
	return c.lru.Get(cacheKey(query))
}

func (c *MemoryResultCache) Set(_ context.Context, query string, records []Record) {
	c.lru.Add(cacheKey(query), records)
}

const redisResultPrefix = "finrag:websearch:"

// RedisResultCache stores records as JSON strings in Redis.
// Redis errors are logged and treated as misses.
type RedisResultCache struct {
	manager *cache.Manager
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisResultCache wraps a cache manager.
func NewRedisResultCache(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisResultCache{
		manager: manager,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "websearch_cache")),
	}
}

func (c *RedisResultCache) key(query string) string {
	h := sha256.Sum256([]byte(cacheKey(query)))
	return redisResultPrefix + hex.EncodeToString(h[:16])
}

func (c *RedisResultCache) Get(ctx context.Context, query string) ([]Record, bool) {
	var records []Record
	if err := c.manager.GetJSON(ctx, c.key(query), &records); err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("result cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return records, true
}

func (c *RedisResultCache) Set(ctx context.Context, query string, records []Record) {
	if err := c.manager.SetJSON(ctx, c.key(query), records, c.ttl); err != nil {
		c.logger.Warn("result cache write failed", zap.Error(err))
	}
}
