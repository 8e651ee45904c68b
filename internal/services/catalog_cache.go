package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const catalogPrefix = "catalog:"

// CatalogCache stores rendered public catalog payloads.
type CatalogCache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any)
	Invalidate(ctx context.Context)
}

// NoopCache is used when no redis is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, any) bool { return false }
func (NoopCache) Set(context.Context, string, any)      {}
func (NoopCache) Invalidate(context.Context)            {}

// RedisCatalogCache keeps catalog payloads as JSON strings with a TTL.
type RedisCatalogCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewCatalogCache connects to redisURL. An empty URL or a failed ping
// yields a NoopCache so the API keeps serving from the database.
func NewCatalogCache(ctx context.Context, redisURL string, ttl time.Duration, log *zap.Logger) CatalogCache {
	if redisURL == "" {
		return NoopCache{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, catalog cache disabled", zap.Error(err))
		return NoopCache{}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, catalog cache disabled", zap.Error(err))
		_ = client.Close()
		return NoopCache{}
	}

	log.Info("catalog cache enabled", zap.Duration("ttl", ttl))
	return &RedisCatalogCache{client: client, ttl: ttl, log: log}
}

// Get decodes the cached value into dest and reports a hit.
func (c *RedisCatalogCache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.client.Get(ctx, catalogPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Warn("catalog cache decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores value under key.
func (c *RedisCatalogCache) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, catalogPrefix+key, data, c.ttl).Err(); err != nil {
		c.log.Warn("catalog cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every catalog key. Called after any admin catalog write.
func (c *RedisCatalogCache) Invalidate(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, catalogPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("catalog cache scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("catalog cache invalidate failed", zap.Error(err))
	}
}

// Close releases the redis connection pool.
func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}
