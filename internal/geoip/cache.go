package geoip

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomevault/tomevault/internal/model"
)

// Cache stores resolved locations keyed by IP for a fixed TTL. Both
// implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, ip string) (*model.GeoLocation, bool)
	Set(ctx context.Context, ip string, loc *model.GeoLocation, ttl time.Duration)
}

const cacheKeyPrefix = "ip_location:"

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, ip string) (*model.GeoLocation, bool) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+ip).Bytes()
	if err != nil {
		return nil, false
	}
	var loc model.GeoLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, false
	}
	return &loc, true
}

func (c *RedisCache) Set(ctx context.Context, ip string, loc *model.GeoLocation, ttl time.Duration) {
	payload, err := json.Marshal(loc)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKeyPrefix+ip, payload, ttl).Err()
}

// MemoryCache is the in-process fallback when redis is not configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	loc       model.GeoLocation
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, ip string) (*model.GeoLocation, bool) {
	c.mu.RLock()
	entry, ok := c.entries[ip]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, ip)
		c.mu.Unlock()
		return nil, false
	}
	loc := entry.loc
	return &loc, true
}

func (c *MemoryCache) Set(ctx context.Context, ip string, loc *model.GeoLocation, ttl time.Duration) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.entries[ip] = memoryEntry{loc: *loc, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}
