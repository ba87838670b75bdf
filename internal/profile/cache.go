package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/margin/internal/models"
)

// Cache stores resolved profiles for a bounded time.
type Cache interface {
	Get(ctx context.Context, pubkey string) (models.Profile, bool, error)
	Set(ctx context.Context, p models.Profile, ttl time.Duration) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	profile models.Profile
	expires time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, pubkey string) (models.Profile, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pubkey]
	if !ok {
		return models.Profile{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, pubkey)
		return models.Profile{}, false, nil
	}
	return e.profile, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, p models.Profile, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[p.PublicKey] = memoryEntry{profile: p, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// RedisCache is a Cache shared between processes through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("profile: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("profile: connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client), nil
}

// NewRedisCacheWithClient creates a cache from an existing client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "margin:profile:"}
}

func (c *RedisCache) key(pubkey string) string {
	return c.prefix + pubkey
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, pubkey string) (models.Profile, bool, error) {
	data, err := c.client.Get(ctx, c.key(pubkey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Profile{}, false, nil
	}
	if err != nil {
		return models.Profile{}, false, fmt.Errorf("profile: redis get: %w", err)
	}
	var p models.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Profile{}, false, fmt.Errorf("profile: decode cached profile: %w", err)
	}
	return p, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, p models.Profile, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: encode profile: %w", err)
	}
	if err := c.client.Set(ctx, c.key(p.PublicKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("profile: redis set: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
