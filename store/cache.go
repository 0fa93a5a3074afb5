package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"payoffgrid/logger"
	"payoffgrid/models"
)

// Cache is the key/value surface CachedStore needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Purge removes every key starting with prefix.
	Purge(ctx context.Context, prefix string) error
}

// RedisCache backs Cache with a Redis server.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and pings it once.
func NewRedisCache(ctx context.Context, addr string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisCache{client: rdb}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Purge(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 500 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

func (r *RedisCache) Close() error { return r.client.Close() }

// MockCache is an in-process Cache for tests and cacheless setups.
type MockCache struct {
	mu   sync.Mutex
	Data map[string]string
}

func NewMockCache() *MockCache {
	return &MockCache{Data: make(map[string]string)}
}

func (m *MockCache) Get(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.Data[key]
	return val, ok
}

func (m *MockCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.Data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MockCache) Purge(ctx context.Context, prefix string) error {
	m.mu.Lock()
	for k := range m.Data {
		if strings.HasPrefix(k, prefix) {
			delete(m.Data, k)
		}
	}
	m.mu.Unlock()
	return nil
}

// CachedStore serves Get and Range through a read-through cache. Any write
// purges the cache prefix so a cached range never outlives the rows it
// was built from.
type CachedStore struct {
	Store
	cache  Cache
	prefix string
	ttl    time.Duration
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(inner Store, cache Cache, prefix string, ttl time.Duration) *CachedStore {
	if prefix == "" {
		prefix = "payoffgrid"
	}
	return &CachedStore{Store: inner, cache: cache, prefix: prefix + ":", ttl: ttl}
}

func (c *CachedStore) pointKey(id int64) string {
	return fmt.Sprintf("%sid:%d", c.prefix, id)
}

func (c *CachedStore) rangeKey(start, end int64) string {
	return fmt.Sprintf("%srange:%d:%d", c.prefix, start, end)
}

func (c *CachedStore) Get(ctx context.Context, id int64) (models.GridRecord, error) {
	key := c.pointKey(id)
	if raw, ok := c.cache.Get(ctx, key); ok {
		var rec models.GridRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			return rec, nil
		}
	}
	rec, err := c.Store.Get(ctx, id)
	if err != nil {
		return rec, err
	}
	c.set(ctx, key, rec)
	return rec, nil
}

func (c *CachedStore) Range(ctx context.Context, start, end int64) ([]models.GridRecord, error) {
	key := c.rangeKey(start, end)
	if raw, ok := c.cache.Get(ctx, key); ok {
		var recs []models.GridRecord
		if err := json.Unmarshal([]byte(raw), &recs); err == nil {
			return recs, nil
		}
	}
	recs, err := c.Store.Range(ctx, start, end)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, recs)
	return recs, nil
}

func (c *CachedStore) Put(ctx context.Context, rec models.GridRecord) error {
	if err := c.Store.Put(ctx, rec); err != nil {
		return err
	}
	return c.purge(ctx)
}

func (c *CachedStore) PutBatch(ctx context.Context, recs []models.GridRecord) error {
	if err := c.Store.PutBatch(ctx, recs); err != nil {
		return err
	}
	return c.purge(ctx)
}

func (c *CachedStore) Clear(ctx context.Context, progress ClearProgress) error {
	if err := c.Store.Clear(ctx, progress); err != nil {
		return err
	}
	return c.purge(ctx)
}

func (c *CachedStore) Close() error {
	if closer, ok := c.cache.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return c.Store.Close()
}

func (c *CachedStore) set(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, string(data), c.ttl); err != nil {
		logger.GetLogger().WithComponent("store").WithError(err).Debug("cache set failed")
	}
}

func (c *CachedStore) purge(ctx context.Context) error {
	if err := c.cache.Purge(ctx, c.prefix); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}
