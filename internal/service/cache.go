package service

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache: кэш в памяти с TTL и инвалидацией по префиксу.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]cacheEntry[V]
	nowFn func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func NewCache[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]cacheEntry[V]),
		nowFn: time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (c *Cache[V]) WithClock(nowFn func() time.Time) *Cache[V] {
	c.nowFn = nowFn
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.items[key]
	if !ok || c.nowFn().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = cacheEntry[V]{value: value, expiresAt: c.nowFn().Add(ttl)}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// InvalidateByPrefix удаляет все ключи с префиксом.
func (c *Cache[V]) InvalidateByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}

// GetOrSet возвращает значение из кэша или вычисляет и сохраняет его.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := fn(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.Set(key, value, ttl)
	return value, nil
}

// RunCleanup периодически удаляет просроченные записи до отмены ctx.
func (c *Cache[V]) RunCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.nowFn()
			for key, entry := range c.items {
				if now.After(entry.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
