package cache

import (
	"time"

	"github.com/patrickmn/go-cache"
)

type Cache interface {
	Set(key string, value interface{}, duration time.Duration)
	Get(key string) (interface{}, bool)
	Delete(key string)
	Flush()
}

type memoryCache struct {
	internal *cache.Cache
}

// NewCache returns a new Cache instance with default expiration and cleanup interval
func NewCache(defaultExpiration, cleanupInterval time.Duration) Cache {
	return &memoryCache{
		internal: cache.New(defaultExpiration, cleanupInterval),
	}
}

func (c *memoryCache) Set(key string, value interface{}, duration time.Duration) {
	c.internal.Set(key, value, duration)
}

func (c *memoryCache) Get(key string) (interface{}, bool) {
	return c.internal.Get(key)
}

func (c *memoryCache) Delete(key string) {
	c.internal.Delete(key)
}

func (c *memoryCache) Flush() {
	c.internal.Flush()
}

// TypedGet fetches a cached value and asserts it to T. A miss or a type
// mismatch both report found=false.
func TypedGet[T any](c Cache, key string) (T, bool) {
	val, found := c.Get(key)
	if !found {
		var zero T
		return zero, false
	}
	typedVal, ok := val.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return typedVal, true
}
