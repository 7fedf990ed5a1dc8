package cache

import (
	"time"

	"github.com/coocood/freecache"
)

// Cache is a small byte-oriented TTL cache.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

type freeCache struct {
	cache *freecache.Cache
	ttl   int
}

// New returns a freecache-backed cache of sizeMB megabytes whose entries
// expire after ttl. A disabled or zero-sized cache never stores anything.
func New(enabled bool, sizeMB int, ttl time.Duration) Cache {
	if !enabled || sizeMB <= 0 || ttl <= 0 {
		return noopCache{}
	}
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &freeCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   seconds,
	}
}

func (c *freeCache) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *freeCache) Set(key string, value []byte) {
	_ = c.cache.Set([]byte(key), value, c.ttl)
}

type noopCache struct{}

func (noopCache) Get(string) ([]byte, bool) { return nil, false }
func (noopCache) Set(string, []byte)        {}
