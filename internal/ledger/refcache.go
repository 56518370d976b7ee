package ledger

import (
	"container/list"
	"sync"
)

// RefCache is the hot tier of movement idempotency: an LRU of keys whose
// entries are known to be committed. A miss falls through to the durable
// (account, type, refId) lookup inside the transaction. Keys are only
// added after a commit, so a hit is always safe to treat as applied.
type RefCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewRefCache(capacity int) *RefCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &RefCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (c *RefCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[key]
	if exists {
		c.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (c *RefCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lruList.MoveToFront(elem)
		return
	}

	elem := c.lruList.PushFront(&lruEntry{key: key})
	c.cache[key] = elem

	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *RefCache) evictOldest() {
	elem := c.lruList.Back()
	if elem != nil {
		c.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(c.cache, entry.key)
		c.evictions++
	}
}

// Size returns current number of entries
func (c *RefCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (c *RefCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
