package embedding

import (
	"container/list"
	"crypto/sha1"
	"sync"
)

// EmbeddingCache is an LRU cache for embeddings keyed by a digest of the text.
// Chunks are up to a full window of lines, so keys are hashed rather than stored verbatim.
type EmbeddingCache struct {
	capacity int
	cache    map[[sha1.Size]byte]*list.Element
	lru      *list.List
	mu       sync.Mutex
	hits     uint64
	misses   uint64
}

type cacheEntry struct {
	key   [sha1.Size]byte
	value []float32
}

// NewEmbeddingCache creates a cache holding at most capacity entries.
// A capacity <= 0 disables caching.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[[sha1.Size]byte]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for text if present.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	if c == nil || c.capacity <= 0 {
		return nil, false
	}
	key := sha1.Sum([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).value, true
	}
	c.misses++
	return nil, false
}

// Set stores the embedding for text, evicting the least recently used entry at capacity.
func (c *EmbeddingCache) Set(text string, value []float32) {
	if c == nil || c.capacity <= 0 {
		return
	}
	key := sha1.Sum([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	c.cache[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache hits and misses since creation.
func (c *EmbeddingCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
