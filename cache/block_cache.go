// Package cache implements the two caches shared across the storage
// engine: a byte-budgeted LRU cache of decoded data blocks, and a
// sharded LRU cache of open table readers.
package cache

import (
	"sync"
	"sync/atomic"
)

// BlockKey identifies one cached block by the file it came from and its
// offset within that file.
type BlockKey struct {
	FileNum uint64
	Offset  uint64
}

type entry struct {
	key   BlockKey
	value []byte
	prev, next *entry
}

// BlockCache is an LRU cache of decoded block bytes, bounded by total
// bytes rather than entry count, matching the observation that blocks
// vary widely in size once compressed.
type BlockCache struct {
	mu      sync.Mutex
	maxSize int64
	size    int64
	m       map[BlockKey]*entry
	head    *entry // most recently used
	tail    *entry // least recently used

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBlockCache returns a cache that evicts entries once their combined
// size exceeds maxSize bytes.
func NewBlockCache(maxSize int64) *BlockCache {
	return &BlockCache{maxSize: maxSize, m: make(map[BlockKey]*entry)}
}

func (c *BlockCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *BlockCache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// Get returns the cached block for key, if present, and bumps its
// recency.
func (c *BlockCache) Get(key BlockKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.unlink(e)
	c.pushFront(e)
	return e.value, true
}

// Hits reports the cumulative number of Get calls that found their key.
func (c *BlockCache) Hits() uint64 { return c.hits.Load() }

// Misses reports the cumulative number of Get calls that did not.
func (c *BlockCache) Misses() uint64 { return c.misses.Load() }

// Insert adds or replaces the cached block for key, evicting the least
// recently used entries as needed to stay within the byte budget.
func (c *BlockCache) Insert(key BlockKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.m[key]; ok {
		c.size -= int64(len(old.value))
		c.unlink(old)
		delete(c.m, key)
	}
	e := &entry{key: key, value: value}
	c.m[key] = e
	c.pushFront(e)
	c.size += int64(len(value))

	for c.size > c.maxSize && c.tail != nil {
		victim := c.tail
		c.unlink(victim)
		delete(c.m, victim.key)
		c.size -= int64(len(victim.value))
	}
}

// Size reports the current number of cached bytes.
func (c *BlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
