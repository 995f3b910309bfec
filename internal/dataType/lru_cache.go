package dataType

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

const lruNil int32 = -1

type cacheItem[V any] struct {
	key    []byte // pool block
	hash   uint64
	value  V
	stored time.Time
	hnext  int32 // hash chain
	prev   int32 // recency list, towards head
	next   int32 // recency list, towards tail
}

// LRUCacheOptions configures an LRUCache. A zero TTL disables sweeping.
type LRUCacheOptions struct {
	Capacity      int
	TTL           time.Duration
	SweepInterval time.Duration
}

// LRUCache maps byte keys to values with a fixed capacity. Items live in a
// slice and are linked by index: once into a hash chain, once into the
// recency list whose head is the most recently used item. Key bytes are
// copied into blocks from the cache's pool.
//
// LRUCache is not safe for concurrent use.
type LRUCache[V any] struct {
	pool          Pool
	capacity      int
	ttl           time.Duration
	sweepInterval time.Duration
	lastEliminate time.Time

	items   []cacheItem[V]
	free    []int32
	buckets map[uint64]int32
	head    int32
	tail    int32
	length  int
}

func NewLRUCache[V any](pool Pool, opts LRUCacheOptions) (*LRUCache[V], error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("lru cache capacity must be positive, got %d", opts.Capacity)
	}
	return &LRUCache[V]{
		pool:          pool,
		capacity:      opts.Capacity,
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		items:         make([]cacheItem[V], 0, min(opts.Capacity, 1024)),
		buckets:       make(map[uint64]int32, min(opts.Capacity, 1024)),
		head:          lruNil,
		tail:          lruNil,
	}, nil
}

// Get returns the value stored for key and marks it most recently used.
func (c *LRUCache[V]) Get(key []byte) (V, bool) {
	idx := c.lookup(key, xxhash.Sum64(key))
	if idx == lruNil {
		var zero V
		return zero, false
	}
	c.moveToFront(idx)
	return c.items[idx].value, true
}

// Peek returns the value for key without touching recency.
func (c *LRUCache[V]) Peek(key []byte) (V, bool) {
	idx := c.lookup(key, xxhash.Sum64(key))
	if idx == lruNil {
		var zero V
		return zero, false
	}
	return c.items[idx].value, true
}

// Put stores value under key. A full cache evicts its least recently used
// item before allocating. Put also runs a due Sweep.
func (c *LRUCache[V]) Put(key []byte, value V, now time.Time) error {
	c.Sweep(now)

	h := xxhash.Sum64(key)
	if idx := c.lookup(key, h); idx != lruNil {
		c.items[idx].value = value
		c.items[idx].stored = now
		c.moveToFront(idx)
		return nil
	}

	if c.length >= c.capacity {
		c.remove(c.tail)
	}

	block, err := c.pool.Allocate(len(key))
	if err != nil {
		return fmt.Errorf("allocate cache key: %w", err)
	}
	copy(block, key)

	var idx int32
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		c.items = append(c.items, cacheItem[V]{})
		idx = int32(len(c.items) - 1)
	}

	item := &c.items[idx]
	item.key = block
	item.hash = h
	item.value = value
	item.stored = now
	if head, ok := c.buckets[h]; ok {
		item.hnext = head
	} else {
		item.hnext = lruNil
	}
	c.buckets[h] = idx
	c.pushFront(idx)
	c.length++
	return nil
}

// Delete removes key and reports whether it was present.
func (c *LRUCache[V]) Delete(key []byte) bool {
	idx := c.lookup(key, xxhash.Sum64(key))
	if idx == lruNil {
		return false
	}
	c.remove(idx)
	return true
}

// Sweep evicts every item stored longer than the TTL ago. It only does work
// when more than the sweep interval passed since the last run and returns
// the number of evicted items.
func (c *LRUCache[V]) Sweep(now time.Time) int {
	if c.ttl <= 0 || now.Sub(c.lastEliminate) <= c.sweepInterval {
		return 0
	}
	c.lastEliminate = now

	evicted := 0
	for idx := c.tail; idx != lruNil; {
		prev := c.items[idx].prev
		if now.Sub(c.items[idx].stored) > c.ttl {
			c.remove(idx)
			evicted++
		}
		idx = prev
	}
	return evicted
}

// Update applies fn to the value under key in place and marks it most
// recently used. It reports whether the key was present.
func (c *LRUCache[V]) Update(key []byte, fn func(*V)) bool {
	idx := c.lookup(key, xxhash.Sum64(key))
	if idx == lruNil {
		return false
	}
	fn(&c.items[idx].value)
	c.moveToFront(idx)
	return true
}

// Keys lists keys from most to least recently used.
func (c *LRUCache[V]) Keys() [][]byte {
	keys := make([][]byte, 0, c.length)
	for idx := c.head; idx != lruNil; idx = c.items[idx].next {
		keys = append(keys, bytes.Clone(c.items[idx].key))
	}
	return keys
}

func (c *LRUCache[V]) Len() int { return c.length }

func (c *LRUCache[V]) Capacity() int { return c.capacity }

// Release frees every key block and empties the cache.
func (c *LRUCache[V]) Release() {
	for idx := c.head; idx != lruNil; idx = c.items[idx].next {
		c.pool.Release(c.items[idx].key)
	}
	c.items = c.items[:0]
	c.free = c.free[:0]
	clear(c.buckets)
	c.head, c.tail, c.length = lruNil, lruNil, 0
}

func (c *LRUCache[V]) lookup(key []byte, h uint64) int32 {
	idx, ok := c.buckets[h]
	if !ok {
		return lruNil
	}
	for ; idx != lruNil; idx = c.items[idx].hnext {
		if bytes.Equal(c.items[idx].key, key) {
			return idx
		}
	}
	return lruNil
}

func (c *LRUCache[V]) remove(idx int32) {
	item := &c.items[idx]

	// unlink from the hash chain
	if head := c.buckets[item.hash]; head == idx {
		if item.hnext == lruNil {
			delete(c.buckets, item.hash)
		} else {
			c.buckets[item.hash] = item.hnext
		}
	} else {
		for p := head; p != lruNil; p = c.items[p].hnext {
			if c.items[p].hnext == idx {
				c.items[p].hnext = item.hnext
				break
			}
		}
	}

	c.unlink(idx)
	c.pool.Release(item.key)
	*item = cacheItem[V]{hnext: lruNil, prev: lruNil, next: lruNil}
	c.free = append(c.free, idx)
	c.length--
}

func (c *LRUCache[V]) moveToFront(idx int32) {
	if c.head == idx {
		return
	}
	c.unlink(idx)
	c.pushFront(idx)
}

func (c *LRUCache[V]) pushFront(idx int32) {
	item := &c.items[idx]
	item.prev = lruNil
	item.next = c.head
	if c.head != lruNil {
		c.items[c.head].prev = idx
	}
	c.head = idx
	if c.tail == lruNil {
		c.tail = idx
	}
}

func (c *LRUCache[V]) unlink(idx int32) {
	item := &c.items[idx]
	if item.prev != lruNil {
		c.items[item.prev].next = item.next
	} else {
		c.head = item.next
	}
	if item.next != lruNil {
		c.items[item.next].prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev, item.next = lruNil, lruNil
}
