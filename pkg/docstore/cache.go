package docstore

import (
	"container/list"
	"sync"
)

// recordCache is a bounded LRU of decoded records. Entries are cloned on
// the way in and on the way out, so no caller ever shares mutable state
// with the cache. A capacity of zero or less disables caching entirely.
//
// The cache has its own mutex, disjoint from the store lock. Fills happen
// under the store's read lock, so a fill can never resurrect a record that
// a concurrent delete already dropped.
type recordCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = most recently used
	elements map[string]*list.Element // id -> element holding *Record
}

func newRecordCache(capacity int) *recordCache {
	c := &recordCache{capacity: capacity}
	if capacity > 0 {
		c.order = list.New()
		c.elements = make(map[string]*list.Element, capacity)
	}
	return c
}

// get returns a copy of the cached record and marks it recently used.
func (c *recordCache) get(id string) (*Record, bool) {
	if c.capacity <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.elements[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(element)
	return element.Value.(*Record).Clone(), true
}

// put stores a copy of the record, evicting the least recently used entry
// when the cache is full. Returns the number of evicted entries (0 or 1).
func (c *recordCache) put(r *Record) int {
	if c.capacity <= 0 || r == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.elements[r.ID]; ok {
		element.Value = r.Clone()
		c.order.MoveToFront(element)
		return 0
	}

	evicted := 0
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			delete(c.elements, oldest.Value.(*Record).ID)
			c.order.Remove(oldest)
			evicted = 1
		}
	}
	c.elements[r.ID] = c.order.PushFront(r.Clone())
	return evicted
}

// remove drops the entry for id if present.
func (c *recordCache) remove(id string) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.elements[id]; ok {
		delete(c.elements, id)
		c.order.Remove(element)
	}
}

// purge empties the cache.
func (c *recordCache) purge() {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.elements = make(map[string]*list.Element, c.capacity)
}

// len returns the current entry count.
func (c *recordCache) len() int {
	if c.capacity <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
