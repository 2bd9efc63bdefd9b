package cache

import "sync"

// Cache is a generic thread-safe LRU cache with a soft limit.
// When the cache exceeds softLimit, the least recently used unpinned
// entries are evicted.
//
// Cache is safe for concurrent use.
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*entry[K, V]
	lru       lruList[K, V]
	softLimit int

	// evict is invoked (outside no lock is needed: called under mu, kept
	// short by callers) for each evicted value, letting owners release
	// device resources.
	evict func(K, V)
}

// entry holds a cached value and its position in the LRU list.
type entry[K comparable, V any] struct {
	key   K
	value V
	pins  int

	prev, next *entry[K, V]
}

// New creates a new cache with the given soft limit.
// A softLimit of 0 means unlimited.
func New[K comparable, V any](softLimit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*entry[K, V]),
		softLimit: softLimit,
	}
}

// OnEvict sets a callback invoked for each evicted entry. Must be called
// before the cache is shared between goroutines.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.evict = fn
}

// Get retrieves a value from the cache.
// Returns (value, true) if found, (zero, false) otherwise.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.lru.moveToFront(e)
	return e.value, true
}

// Set stores a value in the cache.
// If the cache exceeds softLimit after insertion, oldest unpinned entries
// are evicted.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.lru.moveToFront(e)
		return
	}
	e := &entry[K, V]{key: key, value: value}
	c.entries[key] = e
	c.lru.pushFront(e)
	c.evictOver()
}

// GetOrCreate returns the cached value for key, or calls create and caches
// the result. create runs under the cache lock so concurrent callers never
// build the same entry twice; it must not call back into the cache.
// A create error is returned to the caller and nothing is cached.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.lru.moveToFront(e)
		return e.value, nil
	}

	value, err := create()
	if err != nil {
		var zero V
		return zero, err
	}

	e := &entry[K, V]{key: key, value: value}
	c.entries[key] = e
	c.lru.pushFront(e)
	c.evictOver()
	return value, nil
}

// Pin marks an entry as in use, excluding it from eviction.
// Pins nest; each Pin needs a matching Unpin. Pinning a missing key is a
// no-op returning false.
func (c *Cache[K, V]) Pin(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.pins++
	return true
}

// Unpin releases one pin on an entry.
func (c *Cache[K, V]) Unpin(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.pins > 0 {
		e.pins--
	}
	c.evictOver()
}

// Delete removes an entry from the cache regardless of pins.
// Returns true if the entry was found and removed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lru.remove(e)
	delete(c.entries, key)
	if c.evict != nil {
		c.evict(e.key, e.value)
	}
	return true
}

// Clear removes all entries from the cache, invoking the eviction callback
// for each.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		c.lru.remove(e)
		delete(c.entries, key)
		if c.evict != nil {
			c.evict(e.key, e.value)
		}
	}
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the soft limit of the cache.
func (c *Cache[K, V]) Capacity() int { return c.softLimit }

// evictOver removes least recently used unpinned entries until the cache is
// under its soft limit. Caller must hold c.mu.
func (c *Cache[K, V]) evictOver() {
	if c.softLimit <= 0 {
		return
	}
	for len(c.entries) > c.softLimit {
		e := c.lru.oldestUnpinned()
		if e == nil {
			// Everything over the limit is pinned; soft limit yields.
			return
		}
		c.lru.remove(e)
		delete(c.entries, e.key)
		if c.evict != nil {
			c.evict(e.key, e.value)
		}
	}
}

// lruList is a doubly-linked list of cache entries.
// The head is the most recently used, tail is least recently used.
// The list is not thread-safe; Cache handles synchronization.
type lruList[K comparable, V any] struct {
	head *entry[K, V]
	tail *entry[K, V]
}

// pushFront adds a new entry at the front (most recently used).
func (l *lruList[K, V]) pushFront(e *entry[K, V]) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
}

// moveToFront moves an existing entry to the front (most recently used).
func (l *lruList[K, V]) moveToFront(e *entry[K, V]) {
	if e == l.head {
		return
	}
	l.unlink(e)
	l.pushFront(e)
}

// remove removes an entry from the list.
func (l *lruList[K, V]) remove(e *entry[K, V]) {
	l.unlink(e)
}

// oldestUnpinned walks from the tail to find the least recently used entry
// with no pins. Returns nil if all entries are pinned or the list is empty.
func (l *lruList[K, V]) oldestUnpinned() *entry[K, V] {
	for e := l.tail; e != nil; e = e.prev {
		if e.pins == 0 {
			return e
		}
	}
	return nil
}

// unlink removes an entry without clearing its value.
func (l *lruList[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}
