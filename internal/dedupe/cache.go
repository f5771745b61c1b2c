// ABOUTME: Size-bounded TTL cache for recognizing repeated requests
// ABOUTME: Remembers a value per key so a retry can be answered with the first result

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key     K
	value   V
	stamped time.Time
}

// Cache remembers keys for a TTL, evicting the oldest entry when full.
// Expired entries are dropped lazily on access.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. A nil now uses time.Now.
func New[K comparable, V any](ttl time.Duration, maxSize int, now func() time.Time) *Cache[K, V] {
	if now == nil {
		now = time.Now
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[K, V]{
		items:   make(map[K]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Remember stores value under key unless a live entry exists. It returns the
// stored value and true when key was already present.
func (c *Cache[K, V]) Remember(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		if now.Sub(e.stamped) < c.ttl {
			return e.value, true
		}
		c.removeLocked(el)
	}

	c.insertLocked(key, value, now)
	return value, false
}

// Store sets the value for key, replacing any entry and restarting its TTL.
func (c *Cache[K, V]) Store(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	c.insertLocked(key, value, c.now())
}

// Lookup returns the live value for key.
func (c *Cache[K, V]) Lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		if c.now().Sub(e.stamped) < c.ttl {
			return e.value, true
		}
		c.removeLocked(el)
	}
	var zero V
	return zero, false
}

// Forget drops key so the next Remember succeeds.
func (c *Cache[K, V]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Len counts entries, including expired ones not yet dropped.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// expireLocked drops expired entries from the front. Entries are ordered by
// stamp, so the walk stops at the first live one.
func (c *Cache[K, V]) expireLocked(now time.Time) {
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if now.Sub(el.Value.(*entry[K, V]).stamped) < c.ttl {
			return
		}
		c.removeLocked(el)
	}
}

func (c *Cache[K, V]) insertLocked(key K, value V, now time.Time) {
	c.expireLocked(now)
	for len(c.items) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value, stamped: now})
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}
