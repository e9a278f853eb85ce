// ABOUTME: Expiring, size-bounded set of recently seen keys
// ABOUTME: The realtime hub uses it to drop replayed invocation ids

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	expires time.Time
}

// Cache remembers keys for a fixed TTL. When full, the least recently
// marked key is dropped first.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // front = least recently marked
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts a sweeper that runs every ttl/2 (at least once a second).
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Now)
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
	}

	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	go c.sweepEvery(interval)
	return c
}

// Check reports whether key is currently remembered.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	return ok && c.now().Before(elem.Value.(*entry).expires)
}

// CheckAndMark reports whether key was already remembered; if it was not,
// it is remembered from now on. The check and the mark happen atomically.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.index[key]; ok && now.Before(elem.Value.(*entry).expires) {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Mark remembers key, refreshing its expiry if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now())
}

// Forget drops key so a later CheckAndMark treats it as new.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.order.Remove(elem)
		delete(c.index, key)
	}
}

// Len returns the number of remembered keys, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) markLocked(key string, now time.Time) {
	expires := now.Add(c.ttl)
	if elem, ok := c.index[key]; ok {
		elem.Value.(*entry).expires = expires
		c.order.MoveToBack(elem)
		return
	}

	for len(c.index) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.order.Remove(front)
		delete(c.index, front.Value.(*entry).key)
	}

	c.index[key] = c.order.PushBack(&entry{key: key, expires: expires})
}

func (c *Cache) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep removes expired keys.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, elem := range c.index {
		if !now.Before(elem.Value.(*entry).expires) {
			c.order.Remove(elem)
			delete(c.index, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
