// Package events deduplicates provider webhook deliveries.
package events

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper claims an event id. CheckAndMark returns true when the id was
// already claimed (a redelivery) and false when this call claimed it.
type Deduper interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
}

const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// MemoryCache is a TTL and size bounded set of recently seen ids. The oldest
// id is evicted first once the cache is full.
type MemoryCache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

var _ Deduper = (*MemoryCache)(nil)

// NewMemoryCache starts a cache with a background sweeper; call Close to stop it.
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &MemoryCache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *MemoryCache) CheckAndMark(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[eventID]; ok {
		if now.Sub(entry.seenAt) < c.ttl {
			return true, nil
		}
		entry.seenAt = now
		c.order.MoveToBack(entry.element)
		return false, nil
	}
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[eventID] = &cacheEntry{seenAt: now, element: c.order.PushBack(eventID)}
	return false, nil
}

// Len is the number of ids currently held.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *MemoryCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		entry := c.seen[key]
		if entry == nil || now.Sub(entry.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *MemoryCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
