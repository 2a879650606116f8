// Package cache holds summaries produced by the external summarizer for a
// fixed time-to-live. Expired entries are dropped on access and by Sweep; the
// store is additionally capped in size and evicts least recently used entries
// first.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 1024
)

type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key      string
	value    string
	storedAt time.Time
}

type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

type Option func(*Cache)

// WithMaxEntries caps the number of stored entries. Zero disables the cap.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a cache whose entries stay fresh while their age is strictly
// below ttl. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) Get(key string) (string, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)

		return "", false
	}

	e := elem.Value.(*entry)
	if !c.freshLocked(e, now) {
		c.removeElement(elem)
		c.misses.Add(1)

		return "", false
	}

	c.order.MoveToFront(elem)
	c.hits.Add(1)

	return e.value, true
}

// Set stores value under key, replacing any previous entry and resetting its
// age to zero.
func (c *Cache) Set(key string, value string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.storedAt = now
		c.order.MoveToFront(elem)

		return
	}

	elem := c.order.PushFront(&entry{
		key:      key,
		value:    value,
		storedAt: now,
	})
	c.entries[key] = elem

	c.enforceSizeLimitLocked(now)
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictExpiredLocked(now)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (c *Cache) freshLocked(e *entry, now time.Time) bool {
	return now.Sub(e.storedAt) < c.ttl
}

func (c *Cache) evictExpiredLocked(now time.Time) int {
	removed := 0

	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !c.freshLocked(elem.Value.(*entry), now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}

	return removed
}

func (c *Cache) enforceSizeLimitLocked(now time.Time) {
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}

	// Expired entries go first so that fresh ones survive the cap.
	c.evictExpiredLocked(now)

	for len(c.entries) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		c.removeElement(elem)
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	delete(c.entries, elem.Value.(*entry).key)
	c.order.Remove(elem)
}
