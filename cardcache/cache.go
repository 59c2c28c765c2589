// Package cardcache keeps recently rendered level cards in a bounded LRU with
// a fixed time-to-live.
package cardcache

import (
	"container/list"
	"sync"
	"time"

	"levelbot/core"
)

const (
	DefaultMaxEntries = 50
	DefaultTTL        = 5 * time.Minute
)

// Entry is a cached card.
type Entry struct {
	Image     []byte
	Path      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Options configures a Cache. Zero values use the defaults.
type Options struct {
	MaxEntries int
	TTL        time.Duration
	Now        func() time.Time
	// OnEvict is called, outside the cache lock, for every entry that leaves
	// the cache: LRU eviction, expiry, Delete, Reset, or an overwrite that
	// changes the entry's Path.
	OnEvict func(user core.UserID, e Entry)
}

type item struct {
	user  core.UserID
	entry Entry
}

// Cache is a strict LRU: both Get hits and Set promote an entry, and the
// least recently promoted entry is evicted first.
type Cache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	now     func() time.Time
	onEvict func(core.UserID, Entry)
	order   *list.List // front = most recently used
	items   map[core.UserID]*list.Element
}

func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		max:     opts.MaxEntries,
		ttl:     opts.TTL,
		now:     opts.Now,
		onEvict: opts.OnEvict,
		order:   list.New(),
		items:   make(map[core.UserID]*list.Element),
	}
}

// Get returns a fresh entry and promotes it. An expired entry is removed and
// reported as a miss.
func (c *Cache) Get(user core.UserID) (Entry, bool) {
	c.mu.Lock()
	el, ok := c.items[user]
	if !ok {
		c.mu.Unlock()
		return Entry{}, false
	}
	it := el.Value.(*item)
	if !c.now().Before(it.entry.ExpiresAt) {
		c.removeLocked(el)
		c.mu.Unlock()
		c.notify(it)
		return Entry{}, false
	}
	c.order.MoveToFront(el)
	e := it.entry
	c.mu.Unlock()
	return e, true
}

// Set inserts or overwrites the user's card, restarting its TTL, and evicts
// the least recently used entry when the bound is exceeded.
func (c *Cache) Set(user core.UserID, image []byte, path string) Entry {
	now := c.now()
	e := Entry{Image: image, Path: path, CreatedAt: now, ExpiresAt: now.Add(c.ttl)}

	var gone []*item
	c.mu.Lock()
	if el, ok := c.items[user]; ok {
		it := el.Value.(*item)
		if it.entry.Path != "" && it.entry.Path != path {
			gone = append(gone, &item{user: user, entry: it.entry})
		}
		it.entry = e
		c.order.MoveToFront(el)
	} else {
		c.items[user] = c.order.PushFront(&item{user: user, entry: e})
	}
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.removeLocked(oldest)
		gone = append(gone, oldest.Value.(*item))
	}
	c.mu.Unlock()

	for _, it := range gone {
		c.notify(it)
	}
	return e
}

// Delete removes the user's entry regardless of its TTL.
func (c *Cache) Delete(user core.UserID) bool {
	c.mu.Lock()
	el, ok := c.items[user]
	if ok {
		c.removeLocked(el)
	}
	c.mu.Unlock()
	if ok {
		c.notify(el.Value.(*item))
	}
	return ok
}

// Len is the number of cached entries, expired ones included until touched.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys lists cached users from most to least recently used.
func (c *Cache) Keys() []core.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.UserID, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*item).user)
	}
	return out
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	var gone []*item
	for el := c.order.Front(); el != nil; el = el.Next() {
		gone = append(gone, el.Value.(*item))
	}
	c.order.Init()
	c.items = make(map[core.UserID]*list.Element)
	c.mu.Unlock()
	for _, it := range gone {
		c.notify(it)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*item).user)
}

func (c *Cache) notify(it *item) {
	if c.onEvict != nil {
		c.onEvict(it.user, it.entry)
	}
}
