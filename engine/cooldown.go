package engine

import (
	"sync"
	"time"

	"levelbot/core"
)

const (
	DefaultGlobalCooldown = 60 * time.Second
	DefaultGroupCooldown  = 30 * time.Second
)

// Cooldowns rejects repeated awards for the same key inside a window. The key
// is the user alone (global scope) or the user within a group.
type Cooldowns struct {
	mu     sync.Mutex
	last   map[string]time.Time
	global time.Duration
	group  time.Duration
	now    func() time.Time
}

// NewCooldowns builds a limiter; non-positive windows use the defaults.
func NewCooldowns(global, group time.Duration, now func() time.Time) *Cooldowns {
	if global <= 0 {
		global = DefaultGlobalCooldown
	}
	if group <= 0 {
		group = DefaultGroupCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{last: map[string]time.Time{}, global: global, group: group, now: now}
}

func cooldownKey(user core.UserID, group core.GroupID) string {
	if group == "" {
		return string(user)
	}
	return string(user) + "|" + string(group)
}

func (c *Cooldowns) window(group core.GroupID) time.Duration {
	if group != "" {
		return c.group
	}
	return c.global
}

func (c *Cooldowns) allowLocked(key string, window time.Duration, now time.Time) bool {
	last, ok := c.last[key]
	return !ok || now.Sub(last) > window
}

// Allow reports whether an award for the key is outside the window without
// recording anything.
func (c *Cooldowns) Allow(user core.UserID, group core.GroupID) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowLocked(cooldownKey(user, group), c.window(group), now)
}

// Commit records an award for the key at the current time.
func (c *Cooldowns) Commit(user core.UserID, group core.GroupID) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[cooldownKey(user, group)] = now
}

// TryConsume records an award for the key and returns true unless one was
// recorded within the window.
func (c *Cooldowns) TryConsume(user core.UserID, group core.GroupID) bool {
	key := cooldownKey(user, group)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.allowLocked(key, c.window(group), now) {
		return false
	}
	c.last[key] = now
	return true
}

// Reset forgets every recorded award.
func (c *Cooldowns) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = map[string]time.Time{}
}
