package httpapi

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiterRefillsPerMinute(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	l := newRateLimiter(60, 2, clock.Now)

	assert.True(t, l.allow("k"))
	assert.True(t, l.allow("k"))
	assert.False(t, l.allow("k"), "burst exhausted")
	assert.True(t, l.allow("other"), "keys are independent")

	// 60 rpm refills one token per second
	clock.Advance(time.Second)
	assert.True(t, l.allow("k"))
	assert.False(t, l.allow("k"))
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	l := newRateLimiter(60, 1, clock.Now)

	l.allow("a")
	l.allow("b")
	assert.Equal(t, 2, l.size())

	clock.Advance(limiterIdleTTL / 2)
	l.allow("b")

	clock.Advance(limiterIdleTTL/2 + time.Second)
	l.allow("c")
	// a went idle and was swept; b was seen within the TTL
	assert.Equal(t, 2, l.size())
	_, hasA := l.clients["a"]
	assert.False(t, hasA)
}
