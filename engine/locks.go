package engine

import (
	"sync"

	"levelbot/core"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// userLocks serializes read-modify-write sequences per user. Entries are
// reference counted and dropped once no caller holds or waits on them.
type userLocks struct {
	mu sync.Mutex
	m  map[core.UserID]*lockEntry
}

func (l *userLocks) lock(user core.UserID) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[core.UserID]*lockEntry)
	}
	e, ok := l.m[user]
	if !ok {
		e = &lockEntry{}
		l.m[user] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, user)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
