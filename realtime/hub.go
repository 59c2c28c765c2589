// Package realtime fans leveling events out to live subscribers such as
// websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"levelbot/core"
)

// Filter selects events for a subscriber. Zero values match everything.
type Filter struct {
	User  core.UserID
	Types []core.EventType
}

func (f Filter) match(ev core.Event) bool {
	if f.User != "" && f.User != ev.UserID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan core.Event
	filter Filter
}

// Hub broadcasts events to buffered channels. Slow subscribers lose events
// rather than block the award path.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a channel receiving events matching filter.
func (h *Hub) Subscribe(buffer int, filter Filter) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, filter: filter}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers is the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events discarded because a subscriber buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Broadcast matches the engine handler signature so it can be subscribed to
// the event bus directly.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	// send under the read lock so Unsubscribe cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.filter.match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
