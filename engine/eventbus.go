package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"levelbot/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// Handler consumes a published event.
type Handler func(context.Context, core.Event)

type subscription struct {
	id int64
	fn Handler
}

// EventBus fans leveling events out to subscribers. In async mode events are
// queued to a small worker pool and dropped when the queue is full or the bus
// is closed.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]subscription
	any     map[int64]subscription
	nextID  int64
	queue   chan core.Event
	workers int
	wg      sync.WaitGroup
	qmu     sync.RWMutex // guards closed and sends on queue
	closed  bool
	dropped atomic.Int64
}

func NewEventBus(mode DispatchMode) *EventBus {
	eb := &EventBus{
		mode:    mode,
		subs:    make(map[core.EventType]map[int64]subscription),
		any:     make(map[int64]subscription),
		queue:   make(chan core.Event, 1024),
		workers: 2,
	}
	if mode == DispatchAsync {
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range e.queue {
				e.dispatch(context.Background(), ev)
			}
		}()
	}
}

// Close stops accepting async events, lets the workers drain what is already
// queued and waits for them. It is safe to call more than once.
func (e *EventBus) Close() {
	e.qmu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.qmu.Unlock()
	e.wg.Wait()
}

// Dropped is the number of async events discarded because the queue was full
// or the bus was closed.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

// Subscribe registers a handler for one event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[typ], id)
	}
}

// SubscribeAll registers a handler for every event type.
func (e *EventBus) SubscribeAll(handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.any[id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.any, id)
	}
}

// Publish sends an event to subscribers.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode == DispatchAsync {
		e.qmu.RLock()
		defer e.qmu.RUnlock()
		if e.closed {
			e.dropped.Add(1)
			return
		}
		select {
		case e.queue <- ev:
		default:
			e.dropped.Add(1)
		}
		return
	}
	e.dispatch(ctx, ev)
}

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[ev.Type])+len(e.any))
	for _, s := range e.subs[ev.Type] {
		handlers = append(handlers, s.fn)
	}
	for _, s := range e.any {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		callHandler(ctx, h, ev)
	}
}

// callHandler isolates the publisher from a panicking subscriber.
func callHandler(ctx context.Context, h Handler, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", ev.Type, "panic", r)
		}
	}()
	h(ctx, ev)
}
