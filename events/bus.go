// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/bureau-foundation/chorus/cache"
)

// Bus delivers events to subscribers synchronously, on the emitting
// goroutine, in emission order. A session emits from its frame loop,
// so a slow handler delays that shard's event processing. Heartbeat
// acks are read on a separate goroutine and keep flowing until the
// shard's frame queue fills. A handler that panics is logged and
// skipped; the panic does not reach the session.
type Bus struct {
	logger *slog.Logger

	mu      sync.RWMutex
	next    uint64
	byName  map[string][]subscription[Event]
	any     []subscription[Event]
	changes []subscription[cache.Change]
}

type subscription[T any] struct {
	id      uint64
	handler func(T)
}

// NewBus returns an empty bus. A nil logger uses slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, byName: make(map[string][]subscription[Event])}
}

// On subscribes handler to events with the given name. The returned
// function unsubscribes.
func (b *Bus) On(name string, handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID()
	b.byName[name] = append(b.byName[name], subscription[Event]{id, handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byName[name] = without(b.byName[name], id)
	}
}

// OnAny subscribes handler to every event.
func (b *Bus) OnAny(handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID()
	b.any = append(b.any, subscription[Event]{id, handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.any = without(b.any, id)
	}
}

// OnEntityChange subscribes handler to cache mutations (entity
// created, updated or removed), whichever component caused them.
func (b *Bus) OnEntityChange(handler func(cache.Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID()
	b.changes = append(b.changes, subscription[cache.Change]{id, handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.changes = without(b.changes, id)
	}
}

// Subscribe registers a handler for one event type:
//
//	events.Subscribe(bus, func(event events.MessageCreate) { ... })
func Subscribe[E Event](b *Bus, handler func(E)) func() {
	var zero E
	return b.On(zero.Name(), func(event Event) {
		if typed, ok := event.(E); ok {
			handler(typed)
		}
	})
}

// Emit delivers event to its named subscribers, then to OnAny
// subscribers.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	named := b.byName[event.Name()]
	anyHandlers := b.any
	b.mu.RUnlock()

	for _, subscriber := range named {
		b.call(event.Name(), func() { subscriber.handler(event) })
	}
	for _, subscriber := range anyHandlers {
		b.call(event.Name(), func() { subscriber.handler(event) })
	}
}

// EmitChange delivers a cache mutation. It has the signature of
// cache.Config.OnChange.
func (b *Bus) EmitChange(change cache.Change) {
	b.mu.RLock()
	handlers := b.changes
	b.mu.RUnlock()

	for _, subscriber := range handlers {
		b.call("entity_change", func() { subscriber.handler(change) })
	}
}

func (b *Bus) call(name string, invoke func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("event handler panicked",
				"event", name,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
		}
	}()
	invoke()
}

func (b *Bus) nextID() uint64 {
	b.next++
	return b.next
}

// without returns a copy of list minus id. Emit holds slices taken
// under the read lock, so subscriptions are never removed in place.
func without[T any](list []subscription[T], id uint64) []subscription[T] {
	result := make([]subscription[T], 0, len(list))
	for _, entry := range list {
		if entry.id != id {
			result = append(result, entry)
		}
	}
	return result
}
