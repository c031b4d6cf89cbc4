// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"slices"
	"sync"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// Payload is one observation of an entity: a gateway event body or a
// REST response object.
type Payload[K comparable, E any] interface {
	// Key identifies the entity the payload describes.
	Key() K

	// Scope is the parent ID carried by the payload, or zero when the
	// payload does not say.
	Scope() snowflake.ID

	// Complete reports whether the payload carries the entity's full
	// field set. A complete payload promotes a partial entity.
	Complete() bool

	// Apply merges the fields present in the payload into entity,
	// including the identity fields.
	Apply(entity *E)
}

// Ref is a point-in-time view of an entity. Partial refs carry the key
// and, when known, the scope; Value holds whatever fields have been
// observed (only identity fields for a never-observed entity).
type Ref[K comparable, E any] struct {
	Key     K
	Scope   snowflake.ID
	Partial bool
	Value   E

	// Transient marks a view built by a disabled store that was not
	// retained.
	Transient bool
}

// Entry is the snapshot form of one slot.
type Entry[K comparable, E any] struct {
	Key      K            `cbor:"key"`
	Scope    snowflake.ID `cbor:"scope"`
	Complete bool         `cbor:"complete"`
	Value    E            `cbor:"value"`
}

type slot[E any] struct {
	value    E
	scope    snowflake.ID
	complete bool
	order    uint64
}

// Store is a keyed cache of one entity kind.
type Store[K comparable, E any] struct {
	kind    Kind
	enabled bool
	compare func(a, b K) int
	notify  func(Change)

	mu      sync.RWMutex
	entries map[K]*slot[E]
	next    uint64
}

// NewStore returns a store for kind. compare orders keys for
// deterministic cascades. notify, when non-nil, is called after every
// mutation of an enabled store, outside the store lock.
func NewStore[K comparable, E any](kind Kind, enabled bool, compare func(a, b K) int, notify func(Change)) *Store[K, E] {
	return &Store[K, E]{
		kind:    kind,
		enabled: enabled,
		compare: compare,
		notify:  notify,
		entries: make(map[K]*slot[E]),
	}
}

// Kind returns the entity kind the store holds.
func (s *Store[K, E]) Kind() Kind { return s.kind }

// Enabled reports whether the store retains entities.
func (s *Store[K, E]) Enabled() bool { return s.enabled }

func (s *Store[K, E]) ref(key K, entry *slot[E]) Ref[K, E] {
	return Ref[K, E]{Key: key, Scope: entry.scope, Partial: !entry.complete, Value: entry.value}
}

// Get returns the cached entity. A disabled store always reports
// "not cached".
func (s *Store[K, E]) Get(key K) (Ref[K, E], bool) {
	if !s.enabled {
		return Ref[K, E]{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return Ref[K, E]{}, false
	}
	return s.ref(key, entry), true
}

// Has reports whether key is cached.
func (s *Store[K, E]) Has(key K) bool {
	if !s.enabled {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Upsert merges payload into the cached entity, creating it if absent,
// and returns the merged view.
func (s *Store[K, E]) Upsert(payload Payload[K, E]) Ref[K, E] {
	current, _, _ := s.Exchange(payload)
	return current
}

// Exchange is Upsert that also returns the view from before the merge.
// existed is false when the entity was created by this call.
func (s *Store[K, E]) Exchange(payload Payload[K, E]) (current, previous Ref[K, E], existed bool) {
	key := payload.Key()
	if !s.enabled {
		var value E
		payload.Apply(&value)
		return Ref[K, E]{
			Key:       key,
			Scope:     payload.Scope(),
			Partial:   !payload.Complete(),
			Value:     value,
			Transient: true,
		}, Ref[K, E]{}, false
	}

	s.mu.Lock()
	entry, existed := s.entries[key]
	if existed {
		previous = s.ref(key, entry)
	} else {
		entry = &slot[E]{order: s.next}
		s.next++
		s.entries[key] = entry
	}
	payload.Apply(&entry.value)
	if scope := payload.Scope(); scope != 0 {
		entry.scope = scope
	}
	entry.complete = entry.complete || payload.Complete()
	current = s.ref(key, entry)
	s.mu.Unlock()

	op := OpUpdated
	if !existed {
		op = OpCreated
	}
	s.emit(op, key, current.Scope, current.Partial)
	return current, previous, existed
}

// Remove deletes key and returns the removed view.
func (s *Store[K, E]) Remove(key K) (Ref[K, E], bool) {
	if !s.enabled {
		return Ref[K, E]{}, false
	}
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return Ref[K, E]{}, false
	}
	delete(s.entries, key)
	removed := s.ref(key, entry)
	s.mu.Unlock()

	s.emit(OpRemoved, key, removed.Scope, removed.Partial)
	return removed, true
}

// Resolve returns the cached view of key, or a partial ref carrying
// only key and scope. It never blocks on I/O.
func (s *Store[K, E]) Resolve(key K, scope snowflake.ID) Ref[K, E] {
	if ref, ok := s.Get(key); ok {
		if ref.Scope == 0 {
			ref.Scope = scope
		}
		return ref
	}
	return Ref[K, E]{Key: key, Scope: scope, Partial: true}
}

// RemoveScope removes every entity whose scope is scope, in ascending
// key order, and returns the removed views in that order.
func (s *Store[K, E]) RemoveScope(scope snowflake.ID) []Ref[K, E] {
	if !s.enabled || scope == 0 {
		return nil
	}
	s.mu.Lock()
	var removed []Ref[K, E]
	for key, entry := range s.entries {
		if entry.scope == scope {
			removed = append(removed, s.ref(key, entry))
		}
	}
	for _, ref := range removed {
		delete(s.entries, ref.Key)
	}
	s.mu.Unlock()

	slices.SortFunc(removed, func(a, b Ref[K, E]) int { return s.compare(a.Key, b.Key) })
	for _, ref := range removed {
		s.emit(OpRemoved, ref.Key, ref.Scope, ref.Partial)
	}
	return removed
}

// Filter returns the entities matching match, in insertion order.
func (s *Store[K, E]) Filter(match func(Ref[K, E]) bool) []Ref[K, E] {
	if !s.enabled {
		return nil
	}
	type ordered struct {
		ref   Ref[K, E]
		order uint64
	}
	s.mu.RLock()
	var matches []ordered
	for key, entry := range s.entries {
		ref := s.ref(key, entry)
		if match == nil || match(ref) {
			matches = append(matches, ordered{ref, entry.order})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b ordered) int {
		switch {
		case a.order < b.order:
			return -1
		case a.order > b.order:
			return 1
		}
		return 0
	})
	result := make([]Ref[K, E], len(matches))
	for index, item := range matches {
		result[index] = item.ref
	}
	return result
}

// Keys returns every cached key in ascending order.
func (s *Store[K, E]) Keys() []K {
	if !s.enabled {
		return nil
	}
	s.mu.RLock()
	keys := make([]K, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	slices.SortFunc(keys, s.compare)
	return keys
}

// Len returns the number of cached entities.
func (s *Store[K, E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every entity without reporting removals.
func (s *Store[K, E]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]*slot[E])
	s.next = 0
}

// Entries returns every slot in insertion order, for snapshots.
func (s *Store[K, E]) Entries() []Entry[K, E] {
	refs := s.Filter(nil)
	entries := make([]Entry[K, E], len(refs))
	for index, ref := range refs {
		entries[index] = Entry[K, E]{Key: ref.Key, Scope: ref.Scope, Complete: !ref.Partial, Value: ref.Value}
	}
	return entries
}

// Restore replaces the store's contents with entries, preserving their
// order. A disabled store ignores it.
func (s *Store[K, E]) Restore(entries []Entry[K, E]) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]*slot[E], len(entries))
	s.next = 0
	for _, entry := range entries {
		s.entries[entry.Key] = &slot[E]{
			value:    entry.Value,
			scope:    entry.Scope,
			complete: entry.Complete,
			order:    s.next,
		}
		s.next++
	}
}

func (s *Store[K, E]) emit(op Op, key K, scope snowflake.ID, partial bool) {
	if s.notify == nil {
		return
	}
	s.notify(Change{Kind: s.kind, Op: op, Key: key, Scope: scope, Partial: partial})
}

// Handle names one entity by store and key. It holds no entity data;
// every read goes back to the store and observes the latest merge.
type Handle[K comparable, E any] struct {
	store *Store[K, E]
	key   K
}

// Handle returns a handle for key. The entity need not exist yet.
func (s *Store[K, E]) Handle(key K) Handle[K, E] {
	return Handle[K, E]{store: s, key: key}
}

// Key returns the handle's key.
func (h Handle[K, E]) Key() K { return h.key }

// Get reads the entity's current state.
func (h Handle[K, E]) Get() (Ref[K, E], bool) { return h.store.Get(h.key) }

// Partial reports whether the entity is absent or not yet complete.
func (h Handle[K, E]) Partial() bool {
	ref, ok := h.store.Get(h.key)
	return !ok || ref.Partial
}
