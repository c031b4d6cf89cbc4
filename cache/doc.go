// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache holds the locally known object graph: guilds, channels,
// roles, members, users and messages, reconciled from gateway events
// and REST responses.
//
// Each entity kind lives in its own [Store]. A store maps a key to a
// slot holding the entity value, its parent scope (guild for channels,
// roles and members; channel for messages) and a completeness flag.
// An entity first seen only by reference (an ID in someone else's
// payload) is partial; the first payload carrying its full field set
// promotes it in place. Identity is "same key in the same store":
// a [Handle] re-reads the slot, so holders observe promotion and later
// updates without keeping pointers into the store.
//
// Payload types mirror the platform's JSON with pointer fields. A nil
// field means "absent from this observation" and never overwrites a
// known value, so a partial observation cannot erase a full entity.
// Slices are replaced wholesale, never mutated in place, which keeps
// the value copies handed to readers immutable.
//
// Caching is a per-kind policy. A disabled store retains nothing:
// lookups report "not cached", and Upsert returns a transient view
// built from the payload alone.
//
// All mutation goes through Upsert and Remove. Each store is guarded
// by its own RWMutex; readers never observe a half-merged entity.
// Cascading removal (guild to channels, roles and members; channel to
// messages) runs synchronously in ascending key order.
package cache
