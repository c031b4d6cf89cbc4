// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package events defines the domain events a gateway session emits and
// the Bus that delivers them to consumers.
//
// The event set is closed: every type implements [Event] through an
// unexported method, and the gateway's dispatch table maps each
// platform dispatch name to exactly one of these types. Dispatch names
// the table does not know are delivered as [Raw].
//
// Events carry both the raw IDs from the payload and resolved cache
// references. A reference is full when the entity was cached and
// partial (key and scope only) when it was not. Delete events resolve
// references before removing from the cache, so a consumer sees the
// last known state of what was deleted, or a partial ref, but never a
// fabricated object.
package events
