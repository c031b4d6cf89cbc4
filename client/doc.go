// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client wires the entity cache, event bus, REST dispatcher and
// gateway shards of one bot into a single value.
//
// A Client owns exactly one cache.Cache and one events.Bus. Gateway
// sessions and REST responses both write into the cache, and every
// mutation is reported through the bus, so subscribers see one
// consistent object graph regardless of where an observation came
// from.
//
// When Config.SnapshotPath is set, Close writes the cache and each
// shard's resume state to a snapshot file and New restores them, so a
// restarted process resumes its sessions instead of identifying and
// rebuilding the cache from scratch.
//
// Convenience methods cover the common bot operations: SendMessage,
// FetchMember, FindRole and reference-counted typing indicators
// (StartTyping / StopTyping).
package client
