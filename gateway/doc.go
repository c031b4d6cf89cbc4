// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway maintains the real-time socket sessions that deliver
// platform events.
//
// A [Session] owns one shard's connection and moves through the states
// Idle, Connecting, Identifying, Ready, Resuming, Disconnected,
// Reconnecting and Closed. After the server's Hello it starts a
// heartbeat loop at the declared interval; two unacknowledged
// heartbeats mark the connection dead and force a reconnect. A session
// that has a session ID and a sequence number resumes after a
// resumable disconnect instead of identifying again, so the entity
// cache survives the outage. A rejected resume clears the shard's
// cache scope and falls back to a fresh identify. Non-resumable close
// codes (bad token, disallowed intents) end the session with a
// [*FatalError].
//
// Dispatch frames are handled in arrival order through a lookup table
// keyed by event name. Each handler reconciles the payload into the
// [cache.Cache] and emits a typed event on the [events.Bus] with
// references resolved against the cache. Names without a handler are
// emitted as [events.Raw].
//
// A [Manager] runs every shard of one bot, serializes identify
// attempts through a shared [IdentifyLimiter] and respawns shards that
// end with a non-fatal error.
//
// Sockets are reached through the [Dialer] and [Conn] interfaces.
// [WebsocketDialer] adapts gorilla/websocket; tests use in-memory
// connections. All timers run on an injected [clock.Clock].
package gateway
