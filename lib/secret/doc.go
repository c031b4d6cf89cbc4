// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the bot token (and any other credential chorus
// handles) in memory that never enters the Go heap.
//
// [Buffer] is backed by an anonymous mmap region that is mlock'ed
// against swap and excluded from core dumps with MADV_DONTDUMP. Close
// zeroes, unlocks and unmaps the region. Callers convert to string
// only at the HTTP and gateway serialization boundary, where the copy
// is short-lived.
//
// Depends on golang.org/x/sys/unix.
package secret
