// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the timeout helpers shared by chorus tests.
//
// Timer-driven code under test runs on clock.Fake, so tests never sleep
// to make progress. The helpers here are the safety valve for the
// goroutine handoffs around those timers: [RequireReceive],
// [RequireSend] and [RequireClosed] bound a channel operation, and
// [WaitFor] polls a condition another goroutine will make true. They
// are the only wall-clock waits in the test suite, and each fails the
// test instead of hanging it.
package testutil
