// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that every
// suspension point in chorus (heartbeat intervals, reconnect backoff,
// rate-limit waits, typing refreshes) can be driven deterministically
// in tests.
//
// Production code holds a Clock and never calls time.Now, time.After,
// time.NewTimer, time.NewTicker or time.Sleep directly. Real() wraps
// the standard library; Fake() returns a FakeClock whose time moves
// only when Advance is called.
//
// # Cancellable waits
//
// A wait that may be abandoned (a select that also watches ctx.Done)
// should use NewTimer and Stop the timer on the abandoned branch.
// Stopped timers leave the FakeClock's pending set immediately, which
// keeps WaitForTimers counts exact across reconnect loops:
//
//	timer := c.NewTimer(delay)
//	defer timer.Stop()
//	select {
//	case <-timer.C:
//	case <-ctx.Done():
//	    return ctx.Err()
//	}
//
// # FakeClock synchronization
//
// Tests start the code under test in a goroutine, call WaitForTimers
// until the goroutine has registered the expected number of timers,
// then Advance past the deadline:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go session.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Second)
package clock
