// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock set to initial. Time stands still until
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{
		now:     initial,
		pending: make(map[*fakeWaiter]struct{}),
	}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock. It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance or Sleep on the same clock.
type FakeClock struct {
	mu       sync.Mutex
	now      time.Time
	pending  map[*fakeWaiter]struct{}
	sequence uint64
	changed  *sync.Cond
}

// fakeWaiter is one pending timer, ticker or sleep.
type fakeWaiter struct {
	deadline time.Time
	// registered breaks deadline ties in registration order.
	registered uint64
	channel    chan time.Time
	callback   func()
	// interval is non-zero for tickers.
	interval time.Duration
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock advances d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C
}

// NewTimer registers a one-shot timer. A non-positive d fires
// immediately without registering.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{channel: channel}
	if d <= 0 {
		channel <- c.now
	} else {
		c.registerLocked(waiter, d)
	}
	return &Timer{
		C:     channel,
		stop:  func() bool { return c.remove(waiter) },
		reset: func(d time.Duration) bool { return c.reschedule(waiter, d) },
	}
}

// AfterFunc registers f to run during the Advance that passes d. A
// non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	waiter := &fakeWaiter{callback: f}
	if d <= 0 {
		f()
	} else {
		c.mu.Lock()
		c.registerLocked(waiter, d)
		c.mu.Unlock()
	}
	return &Timer{
		stop:  func() bool { return c.remove(waiter) },
		reset: func(d time.Duration) bool { return c.reschedule(waiter, d) },
	}
}

// NewTicker registers a periodic waiter. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{channel: channel, interval: d}

	c.mu.Lock()
	c.registerLocked(waiter, d)
	c.mu.Unlock()

	return &Ticker{
		C:    channel,
		stop: func() { c.remove(waiter) },
		reset: func(d time.Duration) {
			c.mu.Lock()
			waiter.interval = d
			c.mu.Unlock()
			c.reschedule(waiter, d)
		},
	}
}

// Sleep blocks until the clock has been advanced by d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window in deadline order. The clock reads
// each waiter's deadline while that waiter fires, and the target time
// once Advance returns. Channel deliveries never block.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.earliestLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		fireTime := c.now
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			delete(c.pending, next)
			c.changed.Broadcast()
		}
		c.mu.Unlock()

		if next.callback != nil {
			next.callback()
			continue
		}
		select {
		case next.channel <- fireTime:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of pending waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) registerLocked(waiter *fakeWaiter, d time.Duration) {
	c.sequence++
	waiter.registered = c.sequence
	waiter.deadline = c.now.Add(d)
	c.pending[waiter] = struct{}{}
	c.changed.Broadcast()
}

func (c *FakeClock) remove(waiter *fakeWaiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[waiter]; !ok {
		return false
	}
	delete(c.pending, waiter)
	c.changed.Broadcast()
	return true
}

func (c *FakeClock) reschedule(waiter *fakeWaiter, d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, active := c.pending[waiter]
	delete(c.pending, waiter)
	c.registerLocked(waiter, d)
	return active
}

// earliestLocked returns the pending waiter with the smallest deadline
// not after target, or nil.
func (c *FakeClock) earliestLocked(target time.Time) *fakeWaiter {
	var earliest *fakeWaiter
	for waiter := range c.pending {
		if waiter.deadline.After(target) {
			continue
		}
		if earliest == nil ||
			waiter.deadline.Before(earliest.deadline) ||
			(waiter.deadline.Equal(earliest.deadline) && waiter.registered < earliest.registered) {
			earliest = waiter
		}
	}
	return earliest
}
