// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/chorus/lib/clock"
)

// DefaultIdentifyInterval is the spacing the platform enforces between
// identifies in one concurrency slot.
const DefaultIdentifyInterval = 5 * time.Second

// IdentifyLimiter spaces identify attempts across the shards of one
// bot. Shard i uses slot i % maxConcurrency; each slot admits one
// identify per interval. Waiting holds no lock, so a shard queued here
// never stalls another shard's heartbeats.
type IdentifyLimiter struct {
	clock    clock.Clock
	interval time.Duration

	mu    sync.Mutex
	slots []*rate.Limiter
}

// NewIdentifyLimiter returns a limiter with maxConcurrency slots (at
// least one) each admitting one identify per interval.
func NewIdentifyLimiter(interval time.Duration, maxConcurrency int, clock clock.Clock) *IdentifyLimiter {
	if interval <= 0 {
		interval = DefaultIdentifyInterval
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	slots := make([]*rate.Limiter, maxConcurrency)
	for index := range slots {
		slots[index] = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &IdentifyLimiter{clock: clock, interval: interval, slots: slots}
}

// Wait blocks until shardID may identify. A cancelled wait returns its
// reservation.
func (l *IdentifyLimiter) Wait(ctx context.Context, shardID int) error {
	l.mu.Lock()
	now := l.clock.Now()
	reservation := l.slots[shardID%len(l.slots)].ReserveN(now, 1)
	l.mu.Unlock()

	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := sleep(ctx, l.clock, delay); err != nil {
		reservation.CancelAt(l.clock.Now())
		return err
	}
	return nil
}

// Interval returns the per-slot spacing.
func (l *IdentifyLimiter) Interval() time.Duration { return l.interval }

// sleep waits d on clock or until ctx ends.
func sleep(ctx context.Context, clock clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
