// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/chorus/lib/clock"
)

// fallbackWait is how long a bucket stays exhausted after a malformed
// rate limit header or a 429 without retry information.
const fallbackWait = time.Second

// Rate limit response headers.
const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerRetryAfter = "Retry-After"
)

// BucketState is a point-in-time copy of a bucket's accounting.
type BucketState struct {
	Limit     int
	Remaining int
	ResetAt   time.Time

	// Known is false until a response carried rate limit headers.
	// Unknown buckets never block.
	Known bool

	// Hash is the platform's opaque bucket identifier, when reported.
	Hash string
}

// Bucket tracks the remaining call budget and reset time of one route
// bucket. No acquire succeeds while remaining is zero and the reset
// time is in the future; once it passes, remaining refills to limit.
type Bucket struct {
	key   string
	clock clock.Clock

	mu        sync.Mutex
	limit     int
	remaining int
	resetAt   time.Time
	known     bool
	hash      string
}

// NewBucket returns an unknown bucket for key.
func NewBucket(key string, clock clock.Clock) *Bucket {
	return &Bucket{key: key, clock: clock}
}

// Key returns the route signature the bucket accounts for.
func (b *Bucket) Key() string { return b.key }

// State returns a copy of the bucket's accounting.
func (b *Bucket) State() BucketState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BucketState{
		Limit:     b.limit,
		Remaining: b.remaining,
		ResetAt:   b.resetAt,
		Known:     b.known,
		Hash:      b.hash,
	}
}

// Set overwrites the bucket's accounting.
func (b *Bucket) Set(limit, remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limit = limit
	b.remaining = remaining
	b.resetAt = resetAt
	b.known = true
}

// acquire blocks until the bucket has budget, then consumes one call.
// Returns the context error if ctx ends while waiting.
func (b *Bucket) acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		if !b.known {
			b.mu.Unlock()
			return nil
		}
		now := b.clock.Now()
		if b.remaining <= 0 {
			if now.Before(b.resetAt) {
				wait := b.resetAt.Sub(now)
				b.mu.Unlock()
				if err := sleep(ctx, b.clock, wait); err != nil {
					return err
				}
				continue
			}
			if b.limit <= 0 {
				// A fallback exhaustion with no known limit: forget
				// the accounting until the next response reports it.
				b.known = false
				b.mu.Unlock()
				return nil
			}
			b.remaining = b.limit
		}
		b.remaining--
		b.mu.Unlock()
		return nil
	}
}

// update records the rate limit headers of a response. Missing headers
// leave the bucket untouched; a present but malformed header exhausts
// the bucket for fallbackWait, as does a zero remaining count that
// arrives without a reset time.
func (b *Bucket) update(header http.Header) {
	limitText := header.Get(headerLimit)
	remainingText := header.Get(headerRemaining)
	resetText := header.Get(headerResetAfter)
	hash := header.Get(headerBucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	if hash != "" {
		b.hash = hash
	}
	if limitText == "" && remainingText == "" && resetText == "" {
		return
	}

	now := b.clock.Now()
	limit, limitErr := parseCount(limitText, b.limit)
	remaining, remainingErr := parseCount(remainingText, b.remaining)
	resetAfter, resetErr := parseSeconds(resetText)
	if limitErr != nil || remainingErr != nil || resetErr != nil {
		b.remaining = 0
		b.resetAt = now.Add(fallbackWait)
		b.known = true
		return
	}

	b.limit = limit
	b.remaining = remaining
	switch {
	case resetText != "":
		b.resetAt = now.Add(resetAfter)
	case remaining == 0 && !b.resetAt.After(now):
		// Exhausted with no reset time: hold the bucket rather than
		// refill on the next acquire.
		b.resetAt = now.Add(fallbackWait)
	}
	b.known = true
}

// exhaust blocks the bucket until now+wait.
func (b *Bucket) exhaust(wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = 0
	b.resetAt = b.clock.Now().Add(wait)
	b.known = true
}

// globalBucket caps the aggregate request rate and carries global 429
// suspensions that hold every route.
type globalBucket struct {
	clock   clock.Clock
	limiter *rate.Limiter

	mu             sync.Mutex
	suspendedUntil time.Time
}

func newGlobalBucket(perSecond int, clock clock.Clock) *globalBucket {
	return &globalBucket{
		clock:   clock,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

// acquire blocks while the global bucket is suspended, then reserves
// one slot of the per-second cap.
func (g *globalBucket) acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.clock.Now()
		if now.Before(g.suspendedUntil) {
			wait := g.suspendedUntil.Sub(now)
			g.mu.Unlock()
			if err := sleep(ctx, g.clock, wait); err != nil {
				return err
			}
			continue
		}
		reservation := g.limiter.ReserveN(now, 1)
		g.mu.Unlock()

		delay := reservation.DelayFrom(now)
		if delay <= 0 {
			return nil
		}
		if err := sleep(ctx, g.clock, delay); err != nil {
			reservation.CancelAt(g.clock.Now())
			return err
		}
		return nil
	}
}

// suspend holds every route until now+wait. A shorter suspension never
// shortens a longer one already in force.
func (g *globalBucket) suspend(wait time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.clock.Now().Add(wait)
	if until.After(g.suspendedUntil) {
		g.suspendedUntil = until
	}
}

func (g *globalBucket) suspended() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspendedUntil
}

// throttle is the retry information of a 429 response.
type throttle struct {
	retryAfter time.Duration
	global     bool
}

// parseThrottle reads the retry-after duration and global flag from a
// 429 response, preferring headers over the JSON body. Missing or
// malformed information waits fallbackWait.
func parseThrottle(header http.Header, body []byte) throttle {
	result := throttle{retryAfter: fallbackWait}
	fields := decodeThrottleBody(body)

	if text := header.Get(headerRetryAfter); text != "" {
		if wait, err := parseSeconds(text); err == nil && wait > 0 {
			result.retryAfter = wait
		}
	} else if fields.RetryAfter != nil && *fields.RetryAfter > 0 {
		result.retryAfter = time.Duration(*fields.RetryAfter * float64(time.Second))
	}

	if text := header.Get(headerGlobal); text != "" {
		result.global = strings.EqualFold(text, "true")
	} else {
		result.global = fields.Global
	}
	return result
}

func decodeThrottleBody(body []byte) throttleBody {
	var fields throttleBody
	if len(body) > 0 {
		_ = json.Unmarshal(body, &fields)
	}
	return fields
}

type throttleBody struct {
	RetryAfter *float64 `json:"retry_after"`
	Global     bool     `json:"global"`
}

// parseCount parses a non-negative integer header. An empty value
// returns fallback.
func parseCount(text string, fallback int) (int, error) {
	if text == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, strconv.ErrRange
	}
	return value, nil
}

// parseSeconds parses a fractional seconds header such as "1.25".
func parseSeconds(text string) (time.Duration, error) {
	if text == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}
	if !(seconds >= 0 && seconds <= float64(24*time.Hour/time.Second)) {
		return 0, strconv.ErrRange
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// sleep waits d on clock or until ctx ends.
func sleep(ctx context.Context, clock clock.Clock, d time.Duration) error {
	timer := clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
