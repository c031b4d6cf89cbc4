// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/chorus/lib/clock"
	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// TypingRefresh is how often an active typing indicator is re-posted.
// The platform clears an indicator after ten seconds.
const TypingRefresh = 9 * time.Second

type typingTrigger interface {
	TriggerTyping(ctx context.Context, channelID snowflake.ID) error
}

type typingTracker struct {
	trigger typingTrigger
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	channels map[snowflake.ID]*typingChannel
	wg       sync.WaitGroup
}

type typingChannel struct {
	count  int
	cancel context.CancelFunc
}

func newTypingTracker(trigger typingTrigger, clk clock.Clock, logger *slog.Logger) *typingTracker {
	return &typingTracker{
		trigger:  trigger,
		clock:    clk,
		logger:   logger,
		channels: make(map[snowflake.ID]*typingChannel),
	}
}

// start registers one holder. The first holder posts the indicator
// immediately and starts the refresh loop; a failed first post
// releases the registration and is returned.
func (t *typingTracker) start(ctx context.Context, channelID snowflake.ID) error {
	t.mu.Lock()
	if entry, ok := t.channels[channelID]; ok {
		entry.count++
		t.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t.channels[channelID] = &typingChannel{count: 1, cancel: cancel}
	t.wg.Add(1)
	go t.refresh(loopCtx, channelID)
	t.mu.Unlock()

	if err := t.trigger.TriggerTyping(ctx, channelID); err != nil {
		t.stop(channelID)
		return err
	}
	return nil
}

func (t *typingTracker) stop(channelID snowflake.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.channels[channelID]
	if !ok {
		return
	}
	entry.count--
	if entry.count > 0 {
		return
	}
	entry.cancel()
	delete(t.channels, channelID)
}

// active reports the holder count for a channel.
func (t *typingTracker) active(channelID snowflake.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.channels[channelID]; ok {
		return entry.count
	}
	return 0
}

// stopAll cancels every indicator regardless of holders and waits for
// the refresh loops to exit.
func (t *typingTracker) stopAll() {
	t.mu.Lock()
	for channelID, entry := range t.channels {
		entry.cancel()
		delete(t.channels, channelID)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *typingTracker) refresh(ctx context.Context, channelID snowflake.ID) {
	defer t.wg.Done()
	ticker := t.clock.NewTicker(TypingRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := t.trigger.TriggerTyping(ctx, channelID); err != nil && ctx.Err() == nil {
			t.logger.Warn("refreshing typing indicator failed",
				"channel_id", channelID, "error", err)
		}
	}
}
