// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/gateway"
	"github.com/bureau-foundation/chorus/lib/snapshot"
)

// snapshotVersion changes whenever snapshotState changes shape. A file
// with another version is discarded.
const snapshotVersion = 1

type snapshotState struct {
	Version  int                   `cbor:"version"`
	Sessions []gateway.ResumeState `cbor:"sessions"`
	Cache    cache.State           `cbor:"cache"`
}

// restoreSnapshot loads path into entityCache and returns the resume
// states it recorded. Any failure leaves the cache empty and the
// client starting cold.
func restoreSnapshot(path string, entityCache *cache.Cache, logger *slog.Logger) []gateway.ResumeState {
	var state snapshotState
	header, err := snapshot.Read(path, &state)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		logger.Warn("ignoring unreadable snapshot", "path", path, "error", err)
		return nil
	case state.Version != snapshotVersion:
		logger.Warn("ignoring snapshot from another version",
			"path", path, "version", state.Version, "want", snapshotVersion)
		return nil
	}

	entityCache.Restore(state.Cache)
	logger.Info("restored snapshot",
		"path", path,
		"written_at", header.WrittenAt,
		"sessions", len(state.Sessions),
		"guilds", entityCache.Guilds.Len(),
	)
	return state.Sessions
}

func (c *Client) writeSnapshot() error {
	state := snapshotState{
		Version:  snapshotVersion,
		Sessions: c.shards.ResumeStates(),
		Cache:    c.cache.Snapshot(),
	}
	err := snapshot.Write(c.config.SnapshotPath, state, snapshot.Options{
		Compression: c.config.SnapshotCompression,
		Now:         c.clock.Now,
	})
	if err != nil {
		return fmt.Errorf("client: writing snapshot: %w", err)
	}
	c.logger.Info("wrote snapshot", "path", c.config.SnapshotPath, "sessions", len(state.Sessions))
	return nil
}
