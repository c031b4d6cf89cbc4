// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/gateway"
	"github.com/bureau-foundation/chorus/lib/config"
	"github.com/bureau-foundation/chorus/lib/credential"
	"github.com/bureau-foundation/chorus/lib/snapshot"
	"github.com/bureau-foundation/chorus/rest"
)

// FromConfig translates a validated configuration file into a Config.
// Clock, Logger, Dialer and HTTPClient are left for the caller.
func FromConfig(cfg *config.Config) (Config, error) {
	token, err := credential.FromConfig(cfg.Token)
	if err != nil {
		return Config{}, fmt.Errorf("client: %w", err)
	}
	intents, err := gateway.ParseIntents(cfg.Gateway.Intents)
	if err != nil {
		return Config{}, fmt.Errorf("client: %w", err)
	}
	shutdown, err := rest.ParseShutdownPolicy(cfg.REST.Shutdown)
	if err != nil {
		return Config{}, fmt.Errorf("client: %w", err)
	}
	compression := snapshot.CompressionNone
	if cfg.Snapshot.Compression != "" {
		compression, err = snapshot.ParseCompressionTag(cfg.Snapshot.Compression)
		if err != nil {
			return Config{}, fmt.Errorf("client: %w", err)
		}
	}

	return Config{
		Token:               token,
		Intents:             intents,
		GatewayURL:          cfg.Gateway.URL,
		GatewayVersion:      cfg.Gateway.Version,
		Encoding:            cfg.Gateway.Encoding,
		Compress:            cfg.Gateway.Compress,
		ShardCount:          cfg.Gateway.Shards,
		LargeThreshold:      cfg.Gateway.LargeThreshold,
		MaxBackoff:          cfg.Gateway.MaxBackoffDuration(),
		IdentifyInterval:    cfg.Gateway.IdentifyIntervalDuration(),
		MaxConcurrency:      cfg.Gateway.MaxConcurrency,
		BaseURL:             cfg.REST.BaseURL,
		RequestTimeout:      cfg.REST.TimeoutDuration(),
		MaxRateLimitRetries: cfg.REST.MaxRateLimitRetries,
		GlobalLimit:         cfg.REST.GlobalLimit,
		Shutdown:            shutdown,
		Cache: cache.Policy{
			Guilds:   cfg.Cache.Guilds,
			Channels: cfg.Cache.Channels,
			Roles:    cfg.Cache.Roles,
			Members:  cfg.Cache.Members,
			Users:    cfg.Cache.Users,
			Messages: cfg.Cache.Messages,
		},
		SnapshotPath:        cfg.Snapshot.Path,
		SnapshotCompression: compression,
	}, nil
}
