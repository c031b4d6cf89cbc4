// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/events"
	"github.com/bureau-foundation/chorus/gateway"
	"github.com/bureau-foundation/chorus/lib/clock"
	"github.com/bureau-foundation/chorus/lib/credential"
	"github.com/bureau-foundation/chorus/lib/snapshot"
	"github.com/bureau-foundation/chorus/lib/snowflake"
	"github.com/bureau-foundation/chorus/rest"
)

// Config configures a Client.
type Config struct {
	// Token supplies the bot token to both REST and the gateway.
	// Required.
	Token credential.Provider

	Intents gateway.Intents

	// GatewayURL skips the URL lookup when set together with
	// ShardCount.
	GatewayURL     string
	GatewayVersion int
	Encoding       string
	Compress       bool

	// ShardCount of zero uses the platform's recommendation.
	ShardCount int

	// Shards limits this process to a subset of shard IDs.
	Shards []int

	LargeThreshold   int
	MaxBackoff       time.Duration
	IdentifyInterval time.Duration
	MaxConcurrency   int

	// Dialer defaults to gateway.WebsocketDialer{}.
	Dialer gateway.Dialer

	BaseURL             string
	HTTPClient          *http.Client
	RequestTimeout      time.Duration
	MaxRateLimitRetries int
	GlobalLimit         int

	// Shutdown selects how Close treats queued REST requests.
	Shutdown rest.ShutdownPolicy

	// Cache selects the entity kinds to keep.
	Cache cache.Policy

	// SnapshotPath enables warm restarts. Empty disables snapshots.
	SnapshotPath        string
	SnapshotCompression snapshot.CompressionTag

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a connected bot.
type Client struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	cache  *cache.Cache
	bus    *events.Bus
	rest   *rest.Dispatcher
	shards *gateway.Manager
	typing *typingTracker

	closeOnce sync.Once
	closeErr  error
}

// New builds a client. Nothing connects until Run. A snapshot at
// SnapshotPath, if present and readable, is restored first.
func New(config Config) (*Client, error) {
	if config.Token == nil {
		return nil, errors.New("client: Token provider is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := events.NewBus(logger)
	entityCache := cache.New(cache.Config{
		Policy:   config.Cache,
		OnChange: bus.EmitChange,
		Logger:   logger,
	})

	var resume []gateway.ResumeState
	if config.SnapshotPath != "" {
		resume = restoreSnapshot(config.SnapshotPath, entityCache, logger)
	}

	dispatcher, err := rest.New(rest.Config{
		BaseURL:             config.BaseURL,
		Token:               config.Token,
		HTTPClient:          config.HTTPClient,
		Timeout:             config.RequestTimeout,
		Cache:               entityCache,
		MaxRateLimitRetries: config.MaxRateLimitRetries,
		GlobalLimit:         config.GlobalLimit,
		Clock:               clk,
		Logger:              logger,
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	shards, err := gateway.NewManager(gateway.ManagerConfig{
		Session: gateway.Config{
			URL:             config.GatewayURL,
			Version:         config.GatewayVersion,
			Encoding:        config.Encoding,
			Compress:        config.Compress,
			Intents:         config.Intents,
			LargeThreshold:  config.LargeThreshold,
			Token:           config.Token,
			Dialer:          config.Dialer,
			Cache:           entityCache,
			Bus:             bus,
			MaxBackoff:      config.MaxBackoff,
			PreserveOnClose: config.SnapshotPath != "",
			Clock:           clk,
			Logger:          logger,
		},
		ShardCount:       config.ShardCount,
		Shards:           config.Shards,
		Resolver:         dispatcher,
		IdentifyInterval: config.IdentifyInterval,
		MaxConcurrency:   config.MaxConcurrency,
		Resume:           resume,
	})
	if err != nil {
		dispatcher.Close(context.Background(), rest.ShutdownAbandon)
		return nil, fmt.Errorf("client: %w", err)
	}

	return &Client{
		config: config,
		clock:  clk,
		logger: logger,
		cache:  entityCache,
		bus:    bus,
		rest:   dispatcher,
		shards: shards,
		typing: newTypingTracker(dispatcher, clk, logger),
	}, nil
}

// Cache returns the shared entity cache.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Bus returns the event bus. Subscribe before Run to see READY.
func (c *Client) Bus() *events.Bus { return c.bus }

// REST returns the REST dispatcher.
func (c *Client) REST() *rest.Dispatcher { return c.rest }

// Shards returns the shard manager.
func (c *Client) Shards() *gateway.Manager { return c.shards }

// Run connects every shard and blocks until ctx ends, Close is called,
// or a shard fails fatally. After a fatal failure the caller should
// still call Close to release REST workers and write the snapshot.
func (c *Client) Run(ctx context.Context) error {
	return c.shards.Run(ctx)
}

// Close stops typing indicators, closes every shard, shuts REST down
// with the configured policy, and writes the snapshot. ctx bounds the
// REST drain. Close is idempotent; later calls return the first
// result.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.typing.stopAll()
		var errs []error
		if err := c.shards.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.rest.Close(ctx, c.config.Shutdown); err != nil {
			errs = append(errs, err)
		}
		if c.config.SnapshotPath != "" {
			if err := c.writeSnapshot(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
		c.logger.Info("client closed", "shutdown", c.config.Shutdown.String())
	})
	return c.closeErr
}

// SendMessage posts a message and returns it as cached.
func (c *Client) SendMessage(ctx context.Context, channelID snowflake.ID, message rest.MessageCreate) (events.MessageRef, error) {
	created, err := c.rest.CreateMessage(ctx, channelID, message)
	if err != nil {
		return events.MessageRef{}, err
	}
	if ref, ok := c.cache.Messages.Get(created.ID); ok {
		return ref, nil
	}
	return transient[snowflake.ID, cache.Message](*created), nil
}

// FetchMember returns a guild member, from the cache when a complete
// entry is present and from REST otherwise.
func (c *Client) FetchMember(ctx context.Context, guildID, userID snowflake.ID) (events.MemberRef, error) {
	key := cache.MemberKey{GuildID: guildID, UserID: userID}
	if ref, ok := c.cache.Members.Get(key); ok && !ref.Partial {
		return ref, nil
	}
	fetched, err := c.rest.GetGuildMember(ctx, guildID, userID)
	if err != nil {
		return events.MemberRef{}, err
	}
	if ref, ok := c.cache.Members.Get(key); ok {
		return ref, nil
	}
	return transient[cache.MemberKey, cache.Member](*fetched), nil
}

// FindRole resolves a role mention, ID or name within a guild. When
// the cache holds no roles for the guild they are fetched once.
func (c *Client) FindRole(ctx context.Context, guildID snowflake.ID, query string) (events.RoleRef, bool, error) {
	if ref, ok := c.cache.FindRole(guildID, query); ok {
		return ref, true, nil
	}
	cached := c.cache.Roles.Filter(func(ref events.RoleRef) bool { return ref.Scope == guildID })
	if len(cached) > 0 || !c.cache.Roles.Enabled() {
		return events.RoleRef{}, false, nil
	}
	if _, err := c.rest.GetGuildRoles(ctx, guildID); err != nil {
		return events.RoleRef{}, false, err
	}
	ref, ok := c.cache.FindRole(guildID, query)
	return ref, ok, nil
}

// StartTyping shows the typing indicator in channelID until a matching
// StopTyping. Calls nest: the indicator stays up until every
// StartTyping has been stopped.
func (c *Client) StartTyping(ctx context.Context, channelID snowflake.ID) error {
	return c.typing.start(ctx, channelID)
}

// StopTyping releases one StartTyping.
func (c *Client) StopTyping(channelID snowflake.ID) {
	c.typing.stop(channelID)
}

// transient builds the uncached view of a payload, for kinds the cache
// policy disables.
func transient[K comparable, E any](payload cache.Payload[K, E]) cache.Ref[K, E] {
	var value E
	payload.Apply(&value)
	return cache.Ref[K, E]{
		Key:       payload.Key(),
		Scope:     payload.Scope(),
		Partial:   !payload.Complete(),
		Value:     value,
		Transient: true,
	}
}
