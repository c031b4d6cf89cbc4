// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// Policy enables caching per entity kind.
type Policy struct {
	Guilds   bool
	Channels bool
	Roles    bool
	Members  bool
	Users    bool
	Messages bool
}

// AllEnabled caches every kind.
func AllEnabled() Policy {
	return Policy{Guilds: true, Channels: true, Roles: true, Members: true, Users: true, Messages: true}
}

// Enabled reports the policy for kind.
func (p Policy) Enabled(kind Kind) bool {
	switch kind {
	case KindGuild:
		return p.Guilds
	case KindChannel:
		return p.Channels
	case KindRole:
		return p.Roles
	case KindMember:
		return p.Members
	case KindUser:
		return p.Users
	case KindMessage:
		return p.Messages
	default:
		return false
	}
}

// Config configures a Cache.
type Config struct {
	Policy Policy

	// OnChange receives every mutation of an enabled store. It runs on
	// the mutating goroutine after the store lock is released and must
	// not block.
	OnChange func(Change)

	Logger *slog.Logger
}

// Cache is the aggregate of all entity stores. It is created once per
// client and shared by every gateway session and the REST dispatcher.
type Cache struct {
	logger *slog.Logger

	Guilds   *Store[snowflake.ID, Guild]
	Channels *Store[snowflake.ID, Channel]
	Roles    *Store[snowflake.ID, Role]
	Members  *Store[MemberKey, Member]
	Users    *Store[snowflake.ID, User]
	Messages *Store[snowflake.ID, Message]
}

// New builds every store according to config.Policy.
func New(config Config) *Cache {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := config.Policy
	notify := config.OnChange
	compareIDs := cmp.Compare[snowflake.ID]

	return &Cache{
		logger:   logger,
		Guilds:   NewStore[snowflake.ID, Guild](KindGuild, policy.Guilds, compareIDs, notify),
		Channels: NewStore[snowflake.ID, Channel](KindChannel, policy.Channels, compareIDs, notify),
		Roles:    NewStore[snowflake.ID, Role](KindRole, policy.Roles, compareIDs, notify),
		Members:  NewStore[MemberKey, Member](KindMember, policy.Members, compareMemberKeys, notify),
		Users:    NewStore[snowflake.ID, User](KindUser, policy.Users, compareIDs, notify),
		Messages: NewStore[snowflake.ID, Message](KindMessage, policy.Messages, compareIDs, notify),
	}
}

// UpsertGuild merges a guild and everything nested in it: channels,
// threads, roles and members inherit the guild as their scope.
func (c *Cache) UpsertGuild(payload GuildPayload) Ref[snowflake.ID, Guild] {
	ref := c.Guilds.Upsert(payload)
	guildID := payload.ID
	for _, channel := range payload.Channels {
		c.UpsertChannel(channel, guildID)
	}
	for _, thread := range payload.Threads {
		c.UpsertChannel(thread, guildID)
	}
	for _, role := range payload.Roles {
		role.GuildID = guildID
		c.Roles.Upsert(role)
	}
	for _, member := range payload.Members {
		member.GuildID = guildID
		c.UpsertMember(member)
	}
	return ref
}

// UpsertChannel merges a channel. guildID fills in the scope when the
// payload omits it, as GUILD_CREATE's nested channels do.
func (c *Cache) UpsertChannel(payload ChannelPayload, guildID snowflake.ID) Ref[snowflake.ID, Channel] {
	if payload.GuildID == nil && guildID != 0 {
		payload.GuildID = &guildID
	}
	return c.Channels.Upsert(payload)
}

// UpsertMember merges a member and the user object it carries. A
// payload without a guild or user ID cannot be keyed; it is logged and
// returned as a transient view.
func (c *Cache) UpsertMember(payload MemberPayload) Ref[MemberKey, Member] {
	if payload.User != nil && payload.User.ID != 0 {
		c.Users.Upsert(*payload.User)
	}
	key := payload.Key()
	if key.GuildID == 0 || key.UserID == 0 {
		c.logger.Warn("member payload without guild or user ID",
			"guild_id", key.GuildID,
			"user_id", key.UserID,
		)
		var value Member
		payload.Apply(&value)
		return Ref[MemberKey, Member]{Key: key, Scope: key.GuildID, Partial: !payload.Complete(), Value: value, Transient: true}
	}
	return c.Members.Upsert(payload)
}

// UpsertMessage merges a message, its author and, in guild channels,
// the partial member object the platform attaches to the author.
func (c *Cache) UpsertMessage(payload MessagePayload) Ref[snowflake.ID, Message] {
	if payload.Author != nil && payload.Author.ID != 0 {
		c.Users.Upsert(*payload.Author)
		if payload.Member != nil && payload.GuildID != nil {
			member := *payload.Member
			member.GuildID = *payload.GuildID
			member.User = &UserPayload{ID: payload.Author.ID}
			c.Members.Upsert(member)
		}
	}
	ref := c.Messages.Upsert(payload)
	if payload.Timestamp != nil && c.Channels.Has(payload.ChannelID) {
		id := payload.ID
		c.Channels.Upsert(ChannelPayload{ID: payload.ChannelID, LastMessageID: &id})
	}
	return ref
}

// Cascade lists what a parent removal took with it, each list in
// ascending key order.
type Cascade struct {
	Channels []snowflake.ID
	Roles    []snowflake.ID
	Members  []MemberKey
	Messages []snowflake.ID
}

// Empty reports whether nothing was removed.
func (c Cascade) Empty() bool {
	return len(c.Channels) == 0 && len(c.Roles) == 0 && len(c.Members) == 0 && len(c.Messages) == 0
}

// RemoveGuild removes a guild and, before returning, every channel
// (with its messages), role and member scoped to it. Removing a guild
// the cache does not track logs a warning; scoped children are still
// removed, since they may have been cached from REST responses.
func (c *Cache) RemoveGuild(guildID snowflake.ID) (Ref[snowflake.ID, Guild], bool, Cascade) {
	removed, ok := c.Guilds.Remove(guildID)
	if !ok && c.Guilds.Enabled() {
		c.logger.Warn("removing untracked guild", "guild_id", guildID)
	}

	var cascade Cascade
	for _, channel := range c.Channels.RemoveScope(guildID) {
		cascade.Channels = append(cascade.Channels, channel.Key)
		for _, message := range c.Messages.RemoveScope(channel.Key) {
			cascade.Messages = append(cascade.Messages, message.Key)
		}
	}
	for _, role := range c.Roles.RemoveScope(guildID) {
		cascade.Roles = append(cascade.Roles, role.Key)
	}
	for _, member := range c.Members.RemoveScope(guildID) {
		cascade.Members = append(cascade.Members, member.Key)
	}
	return removed, ok, cascade
}

// RemoveChannel removes a channel and its messages.
func (c *Cache) RemoveChannel(channelID snowflake.ID) (Ref[snowflake.ID, Channel], bool, []snowflake.ID) {
	removed, ok := c.Channels.Remove(channelID)
	if !ok && c.Channels.Enabled() {
		c.logger.Warn("removing untracked channel", "channel_id", channelID)
	}
	var messages []snowflake.ID
	for _, message := range c.Messages.RemoveScope(channelID) {
		messages = append(messages, message.Key)
	}
	return removed, ok, messages
}

// ClearShard removes every guild routed to shardID (and its children).
// A session whose resume was rejected calls this before identifying
// again, since the fresh READY re-delivers those guilds.
func (c *Cache) ClearShard(shardID, shardCount int) []snowflake.ID {
	var cleared []snowflake.ID
	for _, guildID := range c.Guilds.Keys() {
		if guildID.Shard(shardCount) == shardID {
			c.RemoveGuild(guildID)
			cleared = append(cleared, guildID)
		}
	}
	if len(cleared) > 0 {
		c.logger.Info("cleared shard cache scope",
			"shard_id", shardID,
			"shard_count", shardCount,
			"guilds", len(cleared),
		)
	}
	return cleared
}

// UpsertRaw decodes a REST response body holding one entity object or
// an array of them and upserts each. scope supplies the parent ID the
// route implies (guild for roles and members, channel for messages).
// An unknown kind is logged and ignored. Returns the number of
// entities upserted.
func (c *Cache) UpsertRaw(kind Kind, scope snowflake.ID, body []byte) (int, error) {
	switch kind {
	case KindGuild:
		return decodeEach(body, func(payload GuildPayload) { c.UpsertGuild(payload) })
	case KindChannel:
		return decodeEach(body, func(payload ChannelPayload) { c.UpsertChannel(payload, scope) })
	case KindRole:
		return decodeEach(body, func(payload RolePayload) {
			if payload.GuildID == 0 {
				payload.GuildID = scope
			}
			c.Roles.Upsert(payload)
		})
	case KindMember:
		return decodeEach(body, func(payload MemberPayload) {
			if payload.GuildID == 0 {
				payload.GuildID = scope
			}
			c.UpsertMember(payload)
		})
	case KindUser:
		return decodeEach(body, func(payload UserPayload) { c.Users.Upsert(payload) })
	case KindMessage:
		return decodeEach(body, func(payload MessagePayload) {
			if payload.ChannelID == 0 {
				payload.ChannelID = scope
			}
			c.UpsertMessage(payload)
		})
	default:
		c.logger.Warn("upsert for unknown entity kind ignored", "kind", kind.String())
		return 0, nil
	}
}

func decodeEach[P any](body []byte, upsert func(P)) (int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return 0, nil
	}
	if trimmed[0] == '[' {
		var payloads []P
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return 0, fmt.Errorf("cache: decoding entity array: %w", err)
		}
		for _, payload := range payloads {
			upsert(payload)
		}
		return len(payloads), nil
	}
	var payload P
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return 0, fmt.Errorf("cache: decoding entity: %w", err)
	}
	upsert(payload)
	return 1, nil
}

// State is the snapshot form of the whole cache.
type State struct {
	Guilds   []Entry[snowflake.ID, Guild]   `cbor:"guilds"`
	Channels []Entry[snowflake.ID, Channel] `cbor:"channels"`
	Roles    []Entry[snowflake.ID, Role]    `cbor:"roles"`
	Members  []Entry[MemberKey, Member]     `cbor:"members"`
	Users    []Entry[snowflake.ID, User]    `cbor:"users"`
	Messages []Entry[snowflake.ID, Message] `cbor:"messages"`
}

// Snapshot captures every enabled store. Stores are read one at a
// time; a snapshot taken while events are flowing is per-store
// consistent only, which is why the client takes it after its sessions
// have stopped.
func (c *Cache) Snapshot() State {
	return State{
		Guilds:   c.Guilds.Entries(),
		Channels: c.Channels.Entries(),
		Roles:    c.Roles.Entries(),
		Members:  c.Members.Entries(),
		Users:    c.Users.Entries(),
		Messages: c.Messages.Entries(),
	}
}

// Restore replaces the contents of every enabled store.
func (c *Cache) Restore(state State) {
	c.Guilds.Restore(state.Guilds)
	c.Channels.Restore(state.Channels)
	c.Roles.Restore(state.Roles)
	c.Members.Restore(state.Members)
	c.Users.Restore(state.Users)
	c.Messages.Restore(state.Messages)
}
