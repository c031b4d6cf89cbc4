// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"time"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// Event is one domain event.
type Event interface {
	// Name is the platform dispatch name, or NameRaw.
	Name() string

	// ShardID is the shard whose session produced the event.
	ShardID() int

	isEvent()
}

// Dispatch names.
const (
	NameReady             = "READY"
	NameResumed           = "RESUMED"
	NameGuildCreate       = "GUILD_CREATE"
	NameGuildUpdate       = "GUILD_UPDATE"
	NameGuildDelete       = "GUILD_DELETE"
	NameChannelCreate     = "CHANNEL_CREATE"
	NameChannelUpdate     = "CHANNEL_UPDATE"
	NameChannelDelete     = "CHANNEL_DELETE"
	NameRoleCreate        = "GUILD_ROLE_CREATE"
	NameRoleUpdate        = "GUILD_ROLE_UPDATE"
	NameRoleDelete        = "GUILD_ROLE_DELETE"
	NameMemberAdd         = "GUILD_MEMBER_ADD"
	NameMemberUpdate      = "GUILD_MEMBER_UPDATE"
	NameMemberRemove      = "GUILD_MEMBER_REMOVE"
	NameMessageCreate     = "MESSAGE_CREATE"
	NameMessageUpdate     = "MESSAGE_UPDATE"
	NameMessageDelete     = "MESSAGE_DELETE"
	NameMessageDeleteBulk = "MESSAGE_DELETE_BULK"
	NameTypingStart       = "TYPING_START"
	NameUserUpdate        = "USER_UPDATE"

	// NameRaw is the Name of every Raw event.
	NameRaw = "RAW"
)

// Shorthand for the reference types events carry.
type (
	GuildRef   = cache.Ref[snowflake.ID, cache.Guild]
	ChannelRef = cache.Ref[snowflake.ID, cache.Channel]
	RoleRef    = cache.Ref[snowflake.ID, cache.Role]
	MemberRef  = cache.Ref[cache.MemberKey, cache.Member]
	UserRef    = cache.Ref[snowflake.ID, cache.User]
	MessageRef = cache.Ref[snowflake.ID, cache.Message]
)

// Header is embedded in every event.
type Header struct {
	Shard int
}

// ShardID implements Event.
func (h Header) ShardID() int { return h.Shard }

func (Header) isEvent() {}

// Ready is emitted when a session completes identify.
type Ready struct {
	Header
	SessionID        string
	ResumeGatewayURL string
	User             UserRef
	// Guilds lists the guild IDs the session will receive GUILD_CREATE
	// for.
	Guilds []snowflake.ID
}

// Resumed is emitted when a resume completes and replay has finished.
type Resumed struct {
	Header
}

// GuildCreate is emitted for each guild after READY, when a guild
// becomes available again, and when the bot joins a guild.
type GuildCreate struct {
	Header
	Guild GuildRef
	// Available is true when the guild was cached as unavailable
	// before this event (an outage ended) rather than newly joined.
	Available bool
}

// GuildUpdate carries the merged guild and its state before the merge.
type GuildUpdate struct {
	Header
	Guild       GuildRef
	Previous    GuildRef
	HadPrevious bool
}

// GuildDelete is emitted when the bot leaves a guild or the guild
// becomes unavailable. Unavailable guilds are marked, not removed.
type GuildDelete struct {
	Header
	GuildID     snowflake.ID
	Guild       GuildRef
	Unavailable bool
	Removed     cache.Cascade
}

type ChannelCreate struct {
	Header
	Channel ChannelRef
	Guild   GuildRef
}

type ChannelUpdate struct {
	Header
	Channel     ChannelRef
	Previous    ChannelRef
	HadPrevious bool
}

type ChannelDelete struct {
	Header
	ChannelID snowflake.ID
	GuildID   snowflake.ID
	Channel   ChannelRef
	Guild     GuildRef
	Messages  []snowflake.ID
}

type RoleCreate struct {
	Header
	GuildID snowflake.ID
	Role    RoleRef
	Guild   GuildRef
}

type RoleUpdate struct {
	Header
	GuildID     snowflake.ID
	Role        RoleRef
	Previous    RoleRef
	HadPrevious bool
	Guild       GuildRef
}

// RoleDelete carries the role as last cached, or a partial ref when
// the role was never cached.
type RoleDelete struct {
	Header
	GuildID snowflake.ID
	RoleID  snowflake.ID
	Role    RoleRef
	Guild   GuildRef
}

type MemberAdd struct {
	Header
	Member MemberRef
	User   UserRef
	Guild  GuildRef
}

type MemberUpdate struct {
	Header
	Member      MemberRef
	Previous    MemberRef
	HadPrevious bool
	User        UserRef
	Guild       GuildRef
}

type MemberRemove struct {
	Header
	GuildID snowflake.ID
	UserID  snowflake.ID
	Member  MemberRef
	User    UserRef
	Guild   GuildRef
}

type MessageCreate struct {
	Header
	Message MessageRef
	Author  UserRef
	Channel ChannelRef
	Guild   GuildRef
}

type MessageUpdate struct {
	Header
	Message     MessageRef
	Previous    MessageRef
	HadPrevious bool
	Channel     ChannelRef
}

type MessageDelete struct {
	Header
	MessageID snowflake.ID
	ChannelID snowflake.ID
	GuildID   snowflake.ID
	Message   MessageRef
	Channel   ChannelRef
}

// MessageDeleteBulk carries one ref per deleted ID, in payload order.
type MessageDeleteBulk struct {
	Header
	MessageIDs []snowflake.ID
	ChannelID  snowflake.ID
	GuildID    snowflake.ID
	Messages   []MessageRef
	Channel    ChannelRef
}

type TypingStart struct {
	Header
	ChannelID snowflake.ID
	GuildID   snowflake.ID
	UserID    snowflake.ID
	Timestamp time.Time
	Channel   ChannelRef
	User      UserRef
	Member    MemberRef
}

type UserUpdate struct {
	Header
	User        UserRef
	Previous    UserRef
	HadPrevious bool
}

// Raw is a dispatch the session has no typed handler for. Data is the
// undecoded payload in the connection's encoding.
type Raw struct {
	Header
	Type     string
	Sequence int64
	Encoding string
	Data     []byte
}

// JSON decodes Data into v when the connection uses JSON encoding.
func (r Raw) JSON(v any) error { return json.Unmarshal(r.Data, v) }

func (Ready) Name() string             { return NameReady }
func (Resumed) Name() string           { return NameResumed }
func (GuildCreate) Name() string       { return NameGuildCreate }
func (GuildUpdate) Name() string       { return NameGuildUpdate }
func (GuildDelete) Name() string       { return NameGuildDelete }
func (ChannelCreate) Name() string     { return NameChannelCreate }
func (ChannelUpdate) Name() string     { return NameChannelUpdate }
func (ChannelDelete) Name() string     { return NameChannelDelete }
func (RoleCreate) Name() string        { return NameRoleCreate }
func (RoleUpdate) Name() string        { return NameRoleUpdate }
func (RoleDelete) Name() string        { return NameRoleDelete }
func (MemberAdd) Name() string         { return NameMemberAdd }
func (MemberUpdate) Name() string      { return NameMemberUpdate }
func (MemberRemove) Name() string      { return NameMemberRemove }
func (MessageCreate) Name() string     { return NameMessageCreate }
func (MessageUpdate) Name() string     { return NameMessageUpdate }
func (MessageDelete) Name() string     { return NameMessageDelete }
func (MessageDeleteBulk) Name() string { return NameMessageDeleteBulk }
func (TypingStart) Name() string       { return NameTypingStart }
func (UserUpdate) Name() string        { return NameUserUpdate }
func (Raw) Name() string               { return NameRaw }
