// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"time"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// Guild is a cached guild (server).
type Guild struct {
	ID          snowflake.ID `json:"id"`
	Name        string       `json:"name,omitempty"`
	Icon        string       `json:"icon,omitempty"`
	OwnerID     snowflake.ID `json:"owner_id,omitempty"`
	MemberCount int          `json:"member_count,omitempty"`
	Unavailable bool         `json:"unavailable,omitempty"`
}

// Channel is a cached channel. GuildID is zero for direct messages.
type Channel struct {
	ID            snowflake.ID `json:"id"`
	GuildID       snowflake.ID `json:"guild_id,omitempty"`
	Type          int          `json:"type"`
	Name          string       `json:"name,omitempty"`
	Topic         string       `json:"topic,omitempty"`
	Position      int          `json:"position,omitempty"`
	ParentID      snowflake.ID `json:"parent_id,omitempty"`
	NSFW          bool         `json:"nsfw,omitempty"`
	LastMessageID snowflake.ID `json:"last_message_id,omitempty"`
}

// Role is a cached guild role.
type Role struct {
	ID          snowflake.ID `json:"id"`
	GuildID     snowflake.ID `json:"guild_id"`
	Name        string       `json:"name,omitempty"`
	Color       int          `json:"color,omitempty"`
	Position    int          `json:"position,omitempty"`
	Permissions string       `json:"permissions,omitempty"`
	Hoist       bool         `json:"hoist,omitempty"`
	Managed     bool         `json:"managed,omitempty"`
	Mentionable bool         `json:"mentionable,omitempty"`
}

// Member is a cached guild member. The user's own fields live in the
// user store under UserID.
type Member struct {
	GuildID  snowflake.ID   `json:"guild_id"`
	UserID   snowflake.ID   `json:"user_id"`
	Nick     string         `json:"nick,omitempty"`
	Roles    []snowflake.ID `json:"roles,omitempty"`
	JoinedAt time.Time      `json:"joined_at,omitzero"`
	Pending  bool           `json:"pending,omitempty"`
	Deaf     bool           `json:"deaf,omitempty"`
	Mute     bool           `json:"mute,omitempty"`
}

// User is a cached user.
type User struct {
	ID            snowflake.ID `json:"id"`
	Username      string       `json:"username,omitempty"`
	GlobalName    string       `json:"global_name,omitempty"`
	Discriminator string       `json:"discriminator,omitempty"`
	Avatar        string       `json:"avatar,omitempty"`
	Bot           bool         `json:"bot,omitempty"`
}

// Message is a cached message.
type Message struct {
	ID              snowflake.ID   `json:"id"`
	ChannelID       snowflake.ID   `json:"channel_id"`
	GuildID         snowflake.ID   `json:"guild_id,omitempty"`
	AuthorID        snowflake.ID   `json:"author_id,omitempty"`
	Content         string         `json:"content,omitempty"`
	Timestamp       time.Time      `json:"timestamp,omitzero"`
	EditedTimestamp time.Time      `json:"edited_timestamp,omitzero"`
	Pinned          bool           `json:"pinned,omitempty"`
	MentionRoles    []snowflake.ID `json:"mention_roles,omitempty"`
}

// GuildPayload is a guild object as sent by the platform. GUILD_CREATE
// and GET /guilds/{id} nest channels, roles and members, which
// Cache.UpsertGuild fans out to their own stores.
type GuildPayload struct {
	ID          snowflake.ID     `json:"id"`
	Name        *string          `json:"name,omitempty"`
	Icon        *string          `json:"icon,omitempty"`
	OwnerID     *snowflake.ID    `json:"owner_id,omitempty"`
	MemberCount *int             `json:"member_count,omitempty"`
	Unavailable *bool            `json:"unavailable,omitempty"`
	Channels    []ChannelPayload `json:"channels,omitempty"`
	Threads     []ChannelPayload `json:"threads,omitempty"`
	Roles       []RolePayload    `json:"roles,omitempty"`
	Members     []MemberPayload  `json:"members,omitempty"`
}

func (p GuildPayload) Key() snowflake.ID   { return p.ID }
func (p GuildPayload) Scope() snowflake.ID { return 0 }
func (p GuildPayload) Complete() bool      { return p.Name != nil }
func (p GuildPayload) Apply(entity *Guild) {
	entity.ID = p.ID
	setValue(&entity.Name, p.Name)
	setValue(&entity.Icon, p.Icon)
	setValue(&entity.OwnerID, p.OwnerID)
	setValue(&entity.MemberCount, p.MemberCount)
	setValue(&entity.Unavailable, p.Unavailable)
}

// ChannelPayload is a channel object.
type ChannelPayload struct {
	ID            snowflake.ID  `json:"id"`
	Type          *int          `json:"type,omitempty"`
	GuildID       *snowflake.ID `json:"guild_id,omitempty"`
	Name          *string       `json:"name,omitempty"`
	Topic         *string       `json:"topic,omitempty"`
	Position      *int          `json:"position,omitempty"`
	ParentID      *snowflake.ID `json:"parent_id,omitempty"`
	NSFW          *bool         `json:"nsfw,omitempty"`
	LastMessageID *snowflake.ID `json:"last_message_id,omitempty"`
}

func (p ChannelPayload) Key() snowflake.ID   { return p.ID }
func (p ChannelPayload) Scope() snowflake.ID { return deref(p.GuildID) }
func (p ChannelPayload) Complete() bool      { return p.Type != nil }
func (p ChannelPayload) Apply(entity *Channel) {
	entity.ID = p.ID
	setValue(&entity.Type, p.Type)
	setValue(&entity.GuildID, p.GuildID)
	setValue(&entity.Name, p.Name)
	setValue(&entity.Topic, p.Topic)
	setValue(&entity.Position, p.Position)
	setValue(&entity.ParentID, p.ParentID)
	setValue(&entity.NSFW, p.NSFW)
	setValue(&entity.LastMessageID, p.LastMessageID)
}

// RolePayload is a role object. The platform's role object does not
// name its guild; GuildID is filled in from the surrounding event or
// route before upserting.
type RolePayload struct {
	ID          snowflake.ID `json:"id"`
	GuildID     snowflake.ID `json:"guild_id,omitempty"`
	Name        *string      `json:"name,omitempty"`
	Color       *int         `json:"color,omitempty"`
	Position    *int         `json:"position,omitempty"`
	Permissions *string      `json:"permissions,omitempty"`
	Hoist       *bool        `json:"hoist,omitempty"`
	Managed     *bool        `json:"managed,omitempty"`
	Mentionable *bool        `json:"mentionable,omitempty"`
}

func (p RolePayload) Key() snowflake.ID   { return p.ID }
func (p RolePayload) Scope() snowflake.ID { return p.GuildID }
func (p RolePayload) Complete() bool      { return p.Name != nil }
func (p RolePayload) Apply(entity *Role) {
	entity.ID = p.ID
	if p.GuildID != 0 {
		entity.GuildID = p.GuildID
	}
	setValue(&entity.Name, p.Name)
	setValue(&entity.Color, p.Color)
	setValue(&entity.Position, p.Position)
	setValue(&entity.Permissions, p.Permissions)
	setValue(&entity.Hoist, p.Hoist)
	setValue(&entity.Managed, p.Managed)
	setValue(&entity.Mentionable, p.Mentionable)
}

// MemberPayload is a guild member object. GuildID is present in
// gateway member events and filled in from the route for REST
// responses.
type MemberPayload struct {
	GuildID  snowflake.ID   `json:"guild_id,omitempty"`
	User     *UserPayload   `json:"user,omitempty"`
	Nick     *string        `json:"nick,omitempty"`
	Roles    []snowflake.ID `json:"roles,omitempty"`
	JoinedAt *time.Time     `json:"joined_at,omitempty"`
	Pending  *bool          `json:"pending,omitempty"`
	Deaf     *bool          `json:"deaf,omitempty"`
	Mute     *bool          `json:"mute,omitempty"`
}

// UserID returns the member's user ID, or zero when the payload
// carries no user object.
func (p MemberPayload) UserID() snowflake.ID {
	if p.User == nil {
		return 0
	}
	return p.User.ID
}

func (p MemberPayload) Key() MemberKey      { return MemberKey{GuildID: p.GuildID, UserID: p.UserID()} }
func (p MemberPayload) Scope() snowflake.ID { return p.GuildID }
func (p MemberPayload) Complete() bool      { return p.JoinedAt != nil }
func (p MemberPayload) Apply(entity *Member) {
	entity.GuildID = p.GuildID
	entity.UserID = p.UserID()
	setValue(&entity.Nick, p.Nick)
	if p.Roles != nil {
		entity.Roles = append([]snowflake.ID(nil), p.Roles...)
	}
	setValue(&entity.JoinedAt, p.JoinedAt)
	setValue(&entity.Pending, p.Pending)
	setValue(&entity.Deaf, p.Deaf)
	setValue(&entity.Mute, p.Mute)
}

// UserPayload is a user object.
type UserPayload struct {
	ID            snowflake.ID `json:"id"`
	Username      *string      `json:"username,omitempty"`
	GlobalName    *string      `json:"global_name,omitempty"`
	Discriminator *string      `json:"discriminator,omitempty"`
	Avatar        *string      `json:"avatar,omitempty"`
	Bot           *bool        `json:"bot,omitempty"`
}

func (p UserPayload) Key() snowflake.ID   { return p.ID }
func (p UserPayload) Scope() snowflake.ID { return 0 }
func (p UserPayload) Complete() bool      { return p.Username != nil }
func (p UserPayload) Apply(entity *User) {
	entity.ID = p.ID
	setValue(&entity.Username, p.Username)
	setValue(&entity.GlobalName, p.GlobalName)
	setValue(&entity.Discriminator, p.Discriminator)
	setValue(&entity.Avatar, p.Avatar)
	setValue(&entity.Bot, p.Bot)
}

// MessagePayload is a message object. MESSAGE_UPDATE may carry only a
// subset of fields.
type MessagePayload struct {
	ID              snowflake.ID   `json:"id"`
	ChannelID       snowflake.ID   `json:"channel_id"`
	GuildID         *snowflake.ID  `json:"guild_id,omitempty"`
	Author          *UserPayload   `json:"author,omitempty"`
	Member          *MemberPayload `json:"member,omitempty"`
	Content         *string        `json:"content,omitempty"`
	Timestamp       *time.Time     `json:"timestamp,omitempty"`
	EditedTimestamp *time.Time     `json:"edited_timestamp,omitempty"`
	Pinned          *bool          `json:"pinned,omitempty"`
	MentionRoles    []snowflake.ID `json:"mention_roles,omitempty"`
}

func (p MessagePayload) Key() snowflake.ID   { return p.ID }
func (p MessagePayload) Scope() snowflake.ID { return p.ChannelID }
func (p MessagePayload) Complete() bool      { return p.Timestamp != nil && p.Author != nil }
func (p MessagePayload) Apply(entity *Message) {
	entity.ID = p.ID
	if p.ChannelID != 0 {
		entity.ChannelID = p.ChannelID
	}
	setValue(&entity.GuildID, p.GuildID)
	if p.Author != nil {
		entity.AuthorID = p.Author.ID
	}
	setValue(&entity.Content, p.Content)
	setValue(&entity.Timestamp, p.Timestamp)
	setValue(&entity.EditedTimestamp, p.EditedTimestamp)
	setValue(&entity.Pinned, p.Pinned)
	if p.MentionRoles != nil {
		entity.MentionRoles = append([]snowflake.ID(nil), p.MentionRoles...)
	}
}

func setValue[T any](field *T, value *T) {
	if value != nil {
		*field = *value
	}
}

func deref[T any](value *T) T {
	var zero T
	if value == nil {
		return zero
	}
	return *value
}
