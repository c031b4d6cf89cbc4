// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// Platform limits enforced before sending.
const (
	MaxMessageLength     = 2000
	MaxAllowedMentionIDs = 100
	MinMessageFetch      = 2
	MaxMessageFetch      = 100
	MaxBulkDelete        = 100
)

// GatewayBotInfo is the response of GET /gateway/bot.
type GatewayBotInfo struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit is the identify budget of the bot.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// AllowedMentions restricts who a message may ping.
type AllowedMentions struct {
	Parse       []string       `json:"parse"`
	Roles       []snowflake.ID `json:"roles,omitempty"`
	Users       []snowflake.ID `json:"users,omitempty"`
	RepliedUser bool           `json:"replied_user,omitempty"`
}

// MessageReference points a reply at another message.
type MessageReference struct {
	MessageID snowflake.ID `json:"message_id"`
	ChannelID snowflake.ID `json:"channel_id,omitempty"`
	GuildID   snowflake.ID `json:"guild_id,omitempty"`
}

// MessageCreate is the body of a new message. Embeds are opaque JSON
// objects produced by the caller.
type MessageCreate struct {
	Content          string            `json:"content,omitempty"`
	Embeds           []json.RawMessage `json:"embeds,omitempty"`
	AllowedMentions  *AllowedMentions  `json:"allowed_mentions,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
	TTS              bool              `json:"tts,omitempty"`

	// Attachments, when set, replaces the JSON body with the encoder's
	// output (multipart form data carrying files and a payload_json
	// part).
	Attachments BodyEncoder `json:"-"`
}

func (m MessageCreate) validate() error {
	route := RouteCreateMessage.Path
	if m.Content == "" && len(m.Embeds) == 0 && m.Attachments == nil {
		return invalidRequest(route, "message has no content, embeds or attachments")
	}
	if utf8.RuneCountInString(m.Content) > MaxMessageLength {
		return invalidRequest(route, fmt.Sprintf("content exceeds %d characters", MaxMessageLength))
	}
	if mentions := m.AllowedMentions; mentions != nil {
		if len(mentions.Roles) > MaxAllowedMentionIDs {
			return invalidRequest(route, fmt.Sprintf("allowed mentions list %d roles, limit is %d", len(mentions.Roles), MaxAllowedMentionIDs))
		}
		if len(mentions.Users) > MaxAllowedMentionIDs {
			return invalidRequest(route, fmt.Sprintf("allowed mentions list %d users, limit is %d", len(mentions.Users), MaxAllowedMentionIDs))
		}
	}
	return nil
}

// GatewayBot fetches the gateway URL, recommended shard count and
// identify budget.
func (d *Dispatcher) GatewayBot(ctx context.Context) (*GatewayBotInfo, error) {
	response, err := d.Dispatch(ctx, RouteGatewayBot.MustCompile(nil), Request{})
	if err != nil {
		return nil, err
	}
	var info GatewayBotInfo
	if err := response.Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetGuild fetches a guild with its roles and upserts it.
func (d *Dispatcher) GetGuild(ctx context.Context, guildID snowflake.ID) (*cache.GuildPayload, error) {
	var guild cache.GuildPayload
	err := d.fetch(ctx, RouteGuild, Params{"guild_id": guildID}, cache.KindGuild, 0, &guild)
	if err != nil {
		return nil, err
	}
	return &guild, nil
}

// GetChannel fetches a channel and upserts it.
func (d *Dispatcher) GetChannel(ctx context.Context, channelID snowflake.ID) (*cache.ChannelPayload, error) {
	var channel cache.ChannelPayload
	err := d.fetch(ctx, RouteChannel, Params{"channel_id": channelID}, cache.KindChannel, 0, &channel)
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetUser fetches a user and upserts it.
func (d *Dispatcher) GetUser(ctx context.Context, userID snowflake.ID) (*cache.UserPayload, error) {
	var user cache.UserPayload
	err := d.fetch(ctx, RouteUser, Params{"user_id": userID}, cache.KindUser, 0, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetGuildMember fetches a member and upserts it (and its user).
func (d *Dispatcher) GetGuildMember(ctx context.Context, guildID, userID snowflake.ID) (*cache.MemberPayload, error) {
	var member cache.MemberPayload
	params := Params{"guild_id": guildID, "user_id": userID}
	if err := d.fetch(ctx, RouteGuildMember, params, cache.KindMember, guildID, &member); err != nil {
		return nil, err
	}
	member.GuildID = guildID
	return &member, nil
}

// GetGuildRoles fetches every role of a guild and upserts them.
func (d *Dispatcher) GetGuildRoles(ctx context.Context, guildID snowflake.ID) ([]cache.RolePayload, error) {
	var roles []cache.RolePayload
	if err := d.fetch(ctx, RouteGuildRoles, Params{"guild_id": guildID}, cache.KindRole, guildID, &roles); err != nil {
		return nil, err
	}
	for index := range roles {
		roles[index].GuildID = guildID
	}
	return roles, nil
}

// GetChannelMessages fetches the most recent limit messages of a
// channel, newest first, and upserts them. limit must be within
// MinMessageFetch..MaxMessageFetch.
func (d *Dispatcher) GetChannelMessages(ctx context.Context, channelID snowflake.ID, limit int) ([]cache.MessagePayload, error) {
	if limit < MinMessageFetch || limit > MaxMessageFetch {
		return nil, invalidRequest(RouteChannelMessages.Path,
			fmt.Sprintf("limit %d outside %d..%d", limit, MinMessageFetch, MaxMessageFetch))
	}
	route, err := RouteChannelMessages.Compile(Params{"channel_id": channelID})
	if err != nil {
		return nil, err
	}
	response, err := d.Dispatch(ctx, route, Request{
		Query:  url.Values{"limit": []string{strconv.Itoa(limit)}},
		Upsert: cache.KindMessage,
		Scope:  channelID,
	})
	if err != nil {
		return nil, err
	}
	var messages []cache.MessagePayload
	if err := response.Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateMessage posts a message and upserts the created message.
func (d *Dispatcher) CreateMessage(ctx context.Context, channelID snowflake.ID, message MessageCreate) (*cache.MessagePayload, error) {
	if err := message.validate(); err != nil {
		return nil, err
	}
	route, err := RouteCreateMessage.Compile(Params{"channel_id": channelID})
	if err != nil {
		return nil, err
	}
	request := Request{Body: message, Upsert: cache.KindMessage, Scope: channelID}
	if message.Attachments != nil {
		request.Encoder = message.Attachments
	}
	response, err := d.Dispatch(ctx, route, request)
	if err != nil {
		return nil, err
	}
	var created cache.MessagePayload
	if err := response.Decode(&created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteMessage deletes one message. reason is recorded in the audit
// log when non-empty.
func (d *Dispatcher) DeleteMessage(ctx context.Context, channelID, messageID snowflake.ID, reason string) error {
	route, err := RouteDeleteMessage.Compile(Params{"channel_id": channelID, "message_id": messageID})
	if err != nil {
		return err
	}
	_, err = d.Dispatch(ctx, route, Request{Reason: reason})
	return err
}

// BulkDeleteMessages deletes up to MaxBulkDelete messages. A single ID
// is deleted through DeleteMessage, since the bulk route rejects
// fewer than two.
func (d *Dispatcher) BulkDeleteMessages(ctx context.Context, channelID snowflake.ID, messageIDs []snowflake.ID, reason string) error {
	switch {
	case len(messageIDs) == 0:
		return invalidRequest(RouteBulkDeleteMessages.Path, "no message IDs")
	case len(messageIDs) == 1:
		return d.DeleteMessage(ctx, channelID, messageIDs[0], reason)
	case len(messageIDs) > MaxBulkDelete:
		return invalidRequest(RouteBulkDeleteMessages.Path,
			fmt.Sprintf("%d message IDs, limit is %d", len(messageIDs), MaxBulkDelete))
	}
	for _, id := range messageIDs {
		if id.IsZero() {
			return invalidRequest(RouteBulkDeleteMessages.Path, "zero message ID")
		}
	}
	route, err := RouteBulkDeleteMessages.Compile(Params{"channel_id": channelID})
	if err != nil {
		return err
	}
	body := struct {
		Messages []snowflake.ID `json:"messages"`
	}{Messages: messageIDs}
	_, err = d.Dispatch(ctx, route, Request{Body: body, Reason: reason})
	return err
}

// TriggerTyping shows the typing indicator in a channel for about ten
// seconds.
func (d *Dispatcher) TriggerTyping(ctx context.Context, channelID snowflake.ID) error {
	route, err := RouteTriggerTyping.Compile(Params{"channel_id": channelID})
	if err != nil {
		return err
	}
	_, err = d.Dispatch(ctx, route, Request{})
	return err
}

// fetch dispatches a GET that upserts kind and decodes into result.
func (d *Dispatcher) fetch(ctx context.Context, template Route, params Params, kind cache.Kind, scope snowflake.ID, result any) error {
	route, err := template.Compile(params)
	if err != nil {
		return err
	}
	response, err := d.Dispatch(ctx, route, Request{Upsert: kind, Scope: scope})
	if err != nil {
		return err
	}
	return response.Decode(result)
}
