// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/events"
	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// dispatchHandler applies one dispatch to the cache and builds the
// event to emit.
type dispatchHandler func(s *Session, active *connection, frame Frame) (events.Event, error)

// dispatchTable maps dispatch names to handlers. Names without an
// entry are emitted as events.Raw.
var dispatchTable = map[string]dispatchHandler{
	events.NameReady:             handleReady,
	events.NameResumed:           handleResumed,
	events.NameGuildCreate:       handleGuildCreate,
	events.NameGuildUpdate:       handleGuildUpdate,
	events.NameGuildDelete:       handleGuildDelete,
	events.NameChannelCreate:     handleChannelCreate,
	events.NameChannelUpdate:     handleChannelUpdate,
	events.NameChannelDelete:     handleChannelDelete,
	events.NameRoleCreate:        handleRoleCreate,
	events.NameRoleUpdate:        handleRoleUpdate,
	events.NameRoleDelete:        handleRoleDelete,
	events.NameMemberAdd:         handleMemberAdd,
	events.NameMemberUpdate:      handleMemberUpdate,
	events.NameMemberRemove:      handleMemberRemove,
	events.NameMessageCreate:     handleMessageCreate,
	events.NameMessageUpdate:     handleMessageUpdate,
	events.NameMessageDelete:     handleMessageDelete,
	events.NameMessageDeleteBulk: handleMessageDeleteBulk,
	events.NameTypingStart:       handleTypingStart,
	events.NameUserUpdate:        handleUserUpdate,
}

// dispatch updates the cache for one dispatch frame and emits its
// event. The cache is updated before any subscriber runs.
func (s *Session) dispatch(active *connection, frame Frame) error {
	handler, ok := dispatchTable[frame.Type]
	if !ok {
		s.bus.Emit(events.Raw{
			Header:   s.header(),
			Type:     frame.Type,
			Sequence: frame.Sequence,
			Encoding: s.codec.name(),
			Data:     frame.Data,
		})
		return nil
	}
	event, err := handler(s, active, frame)
	if err != nil {
		return fmt.Errorf("gateway: handling %s: %w", frame.Type, err)
	}
	if event != nil {
		s.bus.Emit(event)
	}
	return nil
}

func (s *Session) header() events.Header { return events.Header{Shard: s.shardID} }

func decodePayload[T any](s *Session, frame Frame) (T, error) {
	var payload T
	err := s.codec.unmarshal(frame.Data, &payload)
	return payload, err
}

type readyPayload struct {
	SessionID        string               `json:"session_id" cbor:"session_id"`
	ResumeGatewayURL string               `json:"resume_gateway_url" cbor:"resume_gateway_url"`
	User             cache.UserPayload    `json:"user" cbor:"user"`
	Guilds           []cache.GuildPayload `json:"guilds" cbor:"guilds"`
}

func handleReady(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[readyPayload](s, frame)
	if err != nil {
		return nil, err
	}
	if payload.SessionID == "" {
		return nil, errors.New("READY without session_id")
	}

	s.mu.Lock()
	s.sessionID = payload.SessionID
	s.resumeURL = payload.ResumeGatewayURL
	s.mu.Unlock()

	user := s.cache.Users.Upsert(payload.User)
	guilds := make([]snowflake.ID, 0, len(payload.Guilds))
	for _, guild := range payload.Guilds {
		if !s.cache.Guilds.Has(guild.ID) {
			unavailable := true
			guild.Unavailable = &unavailable
			s.cache.Guilds.Upsert(guild)
		}
		guilds = append(guilds, guild.ID)
	}

	active.markReady()
	s.setState(StateReady)
	s.logger.Info("gateway ready", "session_id", payload.SessionID, "guilds", len(guilds))
	return events.Ready{
		Header:           s.header(),
		SessionID:        payload.SessionID,
		ResumeGatewayURL: payload.ResumeGatewayURL,
		User:             user,
		Guilds:           guilds,
	}, nil
}

func handleResumed(s *Session, active *connection, frame Frame) (events.Event, error) {
	active.markReady()
	s.setState(StateReady)
	sequence, _ := s.lastSequence()
	s.logger.Info("gateway resumed", "sequence", sequence)
	return events.Resumed{Header: s.header()}, nil
}

func handleGuildCreate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.GuildPayload](s, frame)
	if err != nil {
		return nil, err
	}
	wasUnavailable := false
	if cached, ok := s.cache.Guilds.Get(payload.ID); ok {
		wasUnavailable = cached.Value.Unavailable
	}
	if payload.Unavailable == nil {
		available := false
		payload.Unavailable = &available
	}
	return events.GuildCreate{
		Header:    s.header(),
		Guild:     s.cache.UpsertGuild(payload),
		Available: wasUnavailable && !*payload.Unavailable,
	}, nil
}

func handleGuildUpdate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.GuildPayload](s, frame)
	if err != nil {
		return nil, err
	}
	previous, existed := s.cache.Guilds.Get(payload.ID)
	return events.GuildUpdate{
		Header:      s.header(),
		Guild:       s.cache.UpsertGuild(payload),
		Previous:    previous,
		HadPrevious: existed,
	}, nil
}

type guildDeletePayload struct {
	ID          snowflake.ID `json:"id" cbor:"id"`
	Unavailable bool         `json:"unavailable" cbor:"unavailable"`
}

func handleGuildDelete(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[guildDeletePayload](s, frame)
	if err != nil {
		return nil, err
	}
	event := events.GuildDelete{Header: s.header(), GuildID: payload.ID, Unavailable: payload.Unavailable}
	if payload.Unavailable {
		unavailable := true
		event.Guild = s.cache.Guilds.Upsert(cache.GuildPayload{ID: payload.ID, Unavailable: &unavailable})
		return event, nil
	}
	removed, ok, cascade := s.cache.RemoveGuild(payload.ID)
	if !ok {
		removed = cache.Ref[snowflake.ID, cache.Guild]{Key: payload.ID, Partial: true}
	}
	event.Guild = removed
	event.Removed = cascade
	return event, nil
}

func handleChannelCreate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.ChannelPayload](s, frame)
	if err != nil {
		return nil, err
	}
	channel := s.cache.UpsertChannel(payload, 0)
	event := events.ChannelCreate{Header: s.header(), Channel: channel}
	if channel.Value.GuildID != 0 {
		event.Guild = s.cache.Guilds.Resolve(channel.Value.GuildID, 0)
	}
	return event, nil
}

func handleChannelUpdate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.ChannelPayload](s, frame)
	if err != nil {
		return nil, err
	}
	current, previous, existed := s.cache.Channels.Exchange(payload)
	return events.ChannelUpdate{Header: s.header(), Channel: current, Previous: previous, HadPrevious: existed}, nil
}

func handleChannelDelete(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.ChannelPayload](s, frame)
	if err != nil {
		return nil, err
	}
	removed, ok, messages := s.cache.RemoveChannel(payload.ID)
	if !ok {
		var value cache.Channel
		payload.Apply(&value)
		removed = cache.Ref[snowflake.ID, cache.Channel]{Key: payload.ID, Scope: payload.Scope(), Partial: !payload.Complete(), Value: value}
	}
	guildID := removed.Value.GuildID
	event := events.ChannelDelete{
		Header:    s.header(),
		ChannelID: payload.ID,
		GuildID:   guildID,
		Channel:   removed,
		Messages:  messages,
	}
	if guildID != 0 {
		event.Guild = s.cache.Guilds.Resolve(guildID, 0)
	}
	return event, nil
}

type rolePayload struct {
	GuildID snowflake.ID      `json:"guild_id" cbor:"guild_id"`
	Role    cache.RolePayload `json:"role" cbor:"role"`
}

func handleRoleCreate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[rolePayload](s, frame)
	if err != nil {
		return nil, err
	}
	payload.Role.GuildID = payload.GuildID
	return events.RoleCreate{
		Header:  s.header(),
		GuildID: payload.GuildID,
		Role:    s.cache.Roles.Upsert(payload.Role),
		Guild:   s.cache.Guilds.Resolve(payload.GuildID, 0),
	}, nil
}

func handleRoleUpdate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[rolePayload](s, frame)
	if err != nil {
		return nil, err
	}
	payload.Role.GuildID = payload.GuildID
	current, previous, existed := s.cache.Roles.Exchange(payload.Role)
	return events.RoleUpdate{
		Header:      s.header(),
		GuildID:     payload.GuildID,
		Role:        current,
		Previous:    previous,
		HadPrevious: existed,
		Guild:       s.cache.Guilds.Resolve(payload.GuildID, 0),
	}, nil
}

type roleDeletePayload struct {
	GuildID snowflake.ID `json:"guild_id" cbor:"guild_id"`
	RoleID  snowflake.ID `json:"role_id" cbor:"role_id"`
}

func handleRoleDelete(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[roleDeletePayload](s, frame)
	if err != nil {
		return nil, err
	}
	removed, ok := s.cache.Roles.Remove(payload.RoleID)
	if !ok {
		if s.cache.Roles.Enabled() {
			s.logger.Warn("removing untracked role", "guild_id", payload.GuildID, "role_id", payload.RoleID)
		}
		removed = cache.Ref[snowflake.ID, cache.Role]{
			Key:     payload.RoleID,
			Scope:   payload.GuildID,
			Partial: true,
			Value:   cache.Role{ID: payload.RoleID, GuildID: payload.GuildID},
		}
	}
	return events.RoleDelete{
		Header:  s.header(),
		GuildID: payload.GuildID,
		RoleID:  payload.RoleID,
		Role:    removed,
		Guild:   s.cache.Guilds.Resolve(payload.GuildID, 0),
	}, nil
}

func handleMemberAdd(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.MemberPayload](s, frame)
	if err != nil {
		return nil, err
	}
	member := s.cache.UpsertMember(payload)
	return events.MemberAdd{
		Header: s.header(),
		Member: member,
		User:   s.cache.Users.Resolve(payload.UserID(), 0),
		Guild:  s.cache.Guilds.Resolve(payload.GuildID, 0),
	}, nil
}

func handleMemberUpdate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.MemberPayload](s, frame)
	if err != nil {
		return nil, err
	}
	previous, existed := s.cache.Members.Get(payload.Key())
	return events.MemberUpdate{
		Header:      s.header(),
		Member:      s.cache.UpsertMember(payload),
		Previous:    previous,
		HadPrevious: existed,
		User:        s.cache.Users.Resolve(payload.UserID(), 0),
		Guild:       s.cache.Guilds.Resolve(payload.GuildID, 0),
	}, nil
}

type memberRemovePayload struct {
	GuildID snowflake.ID      `json:"guild_id" cbor:"guild_id"`
	User    cache.UserPayload `json:"user" cbor:"user"`
}

func handleMemberRemove(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[memberRemovePayload](s, frame)
	if err != nil {
		return nil, err
	}
	key := cache.MemberKey{GuildID: payload.GuildID, UserID: payload.User.ID}
	removed, ok := s.cache.Members.Remove(key)
	if !ok {
		if s.cache.Members.Enabled() {
			s.logger.Warn("removing untracked member", "guild_id", payload.GuildID, "user_id", payload.User.ID)
		}
		removed = cache.Ref[cache.MemberKey, cache.Member]{
			Key:     key,
			Scope:   payload.GuildID,
			Partial: true,
			Value:   cache.Member{GuildID: payload.GuildID, UserID: payload.User.ID},
		}
	}
	return events.MemberRemove{
		Header:  s.header(),
		GuildID: payload.GuildID,
		UserID:  payload.User.ID,
		Member:  removed,
		User:    s.cache.Users.Upsert(payload.User),
		Guild:   s.cache.Guilds.Resolve(payload.GuildID, 0),
	}, nil
}

func handleMessageCreate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.MessagePayload](s, frame)
	if err != nil {
		return nil, err
	}
	message := s.cache.UpsertMessage(payload)
	guildID := message.Value.GuildID
	event := events.MessageCreate{
		Header:  s.header(),
		Message: message,
		Channel: s.cache.Channels.Resolve(payload.ChannelID, guildID),
	}
	if payload.Author != nil {
		event.Author = s.cache.Users.Resolve(payload.Author.ID, 0)
	}
	if guildID != 0 {
		event.Guild = s.cache.Guilds.Resolve(guildID, 0)
	}
	return event, nil
}

func handleMessageUpdate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.MessagePayload](s, frame)
	if err != nil {
		return nil, err
	}
	previous, existed := s.cache.Messages.Get(payload.ID)
	message := s.cache.UpsertMessage(payload)
	return events.MessageUpdate{
		Header:      s.header(),
		Message:     message,
		Previous:    previous,
		HadPrevious: existed,
		Channel:     s.cache.Channels.Resolve(payload.ChannelID, message.Value.GuildID),
	}, nil
}

type messageDeletePayload struct {
	ID        snowflake.ID   `json:"id" cbor:"id"`
	IDs       []snowflake.ID `json:"ids" cbor:"ids"`
	ChannelID snowflake.ID   `json:"channel_id" cbor:"channel_id"`
	GuildID   snowflake.ID   `json:"guild_id" cbor:"guild_id"`
}

// removeMessage removes one message, returning a partial ref for a
// message that was never cached.
func (s *Session) removeMessage(id, channelID, guildID snowflake.ID) cache.Ref[snowflake.ID, cache.Message] {
	removed, ok := s.cache.Messages.Remove(id)
	if ok {
		return removed
	}
	return cache.Ref[snowflake.ID, cache.Message]{
		Key:     id,
		Scope:   channelID,
		Partial: true,
		Value:   cache.Message{ID: id, ChannelID: channelID, GuildID: guildID},
	}
}

func handleMessageDelete(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[messageDeletePayload](s, frame)
	if err != nil {
		return nil, err
	}
	return events.MessageDelete{
		Header:    s.header(),
		MessageID: payload.ID,
		ChannelID: payload.ChannelID,
		GuildID:   payload.GuildID,
		Message:   s.removeMessage(payload.ID, payload.ChannelID, payload.GuildID),
		Channel:   s.cache.Channels.Resolve(payload.ChannelID, payload.GuildID),
	}, nil
}

func handleMessageDeleteBulk(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[messageDeletePayload](s, frame)
	if err != nil {
		return nil, err
	}
	messages := make([]events.MessageRef, 0, len(payload.IDs))
	for _, id := range payload.IDs {
		messages = append(messages, s.removeMessage(id, payload.ChannelID, payload.GuildID))
	}
	return events.MessageDeleteBulk{
		Header:     s.header(),
		MessageIDs: payload.IDs,
		ChannelID:  payload.ChannelID,
		GuildID:    payload.GuildID,
		Messages:   messages,
		Channel:    s.cache.Channels.Resolve(payload.ChannelID, payload.GuildID),
	}, nil
}

type typingPayload struct {
	ChannelID snowflake.ID         `json:"channel_id" cbor:"channel_id"`
	GuildID   snowflake.ID         `json:"guild_id" cbor:"guild_id"`
	UserID    snowflake.ID         `json:"user_id" cbor:"user_id"`
	Timestamp int64                `json:"timestamp" cbor:"timestamp"`
	Member    *cache.MemberPayload `json:"member" cbor:"member"`
}

func handleTypingStart(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[typingPayload](s, frame)
	if err != nil {
		return nil, err
	}
	event := events.TypingStart{
		Header:    s.header(),
		ChannelID: payload.ChannelID,
		GuildID:   payload.GuildID,
		UserID:    payload.UserID,
		Timestamp: time.Unix(payload.Timestamp, 0).UTC(),
		Channel:   s.cache.Channels.Resolve(payload.ChannelID, payload.GuildID),
	}
	if payload.Member != nil && payload.GuildID != 0 {
		member := *payload.Member
		member.GuildID = payload.GuildID
		event.Member = s.cache.UpsertMember(member)
	} else if payload.GuildID != 0 {
		key := cache.MemberKey{GuildID: payload.GuildID, UserID: payload.UserID}
		event.Member = s.cache.Members.Resolve(key, payload.GuildID)
	}
	event.User = s.cache.Users.Resolve(payload.UserID, 0)
	return event, nil
}

func handleUserUpdate(s *Session, active *connection, frame Frame) (events.Event, error) {
	payload, err := decodePayload[cache.UserPayload](s, frame)
	if err != nil {
		return nil, err
	}
	current, previous, existed := s.cache.Users.Exchange(payload)
	return events.UserUpdate{Header: s.header(), User: current, Previous: previous, HadPrevious: existed}, nil
}
