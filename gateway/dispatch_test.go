// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"reflect"
	"slices"
	"testing"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/events"
	"github.com/bureau-foundation/chorus/lib/clock"
	"github.com/bureau-foundation/chorus/lib/credential"
	"github.com/bureau-foundation/chorus/lib/snowflake"
)

type dispatchFixture struct {
	session *Session
	active  *connection
	cache   *cache.Cache
	bus     *events.Bus
	emitted []events.Event
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	fixture := &dispatchFixture{
		cache: cache.New(cache.Config{Policy: cache.AllEnabled()}),
		bus:   events.NewBus(nil),
	}
	session, err := NewSession(Config{
		URL:    "wss://gateway.test",
		Token:  credential.Static("token"),
		Dialer: newFakeDialer(),
		Cache:  fixture.cache,
		Bus:    fixture.bus,
		Clock:  clock.Fake(testEpoch),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	fixture.session = session
	fixture.active = &connection{conn: newFakeConn("")}
	fixture.bus.OnAny(func(event events.Event) { fixture.emitted = append(fixture.emitted, event) })
	return fixture
}

// apply runs one dispatch and returns the single event it emitted.
func (f *dispatchFixture) apply(t *testing.T, name string, data any) events.Event {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("encoding %s: %v", name, err)
	}
	before := len(f.emitted)
	if err := f.session.dispatch(f.active, Frame{Op: OpDispatch, Type: name, Data: payload}); err != nil {
		t.Fatalf("dispatch %s: %v", name, err)
	}
	if len(f.emitted) != before+1 {
		t.Fatalf("dispatch %s emitted %d events, want 1", name, len(f.emitted)-before)
	}
	return f.emitted[len(f.emitted)-1]
}

func TestDispatchTableCoversEveryEvent(t *testing.T) {
	names := []string{
		events.NameReady, events.NameResumed,
		events.NameGuildCreate, events.NameGuildUpdate, events.NameGuildDelete,
		events.NameChannelCreate, events.NameChannelUpdate, events.NameChannelDelete,
		events.NameRoleCreate, events.NameRoleUpdate, events.NameRoleDelete,
		events.NameMemberAdd, events.NameMemberUpdate, events.NameMemberRemove,
		events.NameMessageCreate, events.NameMessageUpdate, events.NameMessageDelete,
		events.NameMessageDeleteBulk, events.NameTypingStart, events.NameUserUpdate,
	}
	for _, name := range names {
		if _, ok := dispatchTable[name]; !ok {
			t.Errorf("no handler for %s", name)
		}
	}
	if len(dispatchTable) != len(names) {
		t.Errorf("dispatch table has %d entries, want %d", len(dispatchTable), len(names))
	}
	if _, ok := dispatchTable[events.NameRaw]; ok {
		t.Error("RAW has a handler")
	}
}

func TestUnknownDispatchEmitsRaw(t *testing.T) {
	f := newDispatchFixture(t)
	event := f.apply(t, "INTERACTION_CREATE", map[string]any{"id": "1"})
	raw, ok := event.(events.Raw)
	if !ok {
		t.Fatalf("emitted %T, want events.Raw", event)
	}
	if raw.Type != "INTERACTION_CREATE" || raw.Encoding != EncodingJSON {
		t.Errorf("raw = %+v", raw)
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := raw.JSON(&body); err != nil || body.ID != "1" {
		t.Errorf("raw body = %+v, %v", body, err)
	}
}

func TestGuildCreateFansOut(t *testing.T) {
	f := newDispatchFixture(t)
	f.cache.Guilds.Upsert(cache.GuildPayload{ID: 100, Unavailable: ptr(true)})

	event := f.apply(t, events.NameGuildCreate, map[string]any{
		"id":       "100",
		"name":     "Guild",
		"channels": []any{map[string]any{"id": "200", "type": 0, "name": "general"}},
		"roles":    []any{map[string]any{"id": "300", "name": "Moderator"}},
		"members": []any{map[string]any{
			"user":      map[string]any{"id": "400", "username": "ada"},
			"joined_at": "2026-01-01T00:00:00Z",
		}},
	})
	created := event.(events.GuildCreate)
	if !created.Available {
		t.Error("guild returning from an outage not reported as available")
	}
	if created.Guild.Value.Unavailable || created.Guild.Partial {
		t.Errorf("guild = %+v", created.Guild)
	}
	channel, ok := f.cache.Channels.Get(200)
	if !ok || channel.Value.GuildID != 100 {
		t.Errorf("channel = %+v, %v", channel, ok)
	}
	if role, ok := f.cache.Roles.Get(300); !ok || role.Value.GuildID != 100 {
		t.Errorf("role = %+v, %v", role, ok)
	}
	if _, ok := f.cache.Members.Get(cache.MemberKey{GuildID: 100, UserID: 400}); !ok {
		t.Error("member not cached")
	}
	if user, ok := f.cache.Users.Get(400); !ok || user.Value.Username != "ada" {
		t.Errorf("user = %+v, %v", user, ok)
	}
}

func TestGuildDelete(t *testing.T) {
	f := newDispatchFixture(t)
	f.apply(t, events.NameGuildCreate, map[string]any{
		"id":       "100",
		"name":     "Guild",
		"channels": []any{map[string]any{"id": "200", "type": 0}},
	})

	outage := f.apply(t, events.NameGuildDelete, map[string]any{"id": "100", "unavailable": true}).(events.GuildDelete)
	if !outage.Unavailable || !outage.Guild.Value.Unavailable {
		t.Errorf("outage = %+v", outage)
	}
	if !f.cache.Channels.Has(200) {
		t.Error("outage removed the guild's channels")
	}

	removed := f.apply(t, events.NameGuildDelete, map[string]any{"id": "100"}).(events.GuildDelete)
	if removed.Guild.Value.Name != "Guild" {
		t.Errorf("removed guild = %+v", removed.Guild)
	}
	if !slices.Equal(removed.Removed.Channels, []snowflake.ID{200}) {
		t.Errorf("cascade = %+v", removed.Removed)
	}
	if f.cache.Guilds.Has(100) || f.cache.Channels.Has(200) {
		t.Error("guild or channel still cached")
	}
}

func TestChannelLifecycle(t *testing.T) {
	f := newDispatchFixture(t)
	f.apply(t, events.NameGuildCreate, map[string]any{"id": "100", "name": "Guild"})

	created := f.apply(t, events.NameChannelCreate, map[string]any{
		"id": "200", "guild_id": "100", "type": 0, "name": "general",
	}).(events.ChannelCreate)
	if created.Guild.Partial || created.Guild.Value.Name != "Guild" {
		t.Errorf("channel create guild = %+v", created.Guild)
	}

	updated := f.apply(t, events.NameChannelUpdate, map[string]any{
		"id": "200", "guild_id": "100", "type": 0, "name": "lobby",
	}).(events.ChannelUpdate)
	if !updated.HadPrevious || updated.Previous.Value.Name != "general" || updated.Channel.Value.Name != "lobby" {
		t.Errorf("channel update = %+v", updated)
	}

	f.apply(t, events.NameMessageCreate, map[string]any{
		"id": "500", "channel_id": "200", "guild_id": "100", "content": "hi",
		"timestamp": "2026-03-01T12:00:00Z",
		"author":    map[string]any{"id": "400", "username": "ada"},
	})
	deleted := f.apply(t, events.NameChannelDelete, map[string]any{
		"id": "200", "guild_id": "100", "type": 0,
	}).(events.ChannelDelete)
	if deleted.GuildID != 100 || !slices.Equal(deleted.Messages, []snowflake.ID{500}) {
		t.Errorf("channel delete = %+v", deleted)
	}
	if f.cache.Messages.Has(500) {
		t.Error("message survived its channel")
	}
}

func TestRoleEvents(t *testing.T) {
	f := newDispatchFixture(t)
	created := f.apply(t, events.NameRoleCreate, map[string]any{
		"guild_id": "100",
		"role":     map[string]any{"id": "300", "name": "Moderator"},
	}).(events.RoleCreate)
	if created.Role.Value.GuildID != 100 || !created.Guild.Partial {
		t.Errorf("role create = %+v", created)
	}

	updated := f.apply(t, events.NameRoleUpdate, map[string]any{
		"guild_id": "100",
		"role":     map[string]any{"id": "300", "name": "Admin"},
	}).(events.RoleUpdate)
	if updated.Previous.Value.Name != "Moderator" || updated.Role.Value.Name != "Admin" {
		t.Errorf("role update = %+v", updated)
	}

	deleted := f.apply(t, events.NameRoleDelete, map[string]any{"guild_id": "100", "role_id": "300"}).(events.RoleDelete)
	if deleted.Role.Partial || deleted.Role.Value.Name != "Admin" {
		t.Errorf("role delete = %+v", deleted.Role)
	}

	untracked := f.apply(t, events.NameRoleDelete, map[string]any{"guild_id": "100", "role_id": "301"}).(events.RoleDelete)
	if !untracked.Role.Partial || untracked.Role.Key != 301 {
		t.Errorf("untracked role delete = %+v", untracked.Role)
	}
}

func TestMemberEvents(t *testing.T) {
	f := newDispatchFixture(t)
	added := f.apply(t, events.NameMemberAdd, map[string]any{
		"guild_id":  "100",
		"user":      map[string]any{"id": "400", "username": "ada"},
		"joined_at": "2026-01-01T00:00:00Z",
	}).(events.MemberAdd)
	if added.Member.Partial || added.User.Value.Username != "ada" {
		t.Errorf("member add = %+v", added)
	}

	updated := f.apply(t, events.NameMemberUpdate, map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "400"},
		"nick":     "Countess",
		"roles":    []string{"300"},
	}).(events.MemberUpdate)
	if !updated.HadPrevious || updated.Member.Value.Nick != "Countess" || updated.Member.Partial {
		t.Errorf("member update = %+v", updated)
	}

	removed := f.apply(t, events.NameMemberRemove, map[string]any{
		"guild_id": "100",
		"user":     map[string]any{"id": "400", "username": "ada"},
	}).(events.MemberRemove)
	if removed.Member.Value.Nick != "Countess" || removed.UserID != 400 {
		t.Errorf("member remove = %+v", removed)
	}
	if f.cache.Members.Has(cache.MemberKey{GuildID: 100, UserID: 400}) {
		t.Error("member still cached")
	}
	if !f.cache.Users.Has(400) {
		t.Error("member removal dropped the user")
	}
}

func TestMessageEvents(t *testing.T) {
	f := newDispatchFixture(t)
	f.apply(t, events.NameChannelCreate, map[string]any{"id": "200", "guild_id": "100", "type": 0})

	var cachedBeforeEmit bool
	events.Subscribe(f.bus, func(event events.MessageCreate) {
		cachedBeforeEmit = f.cache.Messages.Has(event.Message.Key)
	})
	created := f.apply(t, events.NameMessageCreate, map[string]any{
		"id": "500", "channel_id": "200", "guild_id": "100", "content": "hello",
		"timestamp": "2026-03-01T12:00:00Z",
		"author":    map[string]any{"id": "400", "username": "ada"},
		"member":    map[string]any{"nick": "A"},
	}).(events.MessageCreate)
	if !cachedBeforeEmit {
		t.Error("subscriber ran before the cache was updated")
	}
	if created.Author.Value.Username != "ada" || created.Channel.Partial || created.Message.Partial {
		t.Errorf("message create = %+v", created)
	}
	if channel, _ := f.cache.Channels.Get(200); channel.Value.LastMessageID != 500 {
		t.Errorf("channel last message = %v", channel.Value.LastMessageID)
	}
	if member, ok := f.cache.Members.Get(cache.MemberKey{GuildID: 100, UserID: 400}); !ok || member.Value.Nick != "A" {
		t.Errorf("author member = %+v, %v", member, ok)
	}

	updated := f.apply(t, events.NameMessageUpdate, map[string]any{
		"id": "500", "channel_id": "200", "content": "hello, edited",
	}).(events.MessageUpdate)
	if updated.Previous.Value.Content != "hello" || updated.Message.Value.Content != "hello, edited" {
		t.Errorf("message update = %+v", updated)
	}
	if updated.Message.Value.AuthorID != 400 {
		t.Error("partial update lost the author")
	}

	deleted := f.apply(t, events.NameMessageDelete, map[string]any{
		"id": "500", "channel_id": "200", "guild_id": "100",
	}).(events.MessageDelete)
	if deleted.Message.Partial || deleted.Message.Value.Content != "hello, edited" {
		t.Errorf("message delete = %+v", deleted.Message)
	}

	unknown := f.apply(t, events.NameMessageDelete, map[string]any{"id": "501", "channel_id": "200"}).(events.MessageDelete)
	if !unknown.Message.Partial || unknown.Message.Value.ChannelID != 200 {
		t.Errorf("uncached message delete = %+v", unknown.Message)
	}
}

func TestMessageDeleteBulk(t *testing.T) {
	f := newDispatchFixture(t)
	for _, id := range []string{"501", "502"} {
		f.apply(t, events.NameMessageCreate, map[string]any{
			"id": id, "channel_id": "200", "content": id,
			"timestamp": "2026-03-01T12:00:00Z",
			"author":    map[string]any{"id": "400"},
		})
	}
	bulk := f.apply(t, events.NameMessageDeleteBulk, map[string]any{
		"ids": []string{"502", "503", "501"}, "channel_id": "200",
	}).(events.MessageDeleteBulk)

	if !slices.Equal(bulk.MessageIDs, []snowflake.ID{502, 503, 501}) {
		t.Errorf("ids = %v", bulk.MessageIDs)
	}
	var partial []bool
	for _, message := range bulk.Messages {
		partial = append(partial, message.Partial)
	}
	if !reflect.DeepEqual(partial, []bool{false, true, false}) {
		t.Errorf("partial flags = %v", partial)
	}
	if f.cache.Messages.Len() != 0 {
		t.Errorf("%d messages left", f.cache.Messages.Len())
	}
}

func TestTypingStartResolvesReferences(t *testing.T) {
	f := newDispatchFixture(t)
	typing := f.apply(t, events.NameTypingStart, map[string]any{
		"channel_id": "200", "guild_id": "100", "user_id": "400", "timestamp": 1772366400,
		"member": map[string]any{"user": map[string]any{"id": "400", "username": "ada"}, "nick": "A"},
	}).(events.TypingStart)
	if typing.UserID != 400 || typing.User.Value.Username != "ada" {
		t.Errorf("typing user = %+v", typing.User)
	}
	if typing.Member.Value.Nick != "A" || !typing.Channel.Partial {
		t.Errorf("typing = %+v", typing)
	}
	if got := typing.Timestamp.Unix(); got != 1772366400 {
		t.Errorf("timestamp = %d", got)
	}
}

func TestUserUpdate(t *testing.T) {
	f := newDispatchFixture(t)
	f.cache.Users.Upsert(cache.UserPayload{ID: 10, Username: ptr("chorus")})
	updated := f.apply(t, events.NameUserUpdate, map[string]any{"id": "10", "username": "chorus-bot"}).(events.UserUpdate)
	if !updated.HadPrevious || updated.Previous.Value.Username != "chorus" || updated.User.Value.Username != "chorus-bot" {
		t.Errorf("user update = %+v", updated)
	}
}

func TestMalformedDispatchIsAnError(t *testing.T) {
	f := newDispatchFixture(t)
	err := f.session.dispatch(f.active, Frame{Op: OpDispatch, Type: events.NameMessageCreate, Data: []byte(`{"id": []}`)})
	if err == nil {
		t.Fatal("dispatch accepted a malformed payload")
	}
	if len(f.emitted) != 0 {
		t.Errorf("emitted %d events for a malformed payload", len(f.emitted))
	}
}

func ptr[T any](value T) *T { return &value }
