// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"cmp"
	"fmt"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// Kind identifies an entity kind.
type Kind uint8

const (
	KindGuild Kind = iota + 1
	KindChannel
	KindRole
	KindMember
	KindUser
	KindMessage
)

var kindNames = map[Kind]string{
	KindGuild:   "guild",
	KindChannel: "channel",
	KindRole:    "role",
	KindMember:  "member",
	KindUser:    "user",
	KindMessage: "message",
}

// Kinds lists every entity kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindGuild, KindChannel, KindRole, KindMember, KindUser, KindMessage}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if kindName == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("cache: unknown entity kind %q", name)
}

// MemberKey identifies a guild member.
type MemberKey struct {
	GuildID snowflake.ID `json:"guild_id"`
	UserID  snowflake.ID `json:"user_id"`
}

func (k MemberKey) String() string {
	return k.GuildID.String() + "/" + k.UserID.String()
}

func compareMemberKeys(a, b MemberKey) int {
	if c := cmp.Compare(a.GuildID, b.GuildID); c != 0 {
		return c
	}
	return cmp.Compare(a.UserID, b.UserID)
}

// Op is the kind of change a store reports.
type Op uint8

const (
	OpCreated Op = iota + 1
	OpUpdated
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpUpdated:
		return "updated"
	case OpRemoved:
		return "removed"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Change describes one mutation of an enabled store. Key is a
// snowflake.ID, or a MemberKey for members.
type Change struct {
	Kind    Kind
	Op      Op
	Key     any
	Scope   snowflake.ID
	Partial bool
}
