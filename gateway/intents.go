// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// Intents is the bit set of event groups a session subscribes to.
type Intents uint64

const (
	IntentGuilds                 Intents = 1 << 0
	IntentGuildMembers           Intents = 1 << 1
	IntentGuildModeration        Intents = 1 << 2
	IntentGuildExpressions       Intents = 1 << 3
	IntentGuildIntegrations      Intents = 1 << 4
	IntentGuildWebhooks          Intents = 1 << 5
	IntentGuildInvites           Intents = 1 << 6
	IntentGuildVoiceStates       Intents = 1 << 7
	IntentGuildPresences         Intents = 1 << 8
	IntentGuildMessages          Intents = 1 << 9
	IntentGuildMessageReactions  Intents = 1 << 10
	IntentGuildMessageTyping     Intents = 1 << 11
	IntentDirectMessages         Intents = 1 << 12
	IntentDirectMessageReactions Intents = 1 << 13
	IntentDirectMessageTyping    Intents = 1 << 14
	IntentMessageContent         Intents = 1 << 15
)

// PrivilegedIntents must be enabled for the application before the
// server accepts them; requesting them otherwise closes with 4014.
const PrivilegedIntents = IntentGuildMembers | IntentGuildPresences | IntentMessageContent

var intentNames = map[string]Intents{
	"guilds":                   IntentGuilds,
	"guild_members":            IntentGuildMembers,
	"guild_moderation":         IntentGuildModeration,
	"guild_expressions":        IntentGuildExpressions,
	"guild_integrations":       IntentGuildIntegrations,
	"guild_webhooks":           IntentGuildWebhooks,
	"guild_invites":            IntentGuildInvites,
	"guild_voice_states":       IntentGuildVoiceStates,
	"guild_presences":          IntentGuildPresences,
	"guild_messages":           IntentGuildMessages,
	"guild_message_reactions":  IntentGuildMessageReactions,
	"guild_message_typing":     IntentGuildMessageTyping,
	"direct_messages":          IntentDirectMessages,
	"direct_message_reactions": IntentDirectMessageReactions,
	"direct_message_typing":    IntentDirectMessageTyping,
	"message_content":          IntentMessageContent,
}

// ParseIntents combines intent names such as "guild_messages". Names
// are case-insensitive; unknown names are an error.
func ParseIntents(names []string) (Intents, error) {
	var intents Intents
	var unknown []string
	for _, name := range names {
		intent, ok := intentNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		intents |= intent
	}
	if len(unknown) > 0 {
		return 0, fmt.Errorf("gateway: unknown intents %s", strings.Join(unknown, ", "))
	}
	return intents, nil
}

// Has reports whether every bit of other is set.
func (i Intents) Has(other Intents) bool { return i&other == other }

// Names returns the sorted names of the set bits.
func (i Intents) Names() []string {
	var names []string
	for name, intent := range intentNames {
		if i.Has(intent) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (i Intents) String() string { return strings.Join(i.Names(), "|") }
