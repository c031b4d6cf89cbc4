// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"strings"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// FindRole resolves a user-supplied role reference within one guild.
// query may be a role mention (<@&id>), a bare role ID, or a name.
// Names match case-insensitively, exact matches before substring
// matches. When several roles match at the same level the one cached
// first wins; ties are not broken by position or ID.
func (c *Cache) FindRole(guildID snowflake.ID, query string) (Ref[snowflake.ID, Role], bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Ref[snowflake.ID, Role]{}, false
	}

	if id, ok := parseRoleReference(query); ok {
		ref, found := c.Roles.Get(id)
		if found && (ref.Scope == guildID || ref.Value.GuildID == guildID) {
			return ref, true
		}
		// A numeric query that is not a cached role ID may still be a
		// role literally named with digits; fall through to names.
	}

	candidates := c.Roles.Filter(func(ref Ref[snowflake.ID, Role]) bool {
		return ref.Scope == guildID && !ref.Partial
	})
	lowered := strings.ToLower(query)
	for _, ref := range candidates {
		if strings.ToLower(ref.Value.Name) == lowered {
			return ref, true
		}
	}
	for _, ref := range candidates {
		if strings.Contains(strings.ToLower(ref.Value.Name), lowered) {
			return ref, true
		}
	}
	return Ref[snowflake.ID, Role]{}, false
}

func parseRoleReference(query string) (snowflake.ID, bool) {
	if strings.HasPrefix(query, "<@&") && strings.HasSuffix(query, ">") {
		query = query[3 : len(query)-1]
	}
	id, err := snowflake.Parse(query)
	if err != nil {
		return 0, false
	}
	return id, true
}
