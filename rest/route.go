// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// majorParameters stay substituted in bucket keys. The platform keys
// rate limits on these; every other parameter shares one bucket per
// route shape.
var majorParameters = map[string]bool{
	"channel_id": true,
	"guild_id":   true,
	"webhook_id": true,
}

// Route is an API route template such as
// "/channels/{channel_id}/messages/{message_id}".
type Route struct {
	Method string
	Path   string
}

// Params maps template parameter names to IDs.
type Params map[string]snowflake.ID

// CompiledRoute is a route with every parameter substituted.
type CompiledRoute struct {
	Method string

	// Path is the request path relative to the API base URL.
	Path string

	// Bucket is the rate limit key: the method plus the path with
	// major parameters substituted and minor parameters left as
	// placeholders.
	Bucket string

	// Template is the uncompiled route path, used in log attributes.
	Template string
}

// Routes used by the endpoint helpers.
var (
	RouteGatewayBot         = Route{http.MethodGet, "/gateway/bot"}
	RouteGuild              = Route{http.MethodGet, "/guilds/{guild_id}"}
	RouteGuildRoles         = Route{http.MethodGet, "/guilds/{guild_id}/roles"}
	RouteGuildMember        = Route{http.MethodGet, "/guilds/{guild_id}/members/{user_id}"}
	RouteChannel            = Route{http.MethodGet, "/channels/{channel_id}"}
	RouteUser               = Route{http.MethodGet, "/users/{user_id}"}
	RouteChannelMessages    = Route{http.MethodGet, "/channels/{channel_id}/messages"}
	RouteCreateMessage      = Route{http.MethodPost, "/channels/{channel_id}/messages"}
	RouteDeleteMessage      = Route{http.MethodDelete, "/channels/{channel_id}/messages/{message_id}"}
	RouteBulkDeleteMessages = Route{http.MethodPost, "/channels/{channel_id}/messages/bulk-delete"}
	RouteTriggerTyping      = Route{http.MethodPost, "/channels/{channel_id}/typing"}
)

// Compile substitutes params into the template. A missing, zero or
// unterminated parameter is an *InvalidRequestError; nothing is sent.
func (r Route) Compile(params Params) (CompiledRoute, error) {
	if r.Method == "" {
		return CompiledRoute{}, invalidRequest(r.Path, "route has no method")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return CompiledRoute{}, invalidRequest(r.Path, "route path must start with /")
	}

	var path, bucket strings.Builder
	tail := r.Path
	for {
		open := strings.IndexByte(tail, '{')
		if open < 0 {
			path.WriteString(tail)
			bucket.WriteString(tail)
			break
		}
		closeIndex := strings.IndexByte(tail[open:], '}')
		if closeIndex < 0 {
			return CompiledRoute{}, invalidRequest(r.Path, "unterminated parameter")
		}
		closeIndex += open
		name := tail[open+1 : closeIndex]
		if name == "" {
			return CompiledRoute{}, invalidRequest(r.Path, "empty parameter name")
		}

		id, ok := params[name]
		if !ok {
			return CompiledRoute{}, invalidRequest(r.Path, fmt.Sprintf("missing parameter %s", name))
		}
		if id.IsZero() {
			return CompiledRoute{}, invalidRequest(r.Path, fmt.Sprintf("parameter %s is zero", name))
		}

		path.WriteString(tail[:open])
		bucket.WriteString(tail[:open])
		path.WriteString(id.String())
		if majorParameters[name] {
			bucket.WriteString(id.String())
		} else {
			bucket.WriteString(tail[open : closeIndex+1])
		}
		tail = tail[closeIndex+1:]
	}

	return CompiledRoute{
		Method:   r.Method,
		Path:     path.String(),
		Bucket:   r.Method + " " + bucket.String(),
		Template: r.Path,
	}, nil
}

// MustCompile is Compile for parameters known to be valid. Panics on
// error.
func (r Route) MustCompile(params Params) CompiledRoute {
	compiled, err := r.Compile(params)
	if err != nil {
		panic(err)
	}
	return compiled
}
