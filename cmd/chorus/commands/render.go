// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/events"
	"github.com/bureau-foundation/chorus/lib/markdown"
	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// printerOptions configures an eventPrinter.
type printerOptions struct {
	Profile termenv.Profile
	Width   int

	// Raw prints the payload of events without a typed handler.
	Raw bool

	RevealSpoilers bool
	Now            func() time.Time
}

// eventPrinter writes one styled block per event. Names are looked up
// in the cache at print time.
type eventPrinter struct {
	out     io.Writer
	cache   *cache.Cache
	options printerOptions

	mu sync.Mutex

	timestamp lipgloss.Style
	shard     lipgloss.Style
	name      lipgloss.Style
	subject   lipgloss.Style
	faint     lipgloss.Style
	removed   lipgloss.Style
}

func newEventPrinter(out io.Writer, entityCache *cache.Cache, options printerOptions) *eventPrinter {
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Width <= 0 {
		options.Width = markdown.DefaultWidth
	}
	renderer := lipgloss.NewRenderer(out, termenv.WithProfile(options.Profile))
	renderer.SetColorProfile(options.Profile)
	theme := markdown.DefaultTheme
	return &eventPrinter{
		out:       out,
		cache:     entityCache,
		options:   options,
		timestamp: renderer.NewStyle().Foreground(theme.FaintText),
		shard:     renderer.NewStyle().Foreground(theme.BorderColor),
		name:      renderer.NewStyle().Foreground(theme.HeaderForeground).Bold(true),
		subject:   renderer.NewStyle().Foreground(theme.Mention).Bold(true),
		faint:     renderer.NewStyle().Foreground(theme.FaintText),
		removed:   renderer.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

// Print renders event. Safe for concurrent use by several shards.
func (p *eventPrinter) Print(event events.Event) {
	summary, body := p.describe(event)
	if summary == "" {
		return
	}
	header := fmt.Sprintf("%s %s %s %s",
		p.timestamp.Render(p.options.Now().Format("15:04:05")),
		p.shard.Render(fmt.Sprintf("[%d]", event.ShardID())),
		p.name.Render(event.Name()),
		summary,
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, ansi.Truncate(header, p.options.Width, "…"))
	if body != "" {
		for _, line := range strings.Split(body, "\n") {
			fmt.Fprintln(p.out, "    "+line)
		}
	}
}

// describe returns the one-line summary of event and an optional body.
func (p *eventPrinter) describe(event events.Event) (string, string) {
	switch event := event.(type) {
	case events.Ready:
		return fmt.Sprintf("as %s, %d guilds", p.subject.Render(userName(event.User)), len(event.Guilds)), ""
	case events.Resumed:
		return p.faint.Render("session resumed"), ""
	case events.GuildCreate:
		state := "joined"
		if event.Available {
			state = "available again"
		}
		return fmt.Sprintf("%s %s", p.subject.Render(guildName(event.Guild)), p.faint.Render(state)), ""
	case events.GuildUpdate:
		return p.subject.Render(guildName(event.Guild)), ""
	case events.GuildDelete:
		if event.Unavailable {
			return fmt.Sprintf("%s %s", p.subject.Render(guildName(event.Guild)), p.faint.Render("unavailable")), ""
		}
		return fmt.Sprintf("%s %s", p.removed.Render(guildName(event.Guild)),
			p.faint.Render(fmt.Sprintf("left, %d channels and %d members dropped",
				len(event.Removed.Channels), len(event.Removed.Members)))), ""
	case events.ChannelCreate:
		return p.subject.Render("#" + channelName(event.Channel)), ""
	case events.ChannelUpdate:
		return p.subject.Render("#" + channelName(event.Channel)), ""
	case events.ChannelDelete:
		return p.removed.Render("#" + channelName(event.Channel)), ""
	case events.RoleCreate:
		return fmt.Sprintf("%s in %s", p.subject.Render("@"+roleName(event.Role)), guildName(event.Guild)), ""
	case events.RoleUpdate:
		return fmt.Sprintf("%s in %s", p.subject.Render("@"+roleName(event.Role)), guildName(event.Guild)), ""
	case events.RoleDelete:
		return fmt.Sprintf("%s in %s", p.removed.Render("@"+roleName(event.Role)), guildName(event.Guild)), ""
	case events.MemberAdd:
		return fmt.Sprintf("%s joined %s", p.subject.Render(userName(event.User)), guildName(event.Guild)), ""
	case events.MemberUpdate:
		return fmt.Sprintf("%s in %s", p.subject.Render(memberName(event.Member, event.User)), guildName(event.Guild)), ""
	case events.MemberRemove:
		return fmt.Sprintf("%s left %s", p.removed.Render(userName(event.User)), guildName(event.Guild)), ""
	case events.MessageCreate:
		return fmt.Sprintf("%s in %s", p.subject.Render(userName(event.Author)), p.faint.Render("#"+channelName(event.Channel))),
			p.renderContent(event.Message.Value.Content)
	case events.MessageUpdate:
		return fmt.Sprintf("%s in %s", p.faint.Render(event.Message.Key.String()), p.faint.Render("#"+channelName(event.Channel))),
			p.renderContent(event.Message.Value.Content)
	case events.MessageDelete:
		return fmt.Sprintf("%s in %s", p.removed.Render(event.MessageID.String()), p.faint.Render("#"+channelName(event.Channel))), ""
	case events.MessageDeleteBulk:
		return fmt.Sprintf("%s in %s", p.removed.Render(fmt.Sprintf("%d messages", len(event.MessageIDs))),
			p.faint.Render("#"+channelName(event.Channel))), ""
	case events.TypingStart:
		return fmt.Sprintf("%s in %s", p.subject.Render(userName(event.User)), p.faint.Render("#"+channelName(event.Channel))), ""
	case events.UserUpdate:
		return p.subject.Render(userName(event.User)), ""
	case events.Raw:
		if !p.options.Raw {
			return "", ""
		}
		return p.faint.Render(fmt.Sprintf("%s seq=%d", event.Type, event.Sequence)), p.renderPayload(event)
	default:
		return p.faint.Render(fmt.Sprintf("%T", event)), ""
	}
}

func (p *eventPrinter) renderContent(content string) string {
	if content == "" {
		return ""
	}
	return markdown.Render(content, markdown.Options{
		Width:          p.options.Width - 4,
		Profile:        p.options.Profile,
		Resolver:       markdown.ResolverFunc(p.resolveMention),
		RevealSpoilers: p.options.RevealSpoilers,
		Now:            p.options.Now,
	})
}

// renderPayload pretty-prints a JSON payload through the code block
// highlighter. Other encodings are summarized by size.
func (p *eventPrinter) renderPayload(event events.Raw) string {
	if event.Encoding != "json" {
		return p.faint.Render(fmt.Sprintf("%d bytes of %s", len(event.Data), event.Encoding))
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, event.Data, "", "  "); err != nil {
		return p.faint.Render(string(event.Data))
	}
	return markdown.Render("```json\n"+indented.String()+"\n```", markdown.Options{
		Width:   p.options.Width - 4,
		Profile: p.options.Profile,
	})
}

func (p *eventPrinter) resolveMention(reference markdown.Reference, id snowflake.ID) (string, bool) {
	switch reference {
	case markdown.ReferenceUser:
		if ref, ok := p.cache.Users.Get(id); ok && !ref.Partial {
			return userName(ref), true
		}
	case markdown.ReferenceRole:
		if ref, ok := p.cache.Roles.Get(id); ok && ref.Value.Name != "" {
			return ref.Value.Name, true
		}
	case markdown.ReferenceChannel:
		if ref, ok := p.cache.Channels.Get(id); ok && ref.Value.Name != "" {
			return ref.Value.Name, true
		}
	}
	return "", false
}

func userName(ref events.UserRef) string {
	switch {
	case ref.Value.GlobalName != "":
		return ref.Value.GlobalName
	case ref.Value.Username != "":
		return ref.Value.Username
	default:
		return ref.Key.String()
	}
}

func memberName(member events.MemberRef, user events.UserRef) string {
	if member.Value.Nick != "" {
		return member.Value.Nick
	}
	return userName(user)
}

func guildName(ref events.GuildRef) string {
	if ref.Value.Name != "" {
		return ref.Value.Name
	}
	return ref.Key.String()
}

func channelName(ref events.ChannelRef) string {
	if ref.Value.Name != "" {
		return ref.Value.Name
	}
	return ref.Key.String()
}

func roleName(ref events.RoleRef) string {
	if ref.Value.Name != "" {
		return ref.Value.Name
	}
	return ref.Key.String()
}
