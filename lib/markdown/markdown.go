// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package markdown

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// DefaultWidth is used when Options.Width is not positive.
const DefaultWidth = 80

// Resolver names the entity behind a mention.
type Resolver interface {
	Resolve(reference Reference, id snowflake.ID) (name string, ok bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(reference Reference, id snowflake.ID) (string, bool)

func (f ResolverFunc) Resolve(reference Reference, id snowflake.ID) (string, bool) {
	return f(reference, id)
}

// Options controls Render.
type Options struct {
	// Theme defaults to DefaultTheme.
	Theme *Theme

	// Width is the wrap column. Defaults to DefaultWidth.
	Width int

	// Profile selects the color depth. termenv.Ascii produces plain
	// text.
	Profile termenv.Profile

	// Resolver names mentioned users, roles and channels. Nil renders
	// raw IDs.
	Resolver Resolver

	// RevealSpoilers shows spoiler text instead of a mask.
	RevealSpoilers bool

	// Now anchors relative timestamps. Nil means time.Now.
	Now func() time.Time
}

var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func markdownParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.Strikethrough,
				extension.Linkify,
			),
			goldmark.WithParserOptions(
				parser.WithInlineParsers(
					util.Prioritized(mentionParser{}, 150),
					util.Prioritized(spoilerParser{}, 150),
				),
			),
		)
	})
	return parserInstance
}

// Parse returns the syntax tree of a message, for callers that inspect
// mentions without rendering.
func Parse(input string) ast.Node {
	return markdownParser().Parser().Parse(text.NewReader([]byte(input)))
}

// Mentions returns every mention in input, in order.
func Mentions(input string) []*Mention {
	var mentions []*Mention
	ast.Walk(Parse(input), func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if mention, ok := node.(*Mention); ok && entering {
			mentions = append(mentions, mention)
		}
		return ast.WalkContinue, nil
	})
	return mentions
}

// Render converts message markdown to terminal text.
func Render(input string, options Options) string {
	if input == "" {
		return ""
	}
	theme := DefaultTheme
	if options.Theme != nil {
		theme = *options.Theme
	}
	width := options.Width
	if width <= 0 {
		width = DefaultWidth
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	// SetColorProfile is required: without it the renderer re-detects
	// the profile from its writer and ignores WithProfile.
	lipRenderer := lipgloss.NewRenderer(io.Discard, termenv.WithProfile(options.Profile))
	lipRenderer.SetColorProfile(options.Profile)

	source := []byte(input)
	renderer := &messageRenderer{
		source:      source,
		theme:       theme,
		width:       width,
		profile:     options.Profile,
		resolver:    options.Resolver,
		reveal:      options.RevealSpoilers,
		now:         now,
		lipRenderer: lipRenderer,
	}
	document := markdownParser().Parser().Parse(text.NewReader(source))
	ast.Walk(document, renderer.walk)
	return strings.TrimRight(renderer.output.String(), "\n")
}

// messageRenderer walks the AST directly instead of implementing
// goldmark's renderer interface: inline content accumulates per block
// and is wrapped as a unit when the block closes.
type messageRenderer struct {
	source   []byte
	theme    Theme
	width    int
	profile  termenv.Profile
	resolver Resolver
	reveal   bool
	now      func() time.Time

	output strings.Builder
	inline strings.Builder

	prefixStack     []prefixLevel
	linePrefix      string
	linePrefixWidth int
	pendingBullet   string

	boldCount          int
	italicCount        int
	strikethroughCount int

	listStack []listState

	lipRenderer      *lipgloss.Renderer
	trailingNewlines int
}

type prefixLevel struct {
	text  string
	width int
}

type listState struct {
	ordered bool
	counter int
	tight   bool
}

func (r *messageRenderer) newStyle() lipgloss.Style { return r.lipRenderer.NewStyle() }

// currentWidth is the content width inside all prefixes, never below
// ten columns.
func (r *messageRenderer) currentWidth() int {
	return max(r.width-r.linePrefixWidth, 10)
}

func (r *messageRenderer) pushPrefix(prefix string, visibleWidth int) {
	r.prefixStack = append(r.prefixStack, prefixLevel{text: prefix, width: visibleWidth})
	r.linePrefix += prefix
	r.linePrefixWidth += visibleWidth
}

func (r *messageRenderer) popPrefix() {
	if len(r.prefixStack) == 0 {
		return
	}
	top := r.prefixStack[len(r.prefixStack)-1]
	r.prefixStack = r.prefixStack[:len(r.prefixStack)-1]
	r.linePrefix = r.linePrefix[:len(r.linePrefix)-len(top.text)]
	r.linePrefixWidth -= top.width
}

func (r *messageRenderer) inTightList() bool {
	return len(r.listStack) > 0 && r.listStack[len(r.listStack)-1].tight
}

func (r *messageRenderer) writeOutput(s string) {
	if s == "" {
		return
	}
	r.output.WriteString(s)
	trimmed := strings.TrimRight(s, "\n")
	added := len(s) - len(trimmed)
	if trimmed == "" {
		r.trailingNewlines += added
	} else {
		r.trailingNewlines = added
	}
}

func (r *messageRenderer) ensureNewline() {
	if r.trailingNewlines < 1 {
		r.writeOutput("\n")
	}
}

// ensureBlankLine separates blocks. Nothing is written at the start of
// the output.
func (r *messageRenderer) ensureBlankLine() {
	if r.output.Len() == 0 {
		return
	}
	for r.trailingNewlines < 2 {
		r.writeOutput("\n")
	}
}

func (r *messageRenderer) consumeLinePrefix() string {
	if r.pendingBullet != "" {
		bullet := r.pendingBullet
		r.pendingBullet = ""
		return bullet
	}
	return r.linePrefix
}

func (r *messageRenderer) applyPrefixes(content string) string {
	lines := strings.Split(content, "\n")
	for index, line := range lines {
		if index == 0 {
			lines[index] = r.consumeLinePrefix() + line
		} else {
			lines[index] = r.linePrefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func (r *messageRenderer) flushInline() string {
	content := r.inline.String()
	r.inline.Reset()
	if content == "" {
		return ""
	}
	return r.applyPrefixes(ansi.Wrap(content, r.currentWidth(), " ,.;-+|"))
}

func (r *messageRenderer) styledText(content string) string {
	style := r.newStyle().Foreground(r.theme.NormalText)
	if r.boldCount > 0 {
		style = style.Bold(true)
	}
	if r.italicCount > 0 {
		style = style.Italic(true)
	}
	if r.strikethroughCount > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

// inlineContent renders the children of node into a string without
// disturbing the enclosing block's buffer or style state.
func (r *messageRenderer) inlineContent(node ast.Node) string {
	saved := r.inline.String()
	bold, italic, strike := r.boldCount, r.italicCount, r.strikethroughCount

	r.inline.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, r.walk)
	}
	result := r.inline.String()

	r.inline.Reset()
	r.inline.WriteString(saved)
	r.boldCount, r.italicCount, r.strikethroughCount = bold, italic, strike
	return result
}

// highlightCode highlights code with chroma at the renderer's color
// depth. Unknown languages and plain profiles fall back to faint text.
func (r *messageRenderer) highlightCode(code, language string) string {
	faint := r.newStyle().Foreground(r.theme.FaintText)
	formatter := chromaFormatter(r.profile)
	if language == "" || formatter == "" {
		return faint.Render(code)
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, code, language, formatter, "monokai"); err != nil {
		return faint.Render(code)
	}
	return buffer.String()
}

func chromaFormatter(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal16"
	default:
		return ""
	}
}

func (r *messageRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindDocument:

	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			r.inline.Reset()
			return ast.WalkContinue, nil
		}
		if flushed := r.flushInline(); flushed != "" {
			r.writeOutput(flushed)
			r.ensureNewline()
			if !r.inTightList() {
				r.ensureBlankLine()
			}
		}

	case ast.KindHeading:
		if entering {
			r.inline.Reset()
		} else {
			r.leaveHeading(node.(*ast.Heading))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			block := node.(*ast.FencedCodeBlock)
			r.renderCode(r.highlightCode(r.blockText(block), string(block.Language(r.source))))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			r.renderCode(r.newStyle().Foreground(r.theme.FaintText).Render(r.blockText(node)))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindHTMLBlock:
		// Chat clients show markup literally.
		if entering {
			r.writeOutput(r.applyPrefixes(r.styledText(strings.TrimRight(r.blockText(node), "\n"))))
			r.ensureNewline()
			r.ensureBlankLine()
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			r.pushPrefix(r.newStyle().Foreground(r.theme.BorderColor).Render("│")+" ", 2)
		} else {
			r.popPrefix()
			r.ensureBlankLine()
		}

	case ast.KindList:
		if entering {
			r.enterList(node.(*ast.List))
		} else {
			r.leaveList()
		}

	case ast.KindListItem:
		if entering {
			r.enterListItem()
		} else {
			r.leaveListItem()
		}

	case ast.KindThematicBreak:
		if entering {
			rule := r.newStyle().Foreground(r.theme.BorderColor).Render(strings.Repeat("─", r.currentWidth()))
			r.ensureBlankLine()
			r.writeOutput(r.applyPrefixes(rule))
			r.ensureNewline()
			r.ensureBlankLine()
		}

	case ast.KindText:
		if entering {
			r.handleText(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			r.inline.WriteString(r.styledText(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		emphasis := node.(*ast.Emphasis)
		counter := &r.italicCount
		if emphasis.Level >= 2 {
			counter = &r.boldCount
		}
		if entering {
			*counter++
		} else {
			*counter--
		}

	case ast.KindCodeSpan:
		if entering {
			r.renderCodeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			link := node.(*ast.Link)
			r.inline.WriteString(r.inlineContent(link))
			if destination := string(link.Destination); destination != "" {
				r.inline.WriteString(" " + r.newStyle().Foreground(r.theme.FaintText).Render("("+destination+")"))
			}
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			url := string(node.(*ast.AutoLink).URL(r.source))
			r.inline.WriteString(r.newStyle().Foreground(r.theme.FaintText).Underline(true).Render(url))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindImage:
		if entering {
			image := node.(*ast.Image)
			faint := r.newStyle().Foreground(r.theme.FaintText)
			r.inline.WriteString(faint.Render("[" + r.inlineContent(image) + "]"))
			if destination := string(image.Destination); destination != "" {
				r.inline.WriteString(" " + faint.Render("("+destination+")"))
			}
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			raw := node.(*ast.RawHTML)
			var html strings.Builder
			for index := 0; index < raw.Segments.Len(); index++ {
				segment := raw.Segments.At(index)
				html.Write(segment.Value(r.source))
			}
			r.inline.WriteString(r.styledText(html.String()))
		}

	case extast.KindStrikethrough:
		if entering {
			r.strikethroughCount++
		} else {
			r.strikethroughCount--
		}

	case KindMention:
		if entering {
			r.inline.WriteString(r.renderMention(node.(*Mention)))
		}

	case KindSpoiler:
		if entering {
			r.inline.WriteString(r.renderSpoiler(node.(*Spoiler)))
		}
	}
	return ast.WalkContinue, nil
}

func (r *messageRenderer) blockText(node ast.Node) string {
	var content strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		content.Write(segment.Value(r.source))
	}
	return content.String()
}

func (r *messageRenderer) leaveHeading(heading *ast.Heading) {
	content := ansi.Strip(r.inline.String())
	r.inline.Reset()
	if content == "" {
		return
	}
	style := r.newStyle().Bold(true).Foreground(r.theme.NormalText)
	if heading.Level == 1 {
		style = style.Foreground(r.theme.HeaderForeground)
	}
	wrapped := ansi.Wrap(style.Render(content), r.currentWidth(), " ,.;-+|")
	r.ensureBlankLine()
	r.writeOutput(r.applyPrefixes(wrapped))
	r.ensureNewline()
	r.ensureBlankLine()
}

func (r *messageRenderer) renderCode(styled string) {
	r.ensureBlankLine()
	for _, line := range strings.Split(strings.TrimRight(styled, "\n"), "\n") {
		r.writeOutput(r.consumeLinePrefix() + line)
		r.ensureNewline()
	}
	r.ensureBlankLine()
}

func (r *messageRenderer) enterList(list *ast.List) {
	start := 0
	if list.IsOrdered() {
		start = list.Start
	}
	r.listStack = append(r.listStack, listState{ordered: list.IsOrdered(), counter: start, tight: list.IsTight})
}

func (r *messageRenderer) leaveList() {
	if len(r.listStack) > 0 {
		r.listStack = r.listStack[:len(r.listStack)-1]
	}
	if !r.inTightList() {
		r.ensureBlankLine()
	}
}

func (r *messageRenderer) enterListItem() {
	if len(r.listStack) == 0 {
		return
	}
	top := &r.listStack[len(r.listStack)-1]
	bullet := "• "
	bulletWidth := 2
	if top.ordered {
		bullet = fmt.Sprintf("%d. ", top.counter)
		bulletWidth = len(bullet)
		top.counter++
	}
	r.pendingBullet = r.linePrefix + bullet
	r.pushPrefix(strings.Repeat(" ", bulletWidth), bulletWidth)
}

func (r *messageRenderer) leaveListItem() {
	r.popPrefix()
	if r.inTightList() {
		r.ensureNewline()
	} else {
		r.ensureBlankLine()
	}
}

// handleText keeps source line breaks: chat messages are not reflowed.
func (r *messageRenderer) handleText(node *ast.Text) {
	r.inline.WriteString(r.styledText(string(node.Segment.Value(r.source))))
	if node.SoftLineBreak() || node.HardLineBreak() {
		r.inline.WriteString("\n")
	}
}

func (r *messageRenderer) renderCodeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child := child.(type) {
		case *ast.Text:
			code.Write(child.Segment.Value(r.source))
		case *ast.String:
			code.Write(child.Value)
		}
	}
	r.inline.WriteString(r.newStyle().Foreground(r.theme.FaintText).Render(code.String()))
}

func (r *messageRenderer) renderMention(mention *Mention) string {
	style := r.newStyle().Foreground(r.theme.Mention).Bold(true)
	switch mention.Reference {
	case ReferenceEmoji:
		return r.styledText(":" + mention.Name + ":")
	case ReferenceTimestamp:
		return r.newStyle().Foreground(r.theme.FaintText).Render(FormatTimestamp(mention.Time, mention.Style, r.now()))
	case ReferenceChannel:
		return style.Render("#" + r.resolve(mention))
	default:
		return style.Render("@" + r.resolve(mention))
	}
}

func (r *messageRenderer) resolve(mention *Mention) string {
	if r.resolver != nil {
		if name, ok := r.resolver.Resolve(mention.Reference, mention.ID); ok && name != "" {
			return name
		}
	}
	return mention.ID.String()
}

func (r *messageRenderer) renderSpoiler(spoiler *Spoiler) string {
	if r.reveal {
		return r.newStyle().Foreground(r.theme.FaintText).Italic(true).Render(spoiler.Content)
	}
	mask := strings.Repeat("█", ansi.StringWidth(spoiler.Content))
	return r.newStyle().Foreground(r.theme.Spoiler).Render(mask)
}

// FormatTimestamp renders t in one of the chat timestamp styles,
// relative to now for style R.
func FormatTimestamp(t time.Time, style byte, now time.Time) string {
	switch style {
	case 't':
		return t.Format("15:04")
	case 'T':
		return t.Format("15:04:05")
	case 'd':
		return t.Format("2006-01-02")
	case 'D':
		return t.Format("January 2, 2006")
	case 'F':
		return t.Format("Monday, January 2, 2006 15:04")
	case 'R':
		return relative(t.Sub(now))
	default:
		return t.Format("January 2, 2006 15:04")
	}
}

func relative(delta time.Duration) string {
	future := delta > 0
	if !future {
		delta = -delta
	}
	var amount int
	var unit string
	switch {
	case delta < time.Minute:
		amount, unit = int(delta/time.Second), "second"
	case delta < time.Hour:
		amount, unit = int(delta/time.Minute), "minute"
	case delta < 24*time.Hour:
		amount, unit = int(delta/time.Hour), "hour"
	case delta < 30*24*time.Hour:
		amount, unit = int(delta/(24*time.Hour)), "day"
	case delta < 365*24*time.Hour:
		amount, unit = int(delta/(30*24*time.Hour)), "month"
	default:
		amount, unit = int(delta/(365*24*time.Hour)), "year"
	}
	if amount != 1 {
		unit += "s"
	}
	if future {
		return fmt.Sprintf("in %d %s", amount, unit)
	}
	return fmt.Sprintf("%d %s ago", amount, unit)
}
