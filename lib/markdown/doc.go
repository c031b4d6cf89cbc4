// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package markdown renders chat message markdown as styled terminal
// text.
//
// Messages use a CommonMark subset with chat extensions: every
// newline is a line break, ||spoilers|| hide their content, and
// angle-bracket tokens reference users (<@id>), roles (<@&id>),
// channels (<#id>), custom emoji (<:name:id>) and timestamps
// (<t:unix:style>). Mentions are resolved to names through a caller
// supplied Resolver, typically backed by the entity cache.
//
// Parsing uses goldmark with two extra inline parsers. Fenced code
// blocks are highlighted with chroma. Styling goes through a lipgloss
// renderer whose termenv profile the caller picks, so the same code
// produces colored output on a terminal and plain text in logs.
package markdown
