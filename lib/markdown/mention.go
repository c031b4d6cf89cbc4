// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package markdown

import (
	"bytes"
	"regexp"
	"strconv"
	"time"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/bureau-foundation/chorus/lib/snowflake"
)

// Reference is the kind of entity an angle-bracket token names.
type Reference uint8

const (
	ReferenceUser Reference = iota + 1
	ReferenceRole
	ReferenceChannel
	ReferenceEmoji
	ReferenceTimestamp
)

func (r Reference) String() string {
	switch r {
	case ReferenceUser:
		return "user"
	case ReferenceRole:
		return "role"
	case ReferenceChannel:
		return "channel"
	case ReferenceEmoji:
		return "emoji"
	case ReferenceTimestamp:
		return "timestamp"
	default:
		return "reference(" + strconv.Itoa(int(r)) + ")"
	}
}

// KindMention is the node kind of Mention.
var KindMention = ast.NewNodeKind("Mention")

// Mention is an inline reference token such as <@123> or <t:1700000000:R>.
type Mention struct {
	ast.BaseInline

	Reference Reference
	ID        snowflake.ID

	// Name and Animated are set for custom emoji.
	Name     string
	Animated bool

	// Time and Style are set for timestamps. Style is one of
	// t T d D f F R; zero means f.
	Time  time.Time
	Style byte
}

func (n *Mention) Kind() ast.NodeKind { return KindMention }

func (n *Mention) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Reference": n.Reference.String(),
		"ID":        n.ID.String(),
		"Name":      n.Name,
	}, nil)
}

// KindSpoiler is the node kind of Spoiler.
var KindSpoiler = ast.NewNodeKind("Spoiler")

// Spoiler is ||hidden text||. The content is kept verbatim; markup
// inside a spoiler is not interpreted.
type Spoiler struct {
	ast.BaseInline
	Content string
}

func (n *Spoiler) Kind() ast.NodeKind { return KindSpoiler }

func (n *Spoiler) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Text": n.Content}, nil)
}

var (
	entityPattern    = regexp.MustCompile(`^<(@!?|@&|#)([0-9]{1,20})>`)
	emojiPattern     = regexp.MustCompile(`^<(a?):([A-Za-z0-9_]{2,32}):([0-9]{1,20})>`)
	timestampPattern = regexp.MustCompile(`^<t:(-?[0-9]{1,13})(?::([tTdDfFR]))?>`)
)

type mentionParser struct{}

func (mentionParser) Trigger() []byte { return []byte{'<'} }

func (mentionParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()

	if match := entityPattern.FindSubmatch(line); match != nil {
		id, err := snowflake.Parse(string(match[2]))
		if err != nil {
			return nil
		}
		node := &Mention{ID: id}
		switch string(match[1]) {
		case "@&":
			node.Reference = ReferenceRole
		case "#":
			node.Reference = ReferenceChannel
		default:
			node.Reference = ReferenceUser
		}
		block.Advance(len(match[0]))
		return node
	}

	if match := emojiPattern.FindSubmatch(line); match != nil {
		id, err := snowflake.Parse(string(match[3]))
		if err != nil {
			return nil
		}
		block.Advance(len(match[0]))
		return &Mention{
			Reference: ReferenceEmoji,
			ID:        id,
			Name:      string(match[2]),
			Animated:  len(match[1]) > 0,
		}
	}

	if match := timestampPattern.FindSubmatch(line); match != nil {
		seconds, err := strconv.ParseInt(string(match[1]), 10, 64)
		if err != nil {
			return nil
		}
		node := &Mention{Reference: ReferenceTimestamp, Time: time.Unix(seconds, 0).UTC()}
		if len(match[2]) == 1 {
			node.Style = match[2][0]
		}
		block.Advance(len(match[0]))
		return node
	}
	return nil
}

type spoilerParser struct{}

var spoilerFence = []byte("||")

func (spoilerParser) Trigger() []byte { return []byte{'|'} }

func (spoilerParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if !bytes.HasPrefix(line, spoilerFence) {
		return nil
	}
	end := bytes.Index(line[2:], spoilerFence)
	if end <= 0 {
		return nil
	}
	content := string(line[2 : 2+end])
	block.Advance(end + 4)
	return &Spoiler{Content: content}
}
