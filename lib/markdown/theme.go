// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package markdown

import "github.com/charmbracelet/lipgloss"

// Theme is the palette used for message rendering. Colors are ANSI
// 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color

	// Mention colors user, role and channel references.
	Mention lipgloss.Color

	// Spoiler is the color of the mask drawn over hidden text.
	Spoiler lipgloss.Color
}

// DefaultTheme suits a dark 256-color terminal.
var DefaultTheme = Theme{
	NormalText:       lipgloss.Color("252"),
	FaintText:        lipgloss.Color("245"),
	HeaderForeground: lipgloss.Color("111"),
	BorderColor:      lipgloss.Color("240"),
	Mention:          lipgloss.Color("147"),
	Spoiler:          lipgloss.Color("238"),
}
