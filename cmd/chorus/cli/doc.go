// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the chorus binary.
//
// A Command carries its name, help text, a lazily built pflag set and
// either a Run function or Subcommands. Execute dispatches on the first
// positional argument, parses flags, and reports unknown commands and
// flags with an edit-distance suggestion. Output helpers pick a slog
// handler and a termenv color profile for the process's terminal.
package cli
