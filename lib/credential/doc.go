// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential supplies the bot token to the REST dispatcher and
// gateway sessions.
//
// A [Provider] returns the token in a [secret.Buffer]; the caller owns
// the buffer and closes it at shutdown. Providers:
//
//   - [Static] -- a token already in hand (tests, embedding programs)
//   - [Env] -- an environment variable
//   - [File] -- a plain file, or stdin for "-"
//   - [Sealed] -- an age-encrypted file opened with an identity file
//   - [Prompt] -- an interactive terminal prompt with echo disabled
//
// [FromConfig] builds the provider selected by the configuration
// file's token section.
package credential
