// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the chorus client configuration file.
//
// Configuration comes from a single file named by the --config flag
// (via [LoadFile]) or the CHORUS_CONFIG environment variable (via
// [Load]). There is no discovery and no per-field environment
// override: the file is the single source of truth. The bot token is
// never stored in the file; the token section only names where the
// token comes from.
//
// Files ending in .yaml or .yml are decoded with gopkg.in/yaml.v3.
// Files ending in .json or .jsonc may contain comments and trailing
// commas, which are stripped with github.com/tidwall/jsonc before
// decoding.
//
// Path fields expand ${HOME}, ${CHORUS_STATE} and ${VAR:-default}.
//
// This package depends on no other chorus packages.
package config
