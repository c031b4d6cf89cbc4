// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the chorus command tree: run (connect and
// stream events), keygen and seal (age-encrypted token storage), and
// version.
package commands
