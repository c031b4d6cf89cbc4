// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts and decrypts the bot token at rest with
// filippo.io/age. It wraps the operations chorus needs: generate an
// x25519 identity, seal a token to one or more recipients, and open a
// sealed token with an identity.
//
// Sealed files are ASCII-armored ("-----BEGIN AGE ENCRYPTED
// FILE-----") so they survive copy and paste into configuration
// management. Identities and opened plaintext are returned as
// [secret.Buffer] values.
//
// Key exports:
//
//   - [GenerateKeypair] -- new x25519 identity in a secret.Buffer
//   - [Seal] -- encrypt plaintext to age recipients
//   - [Open] -- decrypt with an identity buffer
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
package sealed
