// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by the gateway's
// binary encoding and the snapshot file format.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so a
// snapshot of the same state always produces the same bytes and the
// same checksum. Types implementing encoding.TextMarshaler (notably
// snowflake.ID) are written as CBOR text strings, matching their JSON
// form.
//
// Gateway payload types carry only `json` tags. fxamacker/cbor reads
// `json` tags when `cbor` tags are absent, so one tag set drives both
// wire encodings. Snapshot-only types use `cbor` tags.
package codec
