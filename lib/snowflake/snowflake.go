// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package snowflake provides the platform's 64-bit entity identifier.
//
// A snowflake packs a millisecond timestamp (relative to the platform
// epoch) into its upper 42 bits, followed by worker, process and
// increment fields. The platform serializes snowflakes as decimal
// strings in JSON so that JavaScript clients do not lose precision;
// ID follows that convention on output and accepts both strings and
// bare numbers on input.
//
// ID implements encoding.TextMarshaler, so CBOR (via lib/codec) and
// map keys use the same decimal form.
package snowflake

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Epoch is the platform epoch, 2015-01-01T00:00:00Z, in Unix
// milliseconds.
const Epoch int64 = 1420070400000

// ID is a platform snowflake. The zero value means "no ID".
type ID uint64

// Parse parses a decimal snowflake string. Empty strings, non-digits,
// overflow and zero are errors.
func Parse(raw string) (ID, error) {
	if raw == "" {
		return 0, fmt.Errorf("snowflake: empty ID")
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snowflake: invalid ID %q: %w", raw, err)
	}
	if value == 0 {
		return 0, fmt.Errorf("snowflake: zero ID")
	}
	return ID(value), nil
}

// MustParse is Parse for constants in tests and examples. Panics on
// invalid input.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the decimal form.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// IsZero reports whether id is unset.
func (id ID) IsZero() bool { return id == 0 }

// Time returns the creation time encoded in the ID.
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(id>>22) + Epoch).UTC()
}

// Shard returns the shard index responsible for this ID when the
// session is split into count shards. Only guild IDs are routed this
// way. A count below 2 always yields shard 0.
func (id ID) Shard(count int) int {
	if count < 2 {
		return 0
	}
	return int((uint64(id) >> 22) % uint64(count))
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(id), 10), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty text
// decodes to the zero ID.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = 0
		return nil
	}
	value, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("snowflake: invalid ID %q: %w", text, err)
	}
	*id = ID(value)
	return nil
}

// MarshalJSON encodes the ID as a quoted decimal string.
func (id ID) MarshalJSON() ([]byte, error) {
	buffer := make([]byte, 0, 22)
	buffer = append(buffer, '"')
	buffer = strconv.AppendUint(buffer, uint64(id), 10)
	return append(buffer, '"'), nil
}

// UnmarshalJSON accepts a quoted string, a bare number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	return id.UnmarshalText(bytes.Trim(data, `"`))
}
