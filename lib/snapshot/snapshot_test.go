// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type shardState struct {
	SessionID string   `cbor:"session_id"`
	Sequence  int64    `cbor:"sequence"`
	Notes     []string `cbor:"notes"`
}

func sample() shardState {
	notes := make([]string, 200)
	for index := range notes {
		notes[index] = strings.Repeat("guild cached ", 4)
	}
	return shardState{SessionID: "a1b2c3", Sequence: 4211, Notes: notes}
}

func TestRoundTripEveryCompression(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "state.snap")
			written := time.UnixMilli(1767225600000)
			if err := Write(path, sample(), Options{Compression: tag, Now: func() time.Time { return written }}); err != nil {
				t.Fatalf("Write: %v", err)
			}

			var state shardState
			header, err := Read(path, &state)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if header.Compression != tag {
				t.Errorf("compression = %s, want %s", header.Compression, tag)
			}
			if !header.WrittenAt.Equal(written) {
				t.Errorf("written at = %s, want %s", header.WrittenAt, written)
			}
			if state.SessionID != "a1b2c3" || state.Sequence != 4211 || len(state.Notes) != 200 {
				t.Errorf("state = %+v", state)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("mode = %v, want 0600", info.Mode().Perm())
			}
		})
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	data, err := Encode(shardState{SessionID: "x"}, Options{Compression: CompressionZstd})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var state shardState
	header, err := Decode(data, &state)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if header.Compression != CompressionNone {
		t.Errorf("compression = %s, want none for a tiny payload", header.Compression)
	}
}

func TestCorruptionDetected(t *testing.T) {
	data, err := Encode(sample(), Options{Compression: CompressionNone})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated header", func(d []byte) []byte { return d[:10] }},
		{"bad magic", func(d []byte) []byte { d[0] = 'X'; return d }},
		{"flipped payload bit", func(d []byte) []byte { d[len(d)-1] ^= 0x01; return d }},
		{"truncated payload", func(d []byte) []byte { return d[:len(d)-5] }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			corrupted := test.mutate(append([]byte(nil), data...))
			var state shardState
			if _, err := Decode(corrupted, &state); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decode error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestReadMissing(t *testing.T) {
	var state shardState
	_, err := Read(filepath.Join(t.TempDir(), "missing.snap"), &state)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read error = %v, want os.ErrNotExist", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.snap")
	if err := Write(path, sample(), Options{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestParseCompressionTag(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		tag, err := ParseCompressionTag(name)
		if err != nil {
			t.Fatalf("ParseCompressionTag(%q): %v", name, err)
		}
		if tag.String() != name {
			t.Errorf("round trip %q -> %s", name, tag)
		}
	}
	if _, err := ParseCompressionTag("gzip"); err == nil {
		t.Error("expected error for gzip")
	}
}
