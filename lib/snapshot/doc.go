// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot persists client state across restarts so a
// restarted process can resume its gateway sessions instead of
// re-identifying and rebuilding its cache from scratch.
//
// A snapshot file is a fixed header followed by a payload:
//
//	magic     "CHSN" (4 bytes)
//	version   1 (1 byte)
//	tag       compression tag (1 byte)
//	size      uncompressed payload size, big-endian uint64
//	written   write time, big-endian int64 Unix milliseconds
//	checksum  BLAKE3-256 of the uncompressed payload (32 bytes)
//	payload   CBOR, compressed per tag
//
// Writes are atomic: temporary file, fsync, rename, directory fsync.
// Files are created with mode 0600 because they contain session IDs.
package snapshot
