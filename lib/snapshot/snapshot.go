// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/chorus/lib/codec"
)

const (
	formatVersion = 1
	headerSize    = 4 + 1 + 1 + 8 + 8 + 32
	// maxPayloadSize bounds the allocation a corrupt header can cause.
	maxPayloadSize = 1 << 30
)

var magic = [4]byte{'C', 'H', 'S', 'N'}

// ErrCorrupt is wrapped by Read errors caused by a damaged file.
var ErrCorrupt = errors.New("snapshot: corrupt file")

// Options controls Write.
type Options struct {
	Compression CompressionTag

	// Now stamps the header. Nil means time.Now.
	Now func() time.Time
}

// Header describes a snapshot file.
type Header struct {
	Compression CompressionTag
	Size        uint64
	WrittenAt   time.Time
	Checksum    [32]byte
}

// Encode serializes value into the snapshot file format.
func Encode(value any, options Options) ([]byte, error) {
	payload, err := codec.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encoding payload: %w", err)
	}

	tag := options.Compression
	body, err := compress(payload, tag)
	if errors.Is(err, errIncompressible) {
		tag, body = CompressionNone, payload
	} else if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	now := time.Now
	if options.Now != nil {
		now = options.Now
	}
	checksum := blake3.Sum256(payload)

	output := make([]byte, headerSize, headerSize+len(body))
	copy(output[0:4], magic[:])
	output[4] = formatVersion
	output[5] = byte(tag)
	binary.BigEndian.PutUint64(output[6:14], uint64(len(payload)))
	binary.BigEndian.PutUint64(output[14:22], uint64(now().UnixMilli()))
	copy(output[22:54], checksum[:])
	return append(output, body...), nil
}

// Decode verifies data and decodes its payload into value.
func Decode(data []byte, value any) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[0:4])
	}
	if data[4] != formatVersion {
		return Header{}, fmt.Errorf("snapshot: unsupported format version %d", data[4])
	}

	header := Header{
		Compression: CompressionTag(data[5]),
		Size:        binary.BigEndian.Uint64(data[6:14]),
		WrittenAt:   time.UnixMilli(int64(binary.BigEndian.Uint64(data[14:22]))),
	}
	copy(header.Checksum[:], data[22:54])
	if header.Size > maxPayloadSize {
		return Header{}, fmt.Errorf("%w: payload size %d exceeds limit", ErrCorrupt, header.Size)
	}

	payload, err := decompress(data[headerSize:], header.Compression, int(header.Size))
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if blake3.Sum256(payload) != header.Checksum {
		return Header{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if err := codec.Unmarshal(payload, value); err != nil {
		return Header{}, fmt.Errorf("snapshot: decoding payload: %w", err)
	}
	return header, nil
}

// Write atomically writes value to path. The parent directory is
// created if missing.
func Write(path string, value any, options Options) error {
	data, err := Encode(value, options)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("snapshot: creating directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("snapshot: creating temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("snapshot: writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("snapshot: syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("snapshot: closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("snapshot: renaming into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Read reads and verifies the snapshot at path. A missing file returns
// an error wrapping os.ErrNotExist.
func Read(path string, value any) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	header, err := Decode(data, value)
	if err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return header, nil
}

// Remove deletes the snapshot at path. Idempotent.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: removing %s: %w", path, err)
	}
	return nil
}
