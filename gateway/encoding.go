// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/bureau-foundation/chorus/lib/codec"
)

// Encoding names accepted by the gateway.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// WebSocket message types, matching RFC 6455 opcodes.
const (
	TextMessage   = 1
	BinaryMessage = 2
)

// maxFrameSize bounds a decompressed frame. GUILD_CREATE for a large
// guild is the biggest payload the server sends.
const maxFrameSize = 64 << 20

// frameCodec converts between frames and socket messages for one
// encoding.
type frameCodec interface {
	name() string
	encode(op Opcode, data any) (messageType int, message []byte, err error)
	decode(message []byte) (Frame, error)
	unmarshal(data []byte, v any) error
}

func newFrameCodec(encoding string) (frameCodec, error) {
	switch encoding {
	case "", EncodingJSON:
		return jsonCodec{}, nil
	case EncodingCBOR:
		return cborCodec{}, nil
	default:
		return nil, fmt.Errorf("gateway: unsupported encoding %q", encoding)
	}
}

type outboundFrame struct {
	Op   Opcode `json:"op" cbor:"op"`
	Data any    `json:"d" cbor:"d"`
}

type jsonCodec struct{}

func (jsonCodec) name() string { return EncodingJSON }

func (jsonCodec) encode(op Opcode, data any) (int, []byte, error) {
	message, err := json.Marshal(outboundFrame{Op: op, Data: data})
	if err != nil {
		return 0, nil, fmt.Errorf("gateway: encoding %s: %w", op, err)
	}
	return TextMessage, message, nil
}

func (jsonCodec) decode(message []byte) (Frame, error) {
	var raw struct {
		Op       *Opcode         `json:"op"`
		Data     json.RawMessage `json:"d"`
		Sequence *int64          `json:"s"`
		Type     *string         `json:"t"`
	}
	if err := json.Unmarshal(message, &raw); err != nil {
		return Frame{}, fmt.Errorf("gateway: decoding frame: %w", err)
	}
	return buildFrame(raw.Op, raw.Data, raw.Sequence, raw.Type)
}

func (jsonCodec) unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct{}

func (cborCodec) name() string { return EncodingCBOR }

func (cborCodec) encode(op Opcode, data any) (int, []byte, error) {
	message, err := codec.Marshal(outboundFrame{Op: op, Data: data})
	if err != nil {
		return 0, nil, fmt.Errorf("gateway: encoding %s: %w", op, err)
	}
	return BinaryMessage, message, nil
}

func (cborCodec) decode(message []byte) (Frame, error) {
	var raw struct {
		Op       *Opcode          `cbor:"op"`
		Data     codec.RawMessage `cbor:"d"`
		Sequence *int64           `cbor:"s"`
		Type     *string          `cbor:"t"`
	}
	if err := codec.Unmarshal(message, &raw); err != nil {
		return Frame{}, fmt.Errorf("gateway: decoding frame: %w", err)
	}
	return buildFrame(raw.Op, raw.Data, raw.Sequence, raw.Type)
}

func (cborCodec) unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }

func buildFrame(op *Opcode, data []byte, sequence *int64, name *string) (Frame, error) {
	if op == nil {
		return Frame{}, fmt.Errorf("gateway: frame has no opcode")
	}
	frame := Frame{Op: *op, Data: data}
	if sequence != nil {
		frame.Sequence = *sequence
		frame.HasSeq = true
	}
	if name != nil {
		frame.Type = *name
	}
	if frame.Op == OpDispatch && frame.Type == "" {
		return Frame{}, fmt.Errorf("gateway: dispatch frame has no event name")
	}
	return frame, nil
}

// isZlib reports whether message starts with a zlib header. Gateway
// frames are maps in both encodings, so neither a JSON '{' nor a CBOR
// map head collides with 0x78.
func isZlib(message []byte) bool {
	if len(message) < 2 || message[0]&0x0f != 8 || message[0]>>4 > 7 {
		return false
	}
	return (uint16(message[0])<<8|uint16(message[1]))%31 == 0
}

// inflate decompresses one per-payload zlib message.
func inflate(message []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("gateway: opening compressed frame: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, maxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("gateway: decompressing frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("gateway: decompressed frame exceeds %d bytes", maxFrameSize)
	}
	return data, nil
}
