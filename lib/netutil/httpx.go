// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP body reads and connection error
// classification shared by the REST dispatcher and the gateway.
//
// Every response body read is capped at MaxResponseSize so a
// misbehaving server cannot exhaust memory. The largest legitimate
// payloads chorus reads are guild member and message listings, which
// are far below the cap.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds REST response body reads: 64 MB.
const MaxResponseSize int64 = 64 << 20

// MaxErrorBody bounds the excerpt of a non-JSON error body kept in an
// error message. Proxies in front of the API answer with HTML pages.
const MaxErrorBody = 512

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for diagnostics, cut to
// MaxErrorBody bytes with a "..." marker. Read errors are ignored; a
// partial body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBody+1))
	if len(data) > MaxErrorBody {
		return string(data[:MaxErrorBody]) + "..."
	}
	return string(data)
}
