// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed session or
	// manager.
	ErrClosed = errors.New("gateway: closed")

	// ErrReconnectExhausted ends a session that failed to reconnect
	// MaxReconnectAttempts times in a row.
	ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")

	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("gateway: not connected")
)

// FatalError ends a session that must not reconnect: the server closed
// with a code such as 4004 (authentication failed) or 4014
// (disallowed intents).
type FatalError struct {
	ShardID int
	Code    int
	Reason  string
}

func (err *FatalError) Error() string {
	return fmt.Sprintf("gateway: shard %d: fatal close %d: %s", err.ShardID, err.Code, err.Reason)
}

// IsFatal reports whether err is a *FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// disconnect describes why one connection ended.
type disconnect struct {
	// code is the close code received from the server, or the code the
	// session sent when it closed the socket itself.
	code   int
	remote bool
	action CloseAction

	// shutdown marks a caller-initiated close.
	shutdown bool

	// abrupt marks a transport failure that was neither a close frame
	// nor an ordinary connection teardown.
	abrupt bool

	reason string
	err    error
}

func (d *disconnect) Error() string {
	origin := "local"
	if d.remote {
		origin = "remote"
	}
	if d.err != nil {
		return fmt.Sprintf("gateway: %s close %d (%s): %s: %v", origin, d.code, d.action, d.reason, d.err)
	}
	return fmt.Sprintf("gateway: %s close %d (%s): %s", origin, d.code, d.action, d.reason)
}

func (d *disconnect) Unwrap() error { return d.err }
