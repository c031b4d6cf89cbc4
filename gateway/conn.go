// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/chorus/lib/version"
)

// Conn is one socket connection. ReadMessage is called from a single
// goroutine; WriteMessage calls are serialized by the session; Close
// may be called concurrently with both and more than once.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error

	// Close sends a close frame with code and reason, then releases
	// the connection. Blocked reads return an error.
	Close(code int, reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError is the error a Conn's ReadMessage returns after the peer
// sent a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (err *CloseError) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("gateway: connection closed with code %d", err.Code)
	}
	return fmt.Sprintf("gateway: connection closed with code %d: %s", err.Code, err.Reason)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// CloseTimeout bounds writing the close frame. Default: 5s.
	CloseTimeout time.Duration
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	conn, response, err := dialer.DialContext(ctx, url, header)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: dialing %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	closeTimeout := d.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 5 * time.Second
	}
	return &websocketConn{conn: conn, closeTimeout: closeTimeout}, nil
}

type websocketConn struct {
	conn         *websocket.Conn
	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *websocketConn) ReadMessage() (int, []byte, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return 0, nil, &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return 0, nil, err
	}
	return messageType, data, nil
}

func (c *websocketConn) WriteMessage(messageType int, data []byte) error {
	return c.conn.WriteMessage(messageType, data)
}

func (c *websocketConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.closeTimeout)
		// The peer may already be gone; the close frame is best effort.
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
