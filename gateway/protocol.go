// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "fmt"

// Opcode is a gateway frame opcode.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpPresenceUpdate Opcode = 3
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

var opcodeNames = map[Opcode]string{
	OpDispatch:       "dispatch",
	OpHeartbeat:      "heartbeat",
	OpIdentify:       "identify",
	OpPresenceUpdate: "presence_update",
	OpResume:         "resume",
	OpReconnect:      "reconnect",
	OpInvalidSession: "invalid_session",
	OpHello:          "hello",
	OpHeartbeatAck:   "heartbeat_ack",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Close codes sent by the server, plus the standard codes the session
// itself uses.
const (
	CloseNormal              = 1000
	CloseGoingAway           = 1001
	CloseUnknownError        = 4000
	CloseUnknownOpcode       = 4001
	CloseDecodeError         = 4002
	CloseNotAuthenticated    = 4003
	CloseAuthenticationFail  = 4004
	CloseAlreadyAuthed       = 4005
	CloseInvalidSequence     = 4007
	CloseRateLimited         = 4008
	CloseSessionTimedOut     = 4009
	CloseInvalidShard        = 4010
	CloseShardingRequired    = 4011
	CloseInvalidAPIVersion   = 4012
	CloseInvalidIntents      = 4013
	CloseDisallowedIntents   = 4014
	closeReconnectLocally    = CloseUnknownError
	closeIntentionalShutdown = CloseNormal
)

// CloseAction is what a session does after the socket closes with a
// given code.
type CloseAction int

const (
	// ActionResume reconnects and resumes the stored session.
	ActionResume CloseAction = iota

	// ActionReidentify reconnects with a fresh identify.
	ActionReidentify

	// ActionFatal ends the session.
	ActionFatal
)

func (a CloseAction) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionReidentify:
		return "reidentify"
	default:
		return "fatal"
	}
}

// ClassifyCloseCode maps a close code to the session's reaction.
// Codes the platform does not document (including abnormal closure
// without a close frame) resume.
func ClassifyCloseCode(code int) CloseAction {
	switch code {
	case CloseUnknownError, CloseUnknownOpcode, CloseDecodeError, CloseNotAuthenticated,
		CloseAlreadyAuthed, CloseRateLimited:
		return ActionResume
	case CloseInvalidSequence, CloseSessionTimedOut, CloseNormal, CloseGoingAway:
		return ActionReidentify
	case CloseAuthenticationFail, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return ActionFatal
	default:
		return ActionResume
	}
}

// Frame is one decoded gateway message. Data holds the undecoded "d"
// field in the connection's encoding.
type Frame struct {
	Op       Opcode
	Data     []byte
	Sequence int64
	HasSeq   bool
	Type     string
}

// hello is the payload of op 10.
type hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval" cbor:"heartbeat_interval"`
}

// identifyPayload is the payload of op 2.
type identifyPayload struct {
	Token          string             `json:"token" cbor:"token"`
	Intents        Intents            `json:"intents" cbor:"intents"`
	Shard          [2]int             `json:"shard" cbor:"shard"`
	Properties     identifyProperties `json:"properties" cbor:"properties"`
	LargeThreshold int                `json:"large_threshold,omitempty" cbor:"large_threshold,omitempty"`
	Compress       bool               `json:"compress,omitempty" cbor:"compress,omitempty"`
}

type identifyProperties struct {
	OS      string `json:"os" cbor:"os"`
	Browser string `json:"browser" cbor:"browser"`
	Device  string `json:"device" cbor:"device"`
}

// resumePayload is the payload of op 6.
type resumePayload struct {
	Token     string `json:"token" cbor:"token"`
	SessionID string `json:"session_id" cbor:"session_id"`
	Sequence  int64  `json:"seq" cbor:"seq"`
}
