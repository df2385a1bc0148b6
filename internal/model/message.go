package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the closed set of application messages exchanged over a
// peer session.
type MessageType string

// Peer message types.
const (
	MsgMove      MessageType = "move"
	MsgChat      MessageType = "chat"
	MsgReady     MessageType = "ready"
	MsgRestart   MessageType = "restart"
	MsgSurrender MessageType = "surrender"
	MsgLeave     MessageType = "leave"
	MsgPass      MessageType = "pass"
)

// ErrInvalidMessageType is returned for types outside the closed set.
var ErrInvalidMessageType = errors.New("invalid message type")

// Valid reports whether t belongs to the closed set.
func (t MessageType) Valid() bool {
	switch t {
	case MsgMove, MsgChat, MsgReady, MsgRestart, MsgSurrender, MsgLeave, MsgPass:
		return true
	}
	return false
}

// PeerMessage is the envelope sent over the data channel.
// Timestamp is epoch milliseconds assigned by the sender.
type PeerMessage struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// DecodePeerMessage parses and validates an envelope.
func DecodePeerMessage(data []byte) (PeerMessage, error) {
	var msg PeerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return PeerMessage{}, fmt.Errorf("failed to decode peer message: %w", err)
	}
	if !msg.Type.Valid() {
		return PeerMessage{}, fmt.Errorf("%w: %q", ErrInvalidMessageType, msg.Type)
	}
	if len(msg.Payload) == 0 {
		msg.Payload = json.RawMessage("null")
	}
	return msg, nil
}

// DecodePayload unmarshals the payload into v.
func (m PeerMessage) DecodePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// MovePayload is the board-game move: a coordinate, the moving player and a
// per-game sequence number.
type MovePayload struct {
	Row    int `json:"row"`
	Col    int `json:"col"`
	Player int `json:"player"`
	Seq    int `json:"seq"`
}

// ChatPayload carries one chat line.
type ChatPayload struct {
	From string `json:"from"`
	Text string `json:"text"`
}
