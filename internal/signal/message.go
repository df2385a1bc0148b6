// Package signal relays session descriptions and ICE candidates between
// peer endpoints over websockets. The broker assigns endpoint ids; the
// client is what a peer transport uses to reach it.
package signal

import (
	"encoding/json"
	"errors"
)

// MessageType identifies a signaling message.
type MessageType string

// Signaling message types.
const (
	TypeOpen      MessageType = "OPEN"
	TypeIDTaken   MessageType = "ID-TAKEN"
	TypeOffer     MessageType = "OFFER"
	TypeAnswer    MessageType = "ANSWER"
	TypeCandidate MessageType = "CANDIDATE"
	TypeLeave     MessageType = "LEAVE"
	TypeExpire    MessageType = "EXPIRE"
	TypeHeartbeat MessageType = "HEARTBEAT"
	TypeError     MessageType = "ERROR"
)

// Relayed reports whether the broker forwards t to another endpoint.
func (t MessageType) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	}
	return false
}

// Message is the signaling envelope. Src is set by the broker from the
// sender's connection; clients never choose it.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Errors returned by the client.
var (
	ErrIDTaken     = errors.New("endpoint id taken")
	ErrNoOpen      = errors.New("broker did not confirm the endpoint")
	ErrClientClose = errors.New("signal client closed")
)
