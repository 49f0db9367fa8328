// Package protocol defines the JSON wire schema shared by both application
// modes: room-based signaling and direct peer-to-peer messaging.
package protocol

import (
	"encoding/json"
	"fmt"
)

// AppType discriminates the two application modes carried over one socket.
type AppType string

const (
	AppRoomSync   AppType = "room-sync"
	AppDirectPeer AppType = "direct-peer-messaging"
)

type MessageType string

// Client -> server message types.
const (
	TypeJoin             MessageType = "join"
	TypeLeave            MessageType = "leave"
	TypeSignal           MessageType = "signal"
	TypeApprovalResponse MessageType = "approval_response"
	TypeRegister         MessageType = "register"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeCandidate        MessageType = "candidate"
)

// Server -> client message types.
const (
	TypeRoomCreated      MessageType = "room_created"
	TypeJoined           MessageType = "joined"
	TypeApproved         MessageType = "approved"
	TypeRejected         MessageType = "rejected"
	TypeStartNegotiation MessageType = "start_negotiation"
	TypeApprovalRequest  MessageType = "approval_request"
	TypeRoomClosed       MessageType = "room_closed"
	TypePeerLeft         MessageType = "peer_left"
	TypeError            MessageType = "error"
)

// Error codes surfaced in TypeError messages.
const (
	ErrCodeRoomFull    = "room_full"
	ErrCodeBadPassword = "bad_password"
	ErrCodePeerTaken   = "peer_id_taken"
	ErrCodeInternal    = "internal"
)

// Message is the wire envelope. Fields that don't apply to a given type are
// omitted from the encoding; signaling payloads ride in Data and are relayed
// verbatim from the sender's raw bytes, never re-encoded from this struct.
type Message struct {
	App  AppType     `json:"appType,omitempty"`
	Type MessageType `json:"type"`

	Room           string `json:"room,omitempty"`
	Password       string `json:"password,omitempty"`
	Token          string `json:"token,omitempty"`
	ManualApproval bool   `json:"manualApproval,omitempty"`
	Alias          string `json:"alias,omitempty"`

	PeerID       string `json:"peerId,omitempty"`
	TargetPeerID string `json:"targetPeerId,omitempty"`

	Approved bool `json:"approved,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`

	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Parse decodes one inbound envelope. A missing type is a decode error (the
// message carries nothing to dispatch on); an unknown type is not — the
// dispatcher logs and ignores those.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("message missing type")
	}
	return msg, nil
}

// Encode marshals an outbound envelope.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return data, nil
}
