// Package protocol defines the wire format spoken between roomcast clients and
// the signaling server: a JSON envelope tagged by message type, with a closed
// set of payload shapes per tag.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type MessageType string

// Client -> server.
const (
	TypeJoinRoom     MessageType = "join-room"
	TypeLeaveRoom    MessageType = "leave-room"
	TypeGetRooms     MessageType = "get-rooms"
	TypeToggleAudio  MessageType = "toggle-audio"
	TypeToggleVideo  MessageType = "toggle-video"
	TypeChatSend     MessageType = "chat-message"
	TypeChatFile     MessageType = "chat-file"
	TypeChatReaction MessageType = "chat-reaction"
	TypeChatRating   MessageType = "chat-rating"
	TypePing         MessageType = "ping"
)

// Relayed peer-to-peer signaling. The same tags are used in both directions;
// the server rewrites targetPeerId into senderPeerId when forwarding.
const (
	TypeOffer     MessageType = "webrtc-offer"
	TypeAnswer    MessageType = "webrtc-answer"
	TypeCandidate MessageType = "webrtc-ice-candidate"
)

// Server -> client.
const (
	TypeConnection       MessageType = "connection"
	TypeRoomParticipants MessageType = "room-participants"
	TypeUserJoined       MessageType = "user-joined"
	TypeUserLeft         MessageType = "user-left"
	TypeRoomUpdated      MessageType = "room-updated"
	TypeRoomsList        MessageType = "rooms-list"
	TypeAudioToggled     MessageType = "user-audio-toggled"
	TypeVideoToggled     MessageType = "user-video-toggled"
	TypeError            MessageType = "error"
	TypePong             MessageType = "pong"
)

// Envelope is the outer frame of every message. Most messages carry their body
// in Payload; the connection greeting and pong replies put their fields at the
// top level, matching the original wire format.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// connection greeting only.
	Status string `json:"status,omitempty"`
	PeerID string `json:"peerId,omitempty"`

	// pong only.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ParseEnvelope decodes the outer frame. It rejects trailing data but leaves
// the payload untouched; DecodeClientMessage interprets it per tag.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("malformed envelope: missing type")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("malformed envelope: trailing data")
	}
	return env, nil
}

// NewEnvelope wraps a payload value in an envelope. It panics only on
// unmarshalable values, which would be a programming error.
func NewEnvelope(t MessageType, payload any) Envelope {
	if payload == nil {
		return Envelope{Type: t}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %s payload: %v", t, err))
	}
	return Envelope{Type: t, Payload: raw}
}

// Marshal serializes an envelope for the wire.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
