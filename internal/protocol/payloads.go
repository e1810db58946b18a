package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType reports an envelope tag outside the closed set. Unknown tags
// are rejected explicitly rather than silently ignored.
var ErrUnknownType = errors.New("unknown message type")

// FieldError reports a missing or invalid required payload field. The server
// logs these and drops the message without an error reply.
type FieldError struct {
	Type  MessageType
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: missing or invalid field %q", e.Type, e.Field)
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type GetRooms struct{}

type Ping struct{}

type ToggleMedia struct {
	RoomID  string `json:"roomId"`
	Enabled bool   `json:"enabled"`
}

// OfferSend / AnswerSend / CandidateSend are the client -> server halves of
// the relayed signaling messages.
type OfferSend struct {
	Offer        SessionDescription `json:"offer"`
	TargetPeerID string             `json:"targetPeerId"`
	RoomID       string             `json:"roomId"`
}

type AnswerSend struct {
	Answer       SessionDescription `json:"answer"`
	TargetPeerID string             `json:"targetPeerId"`
	RoomID       string             `json:"roomId"`
}

type CandidateSend struct {
	Candidate    ICECandidate `json:"candidate"`
	TargetPeerID string       `json:"targetPeerId"`
	RoomID       string       `json:"roomId"`
}

// OfferForward / AnswerForward / CandidateForward are the server -> client
// halves, with the sender identified instead of the target.
type OfferForward struct {
	Offer        SessionDescription `json:"offer"`
	SenderPeerID string             `json:"senderPeerId"`
}

type AnswerForward struct {
	Answer       SessionDescription `json:"answer"`
	SenderPeerID string             `json:"senderPeerId"`
}

type CandidateForward struct {
	Candidate    ICECandidate `json:"candidate"`
	SenderPeerID string       `json:"senderPeerId"`
}

type ChatSend struct {
	RoomID   string `json:"roomId"`
	Text     string `json:"text"`
	UserName string `json:"userName"`
}

type ChatFileSend struct {
	RoomID   string `json:"roomId"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	FileData string `json:"fileData"`
	UserName string `json:"userName"`
}

type ChatReactionSend struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserName  string `json:"userName"`
}

const (
	RatingLike    = "like"
	RatingDislike = "dislike"
)

type ChatRatingSend struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Rating    string `json:"rating"`
	UserName  string `json:"userName"`
}

type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	PeerID   string `json:"peerId"`
}

type RoomParticipants struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

type RoomUpdated struct {
	RoomID            string `json:"roomId"`
	ParticipantsCount int    `json:"participantsCount"`
}

type RoomSummary struct {
	ID                string `json:"id"`
	ParticipantsCount int    `json:"participantsCount"`
}

type MediaToggled struct {
	PeerID  string `json:"peerId"`
	Enabled bool   `json:"enabled"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeClientMessage interprets a client -> server envelope into its concrete
// payload type, validating required fields. The returned value is one of the
// payload structs above; callers dispatch with a type switch.
func DecodeClientMessage(env Envelope) (any, error) {
	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoom
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, &FieldError{env.Type, "roomId"}
		}
		return m, nil

	case TypeLeaveRoom:
		var m LeaveRoom
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, &FieldError{env.Type, "roomId"}
		}
		return m, nil

	case TypeGetRooms:
		return GetRooms{}, nil

	case TypePing:
		return Ping{}, nil

	case TypeToggleAudio, TypeToggleVideo:
		var m ToggleMedia
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, &FieldError{env.Type, "roomId"}
		}
		return m, nil

	case TypeOffer:
		var m OfferSend
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		switch {
		case m.Offer.SDP == "" || m.Offer.Type == "":
			return nil, &FieldError{env.Type, "offer"}
		case m.TargetPeerID == "":
			return nil, &FieldError{env.Type, "targetPeerId"}
		case m.RoomID == "":
			return nil, &FieldError{env.Type, "roomId"}
		}
		return m, nil

	case TypeAnswer:
		var m AnswerSend
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		switch {
		case m.Answer.SDP == "" || m.Answer.Type == "":
			return nil, &FieldError{env.Type, "answer"}
		case m.TargetPeerID == "":
			return nil, &FieldError{env.Type, "targetPeerId"}
		case m.RoomID == "":
			return nil, &FieldError{env.Type, "roomId"}
		}
		return m, nil

	case TypeCandidate:
		var m CandidateSend
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		switch {
		case m.Candidate.Candidate == "":
			return nil, &FieldError{env.Type, "candidate"}
		case m.TargetPeerID == "":
			return nil, &FieldError{env.Type, "targetPeerId"}
		case m.RoomID == "":
			return nil, &FieldError{env.Type, "roomId"}
		}
		return m, nil

	case TypeChatSend:
		var m ChatSend
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		switch {
		case m.RoomID == "":
			return nil, &FieldError{env.Type, "roomId"}
		case m.Text == "":
			return nil, &FieldError{env.Type, "text"}
		case m.UserName == "":
			return nil, &FieldError{env.Type, "userName"}
		}
		return m, nil

	case TypeChatFile:
		var m ChatFileSend
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		switch {
		case m.RoomID == "":
			return nil, &FieldError{env.Type, "roomId"}
		case m.FileName == "":
			return nil, &FieldError{env.Type, "fileName"}
		case m.FileData == "":
			return nil, &FieldError{env.Type, "fileData"}
		case m.UserName == "":
			return nil, &FieldError{env.Type, "userName"}
		}
		return m, nil

	case TypeChatReaction:
		var m ChatReactionSend
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		switch {
		case m.RoomID == "":
			return nil, &FieldError{env.Type, "roomId"}
		case m.MessageID == "":
			return nil, &FieldError{env.Type, "messageId"}
		case m.Emoji == "":
			return nil, &FieldError{env.Type, "emoji"}
		case m.UserName == "":
			return nil, &FieldError{env.Type, "userName"}
		}
		return m, nil

	case TypeChatRating:
		var m ChatRatingSend
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		switch {
		case m.RoomID == "":
			return nil, &FieldError{env.Type, "roomId"}
		case m.MessageID == "":
			return nil, &FieldError{env.Type, "messageId"}
		case m.Rating != RatingLike && m.Rating != RatingDislike:
			return nil, &FieldError{env.Type, "rating"}
		case m.UserName == "":
			return nil, &FieldError{env.Type, "userName"}
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decode(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return &FieldError{env.Type, "payload"}
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &FieldError{env.Type, "payload"}
	}
	return nil
}
