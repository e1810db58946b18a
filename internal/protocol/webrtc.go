package protocol

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// SessionDescription is the wire form of an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case SDPTypeOffer:
		t = webrtc.SDPTypeOffer
	case SDPTypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// ICECandidate is the wire form of a trickled network-path candidate.
// SDPMLineIndex and SDPMid are nullable on the wire, never omitted.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	SDPMid           *string `json:"sdpMid"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) ICECandidate {
	return ICECandidate{
		Candidate:        init.Candidate,
		SDPMLineIndex:    init.SDPMLineIndex,
		SDPMid:           init.SDPMid,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c ICECandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMLineIndex:    c.SDPMLineIndex,
		SDPMid:           c.SDPMid,
		UsernameFragment: c.UsernameFragment,
	}
}
