// Package rtc drives one WebRTC negotiation per remote peer: offer/answer
// sequencing and trickled candidate buffering on top of a signaling channel.
package rtc

import "roomcast/internal/protocol"

// PeerConnection is the minimal surface the negotiation needs from a WebRTC
// implementation. The production factory wraps pion; tests substitute fakes.
type PeerConnection interface {
	CreateOffer() (protocol.SessionDescription, error)
	CreateAnswer() (protocol.SessionDescription, error)
	SetLocalDescription(desc protocol.SessionDescription) error
	SetRemoteDescription(desc protocol.SessionDescription) error
	AddICECandidate(c protocol.ICECandidate) error
	Close() error
}

// Callbacks are wired into a peer connection at creation time. They may fire
// from the implementation's own goroutines.
type Callbacks struct {
	// OnLocalCandidate delivers a locally gathered candidate for trickling
	// to the remote peer.
	OnLocalCandidate func(c protocol.ICECandidate)

	// OnDisconnected fires when the underlying transport is lost for good.
	OnDisconnected func()
}

// Factory builds peer connections.
type Factory interface {
	NewPeerConnection(cb Callbacks) (PeerConnection, error)
}

// Signaler sends negotiation messages to a specific remote peer. The client's
// websocket connection implements this.
type Signaler interface {
	SendOffer(targetPeerID string, offer protocol.SessionDescription) error
	SendAnswer(targetPeerID string, answer protocol.SessionDescription) error
	SendCandidate(targetPeerID string, c protocol.ICECandidate) error
}

// State tracks how far one negotiation has progressed.
type State int

const (
	// StateIdle: session created, no description exchanged yet.
	StateIdle State = iota
	// StateLocalOfferSent: we offered and are waiting for the answer.
	StateLocalOfferSent
	// StateRemoteOfferApplied: a remote offer is applied, answer pending.
	StateRemoteOfferApplied
	// StateStable: both descriptions applied.
	StateStable
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalOfferSent:
		return "local-offer-sent"
	case StateRemoteOfferApplied:
		return "remote-offer-applied"
	case StateStable:
		return "stable"
	default:
		return "unknown"
	}
}
