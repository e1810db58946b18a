package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"roomcast/internal/protocol"
)

// PionFactory builds pion-backed peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewAPI builds the production factory. stunServers use the "stun:host:port"
// URL form; loggerFactory may be nil to use pion's default.
func NewAPI(stunServers []string, loggerFactory logging.LoggerFactory) *PionFactory {
	se := webrtc.SettingEngine{}
	if loggerFactory != nil {
		se.LoggerFactory = loggerFactory
	}
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config: cfg,
	}
}

func (f *PionFactory) NewPeerConnection(cb Callbacks) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("pion peer connection: %w", err)
	}

	// A data channel gives the SDP a media section so ICE actually gathers;
	// it also carries nothing until peers decide to use it.
	if _, err := pc.CreateDataChannel("roomcast", nil); err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnLocalCandidate == nil {
			return
		}
		cb.OnLocalCandidate(protocol.CandidateFromPion(c.ToJSON()))
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			if cb.OnDisconnected != nil {
				cb.OnDisconnected()
			}
		}
	})

	return &pionConn{pc: pc}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (protocol.SessionDescription, error) {
	desc, err := c.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SDPFromPion(desc), nil
}

func (c *pionConn) CreateAnswer() (protocol.SessionDescription, error) {
	desc, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SDPFromPion(desc), nil
}

func (c *pionConn) SetLocalDescription(desc protocol.SessionDescription) error {
	pd, err := desc.ToPion()
	if err != nil {
		return err
	}
	return c.pc.SetLocalDescription(pd)
}

func (c *pionConn) SetRemoteDescription(desc protocol.SessionDescription) error {
	pd, err := desc.ToPion()
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(pd)
}

func (c *pionConn) AddICECandidate(cand protocol.ICECandidate) error {
	return c.pc.AddICECandidate(cand.ToPion())
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
