package rtc

import (
	"fmt"
	"log/slog"
	"sync"

	"roomcast/internal/protocol"
)

// session is one negotiation with one remote peer. Candidates that arrive
// before the remote description are parked in pending and applied in arrival
// order once it lands.
type session struct {
	pc        PeerConnection
	state     State
	remoteSet bool
	pending   []protocol.ICECandidate
}

// Manager owns every active negotiation, keyed by remote peer id. All methods
// are safe for concurrent use; peer connection callbacks re-enter through
// CloseSession.
type Manager struct {
	log      *slog.Logger
	factory  Factory
	signaler Signaler

	mu       sync.Mutex
	sessions map[string]*session
	// Candidates that arrived before any session existed for their sender.
	pending map[string][]protocol.ICECandidate
}

func NewManager(logger *slog.Logger, factory Factory, signaler Signaler) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		log:      logger,
		factory:  factory,
		signaler: signaler,
		sessions: make(map[string]*session),
		pending:  make(map[string][]protocol.ICECandidate),
	}
}

// Connect starts an outgoing negotiation with remotePeerID: create the peer
// connection, offer, and wait for the answer. No-op if a session already
// exists for that peer.
func (m *Manager) Connect(remotePeerID string) error {
	m.mu.Lock()
	if _, ok := m.sessions[remotePeerID]; ok {
		m.mu.Unlock()
		return nil
	}
	s, err := m.newSessionLocked(remotePeerID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	offer, err := s.pc.CreateOffer()
	if err == nil {
		err = s.pc.SetLocalDescription(offer)
	}
	if err != nil {
		m.teardown(remotePeerID, "create offer", err)
		return fmt.Errorf("rtc: offer to %s: %w", remotePeerID, err)
	}
	if err := m.signaler.SendOffer(remotePeerID, offer); err != nil {
		m.teardown(remotePeerID, "send offer", err)
		return fmt.Errorf("rtc: send offer to %s: %w", remotePeerID, err)
	}

	m.mu.Lock()
	if cur, ok := m.sessions[remotePeerID]; ok && cur == s {
		s.state = StateLocalOfferSent
	}
	m.mu.Unlock()
	return nil
}

// HandleOffer applies an incoming offer and answers it. When a session
// already exists the newest offer wins: the old session is torn down first
// and its buffered candidates are discarded.
func (m *Manager) HandleOffer(senderPeerID string, offer protocol.SessionDescription) error {
	m.mu.Lock()
	if old, ok := m.sessions[senderPeerID]; ok {
		m.log.Info("replacing negotiation with newer offer",
			"peer_id", senderPeerID, "old_state", old.state.String())
		m.closeSessionLocked(senderPeerID, old)
	}
	s, err := m.newSessionLocked(senderPeerID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		m.teardown(senderPeerID, "apply remote offer", err)
		return fmt.Errorf("rtc: apply offer from %s: %w", senderPeerID, err)
	}

	m.mu.Lock()
	var queued []protocol.ICECandidate
	if cur, ok := m.sessions[senderPeerID]; ok && cur == s {
		s.state = StateRemoteOfferApplied
		s.remoteSet = true
		queued = s.pending
		s.pending = nil
	}
	m.mu.Unlock()
	m.applyCandidates(senderPeerID, s, queued)

	answer, err := s.pc.CreateAnswer()
	if err == nil {
		err = s.pc.SetLocalDescription(answer)
	}
	if err != nil {
		m.teardown(senderPeerID, "create answer", err)
		return fmt.Errorf("rtc: answer to %s: %w", senderPeerID, err)
	}
	if err := m.signaler.SendAnswer(senderPeerID, answer); err != nil {
		m.teardown(senderPeerID, "send answer", err)
		return fmt.Errorf("rtc: send answer to %s: %w", senderPeerID, err)
	}

	m.mu.Lock()
	if cur, ok := m.sessions[senderPeerID]; ok && cur == s {
		s.state = StateStable
	}
	m.mu.Unlock()
	return nil
}

// HandleAnswer completes a negotiation we started. Answers for unknown peers
// or already-stable sessions are ignored.
func (m *Manager) HandleAnswer(senderPeerID string, answer protocol.SessionDescription) error {
	m.mu.Lock()
	s, ok := m.sessions[senderPeerID]
	if !ok {
		m.mu.Unlock()
		m.log.Warn("answer for unknown peer", "peer_id", senderPeerID)
		return nil
	}
	if s.state == StateStable {
		m.mu.Unlock()
		m.log.Debug("duplicate answer ignored", "peer_id", senderPeerID)
		return nil
	}
	if s.state != StateLocalOfferSent {
		state := s.state
		m.mu.Unlock()
		m.log.Warn("answer in unexpected state", "peer_id", senderPeerID, "state", state.String())
		return nil
	}
	m.mu.Unlock()

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		m.teardown(senderPeerID, "apply remote answer", err)
		return fmt.Errorf("rtc: apply answer from %s: %w", senderPeerID, err)
	}

	m.mu.Lock()
	var queued []protocol.ICECandidate
	if cur, ok := m.sessions[senderPeerID]; ok && cur == s {
		s.state = StateStable
		s.remoteSet = true
		queued = s.pending
		s.pending = nil
	}
	m.mu.Unlock()
	m.applyCandidates(senderPeerID, s, queued)
	return nil
}

// HandleCandidate applies or buffers a trickled candidate. Candidates for
// peers with no session yet are parked until one is created; candidates for a
// session without a remote description are parked until it lands. Apply
// failures are logged and skipped.
func (m *Manager) HandleCandidate(senderPeerID string, c protocol.ICECandidate) {
	m.mu.Lock()
	s, ok := m.sessions[senderPeerID]
	if !ok {
		m.pending[senderPeerID] = append(m.pending[senderPeerID], c)
		m.mu.Unlock()
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := s.pc.AddICECandidate(c); err != nil {
		m.log.Warn("candidate apply failed", "peer_id", senderPeerID, "err", err)
	}
}

// CloseSession tears down the negotiation with remotePeerID, if any. Safe to
// call repeatedly and from peer connection callbacks.
func (m *Manager) CloseSession(remotePeerID string) {
	m.mu.Lock()
	s, ok := m.sessions[remotePeerID]
	if ok {
		m.closeSessionLocked(remotePeerID, s)
	}
	delete(m.pending, remotePeerID)
	m.mu.Unlock()
}

// CloseAll tears down every active negotiation.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	for id, s := range m.sessions {
		m.closeSessionLocked(id, s)
	}
	m.pending = make(map[string][]protocol.ICECandidate)
	m.mu.Unlock()
}

// State reports the negotiation state for remotePeerID.
func (m *Manager) State(remotePeerID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[remotePeerID]
	if !ok {
		return StateIdle, false
	}
	return s.state, true
}

func (m *Manager) newSessionLocked(remotePeerID string) (*session, error) {
	pc, err := m.factory.NewPeerConnection(Callbacks{
		OnLocalCandidate: func(c protocol.ICECandidate) {
			if err := m.signaler.SendCandidate(remotePeerID, c); err != nil {
				m.log.Warn("send candidate failed", "peer_id", remotePeerID, "err", err)
			}
		},
		OnDisconnected: func() {
			m.log.Info("peer transport lost", "peer_id", remotePeerID)
			m.CloseSession(remotePeerID)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection for %s: %w", remotePeerID, err)
	}

	s := &session{pc: pc, state: StateIdle}
	// Candidates that trickled in before this session existed.
	s.pending = m.pending[remotePeerID]
	delete(m.pending, remotePeerID)

	m.sessions[remotePeerID] = s
	return s, nil
}

func (m *Manager) closeSessionLocked(remotePeerID string, s *session) {
	delete(m.sessions, remotePeerID)
	if err := s.pc.Close(); err != nil {
		m.log.Debug("peer connection close", "peer_id", remotePeerID, "err", err)
	}
}

func (m *Manager) teardown(remotePeerID string, stage string, err error) {
	m.log.Error("negotiation failed", "peer_id", remotePeerID, "stage", stage, "err", err)
	m.CloseSession(remotePeerID)
}

func (m *Manager) applyCandidates(remotePeerID string, s *session, cs []protocol.ICECandidate) {
	for _, c := range cs {
		if err := s.pc.AddICECandidate(c); err != nil {
			m.log.Warn("buffered candidate apply failed", "peer_id", remotePeerID, "err", err)
		}
	}
}
