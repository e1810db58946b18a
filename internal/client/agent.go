package client

import (
	"log/slog"
	"sync"

	"roomcast/internal/cache"
	"roomcast/internal/protocol"
	"roomcast/internal/rtc"
)

// RemotePeer is the agent's view of another participant: identity plus the
// last announced media state. Peers start with both tracks enabled.
type RemotePeer struct {
	PeerID       string
	UserID       string
	UserName     string
	AudioEnabled bool
	VideoEnabled bool
}

// Agent glues the pieces of a participant together: it joins a room, opens a
// negotiation with every participant already present, answers offers from
// later joiners, and mirrors chat into the local cache.
//
// The joiner initiates: on receiving the participant list we offer to each
// member, while existing members wait for our offer.
type Agent struct {
	BaseHandler

	log    *slog.Logger
	client *Client
	rtc    *rtc.Manager
	store  *cache.Store

	userName string

	mu    sync.Mutex
	peers map[string]*RemotePeer
}

// NewAgent wires an Agent. The caller constructs the Client with the agent
// as its Handler afterwards via Bind, because the two reference each other.
func NewAgent(logger *slog.Logger, store *cache.Store, userName string) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		log:      logger,
		store:    store,
		userName: userName,
		peers:    make(map[string]*RemotePeer),
	}
}

// Bind attaches the websocket client and builds the negotiation manager on
// top of it.
func (a *Agent) Bind(c *Client, factory rtc.Factory) {
	a.client = c
	a.rtc = rtc.NewManager(a.log, factory, c)
}

// Peers returns a snapshot of the remote roster.
func (a *Agent) Peers() []RemotePeer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RemotePeer, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, *p)
	}
	return out
}

// CachedMessages returns the locally cached chat tail for the current room.
func (a *Agent) CachedMessages() []protocol.ChatMessage {
	if a.store == nil {
		return nil
	}
	return a.store.Messages()
}

// SendChat sends a text message and saves it to the cache immediately, not
// waiting for the debounce window.
func (a *Agent) SendChat(text string) error {
	return a.client.SendChat(text, a.userName)
}

func (a *Agent) OnConnected(peerID string) {
	a.log.Info("connected", "peer_id", peerID)
}

func (a *Agent) OnDisconnected(err error) {
	// Every negotiation rides the lost socket's peer ids; start over.
	a.rtc.CloseAll()
	a.mu.Lock()
	a.peers = make(map[string]*RemotePeer)
	a.mu.Unlock()
}

func (a *Agent) OnRoomParticipants(p protocol.RoomParticipants) {
	if a.store != nil {
		a.store.SetRoom(p.RoomID)
	}
	for _, member := range p.Participants {
		a.addPeer(member)
		if err := a.rtc.Connect(member.PeerID); err != nil {
			a.log.Warn("connect to participant failed", "peer_id", member.PeerID, "err", err)
		}
	}
}

func (a *Agent) OnUserJoined(u protocol.Participant) {
	// The joiner offers to us; we only track them until the offer arrives.
	a.addPeer(u)
	a.log.Info("user joined", "peer_id", u.PeerID, "user", u.UserName)
}

func (a *Agent) OnUserLeft(u protocol.Participant) {
	a.rtc.CloseSession(u.PeerID)
	a.mu.Lock()
	delete(a.peers, u.PeerID)
	a.mu.Unlock()
	a.log.Info("user left", "peer_id", u.PeerID, "user", u.UserName)
}

func (a *Agent) OnOffer(senderPeerID string, offer protocol.SessionDescription) {
	if err := a.rtc.HandleOffer(senderPeerID, offer); err != nil {
		a.log.Warn("offer handling failed", "peer_id", senderPeerID, "err", err)
	}
}

func (a *Agent) OnAnswer(senderPeerID string, answer protocol.SessionDescription) {
	if err := a.rtc.HandleAnswer(senderPeerID, answer); err != nil {
		a.log.Warn("answer handling failed", "peer_id", senderPeerID, "err", err)
	}
}

func (a *Agent) OnCandidate(senderPeerID string, c protocol.ICECandidate) {
	a.rtc.HandleCandidate(senderPeerID, c)
}

func (a *Agent) OnChatMessage(msg protocol.ChatMessage) {
	a.cacheMessage(msg)
}

func (a *Agent) OnChatFile(msg protocol.ChatMessage) {
	a.cacheMessage(msg)
}

func (a *Agent) OnChatReaction(r protocol.ChatReaction) {
	if a.store != nil {
		a.store.AddReaction(r)
	}
}

func (a *Agent) OnChatRating(r protocol.ChatRating) {
	if a.store != nil {
		a.store.SetRating(r)
	}
}

func (a *Agent) OnAudioToggled(e protocol.MediaToggled) {
	a.setMedia(e.PeerID, func(p *RemotePeer) { p.AudioEnabled = e.Enabled })
}

func (a *Agent) OnVideoToggled(e protocol.MediaToggled) {
	a.setMedia(e.PeerID, func(p *RemotePeer) { p.VideoEnabled = e.Enabled })
}

func (a *Agent) OnServerError(message string) {
	a.log.Warn("server error", "message", message)
}

func (a *Agent) cacheMessage(msg protocol.ChatMessage) {
	if a.store == nil {
		return
	}
	// Our own messages are persisted right away; remote traffic can ride the
	// debounce window.
	a.store.Add(msg, msg.PeerID == a.client.PeerID())
}

func (a *Agent) addPeer(u protocol.Participant) {
	a.mu.Lock()
	if _, ok := a.peers[u.PeerID]; !ok {
		a.peers[u.PeerID] = &RemotePeer{
			PeerID:       u.PeerID,
			UserID:       u.UserID,
			UserName:     u.UserName,
			AudioEnabled: true,
			VideoEnabled: true,
		}
	}
	a.mu.Unlock()
}

func (a *Agent) setMedia(peerID string, update func(*RemotePeer)) {
	a.mu.Lock()
	if p, ok := a.peers[peerID]; ok {
		update(p)
	}
	a.mu.Unlock()
}
