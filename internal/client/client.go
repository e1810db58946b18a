// Package client implements the websocket side of a conference participant:
// connecting, reconnecting, and dispatching server events to a Handler.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomcast/internal/protocol"
)

// ErrNotConnected reports a send attempted while the socket is down. The
// caller can retry after the next OnConnected.
var ErrNotConnected = errors.New("client: not connected")

// Handler receives server events, one method per message type. Methods are
// called from a single goroutine in wire order. Embed BaseHandler to pick
// only the events you care about.
type Handler interface {
	OnConnected(peerID string)
	OnDisconnected(err error)
	OnRoomParticipants(p protocol.RoomParticipants)
	OnUserJoined(u protocol.Participant)
	OnUserLeft(u protocol.Participant)
	OnRoomUpdated(u protocol.RoomUpdated)
	OnRoomsList(rooms []protocol.RoomSummary)
	OnOffer(senderPeerID string, offer protocol.SessionDescription)
	OnAnswer(senderPeerID string, answer protocol.SessionDescription)
	OnCandidate(senderPeerID string, c protocol.ICECandidate)
	OnChatMessage(msg protocol.ChatMessage)
	OnChatFile(msg protocol.ChatMessage)
	OnChatReaction(r protocol.ChatReaction)
	OnChatRating(r protocol.ChatRating)
	OnAudioToggled(e protocol.MediaToggled)
	OnVideoToggled(e protocol.MediaToggled)
	OnServerError(message string)
}

// BaseHandler is a no-op Handler for embedding.
type BaseHandler struct{}

func (BaseHandler) OnConnected(string)                           {}
func (BaseHandler) OnDisconnected(error)                         {}
func (BaseHandler) OnRoomParticipants(protocol.RoomParticipants) {}
func (BaseHandler) OnUserJoined(protocol.Participant)            {}
func (BaseHandler) OnUserLeft(protocol.Participant)              {}
func (BaseHandler) OnRoomUpdated(protocol.RoomUpdated)           {}
func (BaseHandler) OnRoomsList([]protocol.RoomSummary)           {}
func (BaseHandler) OnOffer(string, protocol.SessionDescription)  {}
func (BaseHandler) OnAnswer(string, protocol.SessionDescription) {}
func (BaseHandler) OnCandidate(string, protocol.ICECandidate)    {}
func (BaseHandler) OnChatMessage(protocol.ChatMessage)           {}
func (BaseHandler) OnChatFile(protocol.ChatMessage)              {}
func (BaseHandler) OnChatReaction(protocol.ChatReaction)         {}
func (BaseHandler) OnChatRating(protocol.ChatRating)             {}
func (BaseHandler) OnAudioToggled(protocol.MediaToggled)         {}
func (BaseHandler) OnVideoToggled(protocol.MediaToggled)         {}
func (BaseHandler) OnServerError(string)                         {}

const (
	// DefaultReconnectDelay is a fixed pause between reconnect attempts.
	// There is deliberately no backoff.
	DefaultReconnectDelay = 3 * time.Second

	DefaultPingInterval = 30 * time.Second
)

type Options struct {
	// URL of the signaling endpoint, e.g. ws://host:8080/ws.
	URL     string
	Handler Handler
	Logger  *slog.Logger

	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Client maintains one websocket to the signaling server, reconnecting with
// a fixed delay whenever it drops.
type Client struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	ws       *websocket.Conn
	writeMu  sync.Mutex
	peerID   string
	roomID   string
	userID   string
	userName string
}

func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("client: URL required")
	}
	if opts.Handler == nil {
		return nil, errors.New("client: Handler required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	return &Client{opts: opts, log: opts.Logger}, nil
}

// Run connects and keeps the session alive until ctx is cancelled,
// re-dialing after every failure.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.opts.Handler.OnDisconnected(err)
		c.log.Info("disconnected, reconnecting", "delay", c.opts.ReconnectDelay, "err", err)

		select {
		case <-time.After(c.opts.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) runSession(ctx context.Context) error {
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.peerID = ""
		c.mu.Unlock()
		ws.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(ctx, done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(protocol.Envelope{Type: protocol.TypePing}); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dispatch(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.log.Warn("bad server envelope", "err", err)
		return
	}
	h := c.opts.Handler

	switch env.Type {
	case protocol.TypeConnection:
		c.mu.Lock()
		c.peerID = env.PeerID
		roomID, userID, userName := c.roomID, c.userID, c.userName
		c.mu.Unlock()
		h.OnConnected(env.PeerID)
		// Rejoin the room we were in before the connection dropped.
		if roomID != "" {
			if err := c.Join(roomID, userID, userName); err != nil {
				c.log.Warn("rejoin after reconnect failed", "room", roomID, "err", err)
			}
		}

	case protocol.TypePong:
		// Keepalive reply; nothing to do.

	case protocol.TypeRoomParticipants:
		var p protocol.RoomParticipants
		if c.decode(env, &p) {
			h.OnRoomParticipants(p)
		}

	case protocol.TypeUserJoined:
		var u protocol.Participant
		if c.decode(env, &u) {
			h.OnUserJoined(u)
		}

	case protocol.TypeUserLeft:
		var u protocol.Participant
		if c.decode(env, &u) {
			h.OnUserLeft(u)
		}

	case protocol.TypeRoomUpdated:
		var u protocol.RoomUpdated
		if c.decode(env, &u) {
			h.OnRoomUpdated(u)
		}

	case protocol.TypeRoomsList:
		var rooms []protocol.RoomSummary
		if c.decode(env, &rooms) {
			h.OnRoomsList(rooms)
		}

	case protocol.TypeOffer:
		var m protocol.OfferForward
		if c.decode(env, &m) {
			h.OnOffer(m.SenderPeerID, m.Offer)
		}

	case protocol.TypeAnswer:
		var m protocol.AnswerForward
		if c.decode(env, &m) {
			h.OnAnswer(m.SenderPeerID, m.Answer)
		}

	case protocol.TypeCandidate:
		var m protocol.CandidateForward
		if c.decode(env, &m) {
			h.OnCandidate(m.SenderPeerID, m.Candidate)
		}

	case protocol.TypeChatSend:
		var m protocol.ChatMessage
		if c.decode(env, &m) {
			h.OnChatMessage(m)
		}

	case protocol.TypeChatFile:
		var m protocol.ChatMessage
		if c.decode(env, &m) {
			h.OnChatFile(m)
		}

	case protocol.TypeChatReaction:
		var m protocol.ChatReaction
		if c.decode(env, &m) {
			h.OnChatReaction(m)
		}

	case protocol.TypeChatRating:
		var m protocol.ChatRating
		if c.decode(env, &m) {
			h.OnChatRating(m)
		}

	case protocol.TypeAudioToggled:
		var m protocol.MediaToggled
		if c.decode(env, &m) {
			h.OnAudioToggled(m)
		}

	case protocol.TypeVideoToggled:
		var m protocol.MediaToggled
		if c.decode(env, &m) {
			h.OnVideoToggled(m)
		}

	case protocol.TypeError:
		var m protocol.ErrorPayload
		if c.decode(env, &m) {
			h.OnServerError(m.Message)
		}

	default:
		// A newer server may emit types we do not know; skip them.
		c.log.Debug("unhandled server message", "type", env.Type)
	}
}

func (c *Client) decode(env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		c.log.Warn("bad server payload", "type", env.Type, "err", err)
		return false
	}
	return true
}

// PeerID returns the id assigned by the server, empty while disconnected.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// RoomID returns the room last joined, empty after Leave.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) send(env protocol.Envelope) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Join enters a room, remembering it for automatic rejoin on reconnect.
func (c *Client) Join(roomID, userID, userName string) error {
	c.mu.Lock()
	c.roomID, c.userID, c.userName = roomID, userID, userName
	c.mu.Unlock()
	return c.send(protocol.NewEnvelope(protocol.TypeJoinRoom, protocol.JoinRoom{
		RoomID: roomID, UserID: userID, UserName: userName,
	}))
}

func (c *Client) Leave() error {
	c.mu.Lock()
	roomID := c.roomID
	c.roomID = ""
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return c.send(protocol.NewEnvelope(protocol.TypeLeaveRoom, protocol.LeaveRoom{RoomID: roomID}))
}

func (c *Client) RequestRooms() error {
	return c.send(protocol.Envelope{Type: protocol.TypeGetRooms})
}

func (c *Client) SendChat(text, userName string) error {
	return c.send(protocol.NewEnvelope(protocol.TypeChatSend, protocol.ChatSend{
		RoomID: c.RoomID(), Text: text, UserName: userName,
	}))
}

func (c *Client) SendChatFile(fileName, fileType string, fileSize int64, fileData, userName string) error {
	return c.send(protocol.NewEnvelope(protocol.TypeChatFile, protocol.ChatFileSend{
		RoomID: c.RoomID(), FileName: fileName, FileType: fileType,
		FileSize: fileSize, FileData: fileData, UserName: userName,
	}))
}

func (c *Client) SendReaction(messageID, emoji, userName string) error {
	return c.send(protocol.NewEnvelope(protocol.TypeChatReaction, protocol.ChatReactionSend{
		RoomID: c.RoomID(), MessageID: messageID, Emoji: emoji, UserName: userName,
	}))
}

func (c *Client) SendRating(messageID, rating, userName string) error {
	return c.send(protocol.NewEnvelope(protocol.TypeChatRating, protocol.ChatRatingSend{
		RoomID: c.RoomID(), MessageID: messageID, Rating: rating, UserName: userName,
	}))
}

func (c *Client) ToggleAudio(enabled bool) error {
	return c.send(protocol.NewEnvelope(protocol.TypeToggleAudio, protocol.ToggleMedia{
		RoomID: c.RoomID(), Enabled: enabled,
	}))
}

func (c *Client) ToggleVideo(enabled bool) error {
	return c.send(protocol.NewEnvelope(protocol.TypeToggleVideo, protocol.ToggleMedia{
		RoomID: c.RoomID(), Enabled: enabled,
	}))
}

// SendOffer, SendAnswer and SendCandidate let the negotiation layer signal
// through this connection.

func (c *Client) SendOffer(targetPeerID string, offer protocol.SessionDescription) error {
	return c.send(protocol.NewEnvelope(protocol.TypeOffer, protocol.OfferSend{
		Offer: offer, TargetPeerID: targetPeerID, RoomID: c.RoomID(),
	}))
}

func (c *Client) SendAnswer(targetPeerID string, answer protocol.SessionDescription) error {
	return c.send(protocol.NewEnvelope(protocol.TypeAnswer, protocol.AnswerSend{
		Answer: answer, TargetPeerID: targetPeerID, RoomID: c.RoomID(),
	}))
}

func (c *Client) SendCandidate(targetPeerID string, cand protocol.ICECandidate) error {
	return c.send(protocol.NewEnvelope(protocol.TypeCandidate, protocol.CandidateSend{
		Candidate: cand, TargetPeerID: targetPeerID, RoomID: c.RoomID(),
	}))
}
