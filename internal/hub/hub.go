// Package hub owns the server-side connection registry, the room directory
// and the broadcast/point-to-point relay that moves signaling and chat
// envelopes between participants.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/jaevor/go-nanoid"

	"roomcast/internal/chat"
	"roomcast/internal/metrics"
	"roomcast/internal/protocol"
)

// Outbound is the delivery side of one registered connection. Enqueue must
// not block; a failed enqueue marks the connection dead and triggers an
// implicit leave.
type Outbound interface {
	Enqueue(data []byte) error
	Close()
}

const connIDLength = 12

// Options carries the hub limits; zero values select the documented defaults
// (100 history entries, 10 MiB files).
type Options struct {
	ChatHistoryLimit int
	MaxFileBytes     int64
}

func (o Options) withDefaults() Options {
	if o.ChatHistoryLimit <= 0 {
		o.ChatHistoryLimit = 100
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = 10 << 20
	}
	return o
}

// Hub serializes all registry and room mutation behind one mutex. Outbound
// deliveries are computed under the lock but enqueued after it is released,
// so a dead connection discovered mid-broadcast can be removed through the
// normal leave path without re-entering a held lock.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options

	newConnID func() string
	now       func() time.Time

	mu       sync.Mutex
	conns    map[string]Outbound
	users    map[string]protocol.Participant
	connRoom map[string]string
	rooms    map[string]*room
}

func New(logger *slog.Logger, m *metrics.Metrics, opts Options) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	newConnID, err := gonanoid.Standard(connIDLength)
	if err != nil {
		return nil, fmt.Errorf("hub: init connection id generator: %w", err)
	}
	return &Hub{
		log:       logger,
		metrics:   m,
		opts:      opts.withDefaults(),
		newConnID: newConnID,
		now:       time.Now,
		conns:     make(map[string]Outbound),
		users:     make(map[string]protocol.Participant),
		connRoom:  make(map[string]string),
		rooms:     make(map[string]*room),
	}, nil
}

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Register adds a live connection to the registry, greets it with its peer id
// and returns that id.
func (h *Hub) Register(out Outbound) string {
	id := h.newConnID()

	h.mu.Lock()
	h.conns[id] = out
	h.mu.Unlock()

	h.log.Info("connection registered", "peer_id", id)
	h.sendTo(id, protocol.Envelope{
		Type:   protocol.TypeConnection,
		Status: "connected",
		PeerID: id,
	})
	return id
}

// Disconnect removes a connection entirely: an implicit leave from its room
// followed by registry cleanup. Safe to call repeatedly.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	out, registered := h.conns[connID]
	var ds []delivery
	if roomID, ok := h.connRoom[connID]; ok {
		h.leaveLocked(connID, roomID, &ds)
	}
	delete(h.conns, connID)
	delete(h.users, connID)
	h.mu.Unlock()

	if registered {
		h.log.Info("connection unregistered", "peer_id", connID)
		out.Close()
	}
	h.flush(ds)
}

// HandleMessage decodes and dispatches one inbound envelope from connID.
//
// Error taxonomy: a malformed envelope gets a generic error reply; a payload
// missing required fields is logged and dropped; an unknown tag is rejected
// with an explicit error reply.
func (h *Hub) HandleMessage(connID string, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		h.metrics.Inc(metrics.BadEnvelope)
		h.log.Warn("malformed envelope", "peer_id", connID, "err", err)
		h.sendError(connID, "failed to process message")
		return
	}

	msg, err := protocol.DecodeClientMessage(env)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			h.metrics.Inc(metrics.UnknownMessageType)
			h.log.Warn("unknown message type", "peer_id", connID, "type", env.Type)
			h.sendError(connID, fmt.Sprintf("unknown message type %q", env.Type))
			return
		}
		h.metrics.Inc(metrics.InvalidPayload)
		h.log.Warn("invalid payload", "peer_id", connID, "type", env.Type, "err", err)
		return
	}

	switch m := msg.(type) {
	case protocol.JoinRoom:
		h.JoinRoom(connID, m)
	case protocol.LeaveRoom:
		h.LeaveRoom(connID, m.RoomID)
	case protocol.GetRooms:
		h.sendTo(connID, protocol.NewEnvelope(protocol.TypeRoomsList, h.RoomList()))
	case protocol.Ping:
		h.sendTo(connID, protocol.Envelope{Type: protocol.TypePong, Timestamp: h.now().UnixMilli()})
	case protocol.ToggleMedia:
		forwardType := protocol.TypeAudioToggled
		if env.Type == protocol.TypeToggleVideo {
			forwardType = protocol.TypeVideoToggled
		}
		h.Broadcast(m.RoomID, protocol.NewEnvelope(forwardType, protocol.MediaToggled{
			PeerID:  connID,
			Enabled: m.Enabled,
		}), connID)
	case protocol.OfferSend:
		h.RelayDirect(m.TargetPeerID, protocol.NewEnvelope(protocol.TypeOffer, protocol.OfferForward{
			Offer:        m.Offer,
			SenderPeerID: connID,
		}))
	case protocol.AnswerSend:
		h.RelayDirect(m.TargetPeerID, protocol.NewEnvelope(protocol.TypeAnswer, protocol.AnswerForward{
			Answer:       m.Answer,
			SenderPeerID: connID,
		}))
	case protocol.CandidateSend:
		h.RelayDirect(m.TargetPeerID, protocol.NewEnvelope(protocol.TypeCandidate, protocol.CandidateForward{
			Candidate:    m.Candidate,
			SenderPeerID: connID,
		}))
	case protocol.ChatSend:
		h.handleChatText(connID, m)
	case protocol.ChatFileSend:
		h.handleChatFile(connID, m)
	case protocol.ChatReactionSend:
		h.handleChatReaction(connID, m)
	case protocol.ChatRatingSend:
		h.handleChatRating(connID, m)
	}
}

// JoinRoom registers connID in the requested room, moving it out of any
// previous room first. Re-joining the current room only re-sends the
// participant list.
func (h *Hub) JoinRoom(connID string, req protocol.JoinRoom) {
	h.mu.Lock()

	if _, ok := h.conns[connID]; !ok {
		h.mu.Unlock()
		return
	}

	var ds []delivery

	if current, ok := h.connRoom[connID]; ok {
		if current == req.RoomID {
			// Idempotent re-join: no re-add, no re-broadcast.
			if r, ok := h.rooms[current]; ok {
				h.queueTo(connID, protocol.NewEnvelope(protocol.TypeRoomParticipants, protocol.RoomParticipants{
					RoomID:       current,
					Participants: r.participantsExcept(connID),
				}), &ds)
			}
			h.mu.Unlock()
			h.flush(ds)
			return
		}
		h.leaveLocked(connID, current, &ds)
	}

	r, ok := h.rooms[req.RoomID]
	if !ok {
		r = &room{
			id:           req.RoomID,
			participants: make(map[string]protocol.Participant),
			history:      chat.NewHistory(h.opts.ChatHistoryLimit, h.opts.MaxFileBytes),
		}
		h.rooms[req.RoomID] = r
		h.metrics.Inc(metrics.RoomsCreated)
	}

	user := protocol.Participant{
		UserID:   req.UserID,
		UserName: req.UserName,
		PeerID:   connID,
	}
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	if user.UserName == "" {
		user.UserName = "User " + shortID(connID)
	}

	r.participants[connID] = user
	h.connRoom[connID] = req.RoomID
	h.users[connID] = user

	h.queueBroadcast(r, protocol.NewEnvelope(protocol.TypeUserJoined, user), connID, &ds)
	h.queueTo(connID, protocol.NewEnvelope(protocol.TypeRoomParticipants, protocol.RoomParticipants{
		RoomID:       req.RoomID,
		Participants: r.participantsExcept(connID),
	}), &ds)
	h.queueBroadcast(r, protocol.NewEnvelope(protocol.TypeRoomUpdated, protocol.RoomUpdated{
		RoomID:            req.RoomID,
		ParticipantsCount: r.count(),
	}), "", &ds)

	h.mu.Unlock()

	h.log.Info("user joined room", "peer_id", connID, "room", req.RoomID, "user", user.UserName)
	h.flush(ds)
}

// LeaveRoom removes connID from roomID. No-op if it is not a member.
func (h *Hub) LeaveRoom(connID, roomID string) {
	h.mu.Lock()
	var ds []delivery
	h.leaveLocked(connID, roomID, &ds)
	h.mu.Unlock()
	h.flush(ds)
}

// RoomList returns a snapshot of every room and its member count, sorted by
// room id. Discovery is unauthenticated and unfiltered.
func (h *Hub) RoomList() []protocol.RoomSummary {
	h.mu.Lock()
	out := make([]protocol.RoomSummary, 0, len(h.rooms))
	for id, r := range h.rooms {
		out = append(out, protocol.RoomSummary{ID: id, ParticipantsCount: r.count()})
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Broadcast serializes env once and delivers it to a snapshot of the room's
// members, minus excludeConnID. Members that fail delivery are removed via
// the leave path after the snapshot is taken.
func (h *Hub) Broadcast(roomID string, env protocol.Envelope, excludeConnID string) {
	h.mu.Lock()
	var ds []delivery
	if r, ok := h.rooms[roomID]; ok {
		h.queueBroadcast(r, env, excludeConnID, &ds)
	}
	h.mu.Unlock()
	h.flush(ds)
}

// RelayDirect delivers env to one connection by id, independent of room
// membership. Unknown targets are logged and dropped; the sender is not told.
func (h *Hub) RelayDirect(targetConnID string, env protocol.Envelope) {
	h.mu.Lock()
	out, ok := h.conns[targetConnID]
	h.mu.Unlock()

	if !ok {
		h.metrics.Inc(metrics.RelayTargetMissing)
		h.log.Warn("relay target not found", "target_peer_id", targetConnID, "type", env.Type)
		return
	}

	data, err := protocol.Marshal(env)
	if err != nil {
		h.log.Error("marshal relay envelope", "type", env.Type, "err", err)
		return
	}
	h.metrics.Inc(metrics.MessagesRelayed)
	if err := out.Enqueue(data); err != nil {
		h.dropConn(targetConnID)
	}
}

func (h *Hub) handleChatText(connID string, m protocol.ChatSend) {
	h.mu.Lock()
	r, ok := h.rooms[m.RoomID]
	user, userOK := h.users[connID]
	h.mu.Unlock()
	if !ok || !userOK {
		h.log.Warn("chat message for unknown room or user", "peer_id", connID, "room", m.RoomID)
		return
	}

	msg := protocol.ChatMessage{
		ID:        h.messageID(connID),
		RoomID:    m.RoomID,
		PeerID:    connID,
		UserName:  senderName(user, m.UserName),
		Text:      m.Text,
		Timestamp: h.now().UnixMilli(),
		Reactions: []protocol.ChatReaction{},
	}
	if err := r.history.Append(msg); err != nil {
		h.log.Warn("chat message rejected", "peer_id", connID, "err", err)
		return
	}
	h.Broadcast(m.RoomID, protocol.NewEnvelope(protocol.TypeChatSend, msg), "")
}

func (h *Hub) handleChatFile(connID string, m protocol.ChatFileSend) {
	h.mu.Lock()
	r, ok := h.rooms[m.RoomID]
	user, userOK := h.users[connID]
	h.mu.Unlock()
	if !ok || !userOK {
		h.log.Warn("chat file for unknown room or user", "peer_id", connID, "room", m.RoomID)
		return
	}

	msg := protocol.ChatMessage{
		ID:        h.messageID(connID),
		RoomID:    m.RoomID,
		PeerID:    connID,
		UserName:  senderName(user, m.UserName),
		FileName:  m.FileName,
		FileType:  m.FileType,
		FileSize:  m.FileSize,
		FileData:  m.FileData,
		Timestamp: h.now().UnixMilli(),
		Reactions: []protocol.ChatReaction{},
	}
	if err := r.history.Append(msg); err != nil {
		if errors.Is(err, chat.ErrFileTooLarge) {
			// The one validation failure that is reported back to the sender.
			h.metrics.Inc(metrics.FileRejected)
			h.sendError(connID, fmt.Sprintf("file too large: limit is %d bytes", h.opts.MaxFileBytes))
			return
		}
		h.log.Warn("chat file rejected", "peer_id", connID, "err", err)
		return
	}
	h.Broadcast(m.RoomID, protocol.NewEnvelope(protocol.TypeChatFile, msg), "")
}

func (h *Hub) handleChatReaction(connID string, m protocol.ChatReactionSend) {
	h.mu.Lock()
	r, ok := h.rooms[m.RoomID]
	user, userOK := h.users[connID]
	h.mu.Unlock()
	if !ok || !userOK {
		h.log.Warn("chat reaction for unknown room or user", "peer_id", connID, "room", m.RoomID)
		return
	}

	reaction := protocol.ChatReaction{
		MessageID: m.MessageID,
		PeerID:    connID,
		UserName:  senderName(user, m.UserName),
		Emoji:     m.Emoji,
		Timestamp: h.now().UnixMilli(),
	}
	if err := r.history.AddReaction(reaction); err != nil {
		h.log.Warn("chat reaction dropped", "peer_id", connID, "message_id", m.MessageID, "err", err)
		return
	}
	h.Broadcast(m.RoomID, protocol.NewEnvelope(protocol.TypeChatReaction, reaction), "")
}

func (h *Hub) handleChatRating(connID string, m protocol.ChatRatingSend) {
	h.mu.Lock()
	r, ok := h.rooms[m.RoomID]
	h.mu.Unlock()
	if !ok {
		h.log.Warn("chat rating for unknown room", "peer_id", connID, "room", m.RoomID)
		return
	}

	rating, err := r.history.AddRating(m.MessageID, m.Rating == protocol.RatingLike)
	if err != nil {
		h.log.Warn("chat rating dropped", "peer_id", connID, "message_id", m.MessageID, "err", err)
		return
	}
	h.Broadcast(m.RoomID, protocol.NewEnvelope(protocol.TypeChatRating, rating), "")
}

// leaveLocked removes connID from roomID and queues the user-left and
// room-updated notifications. Deletes the room when it empties.
func (h *Hub) leaveLocked(connID, roomID string, ds *[]delivery) {
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	user, ok := r.participants[connID]
	if !ok {
		return
	}

	delete(r.participants, connID)
	delete(h.connRoom, connID)
	delete(h.users, connID)

	h.queueBroadcast(r, protocol.NewEnvelope(protocol.TypeUserLeft, user), "", ds)

	if r.count() == 0 {
		delete(h.rooms, roomID)
		h.metrics.Inc(metrics.RoomsDeleted)
		h.log.Info("room deleted", "room", roomID)
		return
	}
	h.queueBroadcast(r, protocol.NewEnvelope(protocol.TypeRoomUpdated, protocol.RoomUpdated{
		RoomID:            roomID,
		ParticipantsCount: r.count(),
	}), "", ds)
}

type delivery struct {
	connID string
	out    Outbound
	data   []byte
}

// queueBroadcast snapshots the room's members under the hub lock so later
// mutation cannot affect who receives this envelope.
func (h *Hub) queueBroadcast(r *room, env protocol.Envelope, excludeConnID string, ds *[]delivery) {
	data, err := protocol.Marshal(env)
	if err != nil {
		h.log.Error("marshal broadcast envelope", "type", env.Type, "err", err)
		return
	}
	for connID := range r.participants {
		if connID == excludeConnID {
			continue
		}
		if out, ok := h.conns[connID]; ok {
			*ds = append(*ds, delivery{connID: connID, out: out, data: data})
		}
	}
}

func (h *Hub) queueTo(connID string, env protocol.Envelope, ds *[]delivery) {
	out, ok := h.conns[connID]
	if !ok {
		return
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		h.log.Error("marshal envelope", "type", env.Type, "err", err)
		return
	}
	*ds = append(*ds, delivery{connID: connID, out: out, data: data})
}

// flush enqueues queued deliveries outside the hub lock. A failed enqueue
// drops that connection and skips its remaining deliveries in this batch.
func (h *Hub) flush(ds []delivery) {
	var dropped map[string]bool
	for _, d := range ds {
		if dropped[d.connID] {
			continue
		}
		if err := d.out.Enqueue(d.data); err != nil {
			if dropped == nil {
				dropped = make(map[string]bool)
			}
			dropped[d.connID] = true
			h.dropConn(d.connID)
		}
	}
}

// dropConn treats a failed delivery as an implicit disconnect. The sender of
// the original message is never told.
func (h *Hub) dropConn(connID string) {
	h.metrics.Inc(metrics.SendFailure)
	h.log.Warn("send failed, dropping connection", "peer_id", connID)
	h.Disconnect(connID)
}

func (h *Hub) sendTo(connID string, env protocol.Envelope) {
	h.mu.Lock()
	var ds []delivery
	h.queueTo(connID, env, &ds)
	h.mu.Unlock()
	h.flush(ds)
}

func (h *Hub) sendError(connID, message string) {
	h.sendTo(connID, protocol.NewEnvelope(protocol.TypeError, protocol.ErrorPayload{Message: message}))
}

func (h *Hub) messageID(connID string) string {
	return fmt.Sprintf("%s-%d", connID, h.now().UnixMilli())
}

func senderName(user protocol.Participant, fallback string) string {
	if user.UserName != "" {
		return user.UserName
	}
	return fallback
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
