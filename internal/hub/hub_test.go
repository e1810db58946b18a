package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"roomcast/internal/metrics"
	"roomcast/internal/protocol"
)

// fakeOutbound records every envelope delivered to it. It can be told to
// fail after a number of successful enqueues to exercise the drop path.
type fakeOutbound struct {
	mu        sync.Mutex
	envelopes []protocol.Envelope
	failAfter int // -1 = never fail
	sent      int
	closed    bool
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{failAfter: -1}
}

func (f *fakeOutbound) Enqueue(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.sent >= f.failAfter {
		return errors.New("enqueue refused")
	}
	f.sent++
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic("undecodable envelope delivered: " + err.Error())
	}
	f.envelopes = append(f.envelopes, env)
	return nil
}

func (f *fakeOutbound) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeOutbound) received(t protocol.MessageType) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.envelopes {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeOutbound) count(t protocol.MessageType) int { return len(f.received(t)) }

func (f *fakeOutbound) last(t *testing.T, typ protocol.MessageType) protocol.Envelope {
	t.Helper()
	envs := f.received(typ)
	if len(envs) == 0 {
		t.Fatalf("no %q envelope received", typ)
	}
	return envs[len(envs)-1]
}

func decodePayload[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %q payload: %v", env.Type, err)
	}
	return v
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h, err := New(nil, metrics.New(), Options{ChatHistoryLimit: 100, MaxFileBytes: 10 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.UnixMilli(1700000000000)
	h.now = func() time.Time { return now }
	return h
}

func join(h *Hub, connID, roomID, name string) {
	h.JoinRoom(connID, protocol.JoinRoom{RoomID: roomID, UserName: name})
}

func TestRegister_SendsGreeting(t *testing.T) {
	h := newTestHub(t)
	out := newFakeOutbound()

	id := h.Register(out)
	if id == "" {
		t.Fatalf("empty connection id")
	}

	greeting := out.last(t, protocol.TypeConnection)
	if greeting.Status != "connected" || greeting.PeerID != id {
		t.Fatalf("greeting = %+v, want status=connected peerId=%s", greeting, id)
	}
	if len(greeting.Payload) != 0 {
		t.Fatalf("greeting should carry top-level fields, got payload %s", greeting.Payload)
	}
}

func TestJoinRoom_NotifiesRoomAndJoiner(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)

	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	// alice hears about bob joining; bob does not hear about himself.
	joined := decodePayload[protocol.Participant](t, a.last(t, protocol.TypeUserJoined))
	if joined.PeerID != bID || joined.UserName != "bob" {
		t.Fatalf("user-joined = %+v", joined)
	}
	if b.count(protocol.TypeUserJoined) != 0 {
		t.Fatalf("joiner received its own user-joined")
	}

	// bob's participant list holds exactly alice.
	plist := decodePayload[protocol.RoomParticipants](t, b.last(t, protocol.TypeRoomParticipants))
	if plist.RoomID != "room1" || len(plist.Participants) != 1 || plist.Participants[0].PeerID != aID {
		t.Fatalf("room-participants = %+v", plist)
	}

	// Both get the updated count.
	for _, out := range []*fakeOutbound{a, b} {
		upd := decodePayload[protocol.RoomUpdated](t, out.last(t, protocol.TypeRoomUpdated))
		if upd.ParticipantsCount != 2 {
			t.Fatalf("room-updated count = %d, want 2", upd.ParticipantsCount)
		}
	}
}

func TestJoinRoom_GeneratesUserIdentity(t *testing.T) {
	h := newTestHub(t)
	a := newFakeOutbound()
	aID := h.Register(a)
	b := newFakeOutbound()
	bID := h.Register(b)
	join(h, aID, "room1", "alice")

	h.JoinRoom(bID, protocol.JoinRoom{RoomID: "room1"})

	joined := decodePayload[protocol.Participant](t, a.last(t, protocol.TypeUserJoined))
	if joined.UserID == "" {
		t.Fatalf("expected a generated userId")
	}
	want := "User " + bID[:6]
	if joined.UserName != want {
		t.Fatalf("userName = %q, want %q", joined.UserName, want)
	}
}

func TestJoinRoom_IdempotentRejoin(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	joinedBefore := a.count(protocol.TypeUserJoined)
	join(h, bID, "room1", "bob")

	if got := a.count(protocol.TypeUserJoined); got != joinedBefore {
		t.Fatalf("re-join re-broadcast user-joined (%d -> %d)", joinedBefore, got)
	}
	plist := decodePayload[protocol.RoomParticipants](t, b.last(t, protocol.TypeRoomParticipants))
	if len(plist.Participants) != 1 {
		t.Fatalf("re-join participant list = %+v", plist.Participants)
	}
	if n := h.RoomList()[0].ParticipantsCount; n != 2 {
		t.Fatalf("count after re-join = %d, want 2", n)
	}
}

func TestJoinRoom_SwitchRoomsLeavesOldRoom(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	join(h, bID, "room2", "bob")

	left := decodePayload[protocol.Participant](t, a.last(t, protocol.TypeUserLeft))
	if left.PeerID != bID {
		t.Fatalf("user-left = %+v", left)
	}
	rooms := h.RoomList()
	if len(rooms) != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
	for _, r := range rooms {
		if r.ParticipantsCount != 1 {
			t.Fatalf("room %s count = %d, want 1", r.ID, r.ParticipantsCount)
		}
	}
}

func TestLeaveRoom_LastMemberDeletesRoom(t *testing.T) {
	h := newTestHub(t)
	a := newFakeOutbound()
	aID := h.Register(a)
	join(h, aID, "room1", "alice")

	h.LeaveRoom(aID, "room1")

	if len(h.RoomList()) != 0 {
		t.Fatalf("room survived its last member")
	}
	if h.Metrics().Get(metrics.RoomsCreated) != 1 || h.Metrics().Get(metrics.RoomsDeleted) != 1 {
		t.Fatalf("room lifecycle counters = %d/%d",
			h.Metrics().Get(metrics.RoomsCreated), h.Metrics().Get(metrics.RoomsDeleted))
	}

	// Leaving a room you are not in is a no-op.
	h.LeaveRoom(aID, "room1")
}

func TestDisconnect_ImplicitLeave(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	h.Disconnect(bID)

	if !b.closed {
		t.Fatalf("disconnected outbound not closed")
	}
	left := decodePayload[protocol.Participant](t, a.last(t, protocol.TypeUserLeft))
	if left.PeerID != bID {
		t.Fatalf("user-left = %+v", left)
	}
	upd := decodePayload[protocol.RoomUpdated](t, a.last(t, protocol.TypeRoomUpdated))
	if upd.ParticipantsCount != 1 {
		t.Fatalf("room-updated count = %d, want 1", upd.ParticipantsCount)
	}

	// Idempotent.
	h.Disconnect(bID)
}

func TestBroadcast_FailedRecipientIsRemoved(t *testing.T) {
	h := newTestHub(t)
	a, b, c := newFakeOutbound(), newFakeOutbound(), newFakeOutbound()
	aID, bID, cID := h.Register(a), h.Register(b), h.Register(c)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")
	join(h, cID, "room1", "carol")

	b.mu.Lock()
	b.failAfter = b.sent // every further enqueue fails
	b.mu.Unlock()

	h.Broadcast("room1", protocol.NewEnvelope(protocol.TypeRoomUpdated, protocol.RoomUpdated{
		RoomID: "room1", ParticipantsCount: 3,
	}), "")

	// bob is gone: the survivors heard he left and the room counts 2.
	left := decodePayload[protocol.Participant](t, a.last(t, protocol.TypeUserLeft))
	if left.PeerID != bID {
		t.Fatalf("user-left = %+v", left)
	}
	if n := h.RoomList()[0].ParticipantsCount; n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if !b.closed {
		t.Fatalf("failed outbound not closed")
	}
	if h.Metrics().Get(metrics.SendFailure) == 0 {
		t.Fatalf("send failure not counted")
	}

	// carol still got the original broadcast.
	if c.count(protocol.TypeRoomUpdated) == 0 {
		t.Fatalf("healthy recipient missed the broadcast")
	}
}

func TestRelayDirect_RewritesSender(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	raw := fmt.Sprintf(`{"type":"webrtc-offer","payload":{"offer":{"type":"offer","sdp":"v=0"},"targetPeerId":%q,"roomId":"room1"}}`, bID)
	h.HandleMessage(aID, []byte(raw))

	env := b.last(t, protocol.TypeOffer)
	fwd := decodePayload[protocol.OfferForward](t, env)
	if fwd.SenderPeerID != aID {
		t.Fatalf("senderPeerId = %q, want %q", fwd.SenderPeerID, aID)
	}
	if fwd.Offer.SDP != "v=0" {
		t.Fatalf("offer not forwarded intact: %+v", fwd.Offer)
	}
	// The target field must not leak into the forwarded form.
	if json.Valid(env.Payload) {
		var m map[string]json.RawMessage
		json.Unmarshal(env.Payload, &m)
		if _, ok := m["targetPeerId"]; ok {
			t.Fatalf("forwarded offer still carries targetPeerId")
		}
	}
	// a receives nothing back.
	if a.count(protocol.TypeOffer) != 0 || a.count(protocol.TypeError) != 0 {
		t.Fatalf("sender received unexpected envelopes")
	}
}

func TestRelayDirect_UnknownTargetDropped(t *testing.T) {
	h := newTestHub(t)
	a := newFakeOutbound()
	aID := h.Register(a)
	join(h, aID, "room1", "alice")

	raw := `{"type":"webrtc-ice-candidate","payload":{"candidate":{"candidate":"candidate:1","sdpMLineIndex":0,"sdpMid":"0"},"targetPeerId":"ghost","roomId":"room1"}}`
	h.HandleMessage(aID, []byte(raw))

	if h.Metrics().Get(metrics.RelayTargetMissing) != 1 {
		t.Fatalf("missing target not counted")
	}
	if a.count(protocol.TypeError) != 0 {
		t.Fatalf("sender was told about the missing target")
	}
}

func TestHandleMessage_ErrorTaxonomy(t *testing.T) {
	h := newTestHub(t)
	a := newFakeOutbound()
	aID := h.Register(a)

	// Malformed envelope: generic error reply.
	h.HandleMessage(aID, []byte(`{not json`))
	if a.count(protocol.TypeError) != 1 {
		t.Fatalf("malformed envelope did not produce an error reply")
	}
	if h.Metrics().Get(metrics.BadEnvelope) != 1 {
		t.Fatalf("bad envelope not counted")
	}

	// Unknown type: explicit error reply naming the tag.
	h.HandleMessage(aID, []byte(`{"type":"make-coffee"}`))
	errs := a.received(protocol.TypeError)
	if len(errs) != 2 {
		t.Fatalf("unknown type did not produce an error reply")
	}
	p := decodePayload[protocol.ErrorPayload](t, errs[1])
	if p.Message == "" {
		t.Fatalf("error reply has no message")
	}

	// Missing required field: logged and dropped, no reply.
	h.HandleMessage(aID, []byte(`{"type":"join-room","payload":{}}`))
	if a.count(protocol.TypeError) != 2 {
		t.Fatalf("invalid payload produced a reply")
	}
	if h.Metrics().Get(metrics.InvalidPayload) != 1 {
		t.Fatalf("invalid payload not counted")
	}
}

func TestHandleMessage_PingPong(t *testing.T) {
	h := newTestHub(t)
	a := newFakeOutbound()
	aID := h.Register(a)

	h.HandleMessage(aID, []byte(`{"type":"ping"}`))

	pong := a.last(t, protocol.TypePong)
	if pong.Timestamp != h.now().UnixMilli() {
		t.Fatalf("pong timestamp = %d", pong.Timestamp)
	}
}

func TestHandleMessage_MediaToggleForwarded(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	h.HandleMessage(aID, []byte(`{"type":"toggle-audio","payload":{"roomId":"room1","enabled":false}}`))
	h.HandleMessage(aID, []byte(`{"type":"toggle-video","payload":{"roomId":"room1","enabled":true}}`))

	audio := decodePayload[protocol.MediaToggled](t, b.last(t, protocol.TypeAudioToggled))
	if audio.PeerID != aID || audio.Enabled {
		t.Fatalf("audio toggle = %+v", audio)
	}
	video := decodePayload[protocol.MediaToggled](t, b.last(t, protocol.TypeVideoToggled))
	if video.PeerID != aID || !video.Enabled {
		t.Fatalf("video toggle = %+v", video)
	}
	// Sender excluded.
	if a.count(protocol.TypeAudioToggled) != 0 || a.count(protocol.TypeVideoToggled) != 0 {
		t.Fatalf("sender received its own toggle")
	}
}

func TestChat_TextBroadcastIncludesSender(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	h.HandleMessage(aID, []byte(`{"type":"chat-message","payload":{"roomId":"room1","text":"hello","userName":"alice"}}`))

	for _, out := range []*fakeOutbound{a, b} {
		msg := decodePayload[protocol.ChatMessage](t, out.last(t, protocol.TypeChatSend))
		if msg.Text != "hello" || msg.PeerID != aID || msg.UserName != "alice" {
			t.Fatalf("chat message = %+v", msg)
		}
		want := fmt.Sprintf("%s-%d", aID, h.now().UnixMilli())
		if msg.ID != want {
			t.Fatalf("message id = %q, want %q", msg.ID, want)
		}
	}
}

func TestChat_OversizedFileRejectedToSenderOnly(t *testing.T) {
	h := newTestHub(t)
	h.opts.MaxFileBytes = 1024
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	raw := `{"type":"chat-file","payload":{"roomId":"room1","fileName":"big.bin","fileType":"application/octet-stream","fileSize":2048,"fileData":"AAAA","userName":"alice"}}`
	h.HandleMessage(aID, []byte(raw))

	if a.count(protocol.TypeError) != 1 {
		t.Fatalf("sender not told about the oversized file")
	}
	if b.count(protocol.TypeChatFile) != 0 {
		t.Fatalf("oversized file was broadcast")
	}
	if h.Metrics().Get(metrics.FileRejected) != 1 {
		t.Fatalf("rejection not counted")
	}

	ok := `{"type":"chat-file","payload":{"roomId":"room1","fileName":"ok.txt","fileType":"text/plain","fileSize":10,"fileData":"aGVsbG8=","userName":"alice"}}`
	h.HandleMessage(aID, []byte(ok))
	msg := decodePayload[protocol.ChatMessage](t, b.last(t, protocol.TypeChatFile))
	if !msg.IsFile() || msg.FileName != "ok.txt" {
		t.Fatalf("file message = %+v", msg)
	}
}

func TestChat_ReactionAndRatingBroadcast(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "room1", "alice")
	join(h, bID, "room1", "bob")

	h.HandleMessage(aID, []byte(`{"type":"chat-message","payload":{"roomId":"room1","text":"rate me","userName":"alice"}}`))
	msgID := decodePayload[protocol.ChatMessage](t, a.last(t, protocol.TypeChatSend)).ID

	react := fmt.Sprintf(`{"type":"chat-reaction","payload":{"roomId":"room1","messageId":%q,"emoji":"🎉","userName":"bob"}}`, msgID)
	h.HandleMessage(bID, []byte(react))
	reaction := decodePayload[protocol.ChatReaction](t, a.last(t, protocol.TypeChatReaction))
	if reaction.MessageID != msgID || reaction.Emoji != "🎉" || reaction.PeerID != bID {
		t.Fatalf("reaction = %+v", reaction)
	}

	rate := fmt.Sprintf(`{"type":"chat-rating","payload":{"roomId":"room1","messageId":%q,"rating":"like","userName":"bob"}}`, msgID)
	h.HandleMessage(bID, []byte(rate))
	h.HandleMessage(bID, []byte(rate))
	rating := decodePayload[protocol.ChatRating](t, a.last(t, protocol.TypeChatRating))
	if rating.Likes != 2 || rating.Dislikes != 0 {
		t.Fatalf("rating = %+v (votes are not deduplicated)", rating)
	}

	// Reaction for an unknown message is dropped silently.
	h.HandleMessage(bID, []byte(`{"type":"chat-reaction","payload":{"roomId":"room1","messageId":"nope","emoji":"x","userName":"bob"}}`))
	if b.count(protocol.TypeError) != 0 {
		t.Fatalf("unknown message reaction produced an error reply")
	}
}

func TestGetRooms_ListsAllRooms(t *testing.T) {
	h := newTestHub(t)
	a, b := newFakeOutbound(), newFakeOutbound()
	aID, bID := h.Register(a), h.Register(b)
	join(h, aID, "beta", "alice")
	join(h, bID, "alpha", "bob")

	h.HandleMessage(aID, []byte(`{"type":"get-rooms"}`))

	rooms := decodePayload[[]protocol.RoomSummary](t, a.last(t, protocol.TypeRoomsList))
	if len(rooms) != 2 || rooms[0].ID != "alpha" || rooms[1].ID != "beta" {
		t.Fatalf("rooms = %+v", rooms)
	}
}
