// Package cache keeps a small on-disk copy of recent chat history per room so
// a client rejoining a room still has context before new messages arrive.
package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"roomcast/internal/protocol"
)

const (
	// DefaultLimit bounds the cached tail of each room's history.
	DefaultLimit = 50

	// DefaultSaveDelay coalesces bursts of incoming messages into one write.
	DefaultSaveDelay = 5 * time.Second
)

// Store caches the most recent chat messages of one room at a time in a
// msgpack file under dir. Writes are debounced; SaveNow forces one.
type Store struct {
	dir       string
	limit     int
	saveDelay time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	roomID   string
	messages []protocol.ChatMessage
	timer    *time.Timer
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:       dir,
		limit:     DefaultLimit,
		saveDelay: DefaultSaveDelay,
		log:       logger,
	}
}

// SetRoom switches the store to a room, flushing the previous room's state
// and loading whatever was cached for the new one. Returns the loaded tail,
// oldest first.
func (s *Store) SetRoom(roomID string) []protocol.ChatMessage {
	s.mu.Lock()
	if s.roomID == roomID {
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out
	}
	s.flushLocked()

	s.roomID = roomID
	s.messages = nil
	if roomID != "" {
		s.messages = s.loadLocked(roomID)
	}
	out := s.snapshotLocked()
	s.mu.Unlock()
	return out
}

// Add appends a message to the cached tail. Duplicate ids are ignored.
// immediate forces the save instead of debouncing it; the caller uses that
// for its own sends so a crash right after sending loses nothing.
func (s *Store) Add(msg protocol.ChatMessage, immediate bool) {
	s.mu.Lock()
	if s.roomID == "" || msg.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			s.mu.Unlock()
			return
		}
	}
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.limit {
		s.messages = s.messages[len(s.messages)-s.limit:]
	}
	if immediate {
		s.flushLocked()
	} else {
		s.scheduleLocked()
	}
	s.mu.Unlock()
}

// AddReaction records a reaction on a cached message. Repeats of the same
// (peer, emoji) pair are ignored; unknown message ids are a no-op.
func (s *Store) AddReaction(r protocol.ChatReaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != r.MessageID {
			continue
		}
		for _, existing := range s.messages[i].Reactions {
			if existing.PeerID == r.PeerID && existing.Emoji == r.Emoji {
				return
			}
		}
		s.messages[i].Reactions = append(s.messages[i].Reactions, r)
		s.scheduleLocked()
		return
	}
}

// SetRating overwrites the cached tallies for a message.
func (s *Store) SetRating(rating protocol.ChatRating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == rating.MessageID {
			s.messages[i].Rating = rating
			s.scheduleLocked()
			return
		}
	}
}

// Messages returns the cached tail, oldest first.
func (s *Store) Messages() []protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SaveNow flushes any pending write immediately.
func (s *Store) SaveNow() {
	s.mu.Lock()
	s.flushLocked()
	s.mu.Unlock()
}

// Close flushes and stops the debounce timer.
func (s *Store) Close() {
	s.mu.Lock()
	s.flushLocked()
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() []protocol.ChatMessage {
	out := make([]protocol.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) scheduleLocked() {
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.saveDelay, func() {
		s.mu.Lock()
		s.flushLocked()
		s.mu.Unlock()
	})
}

func (s *Store) flushLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.roomID == "" {
		return
	}
	if err := s.writeLocked(s.roomID, s.messages); err != nil {
		s.log.Warn("chat cache write failed", "room", s.roomID, "err", err)
	}
}

func (s *Store) writeLocked(roomID string, msgs []protocol.ChatMessage) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := msgpack.Marshal(msgs)
	if err != nil {
		return err
	}
	path := s.path(roomID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) loadLocked(roomID string) []protocol.ChatMessage {
	data, err := os.ReadFile(s.path(roomID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("chat cache read failed", "room", roomID, "err", err)
		}
		return nil
	}
	var msgs []protocol.ChatMessage
	if err := msgpack.Unmarshal(data, &msgs); err != nil {
		// A corrupt cache is discarded, not fatal.
		s.log.Warn("chat cache corrupt, discarding", "room", roomID, "err", err)
		return nil
	}
	if len(msgs) > s.limit {
		msgs = msgs[len(msgs)-s.limit:]
	}
	return msgs
}

func (s *Store) path(roomID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("chat-%s.bin", sanitize(roomID)))
}

// sanitize keeps room ids from escaping the cache directory.
func sanitize(roomID string) string {
	out := make([]rune, 0, len(roomID))
	for _, r := range roomID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
