// Package chat implements the server-authoritative chat log: a bounded,
// append-only sequence of messages per room with reactions and vote tallies.
package chat

import (
	"errors"
	"fmt"
	"sync"

	"roomcast/internal/protocol"
)

var (
	// ErrEmptyMessage rejects text messages with no body.
	ErrEmptyMessage = errors.New("chat: empty message body")

	// ErrFileTooLarge rejects inline files above the configured size bound.
	// This is the one validation failure reported back to the sender.
	ErrFileTooLarge = errors.New("chat: file exceeds size limit")

	// ErrMessageNotFound reports a reaction or rating for an unknown message id.
	ErrMessageNotFound = errors.New("chat: message not found")
)

// History is a bounded chat log. When an append pushes the log over its
// limit, the oldest entries are evicted first.
type History struct {
	limit        int
	maxFileBytes int64

	mu       sync.Mutex
	messages []protocol.ChatMessage
}

func NewHistory(limit int, maxFileBytes int64) *History {
	return &History{
		limit:        limit,
		maxFileBytes: maxFileBytes,
	}
}

// Append validates and stores a message. Text messages must have a non-empty
// body; file messages must fit within the size bound. The caller is expected
// to have filled id and timestamp.
func (h *History) Append(msg protocol.ChatMessage) error {
	if msg.IsFile() {
		if msg.FileSize > h.maxFileBytes {
			return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, msg.FileSize, h.maxFileBytes)
		}
	} else if msg.Text == "" {
		return ErrEmptyMessage
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msg)
	if len(h.messages) > h.limit {
		h.messages = h.messages[len(h.messages)-h.limit:]
	}
	return nil
}

// AddReaction appends a reaction to the identified message. A (peer, emoji)
// pair reacts at most once per message; repeats are accepted silently.
func (h *History) AddReaction(r protocol.ChatReaction) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := h.findLocked(r.MessageID)
	if msg == nil {
		return ErrMessageNotFound
	}
	for _, existing := range msg.Reactions {
		if existing.PeerID == r.PeerID && existing.Emoji == r.Emoji {
			return nil
		}
	}
	msg.Reactions = append(msg.Reactions, r)
	return nil
}

// AddRating bumps the like or dislike tally for the identified message and
// returns the updated totals. Votes are not deduplicated per user; repeat
// votes count again, matching the original protocol.
func (h *History) AddRating(messageID string, like bool) (protocol.ChatRating, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := h.findLocked(messageID)
	if msg == nil {
		return protocol.ChatRating{}, ErrMessageNotFound
	}
	msg.Rating.MessageID = messageID
	if like {
		msg.Rating.Likes++
	} else {
		msg.Rating.Dislikes++
	}
	return msg.Rating, nil
}

// Messages returns a snapshot of the log, oldest first.
func (h *History) Messages() []protocol.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *History) findLocked(id string) *protocol.ChatMessage {
	for i := range h.messages {
		if h.messages[i].ID == id {
			return &h.messages[i]
		}
	}
	return nil
}
