package hub

import (
	"roomcast/internal/chat"
	"roomcast/internal/protocol"
)

// room exists exactly while it has participants: created lazily on first
// join, deleted as soon as the last member leaves.
type room struct {
	id           string
	participants map[string]protocol.Participant // keyed by connection id
	history      *chat.History
}

func (r *room) count() int { return len(r.participants) }

// participantsExcept returns the member list without the given connection,
// in unspecified order.
func (r *room) participantsExcept(connID string) []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.participants))
	for id, p := range r.participants {
		if id != connID {
			out = append(out, p)
		}
	}
	return out
}
