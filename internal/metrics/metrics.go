package metrics

import "sync"

// Event names for the drop/error paths the relay cares about.
const (
	BadEnvelope        = "bad_envelope"
	InvalidPayload     = "invalid_payload"
	UnknownMessageType = "unknown_message_type"
	RelayTargetMissing = "relay_target_missing"
	FileRejected       = "file_rejected_oversize"
	SendFailure        = "send_failure"
	RateLimited        = "rate_limited"
	MessagesRelayed    = "messages_relayed"
	RoomsCreated       = "rooms_created"
	RoomsDeleted       = "rooms_deleted"
)

// Metrics is a minimal, concurrency-safe counter registry. It keeps the drop
// accounting testable without pulling a full metrics backend into the hub.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
