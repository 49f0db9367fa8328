package metrics

import "sync"

// Event names recorded by the signaling relay. The registry accepts arbitrary
// names; these constants exist so producers and tests agree on spelling.
const (
	EventConnAccepted        = "conn_accepted"
	EventConnRejectedIPQuota = "conn_rejected_ip_quota"
	EventConnClosedOversized = "conn_closed_oversized"
	EventConnClosedRateLimit = "conn_closed_rate_limit"
	EventConnClosedHeartbeat = "conn_closed_heartbeat"

	EventRoomCreated = "room_created"
	EventRoomDeleted = "room_deleted"
	EventRoomSwept   = "room_swept_token_expired"

	EventJoinSeated           = "join_seated"
	EventJoinPending          = "join_pending"
	EventJoinRejectedFull     = "join_rejected_room_full"
	EventJoinRejectedPassword = "join_rejected_password"
	EventPendingRejected      = "pending_rejected_by_host"
	EventPendingAutoRejected  = "pending_auto_rejected"

	EventRelayForwarded     = "relay_forwarded"
	EventRelayDroppedNoPeer = "relay_dropped_unknown_peer"
	EventSendQueueDropped   = "send_dropped_unwritable"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment that needs a richer backend can scrape the Prometheus handler;
// keeping the registry in-process keeps the enforcement logic testable.
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
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
