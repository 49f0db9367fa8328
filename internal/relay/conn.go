package relay

import "time"

// Sink is the outbound half of a transport session, implemented by the
// WebSocket layer. Send and Ping may fail without error detail; an
// unwritable session is detected by the liveness supervisor or by the
// transport's own read loop, never by the hub.
type Sink interface {
	// Send enqueues an already-encoded message. It reports false when the
	// session is not currently writable (closed or its queue is full).
	Send(data []byte) bool
	// Ping sends a liveness probe.
	Ping() bool
	// Terminate closes the session with a WebSocket close code.
	Terminate(code int, reason string)
}

// Conn is the hub-owned record for one transport session. Rooms and the peer
// registry reference Conns but never own them. Every field except ID, IP and
// sink is mutated only from the hub goroutine.
type Conn struct {
	ID   string
	IP   string
	sink Sink

	alive   bool
	pending bool
	host    bool
	room    *Room
	peerID  string

	pendingSince time.Time
}

func NewConn(id, ip string, sink Sink) *Conn {
	return &Conn{ID: id, IP: ip, sink: sink, alive: true}
}

// seated reports whether the connection is a full room member: counted
// toward the two-party cap and eligible for relay.
func (c *Conn) seated() bool {
	return c.room != nil && !c.pending
}
