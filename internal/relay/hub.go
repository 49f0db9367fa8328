package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidewave/rendezvous/internal/auth"
	"github.com/tidewave/rendezvous/internal/metrics"
	"github.com/tidewave/rendezvous/internal/protocol"
	"github.com/tidewave/rendezvous/internal/ratelimit"
)

// Config carries the hub's tunables.
type Config struct {
	HeartbeatInterval time.Duration
	JoinTokenTTL      time.Duration
	// ApprovalTimeout bounds how long a pending member waits for the host's
	// verdict before being auto-rejected. Zero disables the bound.
	ApprovalTimeout time.Duration
	BcryptCost      int

	Clock   ratelimit.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Hub is the single-threaded event core. All room, registry and peer state
// lives behind one goroutine; the exported methods only hand events to it.
type Hub struct {
	cfg   Config
	clock ratelimit.Clock
	log   *slog.Logger
	met   *metrics.Metrics

	rooms map[string]*Room
	conns map[*Conn]struct{}
	// peers maps caller-declared identifiers to connections for the direct
	// peer-messaging mode, independent of rooms.
	peers map[string]*Conn

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inboundMessage
	pongs      chan *Conn
	verdicts   chan verdict
	done       chan struct{}
}

type inboundMessage struct {
	conn *Conn
	msg  protocol.Message
	// raw holds the sender's exact bytes; relayed payloads are forwarded
	// verbatim so they cannot drift through a re-encode.
	raw []byte
}

// verdict re-enters the admission state machine once an off-loop bcrypt
// operation finishes. It pins the room incarnation it was started against:
// a room named "alpha" may be torn down and recreated while bcrypt runs, and
// the result must never be applied to the newer room.
type verdict struct {
	kind verdictKind
	room *Room
	conn *Conn
	msg  protocol.Message
	hash string
	ok   bool
	err  error
}

type verdictKind int

const (
	verdictCreateHash verdictKind = iota
	verdictPasswordCheck
)

func New(cfg Config) *Hub {
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		cfg:   cfg,
		clock: clock,
		log:   logger,
		met:   cfg.Metrics,

		rooms: make(map[string]*Room),
		conns: make(map[*Conn]struct{}),
		peers: make(map[string]*Conn),

		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inboundMessage, 256),
		pongs:      make(chan *Conn, 256),
		verdicts:   make(chan verdict, 16),
		done:       make(chan struct{}),
	}
}

// Register hands a new connection to the hub.
func (h *Hub) Register(c *Conn) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister reports a closed connection. Safe to call more than once and
// after shutdown.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Inbound hands a decoded message (plus the sender's raw bytes) to the hub.
func (h *Hub) Inbound(c *Conn, msg protocol.Message, raw []byte) {
	select {
	case h.inbound <- inboundMessage{conn: c, msg: msg, raw: raw}:
	case <-h.done:
	}
}

// Pong records a liveness acknowledgment from the transport's read loop.
func (h *Hub) Pong(c *Conn) {
	select {
	case h.pongs <- c:
	case <-h.done:
	}
}

// Run owns every piece of hub state until ctx is cancelled. Cancellation is
// process shutdown: all connections are closed and all state is cleared.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			c.alive = true
			h.conns[c] = struct{}{}
		case c := <-h.unregister:
			h.handleDisconnect(c)
		case in := <-h.inbound:
			h.dispatch(in)
		case c := <-h.pongs:
			if _, ok := h.conns[c]; ok {
				c.alive = true
			}
		case v := <-h.verdicts:
			h.handleVerdict(v)
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Hub) dispatch(in inboundMessage) {
	c := in.conn
	if _, ok := h.conns[c]; !ok {
		// Raced with a disconnect; the connection's state is already gone.
		return
	}

	switch in.msg.Type {
	case protocol.TypeJoin:
		h.handleJoin(c, in.msg)
	case protocol.TypeLeave:
		h.detachFromRoom(c)
	case protocol.TypeSignal:
		h.relayToRoom(c, in.raw)
	case protocol.TypeApprovalResponse:
		h.handleApprovalResponse(c, in.msg)
	case protocol.TypeRegister:
		h.handleRegisterPeer(c, in.msg)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		h.relayToPeer(c, in.msg, in.raw)
	default:
		h.log.Debug("ignoring message with unhandled type",
			"type", string(in.msg.Type), "conn", c.ID)
	}
}

// handleJoin drives the admission state machine for one join attempt.
func (h *Hub) handleJoin(c *Conn, msg protocol.Message) {
	if msg.Room == "" {
		// Deliberate no-op: a join naming no room carries nothing to act on.
		return
	}
	if c.room != nil {
		// One room per connection; a second join is ignored until it leaves.
		return
	}

	room, ok := h.rooms[msg.Room]
	if !ok {
		h.createRoom(c, msg)
		return
	}

	if room.joinInFlight {
		room.joinQueue = append(room.joinQueue, queuedJoin{conn: c, msg: msg})
		return
	}
	h.resolveJoin(room, c, msg)
}

// createRoom seats the creating connection as host and hands it the room's
// fresh single-use join token.
func (h *Hub) createRoom(c *Conn, msg protocol.Message) {
	token, err := auth.NewRoomToken()
	if err != nil {
		h.log.Error("join token generation failed", "room", msg.Room, "err", err)
		h.sendError(c, protocol.ErrCodeInternal, "room creation failed")
		return
	}

	room := newRoom(msg.Room, token, c, h.clock.Now())
	room.manualApproval = msg.ManualApproval
	h.rooms[room.ID] = room

	c.room = room
	c.host = true
	room.members[c] = struct{}{}
	h.met.Inc(metrics.EventRoomCreated)

	if msg.Password == "" {
		h.send(c, protocol.Message{Type: protocol.TypeRoomCreated, Room: room.ID, Token: token})
		return
	}

	// Hash off the loop; the plaintext is gone once the goroutine returns.
	// Joins racing the hash queue on the room until the verdict lands.
	room.joinInFlight = true
	go func(room *Room, password string) {
		hash, err := auth.HashPassword(password, h.cfg.BcryptCost)
		h.deliverVerdict(verdict{kind: verdictCreateHash, room: room, conn: c, hash: hash, err: err})
	}(room, msg.Password)
}

// resolveJoin evaluates a join against a known room. Callers must ensure no
// other join for the room is in flight.
func (h *Hub) resolveJoin(room *Room, c *Conn, msg protocol.Message) {
	// Capacity is authoritative and applies before seating or queueing as
	// pending, so approval rooms cannot accumulate waiters beyond the cap.
	if room.full() {
		h.met.Inc(metrics.EventJoinRejectedFull)
		h.sendError(c, protocol.ErrCodeRoomFull, "room is full")
		return
	}

	if room.tokenValid(msg.Token, h.clock.Now(), h.cfg.JoinTokenTTL) {
		room.tokenConsumed = true
		h.seat(room, c)
		return
	}

	if room.passwordHash != "" {
		if msg.Password == "" {
			h.met.Inc(metrics.EventJoinRejectedPassword)
			h.sendError(c, protocol.ErrCodeBadPassword, "room requires a password")
			return
		}
		room.joinInFlight = true
		go func(room *Room, password, hash string) {
			ok := auth.CheckPassword(password, hash)
			h.deliverVerdict(verdict{kind: verdictPasswordCheck, room: room, conn: c, msg: msg, ok: ok})
		}(room, msg.Password, room.passwordHash)
		return
	}

	h.admit(room, c, msg.Alias)
}

// admit completes an admission whose credentials are satisfied: either the
// member is seated outright or parked pending the host's approval.
func (h *Hub) admit(room *Room, c *Conn, alias string) {
	if room.manualApproval {
		c.room = room
		c.pending = true
		c.pendingSince = h.clock.Now()
		room.members[c] = struct{}{}
		h.met.Inc(metrics.EventJoinPending)
		h.send(room.Host, protocol.Message{
			Type:   protocol.TypeApprovalRequest,
			Room:   room.ID,
			PeerID: c.ID,
			Alias:  alias,
		})
		return
	}
	h.seat(room, c)
}

func (h *Hub) seat(room *Room, c *Conn) {
	c.room = room
	c.pending = false
	room.members[c] = struct{}{}
	h.met.Inc(metrics.EventJoinSeated)
	h.send(c, protocol.Message{Type: protocol.TypeJoined, Room: room.ID})
	h.checkNegotiationTrigger(room)
}

// checkNegotiationTrigger tells the host to produce its initial offer once
// two members are seated. Only the host is signaled; the other member waits
// for the offer via relay.
func (h *Hub) checkNegotiationTrigger(room *Room) {
	if room.seatedCount() == roomCapacity {
		h.send(room.Host, protocol.Message{Type: protocol.TypeStartNegotiation, Room: room.ID})
	}
}

func (h *Hub) handleApprovalResponse(c *Conn, msg protocol.Message) {
	room := c.room
	if room == nil || !c.host {
		// Only the room's host rules on admissions.
		return
	}
	target := room.findPending(msg.PeerID)
	if target == nil {
		return
	}

	if msg.Approved {
		target.pending = false
		h.met.Inc(metrics.EventJoinSeated)
		h.send(target, protocol.Message{Type: protocol.TypeApproved, Room: room.ID})
		h.checkNegotiationTrigger(room)
		return
	}
	h.rejectPending(room, target, metrics.EventPendingRejected)
}

// rejectPending removes a pending member and drops its connection.
func (h *Hub) rejectPending(room *Room, target *Conn, event string) {
	delete(room.members, target)
	target.room = nil
	target.pending = false
	h.met.Inc(event)
	h.send(target, protocol.Message{Type: protocol.TypeRejected, Room: room.ID})
	target.sink.Terminate(websocket.CloseNormalClosure, "admission rejected")
}

func (h *Hub) handleVerdict(v verdict) {
	room := v.room
	if current, ok := h.rooms[room.ID]; !ok || current != room {
		// The incarnation this bcrypt ran against was torn down while it was
		// in flight; the name may since refer to a brand-new room with its
		// own credentials and its own serialization guard, which this result
		// must not touch. A joiner's verification is replayed against fresh
		// state; a creation hash has nothing left to attach to.
		if v.kind == verdictPasswordCheck {
			if _, open := h.conns[v.conn]; open && v.conn.room == nil {
				h.handleJoin(v.conn, v.msg)
			}
		}
		return
	}

	room.joinInFlight = false

	switch v.kind {
	case verdictCreateHash:
		if v.err != nil {
			h.log.Error("password hashing failed", "room", room.ID, "err", v.err)
			h.sendError(v.conn, protocol.ErrCodeInternal, "room creation failed")
			h.teardownRoom(room, "room creation failed")
			return
		}
		room.passwordHash = v.hash
		if _, open := h.conns[v.conn]; open {
			h.send(v.conn, protocol.Message{Type: protocol.TypeRoomCreated, Room: room.ID, Token: room.token})
		}

	case verdictPasswordCheck:
		if _, open := h.conns[v.conn]; open && v.conn.room == nil {
			switch {
			case !v.ok:
				h.met.Inc(metrics.EventJoinRejectedPassword)
				h.sendError(v.conn, protocol.ErrCodeBadPassword, "wrong password")
			case room.full():
				// Membership can only have shrunk while bcrypt ran, but the
				// capacity check stays authoritative on every path.
				h.met.Inc(metrics.EventJoinRejectedFull)
				h.sendError(v.conn, protocol.ErrCodeRoomFull, "room is full")
			default:
				h.admit(room, v.conn, v.msg.Alias)
			}
		}
	}

	h.replayQueuedJoins(room)
}

func (h *Hub) deliverVerdict(v verdict) {
	select {
	case h.verdicts <- v:
	case <-h.done:
	}
}

// replayQueuedJoins resolves joins that arrived while the room was busy with
// a bcrypt operation, in arrival order, stopping if one of them starts a new
// off-loop verification.
func (h *Hub) replayQueuedJoins(room *Room) {
	for len(room.joinQueue) > 0 && !room.joinInFlight {
		qj := room.joinQueue[0]
		room.joinQueue = room.joinQueue[1:]
		if _, open := h.conns[qj.conn]; !open || qj.conn.room != nil {
			continue
		}
		h.resolveJoin(room, qj.conn, qj.msg)
	}
}

// relayToRoom forwards a seated member's signaling payload, verbatim, to
// every other seated member whose transport is writable. Pending members
// neither send nor receive relayed traffic.
func (h *Hub) relayToRoom(c *Conn, raw []byte) {
	room := c.room
	if room == nil || c.pending {
		return
	}
	for member := range room.members {
		if member == c || member.pending {
			continue
		}
		if member.sink.Send(raw) {
			h.met.Inc(metrics.EventRelayForwarded)
		} else {
			h.met.Inc(metrics.EventSendQueueDropped)
		}
	}
}

// relayToPeer forwards a direct-mode payload to the connection registered
// under the target identifier. An unknown target drops the message; the
// condition is observable in the log only, never surfaced to the sender.
func (h *Hub) relayToPeer(c *Conn, msg protocol.Message, raw []byte) {
	target, ok := h.peers[msg.TargetPeerID]
	if msg.TargetPeerID == "" || !ok {
		h.met.Inc(metrics.EventRelayDroppedNoPeer)
		h.log.Info("dropping direct message for unknown peer",
			"target_peer_id", msg.TargetPeerID, "from", c.ID, "type", string(msg.Type))
		return
	}
	if target.sink.Send(raw) {
		h.met.Inc(metrics.EventRelayForwarded)
	} else {
		h.met.Inc(metrics.EventSendQueueDropped)
	}
}

func (h *Hub) handleRegisterPeer(c *Conn, msg protocol.Message) {
	if msg.PeerID == "" {
		return
	}
	if existing, ok := h.peers[msg.PeerID]; ok && existing != c {
		h.sendError(c, protocol.ErrCodePeerTaken, "peer id already registered")
		return
	}
	if c.peerID != "" {
		delete(h.peers, c.peerID)
	}
	c.peerID = msg.PeerID
	h.peers[msg.PeerID] = c
}

// handleDisconnect is the cleanup coordinator: it runs for voluntary closes,
// forced terminations, and liveness timeouts alike. The transport layer
// releases the per-IP quota slot when its handler returns, exactly once.
func (h *Hub) handleDisconnect(c *Conn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)

	if c.peerID != "" {
		delete(h.peers, c.peerID)
		c.peerID = ""
	}
	h.detachFromRoom(c)
}

// detachFromRoom removes c from its room. Host departure tears the whole
// room down; anyone else leaves a smaller room behind, deleted only when the
// last member is gone.
func (h *Hub) detachFromRoom(c *Conn) {
	room := c.room
	if room == nil {
		return
	}
	wasPending := c.pending
	c.room = nil
	c.pending = false
	delete(room.members, c)

	if c.host {
		c.host = false
		h.teardownRoom(room, "host left")
		return
	}

	if len(room.members) == 0 {
		h.deleteRoom(room)
		return
	}
	if !wasPending {
		for member := range room.members {
			h.send(member, protocol.Message{Type: protocol.TypePeerLeft, Room: room.ID})
		}
	}
}

// teardownRoom notifies and evicts every remaining member, deletes the room,
// and replays any joins that were queued behind an in-flight bcrypt — those
// now run against fresh state, where the first joiner recreates the room.
func (h *Hub) teardownRoom(room *Room, reason string) {
	for member := range room.members {
		member.room = nil
		member.pending = false
		h.send(member, protocol.Message{Type: protocol.TypeRoomClosed, Room: room.ID, Reason: reason})
	}
	room.members = make(map[*Conn]struct{})
	h.deleteRoom(room)

	queue := room.joinQueue
	room.joinQueue = nil
	room.joinInFlight = false
	for _, qj := range queue {
		if _, open := h.conns[qj.conn]; open && qj.conn.room == nil {
			h.handleJoin(qj.conn, qj.msg)
		}
	}
}

func (h *Hub) deleteRoom(room *Room) {
	delete(h.rooms, room.ID)
	h.met.Inc(metrics.EventRoomDeleted)
}

// tick is the liveness supervisor: terminate connections that never answered
// the previous probe, probe the rest, sweep abandoned rooms, and auto-reject
// pending members whose host has gone quiet.
func (h *Hub) tick() {
	now := h.clock.Now()

	for c := range h.conns {
		if !c.alive {
			h.met.Inc(metrics.EventConnClosedHeartbeat)
			c.sink.Terminate(websocket.CloseGoingAway, "heartbeat timeout")
			h.handleDisconnect(c)
			continue
		}
		c.alive = false
		c.sink.Ping()
	}

	// Bound memory growth from abandoned room-creation attempts.
	for _, room := range h.rooms {
		if len(room.members) == 0 && !room.joinInFlight && now.Sub(room.tokenCreatedAt) >= h.cfg.JoinTokenTTL {
			h.met.Inc(metrics.EventRoomSwept)
			h.deleteRoom(room)
		}
	}

	if h.cfg.ApprovalTimeout > 0 {
		for c := range h.conns {
			if c.pending && c.room != nil && now.Sub(c.pendingSince) >= h.cfg.ApprovalTimeout {
				h.rejectPending(c.room, c, metrics.EventPendingAutoRejected)
			}
		}
	}
}

func (h *Hub) shutdown() {
	for c := range h.conns {
		c.sink.Terminate(websocket.CloseGoingAway, "server shutting down")
		delete(h.conns, c)
	}
	h.rooms = make(map[string]*Room)
	h.peers = make(map[string]*Conn)
}

func (h *Hub) send(c *Conn, msg protocol.Message) {
	if c == nil {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error("dropping unencodable outbound message", "type", string(msg.Type), "err", err)
		return
	}
	if !c.sink.Send(data) {
		h.met.Inc(metrics.EventSendQueueDropped)
	}
}

func (h *Hub) sendError(c *Conn, code, reason string) {
	h.send(c, protocol.Message{Type: protocol.TypeError, Code: code, Reason: reason})
}
