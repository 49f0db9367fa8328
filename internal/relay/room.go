package relay

import (
	"time"

	"github.com/tidewave/rendezvous/internal/protocol"
)

// roomCapacity is the number of negotiating peers a room holds, pending
// members included: an approval room must not accumulate waiters beyond the
// seats it could ever hand out.
const roomCapacity = 2

// Room is a named rendezvous point. The creating connection is the host for
// the room's whole lifetime; the room dies with it.
type Room struct {
	ID      string
	Host    *Conn
	members map[*Conn]struct{}

	passwordHash   string
	manualApproval bool

	// Single-use join token handed to the creator, valid until consumed or
	// until its TTL elapses.
	token          string
	tokenConsumed  bool
	tokenCreatedAt time.Time

	// joinInFlight serializes join resolution while a bcrypt operation for
	// this room runs off the hub goroutine. Joins arriving meanwhile wait in
	// joinQueue and are replayed in arrival order, so two joiners can never
	// both observe a non-full room.
	joinInFlight bool
	joinQueue    []queuedJoin
}

type queuedJoin struct {
	conn *Conn
	msg  protocol.Message
}

func newRoom(id, token string, host *Conn, now time.Time) *Room {
	return &Room{
		ID:             id,
		Host:           host,
		members:        make(map[*Conn]struct{}),
		token:          token,
		tokenCreatedAt: now,
	}
}

func (r *Room) full() bool {
	return len(r.members) >= roomCapacity
}

func (r *Room) seatedCount() int {
	n := 0
	for c := range r.members {
		if !c.pending {
			n++
		}
	}
	return n
}

// tokenValid reports whether the presented token admits a join right now. An
// expired or already-consumed token is simply not valid; the join then falls
// through to the password/approval rules as if no token were presented.
func (r *Room) tokenValid(token string, now time.Time, ttl time.Duration) bool {
	if token == "" || r.tokenConsumed || token != r.token {
		return false
	}
	return now.Sub(r.tokenCreatedAt) < ttl
}

func (r *Room) findPending(connID string) *Conn {
	for c := range r.members {
		if c.pending && c.ID == connID {
			return c
		}
	}
	return nil
}
