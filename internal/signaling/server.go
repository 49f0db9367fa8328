// Package signaling is the WebSocket front of the relay: it upgrades
// connections, enforces the per-IP quota, origin policy, size and rate
// limits, and shuttles decoded messages into the hub.
package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidewave/rendezvous/internal/auth"
	"github.com/tidewave/rendezvous/internal/metrics"
	"github.com/tidewave/rendezvous/internal/origin"
	"github.com/tidewave/rendezvous/internal/protocol"
	"github.com/tidewave/rendezvous/internal/ratelimit"
	"github.com/tidewave/rendezvous/internal/relay"
)

type Config struct {
	// AllowedOrigins lists origins admitted in addition to the same-host
	// default. "*" admits every origin.
	AllowedOrigins []string

	MaxConnsPerIP        int
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLength      int

	Clock ratelimit.Clock
}

type Server struct {
	cfg   Config
	hub   *relay.Hub
	log   *slog.Logger
	met   *metrics.Metrics
	quota *ratelimit.IPQuota
	clock ratelimit.Clock

	upgrader websocket.Upgrader
}

func NewServer(cfg Config, hub *relay.Hub, logger *slog.Logger, met *metrics.Metrics) *Server {
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = 64
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:   cfg,
		hub:   hub,
		log:   logger,
		met:   met,
		quota: ratelimit.NewIPQuota(cfg.MaxConnsPerIP),
		clock: clock,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
}

// checkOrigin admits requests without an Origin header (non-browser clients)
// and otherwise applies the allowlist or, absent one, the same-host policy.
func (s *Server) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	normalized, ok := origin.Normalize(header)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, r.Host, s.cfg.AllowedOrigins)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error (403 for a bad origin).
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sess := newSession(ws, s.cfg.SendQueueLength)
	defer sess.close()
	go sess.writePump()

	ip := remoteIP(r)
	if !s.quota.Acquire(ip) {
		// Over-cap connections are dropped before any message is processed.
		s.met.Inc(metrics.EventConnRejectedIPQuota)
		s.log.Info("rejecting connection over per-ip cap", "ip", ip)
		sess.Terminate(websocket.ClosePolicyViolation, "too many connections")
		return
	}
	defer s.quota.Release(ip)

	conn := relay.NewConn(auth.NewConnID(), ip, sess)
	s.met.Inc(metrics.EventConnAccepted)
	s.log.Debug("connection accepted", "conn", conn.ID, "ip", ip)

	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	s.readLoop(conn, sess, ws)
}

// readLoop pulls frames off the socket until it errors or a limit trips. It
// is the only reader, so the size and rate checks need no synchronization.
func (s *Server) readLoop(conn *relay.Conn, sess *session, ws *websocket.Conn) {
	if s.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	ws.SetPongHandler(func(string) error {
		s.hub.Pong(conn)
		return nil
	})

	limiter := ratelimit.NewFixedWindow(s.clock, s.cfg.MaxMessagesPerSecond, time.Second)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			// gorilla has already sent the 1009 close for an oversized frame.
			if errors.Is(err, websocket.ErrReadLimit) {
				s.met.Inc(metrics.EventConnClosedOversized)
				s.log.Info("closing connection for oversized message", "conn", conn.ID)
			}
			return
		}
		if !limiter.Allow() {
			s.met.Inc(metrics.EventConnClosedRateLimit)
			s.log.Info("closing connection for message rate", "conn", conn.ID, "ip", conn.IP)
			sess.Terminate(websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}

		msg, err := protocol.Parse(raw)
		if err != nil {
			s.log.Debug("ignoring malformed message", "conn", conn.ID, "err", err)
			continue
		}
		s.hub.Inbound(conn, msg, raw)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
